package domain

import "time"

// BoardRole describes a user's relationship to a board.
type BoardRole string

const (
	RoleOwner  BoardRole = "owner"
	RoleMember BoardRole = "member"
)

// Board groups columns and tasks shared between an owner and members.
type Board struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"ownerId"`
	CreatedAt   time.Time `json:"createdAt"`
	Columns     []Column  `json:"columns,omitempty"`
	Tasks       []Task    `json:"tasks,omitempty"`
	Members     []Member  `json:"members,omitempty"`
}

// Member is a user granted access to a board.
type Member struct {
	BoardID string    `json:"boardId"`
	UserID  string    `json:"userId"`
	Role    BoardRole `json:"role"`
}

// Column is a named, ordered stage on a board. A column flagged AiEnabled is
// an automatic-processing stage: every entry into it arms the AI runner.
type Column struct {
	ID        string `json:"id"`
	BoardID   string `json:"boardId"`
	Title     string `json:"title"`
	Color     string `json:"color"`
	Order     int    `json:"order"`
	AiEnabled bool   `json:"aiEnabled"`
}

// Comment is a user note attached to a task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultColumnColor is applied when a column is created without one.
const DefaultColumnColor = "#3b82f6"

// DefaultColumns returns the stages a freshly created board starts with.
func DefaultColumns(boardID string, newID func() string) []Column {
	return []Column{
		{ID: newID(), BoardID: boardID, Title: "To Do", Color: "#64748b", Order: 0},
		{ID: newID(), BoardID: boardID, Title: "In Progress (AI)", Color: DefaultColumnColor, Order: 1, AiEnabled: true},
		{ID: newID(), BoardID: boardID, Title: "Review", Color: "#f59e0b", Order: 2},
		{ID: newID(), BoardID: boardID, Title: "Done", Color: "#22c55e", Order: 3},
	}
}
