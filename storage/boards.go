package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"flowboard-api/domain"
)

// CreateBoard persists the board metadata, the owner membership row and the
// per-user index entry, then seeds the default columns.
func (s *Storage) CreateBoard(ctx context.Context, b domain.Board) (domain.Board, error) {
	if b.ID == "" {
		b.ID = s.newID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}

	meta := boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.ID, RowKey: boardMetaRowKey},
		Title:       b.Title,
		Description: b.Description,
		OwnerID:     b.OwnerID,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339Nano),
	}
	payload, err := marshalEntity(meta)
	if err != nil {
		return domain.Board{}, err
	}
	if _, err := s.boardTable.AddEntity(ctx, payload, nil); err != nil {
		return domain.Board{}, fmt.Errorf("create board: %w", err)
	}
	if err := s.putMembership(ctx, b.ID, b.OwnerID, domain.RoleOwner); err != nil {
		return domain.Board{}, err
	}

	b.Columns = domain.DefaultColumns(b.ID, s.newID)
	for _, col := range b.Columns {
		if _, err := s.CreateColumn(ctx, col); err != nil {
			return domain.Board{}, err
		}
	}
	b.Members = []domain.Member{{BoardID: b.ID, UserID: b.OwnerID, Role: domain.RoleOwner}}
	return b, nil
}

// GetBoard returns board metadata, without columns/tasks/members.
func (s *Storage) GetBoard(ctx context.Context, boardID string) (domain.Board, error) {
	resp, err := s.boardTable.GetEntity(ctx, boardID, boardMetaRowKey, nil)
	if err != nil {
		if isNotFound(err) {
			return domain.Board{}, ErrNotFound
		}
		return domain.Board{}, fmt.Errorf("get board: %w", err)
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return domain.Board{}, fmt.Errorf("decode board: %w", err)
	}
	return ent.toDomain(), nil
}

// UpdateBoard rewrites mutable board metadata.
func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) error {
	ent := boardEntity{
		Entity:      aztables.Entity{PartitionKey: b.ID, RowKey: boardMetaRowKey},
		Title:       b.Title,
		Description: b.Description,
		OwnerID:     b.OwnerID,
		CreatedAt:   b.CreatedAt.Format(time.RFC3339Nano),
	}
	payload, err := marshalEntity(ent)
	if err != nil {
		return err
	}
	mode := aztables.UpdateModeReplace
	if _, err := s.boardTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: mode}); err != nil {
		return fmt.Errorf("update board: %w", err)
	}
	return nil
}

// DeleteBoard removes the board with all columns, tasks (including their
// iterations and comments), membership rows and index entries.
func (s *Storage) DeleteBoard(ctx context.Context, boardID string) error {
	tasks, err := s.ListTasks(ctx, boardID)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if err := s.DeleteTask(ctx, t); err != nil {
			return err
		}
	}
	cols, err := s.ListColumns(ctx, boardID)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if _, err := s.columnTable.DeleteEntity(ctx, boardID, c.ID, nil); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete column: %w", err)
		}
	}
	members, err := s.ListMembers(ctx, boardID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := s.removeMembership(ctx, boardID, m.UserID); err != nil {
			return err
		}
	}
	if _, err := s.boardTable.DeleteEntity(ctx, boardID, boardMetaRowKey, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete board: %w", err)
	}
	return nil
}

// ListBoards returns metadata for every board the user owns or belongs to.
func (s *Storage) ListBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	rows, err := listEntities(ctx, s.userBoardTable, partitionFilter(userID))
	if err != nil {
		return nil, fmt.Errorf("list user boards: %w", err)
	}
	boards := make([]domain.Board, 0, len(rows))
	for _, raw := range rows {
		var idx userBoardEntity
		if err := json.Unmarshal(raw, &idx); err != nil {
			return nil, fmt.Errorf("decode board index: %w", err)
		}
		b, err := s.GetBoard(ctx, idx.RowKey)
		if err != nil {
			// index row outlived the board; skip it
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		boards = append(boards, b)
	}
	sort.Slice(boards, func(i, j int) bool { return boards[i].CreatedAt.Before(boards[j].CreatedAt) })
	return boards, nil
}

// IsBoardVisible reports whether the user owns or is a member of the board.
func (s *Storage) IsBoardVisible(ctx context.Context, boardID, userID string) (bool, error) {
	_, err := s.boardTable.GetEntity(ctx, boardID, memberRowPrefix+userID, nil)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("membership lookup: %w", err)
}

// AddMember grants a user access to a board.
func (s *Storage) AddMember(ctx context.Context, boardID, userID string, role domain.BoardRole) error {
	return s.putMembership(ctx, boardID, userID, role)
}

// RemoveMember revokes a user's access to a board.
func (s *Storage) RemoveMember(ctx context.Context, boardID, userID string) error {
	return s.removeMembership(ctx, boardID, userID)
}

// ListMembers returns the board's membership rows, owner included.
func (s *Storage) ListMembers(ctx context.Context, boardID string) ([]domain.Member, error) {
	filter := partitionFilter(boardID)
	rows, err := listEntities(ctx, s.boardTable, filter)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	members := make([]domain.Member, 0, len(rows))
	for _, raw := range rows {
		var ent memberEntity
		if err := json.Unmarshal(raw, &ent); err != nil {
			return nil, fmt.Errorf("decode member: %w", err)
		}
		if !strings.HasPrefix(ent.RowKey, memberRowPrefix) {
			continue
		}
		members = append(members, domain.Member{
			BoardID: boardID,
			UserID:  strings.TrimPrefix(ent.RowKey, memberRowPrefix),
			Role:    domain.BoardRole(ent.Role),
		})
	}
	return members, nil
}

func (s *Storage) putMembership(ctx context.Context, boardID, userID string, role domain.BoardRole) error {
	member := memberEntity{
		Entity: aztables.Entity{PartitionKey: boardID, RowKey: memberRowPrefix + userID},
		Role:   string(role),
	}
	payload, err := marshalEntity(member)
	if err != nil {
		return err
	}
	if _, err := s.boardTable.UpsertEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	idx := userBoardEntity{
		Entity: aztables.Entity{PartitionKey: userID, RowKey: boardID},
		Role:   string(role),
	}
	payload, err = marshalEntity(idx)
	if err != nil {
		return err
	}
	if _, err := s.userBoardTable.UpsertEntity(ctx, payload, nil); err != nil {
		return fmt.Errorf("index member board: %w", err)
	}
	return nil
}

func (s *Storage) removeMembership(ctx context.Context, boardID, userID string) error {
	if _, err := s.boardTable.DeleteEntity(ctx, boardID, memberRowPrefix+userID, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("remove member: %w", err)
	}
	if _, err := s.userBoardTable.DeleteEntity(ctx, userID, boardID, nil); err != nil && !isNotFound(err) {
		return fmt.Errorf("remove member index: %w", err)
	}
	return nil
}
