package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Store, auth Authenticator, mover Mover, deduper Deduper, logger *log.Logger) {
	e.GET("/healthz", healthz())

	e.GET("/api/boards", getBoards(store, auth))
	e.POST("/api/boards", postBoard(store, auth))
	e.GET("/api/boards/:boardId", getBoard(store, auth))
	e.PUT("/api/boards/:boardId", putBoard(store, auth))
	e.DELETE("/api/boards/:boardId", deleteBoard(store, auth))
	e.GET("/api/boards/:boardId/events", streamBoardEvents(store, auth))

	e.GET("/api/boards/:boardId/members", getMembers(store, auth))
	e.POST("/api/boards/:boardId/members", postMember(store, auth))
	e.DELETE("/api/boards/:boardId/members/:userId", deleteMember(store, auth))

	e.GET("/api/boards/:boardId/columns", getColumns(store, auth))
	e.POST("/api/boards/:boardId/columns", postColumn(store, auth))
	e.PUT("/api/boards/:boardId/columns/reorder", putColumnOrder(store, auth))
	e.PUT("/api/boards/:boardId/columns/:columnId", putColumn(store, auth))
	e.DELETE("/api/boards/:boardId/columns/:columnId", deleteColumn(store, auth))

	e.GET("/api/boards/:boardId/tasks", getTasks(store, auth))
	e.POST("/api/boards/:boardId/tasks", postTask(store, auth))
	e.PUT("/api/boards/:boardId/tasks/:taskId", putTask(store, auth))
	e.DELETE("/api/boards/:boardId/tasks/:taskId", deleteTask(store, auth))

	e.PUT("/api/tasks/:taskId/status", putTaskStatus(store, auth, mover, deduper, logger))
	e.GET("/api/tasks/:taskId/iterations", getIterations(store, auth))
	e.GET("/api/tasks/:taskId/ai-status", getAiStatus(store, auth))
	e.GET("/api/tasks/:taskId/comments", getComments(store, auth))
	e.POST("/api/tasks/:taskId/comments", postComment(store, auth))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// decodeBody reads a size-capped JSON request body, rejecting unknown fields.
func decodeBody(c echo.Context, out any) error {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// fail maps storage sentinel errors onto HTTP responses.
func fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, storage.ErrColumnNotEmpty):
		return c.JSON(http.StatusConflict, errorResponse{Error: "column still has tasks"})
	case errors.Is(err, storage.ErrFeedbackTaken):
		return c.JSON(http.StatusConflict, errorResponse{Error: "feedback already recorded"})
	case errors.Is(err, storage.ErrConflict):
		return c.JSON(http.StatusConflict, errorResponse{Error: "conflict"})
	default:
		c.Logger().Error(err)
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func userID(c echo.Context, auth Authenticator) (string, error) {
	return auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

// requireBoard answers whether userID may see boardID, writing the response
// when not. ok=false means the handler must return handled as-is.
func requireBoard(c echo.Context, store Store, boardID, userID string) (ok bool, handled error) {
	visible, err := store.IsBoardVisible(c.Request().Context(), boardID, userID)
	if err != nil {
		return false, fail(c, err)
	}
	if !visible {
		// Hide existence from non-members.
		return false, c.JSON(http.StatusNotFound, errorResponse{Error: "not found"})
	}
	return true, nil
}

func getBoards(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boards, err := store.ListBoards(c.Request().Context(), user)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, boards)
	}
}

func postBoard(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		board, err := store.CreateBoard(c.Request().Context(), domain.Board{
			Title:       req.Title,
			Description: req.Description,
			OwnerID:     user,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, board)
	}
}

func getBoard(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		columns, err := store.ListColumns(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		tasks, err := store.ListTasks(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		members, err := store.ListMembers(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, boardDetailResponse{Board: board, Columns: columns, Tasks: tasks, Members: members})
	}
}

func putBoard(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req updateBoardRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		if req.Title != nil {
			if *req.Title == "" {
				return c.String(http.StatusBadRequest, "title is required")
			}
			board.Title = *req.Title
		}
		if req.Description != nil {
			board.Description = *req.Description
		}
		if err := store.UpdateBoard(ctx, board); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, board)
	}
}

func deleteBoard(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		// Only the owner may delete a board.
		if board.OwnerID != user {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "owner required"})
		}
		if err := store.DeleteBoard(ctx, boardID); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getMembers(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		members, err := store.ListMembers(c.Request().Context(), boardID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, members)
	}
}

func postMember(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		if board.OwnerID != user {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "owner required"})
		}
		var req memberRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.UserID == "" {
			return c.String(http.StatusBadRequest, "userId is required")
		}
		role := domain.RoleMember
		if req.Role != "" {
			role = domain.BoardRole(req.Role)
			if role != domain.RoleOwner && role != domain.RoleMember {
				return c.String(http.StatusBadRequest, "invalid role")
			}
		}
		if err := store.AddMember(ctx, boardID, req.UserID, role); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, domain.Member{BoardID: boardID, UserID: req.UserID, Role: role})
	}
}

func deleteMember(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		target := c.Param("userId")
		ctx := c.Request().Context()
		board, err := store.GetBoard(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		// Members may leave on their own; removing others is for the owner.
		if board.OwnerID != user && target != user {
			return c.JSON(http.StatusForbidden, errorResponse{Error: "owner required"})
		}
		if target == board.OwnerID {
			return c.JSON(http.StatusConflict, errorResponse{Error: "owner cannot be removed"})
		}
		if err := store.RemoveMember(ctx, boardID, target); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getColumns(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		columns, err := store.ListColumns(c.Request().Context(), boardID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, columns)
	}
}

func postColumn(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req createColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		ctx := c.Request().Context()
		columns, err := store.ListColumns(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		column, err := store.CreateColumn(ctx, domain.Column{
			BoardID:   boardID,
			Title:     req.Title,
			Color:     req.Color,
			Order:     len(columns),
			AiEnabled: req.AiEnabled,
		})
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, column)
	}
}

func putColumn(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req updateColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		column, err := store.GetColumn(ctx, boardID, c.Param("columnId"))
		if err != nil {
			return fail(c, err)
		}
		if req.Title != nil {
			if *req.Title == "" {
				return c.String(http.StatusBadRequest, "title is required")
			}
			column.Title = *req.Title
		}
		if req.Color != nil {
			column.Color = *req.Color
		}
		if req.AiEnabled != nil && *req.AiEnabled != column.AiEnabled {
			if !*req.AiEnabled {
				column.AiEnabled = false
			} else {
				// Flipping a column to AI-enabled must leave at least one
				// manual column for results to route to.
				columns, err := store.ListColumns(ctx, boardID)
				if err != nil {
					return fail(c, err)
				}
				manual := 0
				for _, col := range columns {
					if !col.AiEnabled && col.ID != column.ID {
						manual++
					}
				}
				if manual == 0 {
					return c.JSON(http.StatusConflict, errorResponse{Error: "board needs at least one manual column"})
				}
				column.AiEnabled = true
			}
		}
		if err := store.UpdateColumn(ctx, column); err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, column)
	}
}

func deleteColumn(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		if err := store.DeleteColumn(c.Request().Context(), boardID, c.Param("columnId")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func putColumnOrder(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req reorderColumnsRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if len(req.ColumnIDs) == 0 {
			return c.String(http.StatusBadRequest, "columnIds is required")
		}
		ctx := c.Request().Context()
		if err := store.ReorderColumns(ctx, boardID, req.ColumnIDs); err != nil {
			return fail(c, err)
		}
		columns, err := store.ListColumns(ctx, boardID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, columns)
	}
}
