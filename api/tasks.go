package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

func getTasks(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		tasks, err := store.ListTasks(c.Request().Context(), boardID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func postTask(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		if req.ColumnID == "" {
			return c.String(http.StatusBadRequest, "columnId is required")
		}
		if req.Priority != "" && !domain.Priority(req.Priority).Valid() {
			return c.String(http.StatusBadRequest, "invalid priority")
		}
		ctx := c.Request().Context()
		if _, err := store.GetColumn(ctx, boardID, req.ColumnID); err != nil {
			return fail(c, err)
		}
		task, err := store.CreateTask(ctx, domain.Task{
			BoardID:     boardID,
			ColumnID:    req.ColumnID,
			Title:       req.Title,
			Description: req.Description,
			Priority:    domain.Priority(req.Priority),
			AssigneeID:  req.AssigneeID,
		})
		if err != nil {
			return fail(c, err)
		}
		store.PublishBoardEvent(ctx, storage.BoardEvent{Type: storage.EventTaskCreated, BoardID: boardID, TaskID: task.ID})
		return c.JSON(http.StatusCreated, task)
	}
}

func putTask(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		boardID := c.Param("boardId")
		if ok, handled := requireBoard(c, store, boardID, user); !ok {
			return handled
		}
		var req updateTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		ctx := c.Request().Context()
		task, err := store.GetTask(ctx, boardID, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if req.Title != nil {
			if *req.Title == "" {
				return c.String(http.StatusBadRequest, "title is required")
			}
			task.Title = *req.Title
		}
		if req.Description != nil {
			task.Description = *req.Description
		}
		if req.Priority != nil {
			if !domain.Priority(*req.Priority).Valid() {
				return c.String(http.StatusBadRequest, "invalid priority")
			}
			task.Priority = domain.Priority(*req.Priority)
		}
		if req.AssigneeID != nil {
			task.AssigneeID = *req.AssigneeID
		}
		if err := store.UpdateTask(ctx, task); err != nil {
			return fail(c, err)
		}
		store.PublishBoardEvent(ctx, storage.BoardEvent{Type: storage.EventTaskUpdated, BoardID: boardID, TaskID: task.ID})
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(store Store, auth Authenticator) echo.HandlerFunc {
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
		task, err := store.GetTask(ctx, boardID, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if err := store.DeleteTask(ctx, task); err != nil {
			return fail(c, err)
		}
		store.PublishBoardEvent(ctx, storage.BoardEvent{Type: storage.EventTaskDeleted, BoardID: boardID, TaskID: task.ID})
		return c.NoContent(http.StatusNoContent)
	}
}

// putTaskStatus moves a task between columns. This is the arming path for AI
// runs, so it carries per-stage telemetry and an idempotency guard: a retried
// request with the same Idempotency-Key returns the current task instead of
// arming a second run.
func putTaskStatus(store Store, auth Authenticator, mover Mover, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		user, authErr := userID(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		var req moveTaskRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("invalid_body")
			err = c.String(http.StatusBadRequest, "invalid body")
			return err
		}
		if req.ColumnID == "" {
			metrics.SetErrorStage("invalid_body")
			err = c.String(http.StatusBadRequest, "columnId is required")
			return err
		}
		if req.Order != nil && *req.Order < 0 {
			metrics.SetErrorStage("invalid_body")
			err = c.String(http.StatusBadRequest, "order must not be negative")
			return err
		}

		taskID := c.Param("taskId")
		task, findErr := store.FindTask(ctx, taskID)
		if findErr != nil {
			metrics.SetErrorStage("task_lookup")
			err = fail(c, findErr)
			return err
		}
		if ok, handled := requireBoard(c, store, task.BoardID, user); !ok {
			metrics.SetErrorStage("visibility")
			err = handled
			return err
		}

		idemKey := c.Request().Header.Get("Idempotency-Key")
		keyRecorded := false
		if idemKey != "" && deduper != nil {
			added, dedupeErr := deduper.Add(ctx, user, idemKey)
			if dedupeErr != nil {
				// Dedupe is a guard, not a dependency; proceed without it.
				logger.Warnf("move dedupe unavailable: %v", dedupeErr)
			} else if !added {
				metrics.SetDuplicate(true)
				iterations, iterErr := store.ListIterations(ctx, taskID)
				if iterErr != nil {
					err = fail(c, iterErr)
					return err
				}
				task.Iterations = iterations
				err = c.JSON(http.StatusOK, task)
				return err
			} else {
				keyRecorded = true
			}
		}

		// An omitted order keeps the task where it sits in the column.
		order := task.Order
		if req.Order != nil {
			order = *req.Order
		}

		moveStart := time.Now()
		moved, moveErr := mover.Move(ctx, user, task.BoardID, taskID, req.ColumnID, order, req.Feedback)
		metrics.ObserveMove(time.Since(moveStart))
		if moveErr != nil {
			if keyRecorded {
				if rerr := deduper.Remove(ctx, user, idemKey); rerr != nil {
					logger.Errorf("move dedupe rollback failed, key: %s, user: %s, err: %v", idemKey, user, rerr)
				}
			}
			metrics.SetErrorStage("move")
			err = fail(c, moveErr)
			return err
		}
		metrics.SetArmed(moved.AiGeneration > task.AiGeneration)

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, moved)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getIterations(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		task, err := store.FindTask(ctx, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if ok, handled := requireBoard(c, store, task.BoardID, user); !ok {
			return handled
		}
		iterations, err := store.ListIterations(ctx, task.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, iterations)
	}
}

func getAiStatus(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		task, err := store.FindTask(ctx, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if ok, handled := requireBoard(c, store, task.BoardID, user); !ok {
			return handled
		}
		if cached, ok := store.GetAiStatus(ctx, task.ID); ok {
			return c.JSON(http.StatusOK, aiStatusFromCache(cached))
		}
		iterations, err := store.ListIterations(ctx, task.ID)
		if err != nil {
			return fail(c, err)
		}
		resp := aiStatusResponse{
			TaskID:         task.ID,
			AiState:        task.AiState,
			IterationCount: len(iterations),
		}
		if n := len(iterations); n > 0 {
			latest := iterations[n-1]
			resp.LatestNumber = latest.Number
			resp.LatestState = latest.State
			resp.LatestResult = latest.Result
			resp.LatestCreatedAt = latest.CreatedAt
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func getComments(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		task, err := store.FindTask(ctx, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if ok, handled := requireBoard(c, store, task.BoardID, user); !ok {
			return handled
		}
		comments, err := store.ListComments(ctx, task.ID)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusOK, comments)
	}
}

func postComment(store Store, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, err := userID(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		ctx := c.Request().Context()
		task, err := store.FindTask(ctx, c.Param("taskId"))
		if err != nil {
			return fail(c, err)
		}
		if ok, handled := requireBoard(c, store, task.BoardID, user); !ok {
			return handled
		}
		var req commentRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Text == "" {
			return c.String(http.StatusBadRequest, "text is required")
		}
		comment, err := store.AddComment(ctx, domain.Comment{
			TaskID:   task.ID,
			AuthorID: user,
			Text:     req.Text,
			// Monotonic stamp keeps comment row keys unique and ordered.
			CreatedAt: time.Unix(0, nextTimestamp()).UTC(),
		})
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, comment)
	}
}
