package ai

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"flowboard-api/domain"
	"flowboard-api/storage"
)

type fakeRunnerStore struct {
	mu          sync.Mutex
	task        domain.Task
	taskMissing bool
	columns     []domain.Column
	iterations  []domain.AiIteration
	updated     []domain.Task
	latest      *domain.AiIteration
	latestCount int
	events      []storage.BoardEvent
}

func (f *fakeRunnerStore) FindTask(ctx context.Context, taskID string) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.taskMissing || f.task.ID != taskID {
		return domain.Task{}, storage.ErrNotFound
	}
	return f.task, nil
}

func (f *fakeRunnerStore) ListColumns(ctx context.Context, boardID string) ([]domain.Column, error) {
	return f.columns, nil
}

func (f *fakeRunnerStore) ListIterations(ctx context.Context, taskID string) ([]domain.AiIteration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.AiIteration, len(f.iterations))
	copy(out, f.iterations)
	return out, nil
}

func (f *fakeRunnerStore) AppendIteration(ctx context.Context, taskID, result, runLog string, state domain.IterationState) (domain.AiIteration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := domain.AiIteration{
		TaskID:    taskID,
		Number:    len(f.iterations) + 1,
		Result:    result,
		Log:       runLog,
		State:     state,
		CreatedAt: time.Now().UTC(),
	}
	f.iterations = append(f.iterations, it)
	return it, nil
}

func (f *fakeRunnerStore) AttachFeedback(ctx context.Context, taskID string, number int, feedback string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.iterations {
		if f.iterations[i].Number == number {
			if f.iterations[i].Feedback != "" && f.iterations[i].Feedback != feedback {
				return storage.ErrFeedbackTaken
			}
			f.iterations[i].Feedback = feedback
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeRunnerStore) UpdateTask(ctx context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task = t
	f.updated = append(f.updated, t)
	return nil
}

func (f *fakeRunnerStore) RefreshAiStatus(ctx context.Context, t domain.Task, count int, latest *domain.AiIteration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCount = count
	f.latest = latest
}

func (f *fakeRunnerStore) PublishBoardEvent(ctx context.Context, ev storage.BoardEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

type fakeCompleter struct {
	text       string
	err        error
	transcript []domain.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, transcript []domain.Message) (string, error) {
	f.transcript = transcript
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func testBoardColumns() []domain.Column {
	return []domain.Column{
		{ID: "col-todo", BoardID: "b1", Title: "To Do", Order: 0},
		{ID: "col-ai", BoardID: "b1", Title: "In Progress (AI)", Order: 1, AiEnabled: true},
		{ID: "col-review", BoardID: "b1", Title: "Review", Order: 2},
		{ID: "col-done", BoardID: "b1", Title: "Done", Order: 3},
	}
}

func runningTask() domain.Task {
	return domain.Task{
		ID:           "t1",
		BoardID:      "b1",
		ColumnID:     "col-ai",
		Title:        "Write docs",
		Description:  "Cover the public API",
		AiState:      domain.AiStateRunning,
		AiGeneration: 1,
	}
}

func runJob(task domain.Task, feedback string) domain.AiRunEnvelope {
	return domain.AiRunEnvelope{
		UserID: "u1",
		Job: domain.AiRunJob{
			TaskID:      task.ID,
			BoardID:     task.BoardID,
			Title:       task.Title,
			Description: task.Description,
			Feedback:    feedback,
			Generation:  task.AiGeneration,
		},
	}
}

func TestRunnerSuccess(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns()}
	completer := &fakeCompleter{text: "done: here are the docs"}
	r := NewRunner(store, completer, nil)

	if err := r.Run(context.Background(), runJob(store.task, "")); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.iterations) != 1 {
		t.Fatalf("iterations = %d", len(store.iterations))
	}
	it := store.iterations[0]
	if it.Number != 1 || it.State != domain.IterationSucceeded || it.Result != "done: here are the docs" {
		t.Fatalf("iteration = %+v", it)
	}
	if !strings.Contains(it.Log, "AI started processing") || !strings.Contains(it.Log, "Response received successfully") {
		t.Fatalf("log = %q", it.Log)
	}

	if store.task.AiState != domain.AiStateSucceeded {
		t.Fatalf("ai state = %s", store.task.AiState)
	}
	if store.task.ColumnID != "col-review" {
		t.Fatalf("column = %s, want col-review", store.task.ColumnID)
	}
	if store.task.AiResult != "done: here are the docs" {
		t.Fatalf("ai result = %q", store.task.AiResult)
	}

	if len(completer.transcript) != 2 {
		t.Fatalf("transcript length = %d", len(completer.transcript))
	}
	if completer.transcript[1].Content != "Task: Write docs\n\nDescription: Cover the public API" {
		t.Fatalf("task message = %q", completer.transcript[1].Content)
	}

	if len(store.events) != 1 || store.events[0].Type != storage.EventAiFinished {
		t.Fatalf("events = %+v", store.events)
	}
	if store.latest == nil || store.latest.Number != 1 || store.latestCount != 1 {
		t.Fatalf("status refresh = count %d latest %+v", store.latestCount, store.latest)
	}
}

func TestRunnerProviderFailure(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns()}
	completer := &fakeCompleter{err: &ProviderError{StatusCode: 500, Message: "backend down"}}
	r := NewRunner(store, completer, nil)

	if err := r.Run(context.Background(), runJob(store.task, "")); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(store.iterations) != 1 {
		t.Fatalf("iterations = %d", len(store.iterations))
	}
	it := store.iterations[0]
	if it.State != domain.IterationFailed {
		t.Fatalf("state = %s", it.State)
	}
	if !strings.Contains(it.Log, "AI error:") {
		t.Fatalf("log = %q", it.Log)
	}
	if store.task.AiState != domain.AiStateFailed {
		t.Fatalf("ai state = %s", store.task.AiState)
	}
	if store.task.ColumnID != "col-todo" {
		t.Fatalf("column = %s, want col-todo", store.task.ColumnID)
	}
	if store.task.AiResult != "AI error: completion provider: backend down (status 500)" {
		t.Fatalf("ai result = %q", store.task.AiResult)
	}
	if it.Result != store.task.AiResult {
		t.Fatalf("iteration result = %q", it.Result)
	}
}

func TestRunnerAttachesCarriedFeedback(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns()}
	store.task.AiGeneration = 2
	store.iterations = []domain.AiIteration{
		{TaskID: "t1", Number: 1, Result: "first draft", State: domain.IterationSucceeded, CreatedAt: time.Now().UTC()},
	}
	completer := &fakeCompleter{text: "shorter draft"}
	r := NewRunner(store, completer, nil)

	if err := r.Run(context.Background(), runJob(store.task, "make it shorter")); err != nil {
		t.Fatalf("run: %v", err)
	}

	if store.iterations[0].Feedback != "make it shorter" {
		t.Fatalf("feedback not attached: %+v", store.iterations[0])
	}
	if len(store.iterations) != 2 || store.iterations[1].Number != 2 {
		t.Fatalf("iterations = %+v", store.iterations)
	}

	want := []string{
		"system instruction",
		"Task: Write docs\n\nDescription: Cover the public API",
		"first draft",
		"Feedback on iteration #1: make it shorter",
	}
	if len(completer.transcript) != len(want) {
		t.Fatalf("transcript length = %d, want %d", len(completer.transcript), len(want))
	}
	for i := 1; i < len(want); i++ {
		if completer.transcript[i].Content != want[i] {
			t.Fatalf("message %d = %q, want %q", i, completer.transcript[i].Content, want[i])
		}
	}
}

func TestRunnerStaleGenerationKeepsTaskState(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns()}
	store.task.AiGeneration = 5
	completer := &fakeCompleter{text: "late result"}
	r := NewRunner(store, completer, nil)

	env := runJob(store.task, "")
	env.Job.Generation = 4 // superseded by a newer run

	if err := r.Run(context.Background(), env); err != nil {
		t.Fatalf("run: %v", err)
	}

	// History still records the attempt.
	if len(store.iterations) != 1 {
		t.Fatalf("iterations = %d", len(store.iterations))
	}
	// The task itself is left to the newer run.
	if len(store.updated) != 0 {
		t.Fatalf("task updated %d times, want 0", len(store.updated))
	}
	if len(store.events) != 0 {
		t.Fatalf("events = %+v", store.events)
	}
}

func TestRunnerTaskDeletedMidRun(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns(), taskMissing: true}
	completer := &fakeCompleter{text: "result"}
	r := NewRunner(store, completer, nil)

	if err := r.Run(context.Background(), runJob(runningTask(), "")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.updated) != 0 {
		t.Fatalf("task updated after delete")
	}
}

func TestRunnerBoardWithoutManualColumn(t *testing.T) {
	store := &fakeRunnerStore{
		task: runningTask(),
		columns: []domain.Column{
			{ID: "col-ai", BoardID: "b1", Title: "AI Only", Order: 0, AiEnabled: true},
		},
	}
	completer := &fakeCompleter{text: "result"}
	r := NewRunner(store, completer, nil)

	if err := r.Run(context.Background(), runJob(store.task, "")); err != nil {
		t.Fatalf("run: %v", err)
	}
	if store.task.ColumnID != "col-ai" {
		t.Fatalf("task moved to %s, should stay put", store.task.ColumnID)
	}
	if store.task.AiState != domain.AiStateSucceeded {
		t.Fatalf("ai state = %s", store.task.AiState)
	}
}

func TestRunnerPropagatesStorageErrors(t *testing.T) {
	store := &fakeRunnerStore{task: runningTask(), columns: testBoardColumns()}
	completer := &fakeCompleter{text: "result"}
	r := NewRunner(&failingAppendStore{fakeRunnerStore: store}, completer, nil)

	if err := r.Run(context.Background(), runJob(store.task, "")); err == nil {
		t.Fatal("expected error from append failure")
	}
}

type failingAppendStore struct {
	*fakeRunnerStore
}

func (f *failingAppendStore) AppendIteration(ctx context.Context, taskID, result, runLog string, state domain.IterationState) (domain.AiIteration, error) {
	return domain.AiIteration{}, errors.New("table offline")
}
