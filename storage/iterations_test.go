package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"flowboard-api/domain"
)

func TestAppendIterationNumbersAreGapless(t *testing.T) {
	s, _, _ := newTestStorage()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := s.AppendIteration(ctx, "task-1", "r", "", domain.IterationSucceeded); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	iters, err := s.ListIterations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(iters) != 5 {
		t.Fatalf("expected 5 iterations, got %d", len(iters))
	}
	for i, it := range iters {
		if it.Number != i+1 {
			t.Fatalf("iteration %d has number %d", i, it.Number)
		}
	}
}

func TestAppendIterationSurvivesInsertRace(t *testing.T) {
	s, _, tables := newTestStorage()
	ctx := context.Background()

	// A competing append lands between the count read and the insert. The
	// hook clears itself first: the rival's own insert goes through the same
	// table and must not fire it again.
	tables["iterations"].beforeAdd = func() {
		tables["iterations"].beforeAdd = nil
		other, _, _ := newTestStorage()
		other.iterationTable = tables["iterations"]
		if _, err := other.AppendIteration(ctx, "task-1", "rival", "", domain.IterationSucceeded); err != nil {
			t.Errorf("rival append: %v", err)
		}
	}

	it, err := s.AppendIteration(ctx, "task-1", "mine", "", domain.IterationFailed)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if it.Number != 2 {
		t.Fatalf("expected retried append to take number 2, got %d", it.Number)
	}

	iters, err := s.ListIterations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(iters) != 2 || iters[0].Number != 1 || iters[1].Number != 2 {
		t.Fatalf("unexpected history: %+v", iters)
	}
}

func TestAppendIterationConcurrent(t *testing.T) {
	s, _, tables := newTestStorage()
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			other, _, _ := newTestStorage()
			other.iterationTable = tables["iterations"]
			if _, err := other.AppendIteration(ctx, "task-1", "r", "", domain.IterationSucceeded); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	iters, err := s.ListIterations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(iters) != n {
		t.Fatalf("expected %d iterations, got %d", n, len(iters))
	}
	for i, it := range iters {
		if it.Number != i+1 {
			t.Fatalf("gap or duplicate at position %d: number %d", i, it.Number)
		}
	}
}

func TestAttachFeedback(t *testing.T) {
	s, _, _ := newTestStorage()
	ctx := context.Background()

	if _, err := s.AppendIteration(ctx, "task-1", "r1", "", domain.IterationSucceeded); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := s.AttachFeedback(ctx, "task-1", 1, "tighten it"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	// idempotent re-submission of the same feedback
	if err := s.AttachFeedback(ctx, "task-1", 1, "tighten it"); err != nil {
		t.Fatalf("idempotent attach: %v", err)
	}
	// different feedback on an occupied slot is rejected
	if err := s.AttachFeedback(ctx, "task-1", 1, "something else"); !errors.Is(err, ErrFeedbackTaken) {
		t.Fatalf("expected ErrFeedbackTaken, got %v", err)
	}

	iters, err := s.ListIterations(ctx, "task-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if iters[0].Feedback != "tighten it" {
		t.Fatalf("feedback = %q", iters[0].Feedback)
	}
	if iters[0].Result != "r1" || iters[0].State != domain.IterationSucceeded {
		t.Fatalf("merge update clobbered the iteration: %+v", iters[0])
	}
}

func TestAttachFeedbackMissingIteration(t *testing.T) {
	s, _, _ := newTestStorage()
	if err := s.AttachFeedback(context.Background(), "task-1", 3, "fb"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestIteration(t *testing.T) {
	s, _, _ := newTestStorage()
	ctx := context.Background()

	if _, ok, err := s.LatestIteration(ctx, "task-1"); err != nil || ok {
		t.Fatalf("expected no latest iteration, ok=%v err=%v", ok, err)
	}
	if _, err := s.AppendIteration(ctx, "task-1", "r1", "", domain.IterationFailed); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.AppendIteration(ctx, "task-1", "r2", "", domain.IterationSucceeded); err != nil {
		t.Fatalf("append: %v", err)
	}
	latest, ok, err := s.LatestIteration(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if latest.Number != 2 || latest.Result != "r2" {
		t.Fatalf("unexpected latest: %+v", latest)
	}
}
