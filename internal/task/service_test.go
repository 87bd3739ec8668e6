package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"ChemResponse-Chain/internal/agent"
	xerrors "ChemResponse-Chain/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error {
	return errors.New("broker unavailable")
}

func (failingProducer) Close() error { return nil }

func TestServiceSubmitValidatesInput(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(1), 3)

	if _, err := service.Submit(context.Background(), agent.RunRequest{Input: "  "}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := service.Submit(context.Background(), agent.RunRequest{Input: "氯气泄漏", NumResponses: -1}); xerrors.CodeOf(err) != CodeTaskValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestServiceSubmitRejectsUnsafeIDBeforeQueueing(t *testing.T) {
	store := NewMemoryStore()
	queue := NewMemoryQueue(4)
	service := NewService(store, queue, 3)
	ctx := context.Background()

	for _, id := range []string{"site/42", `site\42`, "..", "."} {
		if _, err := service.Submit(ctx, agent.RunRequest{ID: id, Input: "氯气泄漏"}); xerrors.CodeOf(err) != CodeTaskValidation {
			t.Fatalf("id %q: expected validation error, got %v", id, err)
		}
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrTaskNotFound) {
			t.Fatalf("id %q: run must not be stored, got %v", id, err)
		}
	}
	if len(queue.ch) != 0 {
		t.Fatalf("nothing should be published, got %d", len(queue.ch))
	}
}

func TestServiceSubmitIsIdempotentByID(t *testing.T) {
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue, 3)
	ctx := context.Background()

	first, err := service.Submit(ctx, agent.RunRequest{ID: "run-1", Input: "氯气泄漏", NumResponses: 3})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	second, err := service.Submit(ctx, agent.RunRequest{ID: "run-1", Input: "另一起事故"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if second.Input != first.Input || second.NumResponses != 3 {
		t.Fatalf("expected existing run, got %+v", second)
	}
	if len(queue.ch) != 1 {
		t.Fatalf("expected a single publish, got %d", len(queue.ch))
	}
	if first.MaxRetries != 3 || first.Status != StatusPending {
		t.Fatalf("unexpected run: %+v", first)
	}
}

func TestServiceSubmitGeneratesID(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 0)

	task, err := service.Submit(context.Background(), agent.RunRequest{Input: "氯气泄漏"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if task.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestServiceSubmitPublishFailureMarksRunFailed(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, failingProducer{}, 3)

	_, err := service.Submit(context.Background(), agent.RunRequest{ID: "run-1", Input: "氯气泄漏"})
	if xerrors.CodeOf(err) != CodeTaskPublish {
		t.Fatalf("expected publish error, got %v", err)
	}
	task, getErr := store.Get(context.Background(), "run-1")
	if getErr != nil {
		t.Fatalf("get: %v", getErr)
	}
	if task.Status != StatusFailed || task.ErrorCode != string(CodeTaskPublish) {
		t.Fatalf("unexpected run: %+v", task)
	}
}

func TestServiceWaitUntilCompleted(t *testing.T) {
	store := NewMemoryStore()
	service := NewService(store, NewMemoryQueue(4), 3)
	ctx := context.Background()

	if _, err := service.Submit(ctx, agent.RunRequest{ID: "run-1", Input: "氯气泄漏"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.MarkSucceeded(ctx, "run-1", ExecutionResult{CompletedStages: 2, FallbackStages: []string{"impact_assessment"}})
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, "run-1", 5*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if task.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", task.Status)
	}
}

func TestServiceWaitUntilCompletedTimesOut(t *testing.T) {
	service := NewService(NewMemoryStore(), NewMemoryQueue(4), 3)
	ctx := context.Background()
	if _, err := service.Submit(ctx, agent.RunRequest{ID: "run-1", Input: "氯气泄漏"}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	task, err := service.WaitUntilCompleted(waitCtx, "run-1", 5*time.Millisecond)
	if xerrors.CodeOf(err) != xerrors.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if task == nil || task.Status != StatusPending {
		t.Fatalf("expected last observed run, got %+v", task)
	}
}
