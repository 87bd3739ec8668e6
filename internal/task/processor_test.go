package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ChemResponse-Chain/internal/agent"
	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/observability/alerting"
	"ChemResponse-Chain/internal/pipeline"
	"ChemResponse-Chain/pkg/logger"
)

type fakeAgent struct {
	processed atomic.Int32
	latency   time.Duration
	err       error
	fallback  []string
}

func (f *fakeAgent) Execute(ctx context.Context, req agent.RunRequest) (*agent.RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	plan := pipeline.Report{
		ImpactAssessment: map[string]any{"population_impact": map[string]any{"evacuation_radius": "2000"}},
		ResponsePlan:     map[string]any{"emergency_level": map[string]any{"level": "II级"}},
	}
	return &agent.RunResult{
		RunID:          req.ID,
		Report:         plan,
		FallbackStages: f.fallback,
		Location:       "reports/" + req.ID,
		Duration:       5 * time.Millisecond,
	}, nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerts) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	executor := &fakeAgent{latency: 10 * time.Millisecond}

	service := NewService(store, queue, 3)
	processor := NewProcessor(executor, store, queue, queue, WithWorkerCount(8), WithProcessorLogger(logger.Discard()))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		input := fmt.Sprintf("氯气泄漏-%d", i)
		if _, err := service.Submit(ctx, agent.RunRequest{Input: input}); err != nil {
			t.Fatalf("提交任务失败: %v", err)
		}
	}

	deadline := time.After(5 * time.Second)
	for {
		if int(executor.processed.Load()) >= total {
			cancel()
			break
		}
		select {
		case <-deadline:
			t.Fatalf("任务未能及时处理，已完成 %d", executor.processed.Load())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newTestProcessor(t *testing.T, executor Executor, opts ...ProcessorOption) (*Processor, *MemoryStore, *MemoryQueue) {
	t.Helper()
	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	opts = append([]ProcessorOption{WithProcessorLogger(logger.Discard())}, opts...)
	return NewProcessor(executor, store, queue, queue, opts...), store, queue
}

func createPending(t *testing.T, store Store, id string, maxRetries int) {
	t.Helper()
	if err := store.Create(context.Background(), &Task{ID: id, Input: "氯气泄漏", Status: StatusPending, MaxRetries: maxRetries}); err != nil {
		t.Fatalf("create: %v", err)
	}
}

func TestProcessorRecordsResult(t *testing.T) {
	processor, store, _ := newTestProcessor(t, &fakeAgent{})
	createPending(t, store, "run-1", 3)

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-1")
	if task.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", task.Status)
	}
	if task.Result == nil || task.Result.CompletedStages != 2 || task.Result.Location != "reports/run-1" {
		t.Fatalf("unexpected result: %+v", task.Result)
	}
	if len(task.Result.Report) == 0 {
		t.Fatalf("expected encoded report")
	}
}

func TestProcessorMarksDegradedRuns(t *testing.T) {
	processor, store, _ := newTestProcessor(t, &fakeAgent{fallback: []string{"situation_analysis"}})
	createPending(t, store, "run-1", 3)

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-1")
	if task.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", task.Status)
	}
}

func TestProcessorRequeuesRetryableFailure(t *testing.T) {
	alerts := &recordingAlerts{}
	executor := &fakeAgent{err: xerrors.New(xerrors.CodeTimeout, "pipeline cancelled", xerrors.WithRetryable(true))}
	processor, store, queue := newTestProcessor(t, executor, WithAlertDispatcher(alerts))
	createPending(t, store, "run-1", 3)

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-1")
	if task.Status != StatusPending || task.Attempts != 1 {
		t.Fatalf("expected pending after first failure, got %+v", task)
	}
	select {
	case id := <-queue.ch:
		if id != "run-1" {
			t.Fatalf("unexpected requeued id %s", id)
		}
	default:
		t.Fatalf("expected run to be requeued")
	}
	if len(alerts.events) != 1 || alerts.events[0].Metadata["stage"] != "retry" {
		t.Fatalf("unexpected alerts: %+v", alerts.events)
	}
}

func TestProcessorFailsAfterRetriesExhausted(t *testing.T) {
	executor := &fakeAgent{err: xerrors.New(xerrors.CodeLLMFailure, "quota exceeded")}
	processor, store, queue := newTestProcessor(t, executor)
	createPending(t, store, "run-1", 1)

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-1")
	if task.Status != StatusFailed || task.ErrorCode != string(xerrors.CodeLLMFailure) {
		t.Fatalf("expected terminal failure, got %+v", task)
	}
	if len(queue.ch) != 0 {
		t.Fatalf("terminal failure must not be requeued")
	}
}

func TestProcessorEscalatesTerminalFailure(t *testing.T) {
	executor := &fakeAgent{err: xerrors.New(xerrors.CodePipelineInvariant, "snapshot mismatch")}
	processor, store, _ := newTestProcessor(t, executor, WithRecoveryHandler(EscalationRecovery{}))
	createPending(t, store, "run-1", 3)

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	task, _ := store.Get(context.Background(), "run-1")
	if task.Status != StatusDegraded {
		t.Fatalf("expected escalated degraded run, got %s", task.Status)
	}
	if len(task.Result.FallbackStages) != pipeline.NumStages {
		t.Fatalf("expected every stage to be marked fallback: %+v", task.Result)
	}
}

func TestProcessorSkipsCompletedRuns(t *testing.T) {
	executor := &fakeAgent{}
	processor, store, _ := newTestProcessor(t, executor)
	createPending(t, store, "run-1", 3)
	if err := store.MarkSucceeded(context.Background(), "run-1", ExecutionResult{CompletedStages: 3}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	if err := processor.handle(context.Background(), "run-1"); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if executor.processed.Load() != 0 {
		t.Fatalf("completed run must not be executed again")
	}
}
