package task

import (
	"context"

	"ChemResponse-Chain/internal/pipeline"
)

// RecoveryHandler 定义了运行进入终态失败时的补偿策略。
type RecoveryHandler interface {
	// Recover 返回的 ExecutionResult 将作为降级结果写入运行；返回 nil 则按失败处理。
	Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)
}

// RecoveryFunc 允许把普通函数当作 RecoveryHandler 使用。
type RecoveryFunc func(ctx context.Context, task *Task, cause error) (*ExecutionResult, error)

// Recover 实现 RecoveryHandler。
func (f RecoveryFunc) Recover(ctx context.Context, task *Task, cause error) (*ExecutionResult, error) {
	return f(ctx, task, cause)
}

// EscalationRecovery 在无法生成预案时写入最高响应等级的兜底预案，
// 使调用方至少拿到"按 I 级响应处置"的结论。
type EscalationRecovery struct{}

// Recover 实现 RecoveryHandler。
func (EscalationRecovery) Recover(_ context.Context, _ *Task, _ error) (*ExecutionResult, error) {
	report, err := pipeline.MarshalDocument(pipeline.EscalationReport())
	if err != nil {
		return nil, err
	}
	fallback := make([]string, 0, pipeline.NumStages)
	for _, stage := range pipeline.Stages {
		fallback = append(fallback, stage.String())
	}
	return &ExecutionResult{
		FallbackStages: fallback,
		Report:         report,
	}, nil
}
