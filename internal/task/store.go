package task

import (
	"context"

	xerrors "ChemResponse-Chain/internal/errors"
)

// Store 抽象了运行状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 将待执行的任务置为运行中并增加尝试次数。
	Claim(ctx context.Context, id string) (*Task, error)
	// MarkSucceeded 写入结果；结果含兜底阶段时状态为 degraded。
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	// MarkFailed 记录失败；terminal 为 false 时任务回到 pending 等待重投。
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}

func succeededStatus(result ExecutionResult) Status {
	if result.Degraded() {
		return StatusDegraded
	}
	return StatusSucceeded
}

func failedStatus(terminal bool) Status {
	if terminal {
		return StatusFailed
	}
	return StatusPending
}
