package llm

import (
	"context"
	"log/slog"
	"time"

	xerrors "ChemResponse-Chain/internal/errors"
)

// RetryPolicy 描述指数退避重试。
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy 最多尝试三次，退避间隔从 500ms 起翻倍，上限 5s。
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.Base <= 0 {
		p.Base = DefaultRetryPolicy.Base
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	return p
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.Base << attempt
	if d <= 0 || d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type retryingCompleter struct {
	next   Completer
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry 为 Completer 增加重试，只有可重试的错误才会再次尝试。
func WithRetry(next Completer, policy RetryPolicy, logger *slog.Logger) Completer {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingCompleter{next: next, policy: policy.normalized(), logger: logger}
}

func (r *retryingCompleter) Complete(ctx context.Context, prompt string) (Completion, error) {
	var lastErr error
	for attempt := 0; attempt < r.policy.Attempts; attempt++ {
		if attempt > 0 {
			wait := r.policy.delay(attempt - 1)
			r.logger.Debug("重试生成请求", "attempt", attempt+1, "wait", wait, "error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Completion{}, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "retry aborted", xerrors.WithRetryable(false))
			case <-timer.C:
			}
		}

		completion, err := r.next.Complete(ctx, prompt)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !xerrors.RetryableError(err) {
			return Completion{}, err
		}
	}
	return Completion{}, xerrors.Wrap(xerrors.CodeRetriesExhausted, lastErr, "")
}
