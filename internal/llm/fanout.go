package llm

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	xerrors "ChemResponse-Chain/internal/errors"
)

// DefaultMaxConcurrent 为单次采样时同时在途的请求上限。
const DefaultMaxConcurrent = 10

// FanOut 并发执行 n 次 call，同时在途的调用不超过 limit。成功的结果按调用序号
// 排列返回，失败的调用只记录日志；只有全部失败时才返回 LLM_FAILURE。
func FanOut(ctx context.Context, n, limit int, logger *slog.Logger, call func(ctx context.Context) (string, error)) ([]string, error) {
	if n <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "numResponses must be positive")
	}
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}

	texts := make([]string, n)
	errs := make([]error, n)

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			text, err := call(ctx)
			if err != nil {
				logger.Warn("采样请求失败", "index", i, "error", err)
				errs[i] = err
				return nil
			}
			texts[i] = text
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, n)
	var failures []error
	for i := range texts {
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		out = append(out, texts[i])
	}
	if len(out) == 0 {
		cause := stdErrors.Join(failures...)
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, cause, "all requests failed", xerrors.WithRetryable(false))
		}
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, cause, "all requests failed")
	}
	return out, nil
}
