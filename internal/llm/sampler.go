package llm

import (
	"context"
	"log/slog"
)

// Sampler 把单样本的 Completer 组合成 Client：并发采样、统计用量。
type Sampler struct {
	completer     Completer
	maxConcurrent int
	usage         *Usage
	logger        *slog.Logger
}

// SamplerOption 配置 Sampler。
type SamplerOption func(*Sampler)

// WithMaxConcurrent 限制单次采样同时在途的请求数。
func WithMaxConcurrent(n int) SamplerOption {
	return func(s *Sampler) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// WithUsage 指定用量统计。
func WithUsage(u *Usage) SamplerOption {
	return func(s *Sampler) {
		if u != nil {
			s.usage = u
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(logger *slog.Logger) SamplerOption {
	return func(s *Sampler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSampler 创建采样客户端。
func NewSampler(completer Completer, opts ...SamplerOption) *Sampler {
	s := &Sampler{
		completer:     completer,
		maxConcurrent: DefaultMaxConcurrent,
		usage:         NewUsage(0, 0),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Query 实现 Client。
func (s *Sampler) Query(ctx context.Context, prompt string, numResponses int) ([]string, error) {
	return FanOut(ctx, numResponses, s.maxConcurrent, s.logger, func(ctx context.Context) (string, error) {
		completion, err := s.completer.Complete(ctx, prompt)
		if err != nil {
			return "", err
		}
		s.usage.Add(completion)
		snap := s.usage.Snapshot()
		s.logger.Debug("生成完成",
			"prompt_tokens", completion.PromptTokens,
			"completion_tokens", completion.CompletionTokens,
			"total_cost", snap.Cost,
		)
		return completion.Text, nil
	})
}

// Usage 返回累计用量。
func (s *Sampler) Usage() UsageSnapshot {
	return s.usage.Snapshot()
}
