package llm

import "context"

// Completion 是一次单样本生成的结果。
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Completer 由各个服务商适配器实现，每次调用只生成一个样本。
type Completer interface {
	Complete(ctx context.Context, prompt string) (Completion, error)
}

// CompleterFunc 允许把普通函数当作 Completer 使用。
type CompleterFunc func(ctx context.Context, prompt string) (Completion, error)

// Complete 实现 Completer。
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (Completion, error) {
	return f(ctx, prompt)
}

// Client 定义了流水线调用大模型的统一接口：对同一提示采样 numResponses 个回复。
// 只要有一个样本成功就返回成功的文本，全部失败时返回错误。
type Client interface {
	Query(ctx context.Context, prompt string, numResponses int) ([]string, error)
}

// ClientFunc 允许把普通函数当作 Client 使用。
type ClientFunc func(ctx context.Context, prompt string, numResponses int) ([]string, error)

// Query 实现 Client。
func (f ClientFunc) Query(ctx context.Context, prompt string, numResponses int) ([]string, error) {
	return f(ctx, prompt, numResponses)
}
