package llm

import "sync"

// Usage 累计令牌用量并按每千令牌单价估算费用，可并发使用。
type Usage struct {
	mu                sync.Mutex
	promptTokenCost   float64
	responseTokenCost float64
	promptTokens      int
	completionTokens  int
	requests          int
}

// UsageSnapshot 是某一时刻的用量快照。
type UsageSnapshot struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// NewUsage 创建用量统计，单价以每 1000 令牌计。
func NewUsage(promptTokenCost, responseTokenCost float64) *Usage {
	return &Usage{promptTokenCost: promptTokenCost, responseTokenCost: responseTokenCost}
}

// Add 记录一次成功的生成。
func (u *Usage) Add(c Completion) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.requests++
	u.promptTokens += c.PromptTokens
	u.completionTokens += c.CompletionTokens
}

// Snapshot 返回当前的累计用量。
func (u *Usage) Snapshot() UsageSnapshot {
	if u == nil {
		return UsageSnapshot{}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		Requests:         u.requests,
		PromptTokens:     u.promptTokens,
		CompletionTokens: u.completionTokens,
		Cost: u.promptTokenCost*float64(u.promptTokens)/1000.0 +
			u.responseTokenCost*float64(u.completionTokens)/1000.0,
	}
}
