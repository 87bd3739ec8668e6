package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	genai "google.golang.org/genai"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/llm"
)

const defaultModelName = "gemini-2.5-flash"

// Config 描述 Gemini 客户端参数。
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Stop        []string
	HTTPClient  *http.Client
}

// Client 基于官方 genai SDK 调用 Gemini，每次请求只生成一个样本。
type Client struct {
	cli    *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 Gemini API Key", xerrors.WithRetryable(false))
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI, HTTPClient: cfg.HTTPClient}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建 Gemini 客户端失败")
	}

	temperature := float32(cfg.Temperature)
	gen := &genai.GenerateContentConfig{
		Temperature:   &temperature,
		StopSequences: cfg.Stop,
	}
	if cfg.MaxTokens > 0 {
		gen.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	return &Client{cli: cli, model: model, config: gen}, nil
}

// Complete 实现 llm.Completer。
func (c *Client) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	resp, err := c.cli.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		c.config,
	)
	if err != nil {
		return llm.Completion{}, classify(ctx, err)
	}
	return completionFrom(resp)
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return xerrors.Wrap(xerrors.CodeTimeout, err, "请求被取消", xerrors.WithRetryable(false))
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		retryable := apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
		return xerrors.Wrap(xerrors.CodeLLMFailure, err, "Gemini 返回错误",
			xerrors.WithRetryable(retryable),
			xerrors.WithMetadata("status", fmt.Sprint(apiErr.Code)),
		)
	}
	return xerrors.Wrap(xerrors.CodeLLMFailure, err, "请求 Gemini 失败")
}

func completionFrom(resp *genai.GenerateContentResponse) (llm.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return llm.Completion{}, xerrors.New(xerrors.CodeLLMFailure, "Gemini 响应中没有候选内容")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return llm.Completion{}, xerrors.New(xerrors.CodeLLMFailure, "Gemini 响应内容为空")
	}
	out := llm.Completion{Text: text}
	if u := resp.UsageMetadata; u != nil {
		out.PromptTokens = int(u.PromptTokenCount)
		out.CompletionTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}
