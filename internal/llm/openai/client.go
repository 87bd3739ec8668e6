package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	xerrors "ChemResponse-Chain/internal/errors"
	"ChemResponse-Chain/internal/llm"
)

const (
	defaultBaseURL   = "https://api.deepseek.com/v1"
	defaultModelName = "deepseek-chat"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = 4096
)

// Config 描述了调用 OpenAI 兼容 Chat Completions API 所需的信息，DeepSeek 与 OpenAI 共用。
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
	Stop        []string
}

// Client 通过 HTTP 调用 OpenAI 兼容的大模型接口，每次请求只生成一个样本。
type Client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	stop        []string
	httpClient  *http.Client
}

// NewClient 根据配置创建客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未提供 API Key", xerrors.WithRetryable(false))
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	return &Client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		stop:        cfg.Stop,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Complete 实现 llm.Completer。
func (c *Client) Complete(ctx context.Context, prompt string) (llm.Completion, error) {
	payload, err := c.buildPayload(prompt)
	if err != nil {
		return llm.Completion{}, err
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.Completion{}, xerrors.Wrap(xerrors.CodeLLMFailure, err, "构建请求失败", xerrors.WithRetryable(false))
	}

	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return llm.Completion{}, xerrors.Wrap(xerrors.CodeTimeout, err, "请求被取消", xerrors.WithRetryable(false))
		}
		return llm.Completion{}, xerrors.Wrap(xerrors.CodeLLMFailure, err, "请求大模型失败")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError
		return llm.Completion{}, xerrors.New(xerrors.CodeLLMFailure,
			fmt.Sprintf("大模型返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithRetryable(retryable),
			xerrors.WithMetadata("status", fmt.Sprint(resp.StatusCode)),
		)
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return llm.Completion{}, xerrors.Wrap(xerrors.CodeLLMFailure, err, "解析响应失败")
	}
	if len(decoded.Choices) == 0 {
		return llm.Completion{}, xerrors.Wrap(xerrors.CodeLLMFailure, errors.New("no choices"), "响应中没有有效的 choices")
	}

	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return llm.Completion{}, xerrors.New(xerrors.CodeLLMFailure, "响应内容为空")
	}

	return llm.Completion{
		Text:             content,
		PromptTokens:     decoded.Usage.PromptTokens,
		CompletionTokens: decoded.Usage.CompletionTokens,
	}, nil
}

func (c *Client) buildPayload(prompt string) ([]byte, error) {
	type message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	body := map[string]any{
		"model":       c.model,
		"messages":    []message{{Role: "user", Content: prompt}},
		"temperature": c.temperature,
		"max_tokens":  c.maxTokens,
		"n":           1,
	}
	if len(c.stop) > 0 {
		body["stop"] = c.stop
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeLLMFailure, err, "序列化请求失败", xerrors.WithRetryable(false))
	}
	return encoded, nil
}
