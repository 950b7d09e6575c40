package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const anthropicModel = "claude-sonnet-4-20250514"

// AnthropicClient backs the ANTHROPIC provider over the messages API.
type AnthropicClient struct {
	http  *resty.Client
	model string
}

// NewAnthropic creates an Anthropic provider client.
func NewAnthropic(apiKey string) *AnthropicClient {
	return &AnthropicClient{
		http: resty.New().
			SetBaseURL("https://api.anthropic.com/v1").
			SetHeader("x-api-key", apiKey).
			SetHeader("anthropic-version", "2023-06-01").
			SetTimeout(defaultTimeout),
		model: anthropicModel,
	}
}

// Timeout returns the provider's hard per-call deadline.
func (c *AnthropicClient) Timeout() time.Duration {
	return defaultTimeout
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues one messages request.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (string, string, int, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var out anthropicResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(anthropicRequest{
			Model:       c.model,
			MaxTokens:   maxTokens,
			System:      req.SystemPrompt,
			Temperature: req.Temperature,
			Messages:    []anthropicMessage{{Role: "user", Content: req.Prompt}},
		}).
		SetResult(&out).
		SetError(&out).
		Post("/messages")
	if err != nil {
		return "", c.model, 0, fmt.Errorf("anthropic request failed: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", c.model, 0, fmt.Errorf("anthropic returned %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Content) == 0 {
		return "", c.model, 0, fmt.Errorf("anthropic returned no content")
	}

	text := ""
	for _, block := range out.Content {
		text += block.Text
	}
	return text, c.model, out.Usage.InputTokens + out.Usage.OutputTokens, nil
}
