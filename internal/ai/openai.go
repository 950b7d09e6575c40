package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const openaiModel = "gpt-4o-mini"

// OpenAIClient backs the OPENAI provider over the chat completions API.
type OpenAIClient struct {
	http  *resty.Client
	model string
}

// NewOpenAI creates an OpenAI provider client.
func NewOpenAI(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		http: resty.New().
			SetBaseURL("https://api.openai.com/v1").
			SetAuthToken(apiKey).
			SetTimeout(defaultTimeout),
		model: openaiModel,
	}
}

// Timeout returns the provider's hard per-call deadline.
func (c *OpenAIClient) Timeout() time.Duration {
	return defaultTimeout
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, string, int, error) {
	messages := []openaiMessage{}
	if req.SystemPrompt != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openaiMessage{Role: "user", Content: req.Prompt})

	var out openaiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(openaiRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/chat/completions")
	if err != nil {
		return "", c.model, 0, fmt.Errorf("openai request failed: %w", err)
	}
	if resp.IsError() {
		msg := resp.Status()
		if out.Error != nil {
			msg = out.Error.Message
		}
		return "", c.model, 0, fmt.Errorf("openai returned %d: %s", resp.StatusCode(), msg)
	}
	if len(out.Choices) == 0 {
		return "", c.model, 0, fmt.Errorf("openai returned no choices")
	}

	return out.Choices[0].Message.Content, c.model, out.Usage.TotalTokens, nil
}
