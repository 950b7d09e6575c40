package ai

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	geminiFlashModel = "gemini-2.0-flash"
	geminiProModel   = "gemini-2.5-pro"
)

// GeminiClient backs the GEMINI_FLASH and GEMINI_PRO providers through the
// official genai SDK. One instance per provider variant so each carries its
// own model and timeout.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiFlash creates the cheap screener-tier Gemini client.
func NewGeminiFlash(ctx context.Context, apiKey string) (*GeminiClient, error) {
	return newGemini(ctx, apiKey, geminiFlashModel, defaultTimeout)
}

// NewGeminiPro creates the expensive adjudication-tier Gemini client.
func NewGeminiPro(ctx context.Context, apiKey string) (*GeminiClient, error) {
	return newGemini(ctx, apiKey, geminiProModel, proTimeout)
}

func newGemini(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model, timeout: timeout}, nil
}

// Timeout returns the provider's hard per-call deadline.
func (c *GeminiClient) Timeout() time.Duration {
	return c.timeout
}

// Complete issues one generation request.
func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, string, int, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", c.model, 0, fmt.Errorf("gemini generate failed: %w", err)
	}

	text, err := extractGenaiText(result)
	if err != nil {
		return "", c.model, 0, err
	}

	tokens := 0
	if result.UsageMetadata != nil {
		tokens = int(result.UsageMetadata.TotalTokenCount)
	}
	return text, c.model, tokens, nil
}

func extractGenaiText(result *genai.GenerateContentResponse) (string, error) {
	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content generated")
	}

	text := ""
	for _, part := range result.Candidates[0].Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
	}
	return text, nil
}
