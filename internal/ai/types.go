// Package ai is the unified gateway over the AI providers: one request
// interface, an explicit ordered fallback chain, per-provider timeouts and
// robust JSON extraction from prose-wrapped responses.
package ai

import (
	"context"
	"time"
)

// Provider identifies one configured AI backend.
type Provider string

const (
	GeminiFlash Provider = "gemini_flash"
	GeminiPro   Provider = "gemini_pro"
	OpenAI      Provider = "openai"
	Anthropic   Provider = "anthropic"
)

// fallbackOrder is the canonical order remaining providers are appended in
// after the preferred one.
var fallbackOrder = []Provider{GeminiPro, GeminiFlash, OpenAI, Anthropic}

// Request is one completion request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Preferred    Provider
	Temperature  float64
	MaxTokens    int
}

// Response carries the gateway's result. Success is false only when every
// provider in the chain failed.
type Response struct {
	Provider   Provider
	Model      string
	Content    string
	ParsedJSON map[string]interface{}
	TokensUsed int
	Success    bool
	Error      string
}

// Client is a single provider backend.
type Client interface {
	// Complete issues one request. Implementations apply their own hard
	// per-call timeout on top of ctx.
	Complete(ctx context.Context, req Request) (content string, model string, tokens int, err error)
	// Timeout is the provider's hard per-call deadline.
	Timeout() time.Duration
}
