// Package grounding verifies candidate news against independent
// sources before the judge spends an expensive AI call on it.
package grounding

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/ai"
)

// Result is the outcome of one verification.
type Result struct {
	Verified   bool     `json:"verified"`
	Confidence float64  `json:"confidence"` // 0-1
	Sources    []string `json:"sources"`
}

// Verifier checks a news claim for a symbol.
type Verifier interface {
	Verify(ctx context.Context, symbol, newsText string) (*Result, error)
}

// Completer is the slice of the AI gateway the service needs.
type Completer interface {
	Complete(ctx context.Context, req ai.Request) ai.Response
}

// Service verifies news through the cheap AI provider.
type Service struct {
	gateway Completer
	log     zerolog.Logger
}

// NewService wires the grounding service.
func NewService(gateway Completer, log zerolog.Logger) *Service {
	return &Service{
		gateway: gateway,
		log:     log.With().Str("component", "grounding").Logger(),
	}
}

// Verify asks the model whether the claimed news is corroborated and
// how confident it is. A failed or unparseable response is an error;
// the caller decides whether to fail open.
func (s *Service) Verify(ctx context.Context, symbol, newsText string) (*Result, error) {
	prompt := fmt.Sprintf(
		"Assess whether the following news about %s is plausible and corroborated by "+
			"well-known facts about the company and its sector.\n\nNews:\n%s\n\n"+
			"Respond with ONLY a JSON object:\n"+
			`{"verified": <bool>, "confidence": <0-1>, "sources": ["<short source descriptions>"]}`,
		symbol, newsText)

	resp := s.gateway.Complete(ctx, ai.Request{
		Prompt:      prompt,
		Preferred:   ai.GeminiFlash,
		Temperature: 0.1,
		MaxTokens:   500,
	})
	if !resp.Success || resp.ParsedJSON == nil {
		return nil, fmt.Errorf("grounding call failed: %s", resp.Error)
	}

	out := &Result{}
	if v, ok := resp.ParsedJSON["verified"].(bool); ok {
		out.Verified = v
	}
	if c, ok := resp.ParsedJSON["confidence"].(float64); ok {
		out.Confidence = c
	}
	if raw, ok := resp.ParsedJSON["sources"].([]interface{}); ok {
		for _, s := range raw {
			if str, ok := s.(string); ok {
				out.Sources = append(out.Sources, str)
			}
		}
	}

	s.log.Debug().
		Str("symbol", symbol).
		Bool("verified", out.Verified).
		Float64("confidence", out.Confidence).
		Msg("News grounding complete")

	return out, nil
}
