package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Gateway routes completion requests across the configured providers with
// ordered fallback. The gateway itself never retries a provider; each one
// gets exactly one attempt per request.
type Gateway struct {
	clients map[Provider]Client
	log     zerolog.Logger
}

// NewGateway creates a gateway over the configured provider clients.
// Providers missing from the map are skipped by the fallback chain.
func NewGateway(clients map[Provider]Client, log zerolog.Logger) *Gateway {
	return &Gateway{
		clients: clients,
		log:     log.With().Str("component", "ai-gateway").Logger(),
	}
}

// Configured reports whether at least one provider is available.
func (g *Gateway) Configured() bool {
	return len(g.clients) > 0
}

// Chain returns the provider order for a request: the preferred provider
// first, then the canonical fallback order, duplicates and unconfigured
// providers skipped.
func (g *Gateway) Chain(preferred Provider) []Provider {
	var chain []Provider
	seen := make(map[Provider]bool)

	add := func(p Provider) {
		if seen[p] {
			return
		}
		seen[p] = true
		if _, ok := g.clients[p]; ok {
			chain = append(chain, p)
		}
	}

	add(preferred)
	for _, p := range fallbackOrder {
		add(p)
	}
	return chain
}

// Complete walks the fallback chain and returns the first success. JSON
// extraction runs on every successful response; a response that carries no
// parseable JSON is still a success, callers decide.
func (g *Gateway) Complete(ctx context.Context, req Request) Response {
	chain := g.Chain(req.Preferred)
	if len(chain) == 0 {
		return Response{Success: false, Error: "no AI providers configured"}
	}

	var lastErr string
	for _, provider := range chain {
		client := g.clients[provider]

		callCtx, cancel := context.WithTimeout(ctx, client.Timeout())
		content, model, tokens, err := client.Complete(callCtx, req)
		cancel()

		if err != nil {
			lastErr = err.Error()
			g.log.Warn().
				Err(err).
				Str("provider", string(provider)).
				Msg("Provider failed, advancing to next")
			continue
		}
		if content == "" {
			lastErr = fmt.Sprintf("%s returned empty content", provider)
			g.log.Warn().Str("provider", string(provider)).Msg("Empty content, advancing to next")
			continue
		}

		resp := Response{
			Provider:   provider,
			Model:      model,
			Content:    content,
			TokensUsed: tokens,
			Success:    true,
		}
		if parsed, ok := ExtractJSON(content); ok {
			resp.ParsedJSON = parsed
		}
		g.log.Debug().
			Str("provider", string(provider)).
			Int("tokens", tokens).
			Bool("json", resp.ParsedJSON != nil).
			Msg("Completion succeeded")
		return resp
	}

	return Response{Success: false, Error: lastErr}
}

// defaultTimeout is the hard per-call deadline for most providers.
// GEMINI_PRO gets a longer window for deep adjudication prompts.
const (
	defaultTimeout = 30 * time.Second
	proTimeout     = 90 * time.Second
)
