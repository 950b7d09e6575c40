package ai

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

// fakeClient is a scripted provider for gateway tests.
type fakeClient struct {
	content string
	err     error
	calls   int
}

func (f *fakeClient) Complete(_ context.Context, _ Request) (string, string, int, error) {
	f.calls++
	if f.err != nil {
		return "", "fake-model", 0, f.err
	}
	return f.content, "fake-model", 42, nil
}

func (f *fakeClient) Timeout() time.Duration { return time.Second }

func TestGatewayFirstSuccessWins(t *testing.T) {
	flash := &fakeClient{content: `{"score": 9}`}
	pro := &fakeClient{content: "should not be called"}
	g := NewGateway(map[Provider]Client{GeminiFlash: flash, GeminiPro: pro}, nopLogger())

	resp := g.Complete(context.Background(), Request{Preferred: GeminiFlash})
	require.True(t, resp.Success)
	assert.Equal(t, GeminiFlash, resp.Provider)
	assert.Equal(t, 42, resp.TokensUsed)
	require.NotNil(t, resp.ParsedJSON)
	assert.Equal(t, 9.0, resp.ParsedJSON["score"])
	assert.Equal(t, 0, pro.calls)
}

func TestGatewayFallsBackOnError(t *testing.T) {
	pro := &fakeClient{err: fmt.Errorf("rate limited")}
	flash := &fakeClient{content: "plain text, no json"}
	g := NewGateway(map[Provider]Client{GeminiPro: pro, GeminiFlash: flash}, nopLogger())

	resp := g.Complete(context.Background(), Request{Preferred: GeminiPro})
	require.True(t, resp.Success)
	assert.Equal(t, GeminiFlash, resp.Provider)
	assert.Nil(t, resp.ParsedJSON)
	assert.Equal(t, 1, pro.calls)
}

func TestGatewayFallsBackOnEmptyContent(t *testing.T) {
	pro := &fakeClient{content: ""}
	openai := &fakeClient{content: "ok"}
	g := NewGateway(map[Provider]Client{GeminiPro: pro, OpenAI: openai}, nopLogger())

	resp := g.Complete(context.Background(), Request{Preferred: GeminiPro})
	require.True(t, resp.Success)
	assert.Equal(t, OpenAI, resp.Provider)
}

func TestGatewayAllProvidersFail(t *testing.T) {
	g := NewGateway(map[Provider]Client{
		GeminiPro: &fakeClient{err: fmt.Errorf("down")},
		OpenAI:    &fakeClient{err: fmt.Errorf("also down")},
	}, nopLogger())

	resp := g.Complete(context.Background(), Request{Preferred: GeminiPro})
	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.NotEmpty(t, resp.Error)
}

func TestGatewayNoProvidersConfigured(t *testing.T) {
	g := NewGateway(map[Provider]Client{}, nopLogger())
	assert.False(t, g.Configured())

	resp := g.Complete(context.Background(), Request{Preferred: GeminiPro})
	assert.False(t, resp.Success)
}
