// Package guardian implements phase 5: the always-on supervision loops
// (watchdog, sentinel, poison-pill) and the alert fan-out they share.
package guardian

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/vigil/internal/domain"
)

// Dispatcher fans alerts out to registered handlers. Handlers run on
// their own goroutines so a slow consumer never blocks a guardian loop;
// panics are swallowed and logged.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []domain.AlertHandler
	log      zerolog.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log zerolog.Logger) *Dispatcher {
	return &Dispatcher{log: log.With().Str("component", "dispatcher").Logger()}
}

// Register adds a handler. Registration order carries no meaning.
func (d *Dispatcher) Register(h domain.AlertHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Emit delivers one alert to every handler without blocking the caller.
func (d *Dispatcher) Emit(a domain.Alert) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}

	d.log.Info().
		Str("kind", string(a.Kind)).
		Str("severity", string(a.Severity)).
		Str("symbol", a.Symbol).
		Str("message", a.Message).
		Msg("Alert")

	d.mu.RLock()
	handlers := make([]domain.AlertHandler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.RUnlock()

	for _, h := range handlers {
		h := h
		go func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error().Interface("panic", r).Msg("Alert handler panicked")
				}
			}()
			h(a)
		}()
	}
}
