// Package news aggregates headline feeds behind a quota-aware,
// cache-fronted facade. The primary provider burns a metered daily
// quota; when the quota is spent or the provider fails, a free
// fallback source keeps headlines flowing.
package news

import (
	"context"
	"time"
)

// Article is one normalized headline.
type Article struct {
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

// Source is a single headline provider.
type Source interface {
	Name() string
	Search(ctx context.Context, query string, max int) ([]Article, error)
}
