package news

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// YahooNewsClient is the unmetered fallback provider, backed by the
// Yahoo Finance search endpoint's news section.
type YahooNewsClient struct {
	http *resty.Client
}

// NewYahooNews creates the fallback provider client.
func NewYahooNews() *YahooNewsClient {
	return &YahooNewsClient{
		http: resty.New().
			SetBaseURL("https://query1.finance.yahoo.com").
			SetHeader("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36").
			SetTimeout(15 * time.Second),
	}
}

// SetBaseURL overrides the API host, used by tests.
func (c *YahooNewsClient) SetBaseURL(u string) { c.http.SetBaseURL(u) }

// Name identifies the provider in logs and article attribution.
func (c *YahooNewsClient) Name() string { return "yahoo" }

type yahooSearchResponse struct {
	News []struct {
		Title               string `json:"title"`
		Publisher           string `json:"publisher"`
		Link                string `json:"link"`
		ProviderPublishTime int64  `json:"providerPublishTime"`
	} `json:"news"`
}

// Search returns recent articles matching the query.
func (c *YahooNewsClient) Search(ctx context.Context, query string, max int) ([]Article, error) {
	if max <= 0 {
		max = 10
	}

	var out yahooSearchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":         query,
			"newsCount": fmt.Sprintf("%d", max),
		}).
		SetResult(&out).
		Get("/v1/finance/search")
	if err != nil {
		return nil, fmt.Errorf("yahoo news request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("yahoo news returned %d", resp.StatusCode())
	}

	articles := make([]Article, 0, len(out.News))
	for i, n := range out.News {
		if i >= max {
			break
		}
		articles = append(articles, Article{
			Title:       n.Title,
			Source:      n.Publisher,
			URL:         n.Link,
			PublishedAt: time.Unix(n.ProviderPublishTime, 0),
		})
	}
	return articles, nil
}
