package news

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// NewsAPIClient is the metered primary provider, backed by the
// newsapi.org "everything" endpoint.
type NewsAPIClient struct {
	http *resty.Client
}

// NewNewsAPI creates the primary provider client.
func NewNewsAPI(apiKey string) *NewsAPIClient {
	return &NewsAPIClient{
		http: resty.New().
			SetBaseURL("https://newsapi.org/v2").
			SetHeader("X-Api-Key", apiKey).
			SetTimeout(15 * time.Second),
	}
}

// Name identifies the provider in logs and article attribution.
func (c *NewsAPIClient) Name() string { return "newsapi" }

type newsapiResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

// Search returns recent English-language articles matching the query,
// newest first.
func (c *NewsAPIClient) Search(ctx context.Context, query string, max int) ([]Article, error) {
	if max <= 0 {
		max = 10
	}

	var out newsapiResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":        query,
			"language": "en",
			"sortBy":   "publishedAt",
			"pageSize": fmt.Sprintf("%d", max),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/everything")
	if err != nil {
		return nil, fmt.Errorf("newsapi request failed: %w", err)
	}
	if resp.IsError() || out.Status != "ok" {
		return nil, fmt.Errorf("newsapi returned %d: %s", resp.StatusCode(), out.Message)
	}

	articles := make([]Article, 0, len(out.Articles))
	for _, a := range out.Articles {
		published, _ := time.Parse(time.RFC3339, a.PublishedAt)
		articles = append(articles, Article{
			Title:       a.Title,
			Summary:     a.Description,
			Source:      a.Source.Name,
			URL:         a.URL,
			PublishedAt: published,
		})
	}
	return articles, nil
}
