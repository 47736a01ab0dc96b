// Package research discovers related pages of a client site through web search.
package research

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// maxResultsPerQuery is the Custom Search API page size limit
const maxResultsPerQuery = 10

// Result is one web search hit
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// Searcher runs a web search
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
}

// CustomSearch is a Searcher backed by the Google Programmable Search API
type CustomSearch struct {
	svc *customsearch.Service
	cx  string
}

// NewCustomSearch creates a search client for the given engine id
func NewCustomSearch(ctx context.Context, apiKey string, cx string) (*CustomSearch, error) {
	if apiKey == "" || cx == "" {
		return nil, errors.New("search API key and engine id are required")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &CustomSearch{svc: svc, cx: cx}, nil
}

// Search returns up to limit results for query
func (c *CustomSearch) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if limit <= 0 || limit > maxResultsPerQuery {
		limit = maxResultsPerQuery
	}
	resp, err := c.svc.Cse.List().Cx(c.cx).Q(query).Num(int64(limit)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return results, nil
}
