package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/types"
)

// Fetcher retrieves a page and returns its snapshot
type Fetcher interface {
	Page(ctx context.Context, url string, useBrowser bool) (*types.PageSnapshot, error)
}

// PageFetcherConfig configures a PageFetcher
type PageFetcherConfig struct {
	Options *Options
	// BrowserFallback re-renders pages whose plain HTTP text is too short
	BrowserFallback bool
	BrowserTimeout  time.Duration
	Selectors       []string
	// Render replaces the headless browser, mainly for tests
	Render Renderer
	Logger *slog.Logger
}

// PageFetcher fetches over HTTP and, when asked or when the page looks client-rendered,
// through a headless browser
type PageFetcher struct {
	options   *Options
	fallback  bool
	timeout   time.Duration
	selectors []string
	render    Renderer
	logger    *slog.Logger
}

// NewPageFetcher creates a page fetcher
func NewPageFetcher(cfg PageFetcherConfig) *PageFetcher {
	if cfg.Options == nil {
		cfg.Options = DefaultOptions()
	}
	if cfg.Selectors == nil {
		cfg.Selectors = ArticleSelectors()
	}
	if cfg.Render == nil {
		cfg.Render = WithBrowser
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &PageFetcher{
		options:   cfg.Options,
		fallback:  cfg.BrowserFallback,
		timeout:   cfg.BrowserTimeout,
		selectors: cfg.Selectors,
		render:    cfg.Render,
		logger:    cfg.Logger,
	}
}

// Page fetches url and parses it into a snapshot
func (f *PageFetcher) Page(ctx context.Context, url string, useBrowser bool) (*types.PageSnapshot, error) {
	if useBrowser {
		return f.rendered(ctx, url)
	}

	result, err := URL(ctx, url, f.options)
	if err != nil {
		return nil, err
	}
	snap, err := ParsePage(result.HTML, url, f.selectors)
	if err != nil {
		return nil, &Error{URL: url, Message: "failed to parse page", Cause: err}
	}

	if f.fallback && ShouldUseBrowser(snap.Text) {
		f.logger.Debug("page text too short, rendering in browser",
			slog.String("url", url),
			slog.Int("text_length", len(snap.Text)),
		)
		rendered, err := f.rendered(ctx, url)
		if err != nil {
			f.logger.Warn("browser fallback failed, keeping HTTP snapshot",
				slog.String("url", url),
				logging.Error(err),
			)
			return snap, nil
		}
		return rendered, nil
	}
	return snap, nil
}

func (f *PageFetcher) rendered(ctx context.Context, url string) (*types.PageSnapshot, error) {
	html, err := f.render(ctx, url, f.timeout)
	if err != nil {
		return nil, &Error{URL: url, Message: "browser rendering failed", Cause: err}
	}
	snap, err := ParsePage(html, url, f.selectors)
	if err != nil {
		return nil, &Error{URL: url, Message: "failed to parse rendered page", Cause: err}
	}
	return snap, nil
}

// FetchAll fetches urls one after another, skipping pages that fail.
// The returned errors are index-aligned with urls.
func FetchAll(ctx context.Context, f Fetcher, urls []string, useBrowser bool) ([]types.PageSnapshot, []error) {
	pages := make([]types.PageSnapshot, 0, len(urls))
	errs := make([]error, len(urls))
	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			errs[i] = fmt.Errorf("fetch %s: %w", u, err)
			continue
		}
		snap, err := f.Page(ctx, u, useBrowser)
		if err != nil {
			errs[i] = err
			continue
		}
		pages = append(pages, *snap)
	}
	return pages, errs
}
