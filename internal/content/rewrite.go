package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/seo-workflows/internal/fetch"
	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/types"
)

// minArticleWords is the shortest source article worth rewriting
const minArticleWords = 50

// loadSource resolves an article source into a page snapshot, fetching it in url mode
func (s *Steps) loadSource(ctx context.Context, src *types.ArticleSource) (*types.PageSnapshot, error) {
	if src.InputMode == types.InputModeManual {
		return manualSnapshot(src.ArticleTitle, src.ArticleContent)
	}

	snap, err := s.fetcher.Page(ctx, src.ArticleURL, src.UseBrowser)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch article %s: %w", src.ArticleURL, err)
	}
	if snap.WordCount < minArticleWords {
		return nil, fmt.Errorf("article at %s has only %d words", src.ArticleURL, snap.WordCount)
	}
	return snap, nil
}

// manualSnapshot builds a snapshot from pasted text or HTML
func manualSnapshot(title, body string) (*types.PageSnapshot, error) {
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("article content is empty")
	}
	html := body
	if !strings.Contains(body, "<") {
		html = "<p>" + strings.ReplaceAll(body, "\n\n", "</p><p>") + "</p>"
	}
	snap, err := fetch.ParsePage("<html><body><article>"+html+"</article></body></html>", "", []string{"article"})
	if err != nil {
		return nil, err
	}
	snap.Title = title
	return snap, nil
}

// ExtractArticle loads the article to rewrite
func (s *Steps) ExtractArticle(ctx context.Context, in *steps.Input) steps.Result {
	var input types.RewriteInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	if input.InputMode == "" {
		input.InputMode = types.InputModeURL
	}

	snap, err := s.loadSource(ctx, &input.ArticleSource)
	if err != nil {
		return steps.Fail(err)
	}

	s.log(in, steps.StepExtractArticle).Info("article extracted",
		slog.String("input_mode", input.InputMode),
		slog.String("title", snap.Title),
		slog.Int("word_count", snap.WordCount),
	)
	return steps.Succeed(snap)
}

// RewriteArticle rewrites the extracted article for the target keyword
func (s *Steps) RewriteArticle(ctx context.Context, in *steps.Input) steps.Result {
	var input types.RewriteInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	source, err := steps.PriorAs[*types.PageSnapshot](in, steps.StepExtractArticle)
	if err != nil {
		return steps.Fail(err)
	}

	article, usage, err := s.writeArticle(ctx, "rewrite-article", map[string]string{
		"Keyword":       input.Keyword,
		"Title":         source.Title,
		"Content":       source.Text,
		"InternalLinks": bulletList(input.InternalLinks, "none provided"),
	}, llm.TierStandard, source.Title)
	if err != nil {
		return withUsage(steps.Fail(err), usage)
	}

	s.log(in, steps.StepRewriteArticle).Info("article rewritten",
		slog.String("title", article.SEOTitle),
		slog.Int("word_count", article.WordCount),
		slog.Int("source_word_count", source.WordCount),
	)
	return withUsage(steps.Succeed(article), usage)
}
