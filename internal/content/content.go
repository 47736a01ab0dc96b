// Package content implements the step executors of the scratch, rewrite and cluster
// pipelines: page scraping, LLM analysis and writing, image generation and cluster assembly.
package content

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/seo-workflows/internal/fetch"
	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/prompts"
	"github.com/jonathan/seo-workflows/internal/research"
	"github.com/jonathan/seo-workflows/internal/types"
)

// DefaultCallTimeout bounds each external call a step makes
const DefaultCallTimeout = 5 * time.Minute

const promptFile = "content.json"

// Deps are the external services the steps call
type Deps struct {
	LLM     llm.Client
	Fetcher fetch.Fetcher
	// Images is optional; without it articles are published without a featured image
	Images ImageGenerator
	// Search is optional; when set, scratch jobs without internal links get
	// related pages of the client site discovered for them
	Search      research.Searcher
	CallTimeout time.Duration
	Logger      *slog.Logger
}

// Steps holds the executors of every content step
type Steps struct {
	llm         llm.Client
	fetcher     fetch.Fetcher
	images      ImageGenerator
	search      research.Searcher
	callTimeout time.Duration
	logger      *slog.Logger
}

// New creates the content steps
func New(deps Deps) (*Steps, error) {
	if deps.LLM == nil {
		return nil, errors.New("content steps require an LLM client")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("content steps require a page fetcher")
	}
	if deps.CallTimeout <= 0 {
		deps.CallTimeout = DefaultCallTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &Steps{
		llm:         deps.LLM,
		fetcher:     deps.Fetcher,
		images:      deps.Images,
		search:      deps.Search,
		callTimeout: deps.CallTimeout,
		logger:      logging.NewComponentLogger(deps.Logger, "content"),
	}, nil
}

// Bindings maps every step name to its executor
func (s *Steps) Bindings() steps.Bindings {
	return steps.Bindings{
		steps.StepScrapeSite:         s.ScrapeSite,
		steps.StepAnalyzeContent:     s.AnalyzeContent,
		steps.StepGenerateArticle:    s.GenerateArticle,
		steps.StepGenerateImage:      s.GenerateImage,
		steps.StepExtractArticle:     s.ExtractArticle,
		steps.StepRewriteArticle:     s.RewriteArticle,
		steps.StepAnalyzeCluster:     s.AnalyzeCluster,
		steps.StepRewritePillar:      s.RewritePillar,
		steps.StepGenerateSatellites: s.GenerateSatellite,
		steps.StepAssembleCluster:    s.AssembleCluster,
	}
}

func (s *Steps) log(in *steps.Input, step string) *slog.Logger {
	return s.logger.With(
		slog.String(logging.FieldJobID, in.JobID.String()),
		slog.String(logging.FieldPipeline, string(in.PipelineType)),
		slog.String(logging.FieldStep, step),
	)
}

// writeArticle renders an article prompt, calls the model and parses the tagged answer
func (s *Steps) writeArticle(ctx context.Context, key string, data map[string]string, tier llm.ModelTier, fallbackTitle string) (*types.Article, types.Usage, error) {
	format, err := prompts.Get(promptFile, "article-format")
	if err != nil {
		return nil, types.Usage{}, err
	}
	data["Format"] = format
	prompt, err := prompts.Render(promptFile, key, data)
	if err != nil {
		return nil, types.Usage{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	out, err := s.llm.GenerateContent(callCtx, prompt, tier)
	if err != nil {
		return nil, types.Usage{}, fmt.Errorf("failed to generate article: %w", err)
	}

	article, err := ParseArticle(out.Text)
	if err != nil {
		return nil, out.Usage, err
	}
	finish(article, fallbackTitle)
	return article, out.Usage, nil
}

func withUsage(res steps.Result, usage types.Usage) steps.Result {
	res.Usage = usage
	return res
}

func bulletList(items []string, empty string) string {
	if len(items) == 0 {
		return empty
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}

// articleFiles returns the HTML document and metadata sidecar of an article
func articleFiles(a *types.Article, htmlName, metaName string, related ...RelatedLink) ([]steps.Artifact, error) {
	doc, err := RenderHTML(a, related...)
	if err != nil {
		return nil, err
	}
	meta, err := RenderMetadata(a)
	if err != nil {
		return nil, err
	}
	return []steps.Artifact{
		{Filename: htmlName, Content: doc, Compress: true},
		{Filename: metaName, Content: meta, Compress: true},
	}, nil
}
