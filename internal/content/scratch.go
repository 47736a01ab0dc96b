package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/seo-workflows/internal/fetch"
	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/prompts"
	"github.com/jonathan/seo-workflows/internal/research"
	"github.com/jonathan/seo-workflows/internal/schemas"
	"github.com/jonathan/seo-workflows/internal/types"
)

// ContentAnalysisFile is the brief stored by the analyze_content step
const ContentAnalysisFile = "content_analysis.json"

// maxDiscoveredPages caps the internal pages found by site search
const maxDiscoveredPages = 3

// ScrapeSite fetches the client's home page plus the internal and external
// reference pages. Only the home page is mandatory.
func (s *Steps) ScrapeSite(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ScratchInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	log := s.log(in, steps.StepScrapeSite)

	home, err := s.fetcher.Page(ctx, input.SiteURL, input.UseBrowser)
	if err != nil {
		return steps.Fail(fmt.Errorf("failed to scrape %s: %w", input.SiteURL, err))
	}

	site := &types.SiteSnapshot{Home: *home}
	internal := input.InternalLinks
	if len(internal) == 0 && s.search != nil {
		internal = s.discoverPages(ctx, log, &input)
	}
	var errs []error
	site.InternalPages, errs = fetch.FetchAll(ctx, s.fetcher, internal, input.UseBrowser)
	logSkipped(log, internal, errs)

	external, errs := fetch.FetchAll(ctx, s.fetcher, input.ExternalLinks, false)
	logSkipped(log, input.ExternalLinks, errs)
	for _, p := range external {
		// external references only contribute their identity to prompts
		site.ExternalPages = append(site.ExternalPages, types.PageSnapshot{
			URL:         p.URL,
			Title:       p.Title,
			Description: p.Description,
			WordCount:   p.WordCount,
		})
	}

	log.Info("site scraped",
		slog.Int("internal_pages", len(site.InternalPages)),
		slog.Int("external_pages", len(site.ExternalPages)),
		slog.Int("home_words", home.WordCount),
	)
	return steps.Succeed(site)
}

// discoverPages finds related pages of the client site. Search problems only
// cost the article its internal links, so they are logged and ignored.
func (s *Steps) discoverPages(ctx context.Context, log *slog.Logger, input *types.ScratchInput) []string {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	pages, err := research.SitePages(callCtx, s.search, input.Domain, input.Keyword, maxDiscoveredPages, input.SiteURL)
	if err != nil {
		log.Warn("internal page discovery failed", logging.Error(err))
		return nil
	}
	log.Debug("discovered internal pages", slog.Int("count", len(pages)))
	return pages
}

// internalLinks returns the pages the article may link to: the requested
// links, or the discovered pages when none were given
func internalLinks(input *types.ScratchInput, site *types.SiteSnapshot) []string {
	if len(input.InternalLinks) > 0 {
		return input.InternalLinks
	}
	links := make([]string, 0, len(site.InternalPages))
	for _, p := range site.InternalPages {
		links = append(links, p.URL)
	}
	return links
}

func logSkipped(log *slog.Logger, urls []string, errs []error) {
	for i, err := range errs {
		if err != nil {
			log.Warn("skipping page", slog.String("url", urls[i]), logging.Error(err))
		}
	}
}

// AnalyzeContent turns the scraped site into an editorial brief
func (s *Steps) AnalyzeContent(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ScratchInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	site, err := steps.PriorAs[*types.SiteSnapshot](in, steps.StepScrapeSite)
	if err != nil {
		return steps.Fail(err)
	}

	schema := llm.ContentAnalysisSchema()
	prompt := llm.BuildExtractionPrompt(schema, siteBrief(&input, site))

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	out, err := s.llm.GenerateJSON(callCtx, prompt, llm.TierLite)
	if err != nil {
		return steps.Fail(fmt.Errorf("failed to analyze content: %w", err))
	}

	var analysis types.ContentAnalysis
	if err := decodeValidated(schema, out.Text, &analysis); err != nil {
		return withUsage(steps.Fail(err), out.Usage)
	}

	doc, err := json.MarshalIndent(analysis, "", "  ")
	if err != nil {
		return steps.Fail(fmt.Errorf("failed to encode analysis: %w", err))
	}
	res := steps.Succeed(&analysis, steps.Artifact{Filename: ContentAnalysisFile, Content: doc})
	return withUsage(res, out.Usage)
}

// decodeValidated checks model JSON against the schema before decoding it into v
func decodeValidated(schema llm.ExtractionSchema, text string, v any) error {
	compiled, err := schemas.Compile(schema.Name, schema.JSONSchema())
	if err != nil {
		return err
	}
	doc := []byte(llm.CleanJSONBlock(text))
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("model returned an invalid %s: %w", schema.Name, err)
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", schema.Name, err)
	}
	return nil
}

func siteBrief(input *types.ScratchInput, site *types.SiteSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Target keyword: %s\nDomain: %s\nClient guideline: %s\n\n", input.Keyword, input.Domain, input.Guideline)
	writePage(&sb, "Home page", &site.Home, 3000)
	for i := range site.InternalPages {
		writePage(&sb, "Internal page", &site.InternalPages[i], 800)
	}
	for _, p := range site.ExternalPages {
		fmt.Fprintf(&sb, "External reference: %s (%s) %s\n", p.Title, p.URL, p.Description)
	}
	return sb.String()
}

func writePage(sb *strings.Builder, label string, p *types.PageSnapshot, maxText int) {
	fmt.Fprintf(sb, "%s: %s\nURL: %s\n", label, p.Title, p.URL)
	if p.Description != "" {
		fmt.Fprintf(sb, "Description: %s\n", p.Description)
	}
	if len(p.Headings) > 0 {
		fmt.Fprintf(sb, "Headings: %s\n", strings.Join(p.Headings, " | "))
	}
	fmt.Fprintf(sb, "Text:\n%s\n\n", clip(p.Text, maxText))
}

// GenerateArticle writes the new article from the brief
func (s *Steps) GenerateArticle(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ScratchInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	site, err := steps.PriorAs[*types.SiteSnapshot](in, steps.StepScrapeSite)
	if err != nil {
		return steps.Fail(err)
	}
	analysis, err := steps.PriorAs[*types.ContentAnalysis](in, steps.StepAnalyzeContent)
	if err != nil {
		return steps.Fail(err)
	}

	var siteContext strings.Builder
	writePage(&siteContext, "Home page", &site.Home, 1500)
	for i := range site.InternalPages {
		writePage(&siteContext, "Internal page", &site.InternalPages[i], 300)
	}

	article, usage, err := s.writeArticle(ctx, "generate-article", map[string]string{
		"Domain":            input.Domain,
		"Keyword":           input.Keyword,
		"Guideline":         input.Guideline,
		"Tone":              analysis.Tone,
		"Audience":          analysis.Audience,
		"SearchIntent":      analysis.SearchIntent,
		"SecondaryKeywords": strings.Join(analysis.SecondaryKeywords, ", "),
		"Outline":           bulletList(analysis.Outline, "- free structure"),
		"InternalLinks":     bulletList(internalLinks(&input, site), "none provided"),
		"SiteContext":       siteContext.String(),
	}, llm.TierAdvanced, input.Keyword)
	if err != nil {
		return withUsage(steps.Fail(err), usage)
	}
	if len(article.SecondaryKeywords) == 0 {
		article.SecondaryKeywords = analysis.SecondaryKeywords
	}

	s.log(in, steps.StepGenerateArticle).Info("article generated",
		slog.String("title", article.SEOTitle),
		slog.Int("word_count", article.WordCount),
	)
	return withUsage(steps.Succeed(article), usage)
}

// GenerateImage adds a featured image to the pipeline's article and publishes it.
// A failed image request leaves the article without an image.
func (s *Steps) GenerateImage(ctx context.Context, in *steps.Input) steps.Result {
	source := steps.StepGenerateArticle
	if in.PipelineType == types.PipelineRewrite {
		source = steps.StepRewriteArticle
	}
	prior, err := steps.PriorAs[*types.Article](in, source)
	if err != nil {
		return steps.Fail(err)
	}
	article := *prior
	log := s.log(in, steps.StepGenerateImage)

	var usage types.Usage
	if s.images != nil {
		prompt := article.ImagePrompt
		if prompt == "" {
			var keyword string
			var payload struct {
				Keyword string `json:"keyword"`
			}
			if err := in.DecodePayload(&payload); err == nil {
				keyword = payload.Keyword
			}
			prompt, err = prompts.Render(promptFile, "image-prompt", map[string]string{
				"Title":   article.SEOTitle,
				"Keyword": keyword,
			})
			if err != nil {
				return steps.Fail(err)
			}
			article.ImagePrompt = prompt
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		img, err := s.images.Generate(callCtx, prompt)
		cancel()
		usage.APICalls++
		if err != nil {
			log.Warn("image generation failed, publishing without image", logging.Error(err))
		} else {
			article.ImageURL = img.URL
			usage.CostUSD += img.CostUSD
		}
	}

	files, err := articleFiles(&article, "article_main.html", "metadata.json")
	if err != nil {
		return steps.Fail(err)
	}
	res := steps.Succeed(&article, files...)
	res.Title = article.SEOTitle
	res.ArticlesCount = 1
	return withUsage(res, usage)
}
