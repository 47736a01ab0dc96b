package content

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jonathan/seo-workflows/internal/llm"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/types"
)

// Cluster file names
const (
	PillarFile     = "pillar.html"
	PillarMetaFile = "pillar_metadata.json"
	MainFile       = "article_main.html"
	LinkingMapFile = "linking_map.json"
)

// SatelliteFile returns the HTML file name of satellite n
func SatelliteFile(n int) string { return fmt.Sprintf("satellite_%d.html", n) }

// SatelliteMetaFile returns the metadata file name of satellite n
func SatelliteMetaFile(n int) string { return fmt.Sprintf("satellite_%d_metadata.json", n) }

// Satellite is the output of one satellite branch
type Satellite struct {
	Index   int
	Theme   types.SatelliteTheme
	Article *types.Article
}

// LinkingMap describes the internal links between the articles of a cluster
type LinkingMap struct {
	MainTopic  string          `json:"main_topic"`
	Pillar     LinkedArticle   `json:"pillar"`
	Satellites []LinkedArticle `json:"satellites"`
	Links      []types.Link    `json:"links"`
	Missing    []int           `json:"missing_satellites,omitempty"`
}

// LinkedArticle is one node of the linking map
type LinkedArticle struct {
	File    string `json:"file"`
	Title   string `json:"title"`
	Keyword string `json:"keyword,omitempty"`
}

// fallbackThemes are used when the model cannot plan the cluster
func fallbackThemes(keyword string) []types.SatelliteTheme {
	return []types.SatelliteTheme{
		{Title: "Cost and return on investment: " + keyword, Keyword: keyword + " price", Angle: "Financial aspects and ROI"},
		{Title: "Techniques and best practices: " + keyword, Keyword: keyword + " installation", Angle: "How to apply it and practical advice"},
		{Title: "Comparison and alternatives: " + keyword, Keyword: keyword + " alternatives", Angle: "Comparison with competing solutions"},
	}
}

// AnalyzeCluster loads the pillar article and plans its satellites
func (s *Steps) AnalyzeCluster(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ClusterInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	if input.InputMode == "" {
		input.InputMode = types.InputModeURL
	}
	log := s.log(in, steps.StepAnalyzeCluster)

	pillar, err := s.loadSource(ctx, &input.ArticleSource)
	if err != nil {
		return steps.Fail(err)
	}

	plan := &types.ClusterPlan{Pillar: *pillar}
	schema := llm.ClusterPlanSchema(steps.SatelliteCount)
	text := fmt.Sprintf("Main keyword: %s\nPillar title: %s\nHeadings: %s\n\n%s",
		input.Keyword, pillar.Title, strings.Join(pillar.Headings, " | "), pillar.Text)

	var usage types.Usage
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	out, err := s.llm.GenerateJSON(callCtx, llm.BuildExtractionPrompt(schema, text), llm.TierLite)
	cancel()
	if err == nil {
		usage = out.Usage
		err = decodeValidated(schema, out.Text, plan)
	}
	if err != nil {
		log.Warn("cluster planning failed, using default satellite themes", logging.Error(err))
		plan.MainTopic = input.Keyword
		plan.SatelliteThemes = fallbackThemes(input.Keyword)
	}
	if len(plan.SatelliteThemes) > steps.SatelliteCount {
		plan.SatelliteThemes = plan.SatelliteThemes[:steps.SatelliteCount]
	}

	log.Info("cluster planned",
		slog.String("main_topic", plan.MainTopic),
		slog.Int("satellites", len(plan.SatelliteThemes)),
	)
	return withUsage(steps.Succeed(plan), usage)
}

// RewritePillar rewrites the pillar so it introduces every planned satellite
func (s *Steps) RewritePillar(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ClusterInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	plan, err := steps.PriorAs[*types.ClusterPlan](in, steps.StepAnalyzeCluster)
	if err != nil {
		return steps.Fail(err)
	}

	themes := make([]string, len(plan.SatelliteThemes))
	for i, t := range plan.SatelliteThemes {
		themes[i] = fmt.Sprintf("%s (keyword: %s) - %s", t.Title, t.Keyword, t.Angle)
	}

	article, usage, err := s.writeArticle(ctx, "rewrite-pillar", map[string]string{
		"Keyword":    input.Keyword,
		"MainTopic":  plan.MainTopic,
		"Title":      plan.Pillar.Title,
		"Content":    plan.Pillar.Text,
		"Satellites": bulletList(themes, "none"),
	}, llm.TierStandard, plan.Pillar.Title)
	if err != nil {
		return withUsage(steps.Fail(fmt.Errorf("pillar rewrite failed: %w", err)), usage)
	}

	files, err := articleFiles(article, PillarFile, PillarMetaFile)
	if err != nil {
		return steps.Fail(err)
	}
	return withUsage(steps.Succeed(article, files...), usage)
}

// GenerateSatellite writes the satellite of branch in.Branch
func (s *Steps) GenerateSatellite(ctx context.Context, in *steps.Input) steps.Result {
	var input types.ClusterInput
	if err := in.DecodePayload(&input); err != nil {
		return steps.Fail(err)
	}
	plan, err := steps.PriorAs[*types.ClusterPlan](in, steps.StepAnalyzeCluster)
	if err != nil {
		return steps.Fail(err)
	}
	pillar, err := steps.PriorAs[*types.Article](in, steps.StepRewritePillar)
	if err != nil {
		return steps.Fail(err)
	}
	if in.Branch < 1 || in.Branch > len(plan.SatelliteThemes) {
		return steps.Fail(fmt.Errorf("no satellite theme planned for branch %d", in.Branch))
	}
	theme := plan.SatelliteThemes[in.Branch-1]

	article, usage, err := s.writeArticle(ctx, "generate-satellite", map[string]string{
		"Keyword":          input.Keyword,
		"MainTopic":        plan.MainTopic,
		"PillarTitle":      pillar.SEOTitle,
		"Title":            theme.Title,
		"SatelliteKeyword": theme.Keyword,
		"Angle":            theme.Angle,
	}, llm.TierStandard, theme.Title)
	if err != nil {
		return withUsage(steps.Fail(fmt.Errorf("satellite %d failed: %w", in.Branch, err)), usage)
	}

	files, err := articleFiles(article, SatelliteFile(in.Branch), SatelliteMetaFile(in.Branch),
		RelatedLink{Href: PillarFile, Title: pillar.SEOTitle})
	if err != nil {
		return steps.Fail(err)
	}
	return withUsage(steps.Succeed(&Satellite{Index: in.Branch, Theme: theme, Article: article}, files...), usage)
}

// AssembleCluster links the pillar with the satellites that were written and
// publishes the cluster's main article and linking map
func (s *Steps) AssembleCluster(_ context.Context, in *steps.Input) steps.Result {
	plan, err := steps.PriorAs[*types.ClusterPlan](in, steps.StepAnalyzeCluster)
	if err != nil {
		return steps.Fail(err)
	}
	pillar, err := steps.PriorAs[*types.Article](in, steps.StepRewritePillar)
	if err != nil {
		return steps.Fail(err)
	}
	outputs, err := steps.PriorAs[steps.BranchOutputs](in, steps.StepGenerateSatellites)
	if err != nil {
		return steps.Fail(err)
	}

	sats, err := collectSatellites(outputs)
	if err != nil {
		return steps.Fail(err)
	}
	if len(sats) == 0 {
		return steps.Fail(fmt.Errorf("cluster has no satellites"))
	}

	lm := BuildLinkingMap(plan, pillar, sats)
	related := make([]RelatedLink, len(lm.Satellites))
	for i, sat := range lm.Satellites {
		related[i] = RelatedLink{Href: sat.File, Title: sat.Title}
	}

	doc, err := RenderHTML(pillar, related...)
	if err != nil {
		return steps.Fail(err)
	}
	mapDoc, err := json.MarshalIndent(lm, "", "  ")
	if err != nil {
		return steps.Fail(fmt.Errorf("failed to encode linking map: %w", err))
	}

	s.log(in, steps.StepAssembleCluster).Info("cluster assembled",
		slog.Int("satellites", len(sats)),
		slog.Int("links", len(lm.Links)),
		slog.Any("missing_satellites", lm.Missing),
	)

	res := steps.Succeed(lm,
		steps.Artifact{Filename: MainFile, Content: doc, Compress: true},
		steps.Artifact{Filename: LinkingMapFile, Content: mapDoc},
	)
	res.Title = pillar.SEOTitle
	res.ArticlesCount = 1 + len(sats)
	return res
}

func collectSatellites(outputs steps.BranchOutputs) ([]*Satellite, error) {
	sats := make([]*Satellite, 0, len(outputs))
	for branch, out := range outputs {
		sat, ok := out.(*Satellite)
		if !ok {
			return nil, fmt.Errorf("unexpected result type %T from satellite %d", out, branch)
		}
		sats = append(sats, sat)
	}
	sort.Slice(sats, func(i, j int) bool { return sats[i].Index < sats[j].Index })
	return sats, nil
}

// BuildLinkingMap links the pillar to every satellite in both directions and
// every satellite to every other satellite
func BuildLinkingMap(plan *types.ClusterPlan, pillar *types.Article, sats []*Satellite) *LinkingMap {
	lm := &LinkingMap{
		MainTopic: plan.MainTopic,
		Pillar:    LinkedArticle{File: PillarFile, Title: pillar.SEOTitle},
		Links:     []types.Link{},
	}

	written := make(map[int]bool, len(sats))
	for _, sat := range sats {
		written[sat.Index] = true
		file := SatelliteFile(sat.Index)
		lm.Satellites = append(lm.Satellites, LinkedArticle{File: file, Title: sat.Article.SEOTitle, Keyword: sat.Theme.Keyword})
		lm.Links = append(lm.Links,
			types.Link{From: PillarFile, To: file},
			types.Link{From: file, To: PillarFile},
		)
	}
	for _, a := range sats {
		for _, b := range sats {
			if a.Index != b.Index {
				lm.Links = append(lm.Links, types.Link{From: SatelliteFile(a.Index), To: SatelliteFile(b.Index)})
			}
		}
	}
	for i := 1; i <= len(plan.SatelliteThemes); i++ {
		if !written[i] {
			lm.Missing = append(lm.Missing, i)
		}
	}
	return lm
}
