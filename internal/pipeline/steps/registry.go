package steps

import (
	"fmt"
	"sort"

	"github.com/jonathan/seo-workflows/internal/types"
)

// Step names
const (
	StepScrapeSite         = "scrape_site"
	StepAnalyzeContent     = "analyze_content"
	StepGenerateArticle    = "generate_article"
	StepGenerateImage      = "generate_image"
	StepExtractArticle     = "extract_article"
	StepRewriteArticle     = "rewrite_article"
	StepAnalyzeCluster     = "analyze_cluster"
	StepRewritePillar      = "rewrite_pillar"
	StepGenerateSatellites = "generate_satellites"
	StepAssembleCluster    = "assemble_cluster"
)

// SatelliteCount is the fixed fan-out width of the cluster satellite stage
const SatelliteCount = 3

// StepDefinition defines metadata for a pipeline step
type StepDefinition struct {
	Name string
	// Weight is this step's contribution to progress_percent; a pipeline's weights sum to 100
	Weight int
	// FanOut is the number of concurrent sub-steps, 0 for a plain step
	FanOut int
	// MinSuccess is how many sub-steps must succeed for a fan-out step to succeed
	MinSuccess int
}

// Definition is the static, ordered step list of one pipeline type
type Definition struct {
	Type  types.PipelineType
	Steps []StepDefinition
}

// Registry holds the fixed pipeline definitions
var Registry = map[types.PipelineType]Definition{
	types.PipelineScratch: {
		Type: types.PipelineScratch,
		Steps: []StepDefinition{
			{Name: StepScrapeSite, Weight: 25},
			{Name: StepAnalyzeContent, Weight: 25},
			{Name: StepGenerateArticle, Weight: 25},
			{Name: StepGenerateImage, Weight: 25},
		},
	},
	types.PipelineRewrite: {
		Type: types.PipelineRewrite,
		Steps: []StepDefinition{
			{Name: StepExtractArticle, Weight: 33},
			{Name: StepRewriteArticle, Weight: 33},
			{Name: StepGenerateImage, Weight: 34},
		},
	},
	types.PipelineCluster: {
		Type: types.PipelineCluster,
		Steps: []StepDefinition{
			{Name: StepAnalyzeCluster, Weight: 25},
			{Name: StepRewritePillar, Weight: 20},
			{Name: StepGenerateSatellites, Weight: 30, FanOut: SatelliteCount, MinSuccess: 1},
			{Name: StepAssembleCluster, Weight: 25},
		},
	},
}

// Lookup returns the definition for a pipeline type
func Lookup(pipeline types.PipelineType) (Definition, error) {
	def, ok := Registry[pipeline]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", types.ErrInvalidPipeline, pipeline)
	}
	return def, nil
}

// TotalSteps returns the number of steps in the pipeline
func (d Definition) TotalSteps() int {
	return len(d.Steps)
}

// CumulativeProgress returns the progress percentage once the first n steps have completed
func (d Definition) CumulativeProgress(n int) int {
	if n >= len(d.Steps) {
		return 100
	}
	total := 0
	for i := 0; i < n; i++ {
		total += d.Steps[i].Weight
	}
	return total
}

// InitialDetails returns the per-step detail list with every step pending
func (d Definition) InitialDetails() types.StepDetails {
	details := make(types.StepDetails, len(d.Steps))
	for i, s := range d.Steps {
		details[i] = types.StepDetail{Name: s.Name, Status: types.StepStatusPending}
	}
	return details
}

// Step is a step definition bound to its executor
type Step struct {
	StepDefinition
	Exec Executor
}

// Pipeline is a definition whose steps are all bound to executors
type Pipeline struct {
	Definition
	Bound []Step
}

// Bindings maps step names to executors. A fan-out step binds one executor that is
// invoked once per branch with Input.Branch set.
type Bindings map[string]Executor

// BindingError lists the steps of a pipeline that have no executor
type BindingError struct {
	Pipeline types.PipelineType
	Missing  []string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("pipeline %s: missing executors for steps %v", e.Pipeline, e.Missing)
}

// Bind attaches executors to a pipeline definition
func Bind(pipeline types.PipelineType, bindings Bindings) (*Pipeline, error) {
	def, err := Lookup(pipeline)
	if err != nil {
		return nil, err
	}

	var missing []string
	bound := make([]Step, 0, len(def.Steps))
	for _, s := range def.Steps {
		exec, ok := bindings[s.Name]
		if !ok || exec == nil {
			missing = append(missing, s.Name)
			continue
		}
		bound = append(bound, Step{StepDefinition: s, Exec: exec})
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &BindingError{Pipeline: pipeline, Missing: missing}
	}
	return &Pipeline{Definition: def, Bound: bound}, nil
}

// BindAll binds every registered pipeline from a single binding table
func BindAll(bindings Bindings) (map[types.PipelineType]*Pipeline, error) {
	out := make(map[types.PipelineType]*Pipeline, len(Registry))
	for _, pt := range types.PipelineTypes {
		p, err := Bind(pt, bindings)
		if err != nil {
			return nil, err
		}
		out[pt] = p
	}
	return out, nil
}
