package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/memstore"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/types"
)

var (
	scratchInput = json.RawMessage(`{"site_url":"https://example.com","domain":"example.com","guideline":"friendly","keyword":"solar panels"}`)
	rewriteInput = json.RawMessage(`{"article_url":"https://example.com/post","keyword":"heat pumps"}`)
	clusterInput = json.RawMessage(`{"article_url":"https://example.com/pillar","keyword":"home energy"}`)
)

// callLog counts executor invocations by step name
type callLog struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *callLog) hit(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[name]++
}

func (c *callLog) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

func artifact(name string, compress bool) steps.Artifact {
	return steps.Artifact{Filename: name, Content: []byte("<p>" + name + "</p>"), Compress: compress}
}

// fakeBindings returns successful executors for every step, declaring the
// same artifacts as the real content steps
func fakeBindings(log *callLog) steps.Bindings {
	ok := func(name string, files ...steps.Artifact) steps.Executor {
		return func(ctx context.Context, in *steps.Input) steps.Result {
			log.hit(name)
			res := steps.Succeed(name+"-data", files...)
			res.Usage = types.Usage{TokensUsed: 10, APICalls: 1}
			return res
		}
	}
	return steps.Bindings{
		steps.StepScrapeSite:      ok(steps.StepScrapeSite),
		steps.StepAnalyzeContent:  ok(steps.StepAnalyzeContent, artifact("content_analysis.json", false)),
		steps.StepGenerateArticle: ok(steps.StepGenerateArticle),
		steps.StepGenerateImage: func(ctx context.Context, in *steps.Input) steps.Result {
			log.hit(steps.StepGenerateImage)
			res := steps.Succeed(nil, artifact("article_main.html", true), artifact("metadata.json", true))
			res.Title = "Generated title"
			res.ArticlesCount = 1
			return res
		},
		steps.StepExtractArticle: ok(steps.StepExtractArticle),
		steps.StepRewriteArticle: ok(steps.StepRewriteArticle),
		steps.StepAnalyzeCluster: ok(steps.StepAnalyzeCluster),
		steps.StepRewritePillar:  ok(steps.StepRewritePillar, artifact("pillar.html", true), artifact("pillar_metadata.json", true)),
		steps.StepGenerateSatellites: func(ctx context.Context, in *steps.Input) steps.Result {
			log.hit(steps.StepGenerateSatellites)
			return steps.Succeed(in.Branch,
				artifact(fmt.Sprintf("satellite_%d.html", in.Branch), true),
				artifact(fmt.Sprintf("satellite_%d_metadata.json", in.Branch), true))
		},
		steps.StepAssembleCluster: func(ctx context.Context, in *steps.Input) steps.Result {
			log.hit(steps.StepAssembleCluster)
			sats, err := steps.PriorAs[steps.BranchOutputs](in, steps.StepGenerateSatellites)
			if err != nil {
				return steps.Fail(err)
			}
			res := steps.Succeed(nil, artifact("article_main.html", true), artifact("linking_map.json", false))
			res.Title = "Cluster"
			res.ArticlesCount = 1 + len(sats)
			return res
		},
	}
}

type harness struct {
	orch    *Orchestrator
	ledger  *memstore.Ledger
	queue   *memstore.Queue
	backend *artifacts.MemoryBackend
	store   *artifacts.Store
	calls   *callLog
	owner   uuid.UUID

	mu     sync.Mutex
	events []ProgressEvent
	hook   func(ProgressEvent)
}

type harnessOption func(*Options)

func withTimeout(d time.Duration) harnessOption {
	return func(o *Options) { o.JobTimeout = d }
}

func newHarness(t *testing.T, override func(steps.Bindings), opts ...harnessOption) *harness {
	t.Helper()
	h := &harness{
		ledger:  memstore.NewLedger(),
		queue:   memstore.NewQueue(),
		backend: artifacts.NewMemoryBackend(),
		calls:   &callLog{},
		owner:   uuid.New(),
	}
	h.store = artifacts.NewStore(h.backend, h.ledger, nil)

	b := fakeBindings(h.calls)
	if override != nil {
		override(b)
	}
	pipelines, err := steps.BindAll(b)
	require.NoError(t, err)

	o := Options{
		Ledger:    h.ledger,
		Queue:     h.queue,
		Artifacts: h.store,
		Pipelines: pipelines,
		OnProgress: func(ev ProgressEvent) {
			h.mu.Lock()
			h.events = append(h.events, ev)
			hook := h.hook
			h.mu.Unlock()
			if hook != nil {
				hook(ev)
			}
		},
	}
	for _, fn := range opts {
		fn(&o)
	}
	h.orch, err = New(o)
	require.NoError(t, err)
	return h
}

// submitAndRun submits a job and runs it on the calling goroutine
func (h *harness) submitAndRun(t *testing.T, pipeline types.PipelineType, input json.RawMessage) *types.Job {
	t.Helper()
	ctx := context.Background()
	id, err := h.orch.Submit(ctx, pipeline, input, h.owner)
	require.NoError(t, err)

	queued, ok, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, id, queued)

	require.NoError(t, h.orch.Run(ctx, id))
	job, err := h.orch.GetJob(ctx, id, h.owner)
	require.NoError(t, err)
	return job
}

func (h *harness) progressEvents() []ProgressEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]ProgressEvent(nil), h.events...)
}
