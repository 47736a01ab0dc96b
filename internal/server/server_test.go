package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/memstore"
	"github.com/jonathan/seo-workflows/internal/pipeline"
	"github.com/jonathan/seo-workflows/internal/pipeline/steps"
	"github.com/jonathan/seo-workflows/internal/server/ratelimit"
	"github.com/jonathan/seo-workflows/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scratchBody = `{"site_url":"https://solar.example.com","domain":"solar.example.com","guideline":"friendly","keyword":"solar panels"}`

type testServer struct {
	*Server
	ledger *memstore.Ledger
	store  *artifacts.Store
	tokens *JWTService
	http   *httptest.Server
}

func noopBindings() steps.Bindings {
	b := steps.Bindings{}
	for _, p := range steps.Registry {
		for _, st := range p.Steps {
			b[st.Name] = func(context.Context, *steps.Input) steps.Result { return steps.Succeed(nil) }
		}
	}
	return b
}

func newTestServer(t *testing.T, rl ratelimit.Config) *testServer {
	t.Helper()
	ledger := memstore.NewLedger()
	store := artifacts.NewStore(artifacts.NewMemoryBackend(), ledger, nil)

	pipelines, err := steps.BindAll(noopBindings())
	require.NoError(t, err)
	orch, err := pipeline.New(pipeline.Options{
		Ledger:    ledger,
		Queue:     memstore.NewQueue(),
		Artifacts: store,
		Pipelines: pipelines,
	})
	require.NoError(t, err)

	tokens := NewJWTService(config.JWTConfig{Secret: testSecret, ExpirationHours: 1})
	s, err := New(Config{EventInterval: 10 * time.Millisecond, RateLimit: rl}, Deps{
		Jobs:   orch,
		Files:  store,
		Tokens: tokens,
	})
	require.NoError(t, err)

	ts := &testServer{Server: s, ledger: ledger, store: store, tokens: tokens, http: httptest.NewServer(s.Handler())}
	t.Cleanup(ts.http.Close)
	t.Cleanup(s.limiter.Stop)
	return ts
}

func (ts *testServer) token(t *testing.T, owner uuid.UUID) string {
	t.Helper()
	tok, err := ts.tokens.GenerateToken(owner)
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, owner uuid.UUID, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if owner != uuid.Nil {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, owner))
	}
	resp, err := ts.http.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (ts *testServer) submit(t *testing.T, owner uuid.UUID) uuid.UUID {
	t.Helper()
	resp := ts.do(t, owner, http.MethodPost, "/jobs/scratch", scratchBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	return decode[SubmitResponse](t, resp).JobID
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	resp := ts.do(t, uuid.Nil, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestHealth_Unavailable(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	ts.health = func(context.Context) error { return errors.New("db down") }

	resp := ts.do(t, uuid.Nil, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequiresToken(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})

	for _, path := range []string{"/jobs", "/jobs/" + uuid.NewString(), "/jobs/" + uuid.NewString() + "/files"} {
		resp := ts.do(t, uuid.Nil, http.MethodGet, path, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestSubmitAndGet(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()

	resp := ts.do(t, owner, http.MethodPost, "/jobs/scratch", scratchBody)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	sub := decode[SubmitResponse](t, resp)
	assert.Equal(t, types.JobStatusPending, sub.Status)
	assert.Equal(t, "/jobs/"+sub.JobID.String(), resp.Header.Get("Location"))

	resp = ts.do(t, owner, http.MethodGet, "/jobs/"+sub.JobID.String(), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := decode[types.Job](t, resp)
	assert.Equal(t, sub.JobID, job.ID)
	assert.Equal(t, types.PipelineScratch, job.PipelineType)
	assert.Equal(t, "solar panels", job.Keyword)
	assert.Equal(t, 4, job.TotalSteps)
	assert.Equal(t, 0, job.CurrentStep)
}

func TestSubmit_Errors(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "unknown pipeline", path: "/jobs/podcast", body: scratchBody, want: http.StatusNotFound},
		{name: "empty body", path: "/jobs/scratch", body: "", want: http.StatusBadRequest},
		{name: "missing keyword", path: "/jobs/rewrite", body: `{"article_url":"https://x.example.com/p"}`, want: http.StatusBadRequest},
		{name: "malformed json", path: "/jobs/cluster", body: `{"keyword":`, want: http.StatusBadRequest},
		{name: "too large", path: "/jobs/scratch", body: `{"keyword":"` + strings.Repeat("a", MaxSubmissionBytes) + `"}`, want: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, owner, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestJobsAreOwnerScoped(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	alice, bob := uuid.New(), uuid.New()
	jobID := ts.submit(t, alice)

	for _, path := range []string{"/jobs/" + jobID.String(), "/jobs/" + jobID.String() + "/files", "/jobs/not-a-uuid"} {
		resp := ts.do(t, bob, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
	resp := ts.do(t, bob, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, bob, http.MethodGet, "/jobs", "")
	assert.Empty(t, decode[ListJobsResponse](t, resp).Jobs)
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()
	first := ts.submit(t, owner)
	second := ts.submit(t, owner)

	resp := ts.do(t, owner, http.MethodGet, "/jobs", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[ListJobsResponse](t, resp).Jobs
	require.Len(t, jobs, 2)
	assert.ElementsMatch(t, []uuid.UUID{first, second}, []uuid.UUID{jobs[0].ID, jobs[1].ID})

	resp = ts.do(t, owner, http.MethodGet, "/jobs?limit=1", "")
	assert.Len(t, decode[ListJobsResponse](t, resp).Jobs, 1)

	resp = ts.do(t, owner, http.MethodGet, "/jobs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelAndRetry(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()
	jobID := ts.submit(t, owner)

	resp := ts.do(t, owner, http.MethodPost, "/jobs/"+jobID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "pending jobs cannot be retried")

	resp = ts.do(t, owner, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, types.JobStatusCancelled, decode[SubmitResponse](t, resp).Status)

	resp = ts.do(t, owner, http.MethodPost, "/jobs/"+jobID.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "terminal jobs cannot be cancelled")

	resp = ts.do(t, owner, http.MethodPost, "/jobs/"+jobID.String()+"/retry", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	retry := decode[SubmitResponse](t, resp)
	require.NotNil(t, retry.ParentJobID)
	assert.Equal(t, jobID, *retry.ParentJobID)

	job, err := ts.ledger.GetJob(context.Background(), retry.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, job.RetryCount)
	assert.Equal(t, &jobID, job.ParentJobID)
}

func TestFiles(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()
	jobID := ts.submit(t, owner)
	ctx := context.Background()
	require.NoError(t, ts.ledger.StartJob(ctx, jobID, time.Now()))

	_, err := ts.store.Put(ctx, owner, jobID, "article_main.html", []byte("<h1>Solar</h1>"), true)
	require.NoError(t, err)
	_, err = ts.store.Put(ctx, owner, jobID, "content_analysis.json", []byte(`{"tone":"friendly"}`), false)
	require.NoError(t, err)

	resp := ts.do(t, owner, http.MethodGet, "/jobs/"+jobID.String()+"/files", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decode[ListFilesResponse](t, resp).Files
	require.Len(t, files, 2)
	assert.Equal(t, "article_main.html.gz", files[0].Filename)
	assert.True(t, files[0].Compressed)

	resp = ts.do(t, owner, http.MethodGet, "/jobs/"+jobID.String()+"/files/article_main.html", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html; charset=utf-8", resp.Header.Get("Content-Type"))
	body := new(strings.Builder)
	_, err = bufio.NewReader(resp.Body).WriteTo(body)
	require.NoError(t, err)
	assert.Equal(t, "<h1>Solar</h1>", body.String())

	resp = ts.do(t, owner, http.MethodGet, "/jobs/"+jobID.String()+"/files/content_analysis.json", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp = ts.do(t, owner, http.MethodGet, "/jobs/"+jobID.String()+"/files/missing.html", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimitedSubmissions(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{Enabled: true, Rules: ratelimit.SubmissionRules(10, 2)})
	owner := uuid.New()

	ts.submit(t, owner)
	ts.submit(t, owner)

	resp := ts.do(t, owner, http.MethodPost, "/jobs/scratch", scratchBody)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp = ts.do(t, owner, http.MethodGet, "/jobs", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads are not limited")

	ts.submit(t, uuid.New())
}

func readEvents(t *testing.T, resp *http.Response) []string {
	t.Helper()
	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	return events
}

func TestEvents_StreamsUntilTerminal(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()
	jobID := ts.submit(t, owner)
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = ts.ledger.StartJob(ctx, jobID, time.Now())
		job, _ := ts.ledger.GetJob(ctx, jobID)
		job.Steps[0].Status = types.StepStatusInProgress
		_ = ts.ledger.UpdateStep(ctx, jobID, types.StepUpdate{CurrentStep: 1, Steps: job.Steps})
		time.Sleep(30 * time.Millisecond)
		_ = ts.ledger.FailJob(ctx, jobID, types.JobFailure{Code: types.ErrorCodeStepFailed, Message: "boom"}, time.Now())
	}()

	resp := ts.do(t, owner, http.MethodGet, "/jobs/"+jobID.String()+"/events", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readEvents(t, resp)
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "progress", events[0])
	assert.Equal(t, "complete", events[len(events)-1])
}

func TestEvents_TerminalJobCompletesImmediately(t *testing.T) {
	ts := newTestServer(t, ratelimit.Config{})
	owner := uuid.New()
	jobID := ts.submit(t, owner)
	require.NoError(t, ts.ledger.CancelJob(context.Background(), jobID, time.Now()))

	resp := ts.do(t, owner, http.MethodGet, fmt.Sprintf("/jobs/%s/events", jobID), "")
	assert.Equal(t, []string{"progress", "complete"}, readEvents(t, resp))
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{}, Deps{})
	assert.Error(t, err)
}
