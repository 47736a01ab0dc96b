package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/config"
	"github.com/jonathan/seo-workflows/internal/memstore"
	"github.com/jonathan/seo-workflows/internal/server"
	"github.com/jonathan/seo-workflows/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "worker", "migrate", "jobs", "token"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestLoadConfig_Requirements(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, _, err := loadConfig(config.NeedDatabase)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/seo")
	t.Setenv("LOG_FORMAT", "json")
	cfg, logger, err := loadConfig(config.NeedDatabase)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/seo", cfg.DatabaseURL)
	assert.NotNil(t, logger)
}

func TestIssueToken(t *testing.T) {
	jwtCfg := config.JWTConfig{Secret: "a-sufficiently-long-test-secret", ExpirationHours: 2}
	owner := uuid.New()

	token, got, err := issueToken(jwtCfg, owner.String())
	require.NoError(t, err)
	assert.Equal(t, owner, got)

	validated, err := server.NewJWTService(jwtCfg).ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, owner, validated)

	_, fresh, err := issueToken(jwtCfg, "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, fresh)

	_, _, err = issueToken(jwtCfg, "not-a-uuid")
	assert.ErrorContains(t, err, "invalid --owner")
}

func seedJob(t *testing.T, ledger *memstore.Ledger, owner uuid.UUID, keyword string) *types.Job {
	t.Helper()
	id := uuid.New()
	job := &types.Job{
		ID:           id,
		OwnerID:      owner,
		PipelineType: types.PipelineScratch,
		Status:       types.JobStatusPending,
		TotalSteps:   4,
		Keyword:      keyword,
		Input:        json.RawMessage(`{}`),
		StoragePath:  types.StoragePathFor(owner, id),
		CreatedAt:    time.Now(),
	}
	require.NoError(t, ledger.CreateJob(context.Background(), job))
	return job
}

func TestShowJobs_List(t *testing.T) {
	ledger := memstore.NewLedger()
	owner := uuid.New()
	seedJob(t, ledger, owner, "solar panels")
	seedJob(t, ledger, uuid.New(), "someone else")

	var out bytes.Buffer
	require.NoError(t, showJobs(context.Background(), &out, ledger, nil, owner.String(), 10, nil))

	assert.Contains(t, out.String(), "solar panels")
	assert.NotContains(t, out.String(), "someone else")
}

func TestShowJobs_Detail(t *testing.T) {
	ctx := context.Background()
	ledger := memstore.NewLedger()
	store := artifacts.NewStore(artifacts.NewMemoryBackend(), ledger, nil)
	owner := uuid.New()
	job := seedJob(t, ledger, owner, "heat pumps")
	require.NoError(t, ledger.StartJob(ctx, job.ID, time.Now()))
	_, err := store.Put(ctx, owner, job.ID, "content_analysis.json", []byte(`{}`), false)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, showJobs(ctx, &out, ledger, store, owner.String(), 0, []string{job.ID.String()}))

	assert.Contains(t, out.String(), "JOB SCRATCH")
	assert.Contains(t, out.String(), "content_analysis.json")
}

func TestShowJobs_Errors(t *testing.T) {
	ctx := context.Background()
	ledger := memstore.NewLedger()
	owner := uuid.New()
	job := seedJob(t, ledger, owner, "k")

	var out bytes.Buffer
	err := showJobs(ctx, &out, ledger, nil, "nope", 10, nil)
	assert.ErrorContains(t, err, "invalid --owner")

	err = showJobs(ctx, &out, ledger, nil, owner.String(), 10, []string{"bad"})
	assert.ErrorContains(t, err, "invalid job id")

	err = showJobs(ctx, &out, ledger, nil, uuid.NewString(), 10, []string{job.ID.String()})
	assert.ErrorIs(t, err, types.ErrJobNotFound)
}
