package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name      string
		pipeline  PipelineType
		raw       string
		wantErr   error
		wantField string
		keyword   string
	}{
		{
			name:     "valid scratch",
			pipeline: PipelineScratch,
			raw:      `{"site_url":"https://example.com","domain":"example.com","guideline":"friendly","keyword":"solar panels"}`,
			keyword:  "solar panels",
		},
		{
			name:      "scratch missing keyword",
			pipeline:  PipelineScratch,
			raw:       `{"site_url":"https://example.com","domain":"example.com","guideline":"friendly"}`,
			wantField: "keyword",
		},
		{
			name:      "scratch bad site url",
			pipeline:  PipelineScratch,
			raw:       `{"site_url":"not a url","domain":"example.com","guideline":"g","keyword":"k"}`,
			wantField: "site_url",
		},
		{
			name:     "rewrite defaults to url mode",
			pipeline: PipelineRewrite,
			raw:      `{"article_url":"https://example.com/post","keyword":"heat pumps"}`,
			keyword:  "heat pumps",
		},
		{
			name:      "rewrite url mode without url",
			pipeline:  PipelineRewrite,
			raw:       `{"keyword":"heat pumps"}`,
			wantField: "article_url",
		},
		{
			name:     "cluster manual mode",
			pipeline: PipelineCluster,
			raw:      `{"input_mode":"manual","article_title":"T","article_content":"<p>body</p>","keyword":"k"}`,
			keyword:  "k",
		},
		{
			name:      "cluster manual mode missing content",
			pipeline:  PipelineCluster,
			raw:       `{"input_mode":"manual","article_title":"T","keyword":"k"}`,
			wantField: "article_content",
		},
		{
			name:     "empty object",
			pipeline: PipelineScratch,
			raw:      `{}`,
			wantErr:  ErrEmptyInput,
		},
		{
			name:     "blank body",
			pipeline: PipelineRewrite,
			raw:      `  `,
			wantErr:  ErrEmptyInput,
		},
		{
			name:     "unknown pipeline",
			pipeline: PipelineType("podcast"),
			raw:      `{"keyword":"k"}`,
			wantErr:  ErrInvalidPipeline,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := DecodePayload(tt.pipeline, json.RawMessage(tt.raw))

			switch {
			case tt.wantErr != nil:
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			case tt.wantField != "":
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.wantField, verr.Field)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.keyword, payload.PrimaryKeyword())
			}
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusProcessing.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.True(t, JobStatusCancelled.Terminal())
}

func TestJobCloneDoesNotAlias(t *testing.T) {
	job := &Job{
		Steps: StepDetails{{Name: "a", Status: StepStatusPending, Branches: []BranchDetail{{Index: 1}}}},
		Input: json.RawMessage(`{"k":"v"}`),
	}
	c := job.Clone()
	c.Steps[0].Status = StepStatusCompleted
	c.Steps[0].Branches[0].Status = StepStatusFailed
	c.Input[0] = '['

	assert.Equal(t, StepStatusPending, job.Steps[0].Status)
	assert.Equal(t, StepStatus(""), job.Steps[0].Branches[0].Status)
	assert.Equal(t, byte('{'), job.Input[0])
}

func TestArticleMetadataNeverNil(t *testing.T) {
	a := &Article{SEOTitle: "t"}
	md := a.Metadata()
	assert.NotNil(t, md.FAQ)
	assert.NotNil(t, md.SecondaryKeywords)

	b, err := json.Marshal(md)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"faq_json":[]`)
}
