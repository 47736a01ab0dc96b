// Package types provides type definitions for structured data used throughout the workflow system.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PipelineType identifies one of the fixed pipeline definitions
type PipelineType string

const (
	PipelineScratch PipelineType = "scratch"
	PipelineRewrite PipelineType = "rewrite"
	PipelineCluster PipelineType = "cluster"
)

// PipelineTypes lists every supported pipeline in display order
var PipelineTypes = []PipelineType{PipelineScratch, PipelineRewrite, PipelineCluster}

// Valid reports whether p is one of the supported pipelines
func (p PipelineType) Valid() bool {
	switch p {
	case PipelineScratch, PipelineRewrite, PipelineCluster:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed from s
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// StepStatus is the state of one entry in a job's step details
type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusInProgress StepStatus = "in_progress"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Error codes recorded on failed jobs
const (
	ErrorCodeStepFailed        = "step_failed"
	ErrorCodeTimeout           = "timeout"
	ErrorCodeStorage           = "storage_error"
	ErrorCodeInternal          = "internal_error"
	ErrorCodeOrphaned          = "orphaned"
	ErrorCodeAllBranchesFailed = "all_branches_failed"
)

// BranchDetail records the outcome of one sub-step of a fan-out stage
type BranchDetail struct {
	Index  int        `json:"index"`
	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// StepDetail is the observable state of one pipeline step
type StepDetail struct {
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	ElapsedMs int64          `json:"elapsed_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Branches  []BranchDetail `json:"branches,omitempty"`
}

// StepDetails is the ordered list of per-step states for a job
type StepDetails []StepDetail

// Find returns the detail entry for name, or nil
func (d StepDetails) Find(name string) *StepDetail {
	for i := range d {
		if d[i].Name == name {
			return &d[i]
		}
	}
	return nil
}

// Clone returns a deep copy so snapshots never alias ledger state
func (d StepDetails) Clone() StepDetails {
	if d == nil {
		return nil
	}
	out := make(StepDetails, len(d))
	for i, s := range d {
		out[i] = s
		if s.Branches != nil {
			out[i].Branches = append([]BranchDetail(nil), s.Branches...)
		}
	}
	return out
}

// Usage holds token and cost counters reported by a step
type Usage struct {
	TokensUsed int     `json:"tokens_used"`
	APICalls   int     `json:"api_calls"`
	CostUSD    float64 `json:"cost_usd"`
}

// Add returns the sum of two usage counters
func (u Usage) Add(other Usage) Usage {
	return Usage{
		TokensUsed: u.TokensUsed + other.TokensUsed,
		APICalls:   u.APICalls + other.APICalls,
		CostUSD:    u.CostUSD + other.CostUSD,
	}
}

// Job is the durable record of one pipeline execution
type Job struct {
	ID           uuid.UUID       `json:"job_id"`
	OwnerID      uuid.UUID       `json:"owner_id"`
	ParentJobID  *uuid.UUID      `json:"parent_job_id,omitempty"`
	PipelineType PipelineType    `json:"pipeline_type"`
	Status       JobStatus       `json:"status"`
	CurrentStep  int             `json:"current_step"`
	TotalSteps   int             `json:"total_steps"`
	Progress     int             `json:"progress_percent"`
	Steps        StepDetails     `json:"step_details"`
	Input        json.RawMessage `json:"input"`

	Title          string `json:"title,omitempty"`
	Keyword        string `json:"keyword,omitempty"`
	StoragePath    string `json:"storage_path"`
	FilesCount     int    `json:"files_count"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	ArticlesCount  int    `json:"articles_count"`

	GenerationSeconds float64 `json:"generation_seconds,omitempty"`
	Usage             Usage   `json:"usage"`
	RetryCount        int     `json:"retry_count"`
	ErrorMessage      string  `json:"error_message,omitempty"`
	ErrorCode         string  `json:"error_code,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Clone returns a copy of the job safe to hand to readers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Steps = j.Steps.Clone()
	if j.Input != nil {
		c.Input = append(json.RawMessage(nil), j.Input...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.ParentJobID != nil {
		id := *j.ParentJobID
		c.ParentJobID = &id
	}
	return &c
}

// StoragePathFor returns the object-store prefix owned by a job
func StoragePathFor(ownerID, jobID uuid.UUID) string {
	return "user_" + ownerID.String() + "/job_" + jobID.String() + "/"
}

// StepUpdate is one progress write for a processing job
type StepUpdate struct {
	CurrentStep int
	Progress    int
	Steps       StepDetails
	Usage       Usage
}

// JobOutcome carries the output fields written when a job completes
type JobOutcome struct {
	Title             string
	ArticlesCount     int
	GenerationSeconds float64
	Steps             StepDetails
	Usage             Usage
}

// JobFailure carries the fields written when a job fails
type JobFailure struct {
	Code              string
	Message           string
	Steps             StepDetails
	GenerationSeconds float64
}
