// Package steps provides the step contract, pipeline definitions and step invocation
// for the content workflow pipelines.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/types"
)

// Input is what every step receives: the original payload plus results of prior steps
type Input struct {
	JobID        uuid.UUID
	OwnerID      uuid.UUID
	PipelineType types.PipelineType
	Payload      json.RawMessage
	Prior        map[string]any
	// Branch is the 1-based sub-step index inside a fan-out stage, 0 otherwise
	Branch int
}

// PriorAs fetches the result of an earlier step and asserts its type
func PriorAs[T any](in *Input, step string) (T, error) {
	var zero T
	v, ok := in.Prior[step]
	if !ok {
		return zero, fmt.Errorf("missing result from step %s", step)
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected result type %T from step %s", v, step)
	}
	return t, nil
}

// DecodePayload unmarshals the job input into v
func (in *Input) DecodePayload(v any) error {
	if err := json.Unmarshal(in.Payload, v); err != nil {
		return fmt.Errorf("failed to decode job input: %w", err)
	}
	return nil
}

// Artifact is an output a step asks the orchestrator to persist after it succeeds
type Artifact struct {
	Filename string
	Content  []byte
	Compress bool
}

// Result is the uniform outcome of one step execution
type Result struct {
	Success   bool
	Data      any
	Error     string
	ErrorCode string
	Elapsed   time.Duration
	Artifacts []Artifact
	Usage     types.Usage
	// Title and ArticlesCount are set by the step that finalizes a pipeline
	Title         string
	ArticlesCount int
}

// Executor is one unit of work. Implementations report failures through Result
// and bound their own external calls with timeouts.
type Executor func(ctx context.Context, in *Input) Result

// Succeed builds a successful result
func Succeed(data any, artifacts ...Artifact) Result {
	return Result{Success: true, Data: data, Artifacts: artifacts}
}

// Fail builds a failed result from an error
func Fail(err error) Result {
	msg := "step failed"
	if err != nil {
		msg = err.Error()
	}
	return Result{Success: false, Error: msg, ErrorCode: types.ErrorCodeStepFailed}
}

// Invoke runs an executor, converting panics into a failed result and recording elapsed time
func Invoke(ctx context.Context, name string, exec Executor, in *Input) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = Result{
				Success:   false,
				Error:     fmt.Sprintf("internal error in step %s", name),
				ErrorCode: types.ErrorCodeInternal,
				Data:      PanicInfo{Value: fmt.Sprint(r), Stack: string(debug.Stack())},
			}
		}
		res.Elapsed = time.Since(start)
		if !res.Success && res.Error == "" {
			res.Error = fmt.Sprintf("step %s failed", name)
		}
		if !res.Success && res.ErrorCode == "" {
			res.ErrorCode = types.ErrorCodeStepFailed
		}
	}()

	if exec == nil {
		return Result{Success: false, Error: fmt.Sprintf("step %s has no executor", name), ErrorCode: types.ErrorCodeInternal}
	}
	return exec(ctx, in)
}

// PanicInfo is attached as Data when an executor panics, for logging only
type PanicInfo struct {
	Value string
	Stack string
}

// BranchOutputs is the Data of a completed fan-out step: the results of the
// branches that succeeded, keyed by 1-based branch index
type BranchOutputs map[int]any
