package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/types"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) error {
	return s.WriteEvent("error", map[string]string{"error": message})
}

// JobEvent is the payload of progress and complete events
type JobEvent struct {
	JobID        uuid.UUID         `json:"job_id"`
	Status       types.JobStatus   `json:"status"`
	CurrentStep  int               `json:"current_step"`
	TotalSteps   int               `json:"total_steps"`
	Progress     int               `json:"progress_percent"`
	Steps        types.StepDetails `json:"step_details"`
	Title        string            `json:"title,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
}

func newJobEvent(job *types.Job) JobEvent {
	return JobEvent{
		JobID:        job.ID,
		Status:       job.Status,
		CurrentStep:  job.CurrentStep,
		TotalSteps:   job.TotalSteps,
		Progress:     job.Progress,
		Steps:        job.Steps,
		Title:        job.Title,
		ErrorMessage: job.ErrorMessage,
	}
}

// changed reports whether the observable progress of a job differs from the last event
func (e JobEvent) changed(job *types.Job) bool {
	if e.Status != job.Status || e.CurrentStep != job.CurrentStep || e.Progress != job.Progress {
		return true
	}
	if len(e.Steps) != len(job.Steps) {
		return true
	}
	for i := range e.Steps {
		a, b := e.Steps[i], job.Steps[i]
		if a.Status != b.Status || len(a.Branches) != len(b.Branches) {
			return true
		}
		for j := range a.Branches {
			if a.Branches[j].Status != b.Branches[j].Status {
				return true
			}
		}
	}
	return false
}
