package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/seo-workflows/internal/artifacts"
	"github.com/jonathan/seo-workflows/internal/logging"
	"github.com/jonathan/seo-workflows/internal/server/middleware"
	"github.com/jonathan/seo-workflows/internal/types"
)

// MaxSubmissionBytes bounds the size of a job submission body
const MaxSubmissionBytes = 1 << 20

// SubmitResponse is returned when a job is queued
type SubmitResponse struct {
	JobID       uuid.UUID       `json:"job_id"`
	Status      types.JobStatus `json:"status"`
	ParentJobID *uuid.UUID      `json:"parent_job_id,omitempty"`
}

// ListJobsResponse is the body of GET /jobs
type ListJobsResponse struct {
	Jobs []*types.Job `json:"jobs"`
}

// ListFilesResponse is the body of GET /jobs/{id}/files
type ListFilesResponse struct {
	JobID uuid.UUID            `json:"job_id"`
	Files []artifacts.FileInfo `json:"files"`
}

// owner returns the authenticated owner; Auth guarantees it is set
func owner(r *http.Request) uuid.UUID {
	id, _ := middleware.OwnerID(r.Context())
	return id
}

// pathJobID parses the {id} path segment. Malformed ids are reported as
// not found so they look like any other unknown job.
func pathJobID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, types.ErrJobNotFound
	}
	return id, nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxSubmissionBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.errorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	jobID, err := s.jobs.Submit(r.Context(), types.PipelineType(r.PathValue("pipeline")), body, owner(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+jobID.String())
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: jobID, Status: types.JobStatusPending})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.errorResponse(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	jobs, err := s.jobs.ListJobs(r.Context(), owner(r), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*types.Job{}
	}
	s.jsonResponse(w, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	job, err := s.jobs.GetJob(r.Context(), jobID, owner(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.jobs.Cancel(r.Context(), jobID, owner(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, SubmitResponse{JobID: jobID, Status: types.JobStatusCancelled})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathJobID(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	newID, err := s.jobs.Resubmit(r.Context(), jobID, owner(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Location", "/jobs/"+newID.String())
	s.jsonResponse(w, http.StatusAccepted, SubmitResponse{JobID: newID, Status: types.JobStatusPending, ParentJobID: &jobID})
}

// ownedJob loads the {id} job, writing the error response when it is not visible
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (*types.Job, bool) {
	jobID, err := pathJobID(r)
	if err == nil {
		var job *types.Job
		if job, err = s.jobs.GetJob(r.Context(), jobID, owner(r)); err == nil {
			return job, true
		}
	}
	s.writeError(w, err)
	return nil, false
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	files, err := s.files.List(r.Context(), job.OwnerID, job.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, ListFilesResponse{JobID: job.ID, Files: files})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	filename := r.PathValue("filename")
	data, err := s.files.Get(r.Context(), job.OwnerID, job.ID, filename)
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := strings.TrimSuffix(filename, artifacts.GzipSuffix)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("client went away during download", logging.Error(err))
	}
}

// handleEvents streams progress events by polling the job until it reaches a
// terminal state or the client disconnects
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	stream, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	ticker := time.NewTicker(s.eventInterval)
	defer ticker.Stop()

	var last *JobEvent
	for {
		if last == nil || last.changed(job) {
			ev := newJobEvent(job)
			if err := stream.WriteEvent("progress", ev); err != nil {
				return
			}
			last = &ev
		}
		if job.Status.Terminal() {
			_ = stream.WriteEvent("complete", newJobEvent(job))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, err = s.jobs.GetJob(ctx, job.ID, job.OwnerID)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("event stream poll failed", logging.Error(err))
				_ = stream.WriteError("failed to load job")
			}
			return
		}
	}
}
