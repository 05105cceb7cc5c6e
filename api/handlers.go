package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kamalhaddad/texttovideo-orchestrator/job"
	"github.com/kamalhaddad/texttovideo-orchestrator/params"
	"github.com/kamalhaddad/texttovideo-orchestrator/store"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

type jobView struct {
	Id           string                  `json:"job_id"`
	Status       string                  `json:"status"`
	Progress     *float64                `json:"progress,omitempty"`
	SubmittedAt  time.Time               `json:"submitted_at"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
	ErrorKind    string                  `json:"error_kind,omitempty"`
	ErrorDetail  string                  `json:"error_detail,omitempty"`
	ArtifactPath string                  `json:"artifact_path,omitempty"`
	RetryCount   uint32                  `json:"retry_count"`
	Params       params.GenerationParams `json:"params"`
}

func toJobView(jb *job.Job) jobView {
	return jobView{
		Id:           jb.Id.String(),
		Status:       jb.Status.String(),
		Progress:     jb.Progress,
		SubmittedAt:  jb.SubmittedAt,
		StartedAt:    jb.StartedAt,
		CompletedAt:  jb.CompletedAt,
		ErrorKind:    jb.ErrorKind.String(),
		ErrorDetail:  jb.ErrorDetail,
		ArtifactPath: jb.ArtifactPath,
		RetryCount:   jb.RetryCount,
		Params:       jb.Params,
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req params.Request
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, s.log, http.StatusBadRequest, validationErrorBody{
			Error:      "validation failed",
			Violations: []string{err.Error()},
		})
		return
	}

	resolved, err := req.Resolve()
	if err != nil {
		var verr *params.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, s.log, http.StatusBadRequest, validationErrorBody{
				Error:      "validation failed",
				Violations: verr.Violations,
			})
			return
		}
		writeError(w, s.log, http.StatusBadRequest, err.Error())
		return
	}

	jb := &job.Job{
		Id:          uuid.New(),
		Status:      job.Pending,
		Params:      resolved,
		SubmittedAt: time.Now(),
	}
	if err := s.store.Create(r.Context(), jb); err != nil {
		s.log.Error("create job failed", "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	if err := s.queue.Enqueue(r.Context(), jb.Id, int32(resolved.Priority), jb.SubmittedAt.UnixMilli()); err != nil {
		s.log.Error("enqueue failed", "id", jb.Id, "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "submission queue unavailable")
		return
	}

	s.metrics.JobsSubmitted.Inc()
	writeJSON(w, s.log, http.StatusCreated, map[string]string{
		"job_id": jb.Id.String(),
		"status": jb.Status.String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "malformed job id")
		return
	}
	jb, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, s.log, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("get job failed", "id", id, "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	writeJSON(w, s.log, http.StatusOK, toJobView(jb))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := positiveIntParam(r, "page", 1)
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	pageSize, err := positiveIntParam(r, "page_size", defaultPageSize)
	if err != nil || pageSize > maxPageSize {
		writeError(w, s.log, http.StatusBadRequest, "page_size must be between 1 and 100")
		return
	}

	filter := store.ListFilter{}
	if raw := r.URL.Query().Get("status_filter"); raw != "" {
		st, err := job.ParseStatus(raw)
		if err != nil {
			writeError(w, s.log, http.StatusBadRequest, "unrecognized status_filter")
			return
		}
		filter.Status = st
	}

	result, err := s.store.List(r.Context(), filter, page, pageSize)
	if err != nil {
		s.log.Error("list jobs failed", "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "job store unavailable")
		return
	}

	views := make([]jobView, len(result.Jobs))
	for i, jb := range result.Jobs {
		views[i] = toJobView(jb)
	}
	writeJSON(w, s.log, http.StatusOK, map[string]any{
		"jobs":        views,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "malformed job id")
		return
	}

	prior, _ := s.store.Get(r.Context(), id)
	jb, err := s.store.RequestCancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, s.log, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("request cancel failed", "id", id, "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "job store unavailable")
		return
	}

	switch jb.Status {
	case job.Completed, job.Failed:
		writeError(w, s.log, http.StatusConflict, "job already terminal")
		return
	case job.Cancelled:
		if prior != nil && prior.Status == job.Pending {
			s.metrics.JobsCancelled.Inc()
		}
	}
	if err := s.queue.Remove(r.Context(), id); err != nil {
		s.log.Warn("queue remove after cancel failed", "id", id, "err", err)
	}
	writeJSON(w, s.log, http.StatusOK, map[string]string{"status": jb.Status.String()})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, s.log, http.StatusBadRequest, "malformed job id")
		return
	}
	jb, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, s.log, http.StatusNotFound, "job not found")
			return
		}
		s.log.Error("get job failed", "id", id, "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "job store unavailable")
		return
	}
	if jb.Status != job.Completed {
		writeError(w, s.log, http.StatusConflict, "job has not completed")
		return
	}
	if !s.withinArtifactDir(jb.ArtifactPath) {
		s.log.Error("artifact path escapes artifact directory", "id", id, "path", jb.ArtifactPath)
		writeError(w, s.log, http.StatusInternalServerError, "artifact unavailable")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, jb.ArtifactPath)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	length, err := s.queue.Length(r.Context())
	if err != nil {
		s.log.Error("queue length failed", "err", err)
		writeError(w, s.log, http.StatusServiceUnavailable, "submission queue unavailable")
		return
	}
	writeJSON(w, s.log, http.StatusOK, map[string]any{
		"active_jobs":    s.active.ActiveJobs(),
		"queue_length":   length,
		"available_gpus": s.gpuReg.Available(),
		"system_load": map[string]int{
			"gpu_capacity":  s.gpuReg.Capacity(),
			"gpu_allocated": s.gpuReg.Capacity() - s.gpuReg.Available(),
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, s.log, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, s.log, http.StatusOK, map[string]string{"status": "healthy"})
}

func positiveIntParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (s *Server) withinArtifactDir(path string) bool {
	if s.artifactDir == "" {
		return true
	}
	rel, err := filepath.Rel(s.artifactDir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
