package api

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/article-monitor/internal/tasks"
)

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	kind := tasks.Kind(r.URL.Query().Get("kind"))
	switch kind {
	case "", tasks.KindCrawl, tasks.KindBatchAdd, tasks.KindSync:
	default:
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.deps.Jobs.List(kind)})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Get(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeFailure(w, r, "get job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.deps.Jobs.Cancel(chi.URLParam(r, "job_id"))
	if err != nil {
		s.writeFailure(w, r, "cancel job", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// startSync handles POST /api/v1/sync. Requests inside the cooldown window
// get 429 with a Retry-After header.
func (s *Server) startSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil || s.deps.SyncGate == nil {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet sync is not configured")
		return
	}
	accepted, err := s.deps.SyncGate.Acquire()
	if err != nil {
		wait := s.deps.SyncGate.Remaining()
		seconds := int(math.Ceil(wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		writeJSON(w, statusFor(err), map[string]any{
			"error":       err.Error(),
			"retry_after": seconds,
		})
		return
	}
	job, err := s.deps.Jobs.Submit(tasks.KindSync, func(ctx context.Context, report tasks.Reporter) (any, error) {
		return s.deps.Sync.Run(ctx, func(done, total int) {
			report(map[string]any{"done": done, "total": total})
		})
	})
	if err != nil {
		s.deps.SyncGate.Release(accepted)
		s.writeFailure(w, r, "submit sync job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}
