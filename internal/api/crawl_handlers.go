package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/tasks"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

func (s *Server) startCrawl(w http.ResponseWriter, r *http.Request) {
	progress, err := s.deps.Crawl.Start(r.Context())
	if err != nil {
		s.writeFailure(w, r, "start crawl", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"progress": progress})
}

func (s *Server) stopCrawl(w http.ResponseWriter, _ *http.Request) {
	stopped := s.deps.Crawl.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"stopped":  stopped,
		"progress": s.deps.Crawl.Progress(),
	})
}

func (s *Server) crawlProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"progress": s.deps.Crawl.Progress()})
}

// listRuns handles GET /api/v1/crawl/runs?limit=, newest run first.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, r, "list runs", err)
		return
	}
	if runs == nil {
		runs = []crawler.Progress{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// submitCrawlJob handles POST /api/v1/jobs/crawl. The run is tracked as a
// job; cancelling the job stops the run.
func (s *Server) submitCrawlJob(w http.ResponseWriter, r *http.Request) {
	if s.deps.Crawl.Progress().IsRunning {
		writeError(w, http.StatusConflict, crawler.ErrAlreadyRunning.Error())
		return
	}
	job, err := s.deps.Jobs.Submit(tasks.KindCrawl, s.crawlRunner())
	if err != nil {
		s.writeFailure(w, r, "submit crawl job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) crawlRunner() tasks.Runner {
	return func(ctx context.Context, report tasks.Reporter) (any, error) {
		final, err := s.deps.Crawl.Run(ctx, s.cfg.ReportInterval, func(p crawler.Progress) {
			report(progressMap(p))
		})
		if err != nil {
			s.logger.Info("crawl job ended early", zap.String("run_id", final.RunID), zap.Error(err))
			return final, err
		}
		return final, nil
	}
}

func progressMap(p crawler.Progress) map[string]any {
	return map[string]any{
		"run_id":        p.RunID,
		"state":         p.State,
		"total":         p.Total,
		"current":       p.Current,
		"success_count": p.SuccessCount,
		"failed_count":  p.FailedCount,
		"retried_count": p.RetriedCount,
	}
}
