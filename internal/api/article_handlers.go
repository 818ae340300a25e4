package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JakeFAU/article-monitor/internal/crawler"
	"github.com/JakeFAU/article-monitor/internal/tasks"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 5000
	maxBatchURLs        = 10000
)

type addArticleRequest struct {
	URL string `json:"url"`
}

type batchAddRequest struct {
	URLs []string `json:"urls"`
}

// BatchAddResult summarises a batch registration job.
type BatchAddResult struct {
	Added       int      `json:"added"`
	Skipped     int      `json:"skipped"`
	Invalid     int      `json:"invalid"`
	InvalidURLs []string `json:"invalid_urls,omitempty"`
}

func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	targets, err := s.deps.Targets.ListTargets(r.Context())
	if err != nil {
		s.writeFailure(w, r, "list articles", err)
		return
	}
	if targets == nil {
		targets = []crawler.Target{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"articles": targets})
}

func (s *Server) addArticle(w http.ResponseWriter, r *http.Request) {
	var req addArticleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := s.deps.Builder.NewTarget(req.URL)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	added, err := s.deps.Targets.AddTarget(r.Context(), target)
	if err != nil {
		s.writeFailure(w, r, "add article", err)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"article": target, "added": added})
}

func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	if err := s.deps.Targets.DeleteTarget(r.Context(), url); err != nil {
		s.writeFailure(w, r, "delete article", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": url})
}

// articleHistory handles GET /api/v1/articles/history?url=&limit=, newest
// point first.
func (s *Server) articleHistory(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	points, err := s.deps.Targets.History(r.Context(), url, limit)
	if err != nil {
		s.writeFailure(w, r, "article history", err)
		return
	}
	if points == nil {
		points = []crawler.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url, "history": points})
}

func (s *Server) batchAddArticles(w http.ResponseWriter, r *http.Request) {
	var req batchAddRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case len(req.URLs) == 0:
		writeError(w, http.StatusBadRequest, "urls required")
		return
	case len(req.URLs) > maxBatchURLs:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d urls per batch", maxBatchURLs))
		return
	}
	job, err := s.deps.Jobs.Submit(tasks.KindBatchAdd, s.batchAddRunner(req.URLs))
	if err != nil {
		s.writeFailure(w, r, "submit batch job", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) batchAddRunner(urls []string) tasks.Runner {
	return func(ctx context.Context, report tasks.Reporter) (any, error) {
		var result BatchAddResult
		for i, raw := range urls {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			target, err := s.deps.Builder.NewTarget(raw)
			switch {
			case err != nil:
				result.Invalid++
				result.InvalidURLs = append(result.InvalidURLs, raw)
			default:
				added, addErr := s.deps.Targets.AddTarget(ctx, target)
				switch {
				case errors.Is(addErr, crawler.ErrInvalidURL):
					result.Invalid++
					result.InvalidURLs = append(result.InvalidURLs, raw)
				case addErr != nil:
					return result, fmt.Errorf("add %s: %w", target.URL, addErr)
				case added:
					result.Added++
				default:
					result.Skipped++
				}
			}
			report(map[string]any{
				"done":    i + 1,
				"total":   len(urls),
				"added":   result.Added,
				"skipped": result.Skipped,
				"invalid": result.Invalid,
			})
		}
		return result, nil
	}
}
