package api

import (
	"net/http"
	"time"
)

func (s *Server) platformHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeError(w, http.StatusServiceUnavailable, "platform health is not configured")
		return
	}
	report, err := s.deps.Health.Check(r.Context())
	if err != nil {
		s.writeFailure(w, r, "platform health", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// maxIntervalHours keeps the interval within a year.
const maxIntervalHours = 24 * 366

type settingsRequest struct {
	CrawlIntervalHours *int `json:"crawl_interval_hours"`
}

func settingsPayload(interval time.Duration) map[string]any {
	return map[string]any{
		"crawl_interval":       interval.String(),
		"crawl_interval_hours": interval.Hours(),
	}
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}
	interval, err := s.deps.Settings.CrawlInterval(r.Context())
	if err != nil {
		s.writeFailure(w, r, "load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, settingsPayload(interval))
}

// putSettings handles PUT /api/v1/settings. The new interval is persisted and,
// when the schedule runs, takes effect immediately.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settings == nil {
		writeError(w, http.StatusServiceUnavailable, "settings are not configured")
		return
	}
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CrawlIntervalHours == nil {
		writeError(w, http.StatusBadRequest, "crawl_interval_hours is required")
		return
	}
	if hours := *req.CrawlIntervalHours; hours < 1 || hours > maxIntervalHours {
		writeError(w, http.StatusBadRequest, "crawl_interval_hours must be between 1 and 8784")
		return
	}
	interval := time.Duration(*req.CrawlIntervalHours) * time.Hour
	rescheduled, err := s.deps.Settings.SetCrawlInterval(r.Context(), interval)
	if err != nil {
		s.writeFailure(w, r, "save settings", err)
		return
	}
	payload := settingsPayload(interval)
	payload["rescheduled"] = rescheduled
	writeJSON(w, http.StatusOK, payload)
}
