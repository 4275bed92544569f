package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"unmgate.org/internal/monitor"
)

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	filter := monitor.QueryFilter{
		Type:     strings.TrimSpace(q.Get("type")),
		Severity: monitor.Severity(strings.TrimSpace(q.Get("severity"))),
		IP:       strings.TrimSpace(q.Get("ip")),
	}

	var err error
	if filter.Start, err = parseTimeParam(q.Get("start")); err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	if filter.End, err = parseTimeParam(q.Get("end")); err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
		return
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), 1, 1000); err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be between 1 and 1000")
		return
	}
	if filter.Offset, err = parseIntParam(q.Get("offset"), 0, 1<<30); err != nil {
		writeError(w, r, http.StatusBadRequest, "offset must be >= 0")
		return
	}

	events := a.mon.GetEvents(r.Context(), filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"items": events,
		"count": len(events),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.mon.GetStats(r.Context()))
}

func (a *API) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	q := r.URL.Query()
	ip := strings.TrimSpace(q.Get("ip"))
	path := strings.TrimSpace(q.Get("path"))
	if ip == "" || path == "" {
		writeError(w, r, http.StatusBadRequest, "ip and path are required")
		return
	}

	window := 5 * time.Minute
	if raw := q.Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, r, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	threshold := 10
	if raw := q.Get("threshold"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "threshold must be a positive integer")
			return
		}
		threshold = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ip":        ip,
		"path":      path,
		"window":    window.String(),
		"threshold": threshold,
		"anomalous": a.mon.DetectAnomalies(r.Context(), ip, path, window, threshold),
	})
}

func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func parseIntParam(raw string, min, max int) (int, error) {
	if raw == "" {
		return 0, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < min || val > max {
		return 0, strconv.ErrRange
	}
	return val, nil
}
