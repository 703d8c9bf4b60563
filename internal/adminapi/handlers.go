// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/qrtrace/qrtrace/internal/auth"
	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/rls"
	"github.com/qrtrace/qrtrace/pkg/errutil"
)

func oopsBadParam(name, value string) error {
	return oops.Code("API_INVALID_PARAM").
		With("param", name).
		Errorf("invalid %s: %q", name, value)
}

// envelope is the uniform response body. Exactly one of Result and
// Stats is set on success; Error is set on failure.
type envelope struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Stats     any    `json:"stats,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	body.Timestamp = time.Now().UTC().Format(time.RFC3339)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("response write failed", "error", err)
	}
}

func writeResult(w http.ResponseWriter, result any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Result: result})
}

func writeStats(w http.ResponseWriter, stats any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Stats: stats})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

// handleQueryLogs serves GET /api/admin/logs. Admins see everything;
// any other authenticated caller is narrowed to their own rows no
// matter what userId the query string asks for.
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.services.Admins.IsAdmin(actor) {
		filter.UserID = actor.UserID
	}

	page, err := s.services.Store.Query(r.Context(), filter)
	if err != nil {
		errutil.LogError(slog.Default(), "log query failed", err)
		writeError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	writeResult(w, page)
}

// filterFromQuery parses the query string into a logstore filter.
// Unknown types and levels are rejected here so the caller gets a 400
// rather than a failed query.
func filterFromQuery(r *http.Request) (logstore.Filter, error) {
	q := r.URL.Query()
	f := logstore.Filter{
		Type:   logstore.Category(q.Get("type")),
		Search: q.Get("search"),
		UserID: q.Get("userId"),
		Sort:   logstore.SortOrder(q.Get("sort")),
	}

	if raw := q.Get("levels"); raw != "" {
		for _, l := range strings.Split(raw, ",") {
			if l = strings.TrimSpace(l); l != "" {
				f.Levels = append(f.Levels, logstore.Level(l))
			}
		}
	}
	for name, dst := range map[string]**time.Time{"dateFrom": &f.DateFrom, "dateTo": &f.DateTo} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return logstore.Filter{}, oopsBadParam(name, raw)
		}
		*dst = &ts
	}
	for name, dst := range map[string]*int{"page": &f.Page, "limit": &f.Limit} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return logstore.Filter{}, oopsBadParam(name, raw)
		}
		*dst = n
	}

	if err := f.Validate(); err != nil {
		return logstore.Filter{}, err
	}
	return f, nil
}

// handleStats serves GET /api/admin/logs/stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, _ auth.Actor) {
	stats, err := s.services.Stats.Collect(r.Context())
	if err != nil {
		errutil.LogError(slog.Default(), "stats collection failed", err)
		writeError(w, http.StatusInternalServerError, "stats collection failed")
		return
	}
	writeStats(w, stats)
}

// apiDate is a request-body timestamp that accepts both RFC3339 and a
// bare YYYY-MM-DD date, since admin consoles send either.
type apiDate struct {
	time.Time
}

func (d *apiDate) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		ts, err = time.Parse("2006-01-02", raw)
	}
	if err != nil {
		return oopsBadParam("beforeDate", raw)
	}
	d.Time = ts
	return nil
}

// cleanupRequest is the POST /api/admin/logs/cleanup body. DryRun
// defaults to true when absent so a malformed client cannot delete by
// accident.
type cleanupRequest struct {
	BeforeDate *apiDate            `json:"beforeDate,omitempty"`
	LogTypes   []logstore.Category `json:"logTypes,omitempty"`
	LogLevels  []logstore.Level    `json:"logLevels,omitempty"`
	DryRun     *bool               `json:"dryRun,omitempty"`
}

// handleCleanup serves POST /api/admin/logs/cleanup.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	dryRun := true
	if req.DryRun != nil {
		dryRun = *req.DryRun
	}
	criteria := logstore.Criteria{
		Types:  req.LogTypes,
		Levels: req.LogLevels,
	}
	if req.BeforeDate != nil {
		criteria.Before = &req.BeforeDate.Time
	}

	result, err := s.services.Cleaner.ManualCleanup(r.Context(), actor.UserID, criteria, dryRun)
	if err != nil {
		if criteria.Validate() != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		errutil.LogError(slog.Default(), "manual cleanup failed", err)
		writeError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	writeResult(w, result)
}

// rlsStatusResult is the GET /api/admin/rls/status payload.
type rlsStatusResult struct {
	Tables  []rls.TableStatus `json:"tables"`
	Healthy bool              `json:"healthy"`
}

// handleRLSStatus serves GET /api/admin/rls/status.
func (s *Server) handleRLSStatus(w http.ResponseWriter, r *http.Request, _ auth.Actor) {
	statuses, err := s.services.Policies.CheckRLSStatus(r.Context(), s.services.ProtectedTables)
	if err != nil {
		errutil.LogError(slog.Default(), "rls status check failed", err)
		writeError(w, http.StatusInternalServerError, "rls status check failed")
		return
	}

	result := rlsStatusResult{Tables: statuses, Healthy: true}
	for _, st := range statuses {
		if !st.Healthy() {
			result.Healthy = false
		}
	}
	writeResult(w, result)
}
