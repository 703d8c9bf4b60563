// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package adminapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/qrtrace/qrtrace/internal/auth"
	"github.com/qrtrace/qrtrace/internal/logstore"
)

// statusWriter captures the response status for the access log.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// observed records every request as an ACCESS entry and bumps the
// request counter. It wraps the outermost layer so denied requests are
// logged too.
func (s *Server) observed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		actor := auth.FromRequest(r)
		s.services.Recorder.Record(r.Context(), logstore.AccessEntry{
			Envelope: logstore.Envelope{
				UserID:    actor.UserID,
				IPAddress: clientIP(r),
				UserAgent: r.UserAgent(),
			},
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: sw.status,
			DurationMS: time.Since(start).Milliseconds(),
		})
		s.metrics.RequestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(sw.status)).Inc()
	})
}

// actorHandler is an endpoint that has already passed identity checks.
type actorHandler func(w http.ResponseWriter, r *http.Request, actor auth.Actor)

// requireActor rejects requests without a forwarded identity.
func (s *Server) requireActor(next actorHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := auth.FromRequest(r)
		if actor.Anonymous() {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r, actor)
	})
}

// requireAdmin rejects anonymous requests with 401 and authenticated
// non-admins with 403.
func (s *Server) requireAdmin(next actorHandler) http.Handler {
	return s.requireActor(func(w http.ResponseWriter, r *http.Request, actor auth.Actor) {
		if !s.services.Admins.IsAdmin(actor) {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next(w, r, actor)
	})
}

// clientIP prefers the first X-Forwarded-For hop set by the front
// proxy, falling back to the socket peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
