// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package logstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qrtrace/qrtrace/pkg/errutil"
)

// Recorder is the single write surface for all seven log categories.
//
// Recording never fails the caller: a log write is always subordinate to
// the business operation that triggered it, so every failure is absorbed
// here, reported to the fallback logger, and counted. Callers must not
// treat a Record call as something that can abort their work.
type Recorder struct {
	store    Store
	fallback *slog.Logger
	failures prometheus.Counter
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithFailureCounter counts absorbed ingestion failures.
func WithFailureCounter(c prometheus.Counter) RecorderOption {
	return func(r *Recorder) {
		r.failures = c
	}
}

// NewRecorder creates a recorder. A nil fallback uses the default logger.
func NewRecorder(store Store, fallback *slog.Logger, opts ...RecorderOption) *Recorder {
	if fallback == nil {
		fallback = slog.Default()
	}
	r := &Recorder{store: store, fallback: fallback}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record validates and persists one entry of any category. Failures are
// absorbed, never returned.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	row, err := NewRow(e, time.Now())
	if err != nil {
		r.absorb(e, "dropping invalid log entry", err)
		return
	}
	if err := r.store.Insert(ctx, row); err != nil {
		r.absorb(e, "log write failed", err)
	}
}

func (r *Recorder) absorb(e Entry, msg string, err error) {
	if r.failures != nil {
		r.failures.Inc()
	}
	errutil.LogError(r.fallback.With("category", string(e.Category())), msg, err)
}
