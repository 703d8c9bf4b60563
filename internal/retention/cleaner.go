// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package retention purges aged log rows under configurable policies.
// Every deletion path either fully completes and is logged, or fails
// loudly and is logged as an error before propagating.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/oops"

	"github.com/qrtrace/qrtrace/internal/logstore"
)

// Policy defaults.
const (
	DefaultRetentionDays = 90
	DefaultBatchSize     = 1000
	DefaultBatchPause    = 100 * time.Millisecond
)

// NormalizeRetentionDays applies the policy default: absent, non-numeric,
// zero, and negative configuration values all fall back to 90 days.
func NormalizeRetentionDays(days int) int {
	if days <= 0 {
		return DefaultRetentionDays
	}
	return days
}

// AutoResult summarizes one automatic age-based purge.
type AutoResult struct {
	DeletedCount  int64     `json:"deletedCount"`
	TargetCount   int64     `json:"targetCount"`
	RetentionDays int       `json:"retentionDays"`
	CutoffDate    time.Time `json:"cutoffDate"`
}

// ManualResult summarizes one admin-triggered cleanup.
type ManualResult struct {
	DeletedCount int64             `json:"deletedCount"`
	DryRun       bool              `json:"dryRun"`
	Criteria     logstore.Criteria `json:"affectedCriteria"`
}

// TableStats describes the log table for the admin console.
type TableStats struct {
	TotalRows     int64      `json:"totalRows"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
	RetentionDays int        `json:"retentionDays"`
	EstimatedSize string     `json:"estimatedSize"`
}

// Cleaner runs retention and manual purges over the log store.
type Cleaner struct {
	store       logstore.Store
	rec         *logstore.Recorder
	days        int
	batchSize   int
	pause       time.Duration
	avgRowBytes int64
	now         func() time.Time
	sleep       func(time.Duration)
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithBatchSize overrides the delete batch size.
func WithBatchSize(n int) Option {
	return func(c *Cleaner) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithBatchPause overrides the inter-batch pause. The pause is load
// shedding, not retry logic.
func WithBatchPause(d time.Duration) Option {
	return func(c *Cleaner) {
		if d >= 0 {
			c.pause = d
		}
	}
}

// WithAvgRowBytes overrides the per-row size assumption used by the
// human-readable size estimate.
func WithAvgRowBytes(n int64) Option {
	return func(c *Cleaner) {
		if n > 0 {
			c.avgRowBytes = n
		}
	}
}

// NewCleaner creates a cleaner with the given retention window.
// retentionDays is normalized per the policy default rules.
func NewCleaner(store logstore.Store, rec *logstore.Recorder, retentionDays int, opts ...Option) *Cleaner {
	c := &Cleaner{
		store:       store,
		rec:         rec,
		days:        NormalizeRetentionDays(retentionDays),
		batchSize:   DefaultBatchSize,
		pause:       DefaultBatchPause,
		avgRowBytes: 500,
		now:         time.Now,
		sleep:       time.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RetentionDays returns the normalized retention window.
func (c *Cleaner) RetentionDays() int {
	return c.days
}

// AutoCleanup deletes every row older than the retention window, in
// sequential fixed-size batches with a pause between batches to bound
// database load. A run that deletes nothing is a successful no-op. A
// partially completed purge is not success: the failure is logged as an
// ERROR entry and propagated.
func (c *Cleaner) AutoCleanup(ctx context.Context) (AutoResult, error) {
	cutoff := c.now().AddDate(0, 0, -c.days)
	result := AutoResult{
		RetentionDays: c.days,
		CutoffDate:    cutoff,
	}

	target, err := c.store.CountBefore(ctx, cutoff)
	if err != nil {
		return result, c.fail(ctx, "retention count failed", err)
	}
	result.TargetCount = target
	if target == 0 {
		return result, nil
	}

	for {
		n, err := c.store.DeleteBatchBefore(ctx, cutoff, c.batchSize)
		if err != nil {
			c.fail(ctx, "retention batch delete failed", err)
			return result, oops.Code("RETENTION_CLEANUP_FAILED").
				With("deleted_so_far", result.DeletedCount).
				With("cutoff", cutoff).
				Wrap(err)
		}
		if n == 0 {
			break
		}
		result.DeletedCount += n
		c.sleep(c.pause)
	}

	c.rec.Record(ctx, logstore.SystemEntry{
		Event:   "log_cleanup",
		Message: fmt.Sprintf("purged %d of %d rows older than %d days", result.DeletedCount, target, c.days),
		Details: map[string]any{
			"deleted_count":  result.DeletedCount,
			"target_count":   target,
			"retention_days": c.days,
			"cutoff_date":    cutoff.Format(time.RFC3339),
		},
	})
	return result, nil
}

// ManualCleanup deletes rows matching the admin's criteria. DryRun only
// counts; a real run deletes and writes an ADMIN_ACTION entry attributed
// to adminID. Authorization is the caller's responsibility.
func (c *Cleaner) ManualCleanup(ctx context.Context, adminID string, criteria logstore.Criteria, dryRun bool) (ManualResult, error) {
	result := ManualResult{DryRun: dryRun, Criteria: criteria}

	if err := criteria.Validate(); err != nil {
		return result, err
	}

	count, err := c.store.CountMatching(ctx, criteria)
	if err != nil {
		return result, c.fail(ctx, "manual cleanup count failed", err)
	}
	if dryRun {
		result.DeletedCount = count
		return result, nil
	}

	deleted, err := c.store.DeleteMatching(ctx, criteria)
	if err != nil {
		return result, c.fail(ctx, "manual cleanup delete failed", err)
	}
	result.DeletedCount = deleted

	c.rec.Record(ctx, logstore.AdminActionEntry{
		AdminID:         adminID,
		Name:            "manual_log_cleanup",
		AffectedRecords: deleted,
	})
	return result, nil
}

// Stats reports the table shape for the admin console.
func (c *Cleaner) Stats(ctx context.Context) (TableStats, error) {
	total, err := c.store.CountAll(ctx)
	if err != nil {
		return TableStats{}, oops.Code("RETENTION_STATS_FAILED").
			With("metric", "total_rows").
			Wrap(err)
	}
	bounds, err := c.store.Bounds(ctx)
	if err != nil {
		return TableStats{}, oops.Code("RETENTION_STATS_FAILED").
			With("metric", "bounds").
			Wrap(err)
	}

	return TableStats{
		TotalRows:     total,
		Oldest:        bounds.Oldest,
		Newest:        bounds.Newest,
		RetentionDays: c.days,
		EstimatedSize: humanSize(total * c.avgRowBytes),
	}, nil
}

// fail records an ERROR entry for a failed deletion path and returns the
// wrapped error.
func (c *Cleaner) fail(ctx context.Context, msg string, err error) error {
	wrapped := oops.Code("RETENTION_OPERATION_FAILED").Wrap(err)
	c.rec.Record(ctx, logstore.ErrorEntry{
		Message: msg,
		Source:  "retention",
	})
	return wrapped
}

// humanSize renders a byte count in KB/MB/GB tiers.
func humanSize(bytes int64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	default:
		return fmt.Sprintf("%.2f KB", float64(bytes)/kb)
	}
}
