// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package logstore

import (
	"context"
	"time"

	"github.com/samber/oops"
)

// HealthTier classifies the store's recent error volume.
type HealthTier string

// Health tiers.
const (
	HealthGood     HealthTier = "good"
	HealthWarning  HealthTier = "warning"
	HealthCritical HealthTier = "critical"
)

// Thresholds are the trailing-24h error counts at which the health tier
// degrades.
type Thresholds struct {
	Warning  int64
	Critical int64
}

// DefaultThresholds are the stock boundaries: fewer than 10 errors is
// good, 10 to 49 is warning, 50 or more is critical.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 10, Critical: 50}
}

// Classify maps a trailing-24h error count onto a tier.
func (t Thresholds) Classify(errors24h int64) HealthTier {
	switch {
	case errors24h >= t.Critical:
		return HealthCritical
	case errors24h >= t.Warning:
		return HealthWarning
	default:
		return HealthGood
	}
}

// Sizing drives the disk-usage heuristic. The percentage is illustrative
// telemetry derived from an assumed average row size, not a measurement.
type Sizing struct {
	AvgRowBytes   int64
	CapacityBytes int64
}

// DefaultSizing assumes 500 bytes per row against 100 MB of nominal
// capacity.
func DefaultSizing() Sizing {
	return Sizing{AvgRowBytes: 500, CapacityBytes: 100 << 20}
}

// DiskUsagePercent estimates usage from the row count, clamped to
// [0, 100] no matter how large the store grows.
func (s Sizing) DiskUsagePercent(totalRows int64) float64 {
	if s.CapacityBytes <= 0 {
		return 0
	}
	pct := float64(totalRows) * float64(s.AvgRowBytes) / float64(s.CapacityBytes) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Statistics is the aggregate health/usage snapshot of the log store.
type Statistics struct {
	TotalLogs        int64      `json:"totalLogs"`
	Errors24h        int64      `json:"errors24h"`
	AdminActions24h  int64      `json:"adminActions24h"`
	RecentActivity1h int64      `json:"recentActivity1h"`
	ActiveUsers24h   int64      `json:"activeUsers24h"`
	Health           HealthTier `json:"health"`
	DiskUsagePercent float64    `json:"diskUsagePercent"`
}

// StatsCollector computes Statistics from the store.
type StatsCollector struct {
	store      Store
	thresholds Thresholds
	sizing     Sizing
	now        func() time.Time
}

// NewStatsCollector creates a collector with the given boundaries.
func NewStatsCollector(store Store, thresholds Thresholds, sizing Sizing) *StatsCollector {
	return &StatsCollector{
		store:      store,
		thresholds: thresholds,
		sizing:     sizing,
		now:        time.Now,
	}
}

// Collect computes the snapshot. The trailing windows are 24h for error,
// admin-action, and distinct-user counts, and 1h for recent activity.
func (c *StatsCollector) Collect(ctx context.Context) (Statistics, error) {
	now := c.now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	total, err := c.store.CountAll(ctx)
	if err != nil {
		return Statistics{}, oops.Code("LOG_STATS_FAILED").With("metric", "total").Wrap(err)
	}
	errors24h, err := c.store.CountErrorsSince(ctx, dayAgo)
	if err != nil {
		return Statistics{}, oops.Code("LOG_STATS_FAILED").With("metric", "errors_24h").Wrap(err)
	}
	adminActions, err := c.store.CountByTypeSince(ctx, CategoryAdminAction, dayAgo)
	if err != nil {
		return Statistics{}, oops.Code("LOG_STATS_FAILED").With("metric", "admin_actions_24h").Wrap(err)
	}
	recent, err := c.store.CountSince(ctx, hourAgo)
	if err != nil {
		return Statistics{}, oops.Code("LOG_STATS_FAILED").With("metric", "recent_activity_1h").Wrap(err)
	}
	users, err := c.store.CountDistinctUsersSince(ctx, dayAgo)
	if err != nil {
		return Statistics{}, oops.Code("LOG_STATS_FAILED").With("metric", "active_users_24h").Wrap(err)
	}

	return Statistics{
		TotalLogs:        total,
		Errors24h:        errors24h,
		AdminActions24h:  adminActions,
		RecentActivity1h: recent,
		ActiveUsers24h:   users,
		Health:           c.thresholds.Classify(errors24h),
		DiskUsagePercent: c.sizing.DiskUsagePercent(total),
	}, nil
}
