// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/rls"
)

// PolicyChecker reports row-level security posture for a set of tables.
type PolicyChecker interface {
	CheckRLSStatus(ctx context.Context, tables []string) ([]rls.TableStatus, error)
}

// Deps holds injectable dependencies for commands. A nil field means
// the production implementation is used.
type Deps struct {
	// OpenPool connects to Postgres.
	OpenPool func(ctx context.Context, dsn string) (*pgxpool.Pool, error)

	// OpenStore builds the log store over an open pool.
	OpenStore func(pool *pgxpool.Pool) logstore.Store

	// PolicyCheckerFactory builds the RLS posture checker.
	PolicyCheckerFactory func(pool *pgxpool.Pool) PolicyChecker
}

func (d *Deps) fillDefaults() {
	if d.OpenPool == nil {
		d.OpenPool = logstore.Open
	}
	if d.OpenStore == nil {
		d.OpenStore = func(pool *pgxpool.Pool) logstore.Store {
			return logstore.NewPostgresStore(pool)
		}
	}
	if d.PolicyCheckerFactory == nil {
		d.PolicyCheckerFactory = func(pool *pgxpool.Pool) PolicyChecker {
			return rls.NewManager(pool)
		}
	}
}
