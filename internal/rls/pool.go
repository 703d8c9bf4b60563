// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
)

// ConnFunc runs scoped work against the single connection that carries
// the actor context.
type ConnFunc func(ctx context.Context, conn *pgxpool.Conn) error

// ScopedPool makes connection affinity explicit: each scoped call checks
// out ONE pooled connection, binds the context on it, runs the work on
// that same connection, restores, and releases it. Without this, a pool
// could hand the SET and the scoped queries to different sessions.
type ScopedPool struct {
	pool *pgxpool.Pool
}

// NewScopedPool wraps a pgx pool.
func NewScopedPool(pool *pgxpool.Pool) *ScopedPool {
	return &ScopedPool{pool: pool}
}

// WithUserContext runs fn on one checked-out connection with the actor
// context (userID, isAdmin) bound for the duration of the call.
func (p *ScopedPool) WithUserContext(ctx context.Context, userID string, isAdmin bool, fn ConnFunc) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return oops.Code("RLS_ACQUIRE_FAILED").
			With("operation", "acquire scoped connection").
			Wrap(err)
	}
	defer conn.Release()

	m := NewManager(conn)
	return m.WithUserContext(ctx, userID, isAdmin, func(ctx context.Context) error {
		return fn(ctx, conn)
	})
}

// WithAdminContext runs fn on one checked-out connection with the admin
// flag raised.
func (p *ScopedPool) WithAdminContext(ctx context.Context, fn ConnFunc) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return oops.Code("RLS_ACQUIRE_FAILED").
			With("operation", "acquire scoped connection").
			Wrap(err)
	}
	defer conn.Release()

	m := NewManager(conn)
	return m.WithAdminContext(ctx, func(ctx context.Context) error {
		return fn(ctx, conn)
	})
}
