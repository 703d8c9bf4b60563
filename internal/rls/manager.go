// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// querier is the subset of pgx operations the manager needs. It is
// satisfied by *pgxpool.Conn, pgx.Tx, *pgxpool.Pool, and pgxmock pools.
// Handing the manager a pool directly is only safe in tests: set and
// restore must land on the same connection.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// ScopeFunc runs with an actor context applied to the session.
type ScopeFunc func(ctx context.Context) error

// Manager binds, reads, and restores the actor context on one database
// session.
type Manager struct {
	db querier
}

// NewManager creates a manager over a single session.
func NewManager(db querier) *Manager {
	return &Manager{db: db}
}

// SetCurrentUser binds userID to the session. The id is validated before
// any I/O is attempted.
func (m *Manager) SetCurrentUser(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return m.setSetting(ctx, userIDSetting, userID)
}

// SetAdminMode toggles the session's admin flag.
func (m *Manager) SetAdminMode(ctx context.Context, enabled bool) error {
	return m.setSetting(ctx, isAdminSetting, boolSetting(enabled))
}

// SetUserContext binds a full actor context to the session. Validation
// happens before either setting is touched, so a malformed id leaves the
// session untouched.
func (m *Manager) SetUserContext(ctx context.Context, userID string, isAdmin bool) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return m.apply(ctx, ActorContext{UserID: userID, IsAdmin: isAdmin})
}

// ClearContext removes any bound identity from the session.
func (m *Manager) ClearContext(ctx context.Context) error {
	return m.apply(ctx, ActorContext{})
}

// CurrentContext reads back the actor context bound to the session.
// Settings that were never set read as empty.
func (m *Manager) CurrentContext(ctx context.Context) (ActorContext, error) {
	row := m.db.QueryRow(ctx,
		`SELECT current_setting($1, true), current_setting($2, true)`,
		userIDSetting, isAdminSetting)

	var userID, isAdmin *string
	if err := row.Scan(&userID, &isAdmin); err != nil {
		return ActorContext{}, oops.Code("RLS_READ_FAILED").
			With("operation", "read session context").
			Wrap(err)
	}

	c := ActorContext{}
	if userID != nil {
		c.UserID = *userID
	}
	if isAdmin != nil {
		c.IsAdmin = *isAdmin == "true"
	}
	return c, nil
}

// WithUserContext snapshots the active context, applies (userID, isAdmin),
// runs fn, and restores the snapshot on every exit path, including panics.
// If fn succeeds but the restore fails, the restore error is returned:
// a session still carrying the scoped identity is an isolation hazard and
// must fail loudly.
func (m *Manager) WithUserContext(ctx context.Context, userID string, isAdmin bool, fn ScopeFunc) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	return m.withContext(ctx, ActorContext{UserID: userID, IsAdmin: isAdmin}, fn)
}

// WithAdminContext runs fn with the admin flag raised, keeping whatever
// user identity is currently bound. The prior context is restored on every
// exit path.
func (m *Manager) WithAdminContext(ctx context.Context, fn ScopeFunc) error {
	prior, err := m.CurrentContext(ctx)
	if err != nil {
		return oops.Code("RLS_SNAPSHOT_FAILED").
			With("operation", "snapshot prior context").
			Wrap(err)
	}
	next := prior
	next.IsAdmin = true
	return m.withSnapshot(ctx, prior, next, fn)
}

func (m *Manager) withContext(ctx context.Context, next ActorContext, fn ScopeFunc) error {
	prior, err := m.CurrentContext(ctx)
	if err != nil {
		return oops.Code("RLS_SNAPSHOT_FAILED").
			With("operation", "snapshot prior context").
			Wrap(err)
	}
	return m.withSnapshot(ctx, prior, next, fn)
}

func (m *Manager) withSnapshot(ctx context.Context, prior, next ActorContext, fn ScopeFunc) (err error) {
	if err := m.apply(ctx, next); err != nil {
		return oops.Code("RLS_CONTEXT_INIT_FAILED").
			With("user_id", next.UserID).
			Wrap(err)
	}

	defer func() {
		rerr := m.apply(ctx, prior)
		if rerr == nil {
			return
		}
		rerr = oops.Code("RLS_RESTORE_FAILED").
			With("operation", "restore prior context").
			With("prior_user_id", prior.UserID).
			Wrap(rerr)
		if err == nil {
			// fn succeeded but the session still carries the scoped
			// identity; surfacing this is what keeps tenants isolated.
			err = rerr
			return
		}
		slog.Error("actor context restore failed", "error", rerr)
	}()

	return fn(ctx)
}

// apply writes both settings. set_config is parameterized, so restored
// values that never passed the format gate still cannot inject SQL.
func (m *Manager) apply(ctx context.Context, c ActorContext) error {
	if err := m.setSetting(ctx, userIDSetting, c.UserID); err != nil {
		return err
	}
	return m.setSetting(ctx, isAdminSetting, boolSetting(c.IsAdmin))
}

func (m *Manager) setSetting(ctx context.Context, key, value string) error {
	if _, err := m.db.Exec(ctx, `SELECT set_config($1, $2, false)`, key, value); err != nil {
		return oops.Code("RLS_SET_FAILED").
			With("setting", key).
			Wrap(err)
	}
	return nil
}

func boolSetting(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
