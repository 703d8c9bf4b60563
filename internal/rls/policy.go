// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"
)

// TableState classifies one protected table's row-security posture.
type TableState string

const (
	// StateHealthy means RLS is enabled and at least one policy is attached.
	StateHealthy TableState = "healthy"
	// StateNoPolicies means RLS is enabled but no policy is attached. The
	// table is locked to non-owners rather than tenant-scoped, which is a
	// misconfiguration worth reporting distinctly.
	StateNoPolicies TableState = "enabled_no_policies"
	// StateDisabled means RLS is off: every session sees every row.
	StateDisabled TableState = "disabled"
	// StateMissing means the table does not exist in the catalog.
	StateMissing TableState = "missing"
)

// TableStatus is the validator's report for one table.
type TableStatus struct {
	Table       string     `json:"table"`
	State       TableState `json:"state"`
	RLSEnabled  bool       `json:"rlsEnabled"`
	PolicyCount int        `json:"policyCount"`
}

// Healthy reports whether the table is RLS-enabled with policies attached.
func (s TableStatus) Healthy() bool {
	return s.State == StateHealthy
}

// CheckRLSStatus inspects the catalog for each protected table and
// reports whether row security is enabled and how many policies are
// attached. The three non-missing states are deliberately distinct:
// disabled, enabled without policies, and healthy.
func (m *Manager) CheckRLSStatus(ctx context.Context, tables []string) ([]TableStatus, error) {
	statuses := make([]TableStatus, 0, len(tables))
	for _, table := range tables {
		status, err := m.checkTable(ctx, table)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func (m *Manager) checkTable(ctx context.Context, table string) (TableStatus, error) {
	row := m.db.QueryRow(ctx, `
		SELECT c.relrowsecurity, count(p.polname)
		FROM pg_class c
		LEFT JOIN pg_policy p ON p.polrelid = c.oid
		WHERE c.relname = $1 AND c.relkind = 'r'
		GROUP BY c.relrowsecurity
	`, table)

	status := TableStatus{Table: table}
	err := row.Scan(&status.RLSEnabled, &status.PolicyCount)
	if errors.Is(err, pgx.ErrNoRows) {
		status.State = StateMissing
		return status, nil
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InsufficientPrivilege {
			return TableStatus{}, oops.Code("RLS_CATALOG_DENIED").
				With("table", table).
				Wrap(err)
		}
		return TableStatus{}, oops.Code("RLS_CATALOG_QUERY_FAILED").
			With("table", table).
			Wrap(err)
	}

	switch {
	case !status.RLSEnabled:
		status.State = StateDisabled
	case status.PolicyCount == 0:
		status.State = StateNoPolicies
	default:
		status.State = StateHealthy
	}
	return status, nil
}
