// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package logstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

const insertColumns = "id, user_id, type, level, action, metadata, ip_address, user_agent, created_at"

// poolIface is the subset of pgx pool operations the store needs.
// Satisfied by *pgxpool.Pool and pgxmock pools.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store over the system_logs table.
type PostgresStore struct {
	pool poolIface
}

// NewPostgresStore creates a store over an existing pool or connection.
func NewPostgresStore(pool poolIface) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Open connects a pgx pool and verifies connectivity with a retried ping,
// so a service starting alongside its database does not flap.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("LOG_STORE_CONNECT_FAILED").Wrap(err)
	}

	backoff := retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if perr := pool.Ping(ctx); perr != nil {
			return retry.RetryableError(perr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("LOG_STORE_PING_FAILED").Wrap(err)
	}
	return pool, nil
}

// Insert appends one row. Rows are never updated afterwards.
func (s *PostgresStore) Insert(ctx context.Context, row Row) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO system_logs (`+insertColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID,
		row.UserID,
		string(row.Type),
		string(row.Level),
		row.Action,
		row.Metadata,
		row.IPAddress,
		row.UserAgent,
		row.CreatedAt,
	)
	if err != nil {
		return oops.Code("LOG_INSERT_FAILED").
			With("type", string(row.Type)).
			With("id", row.ID).
			Wrap(err)
	}
	return nil
}

// Query returns one page of rows matching the filter, plus the total
// count for the same predicate.
func (s *PostgresStore) Query(ctx context.Context, f Filter) (Page, error) {
	if err := f.Validate(); err != nil {
		return Page{}, err
	}
	f.normalize()

	b := f.build()
	where := b.where()

	var total int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM system_logs`+where, b.args...).Scan(&total)
	if err != nil {
		return Page{}, oops.Code("LOG_QUERY_FAILED").
			With("operation", "count filtered rows").
			Wrap(err)
	}

	order := "DESC"
	if f.Sort == SortAsc {
		order = "ASC"
	}
	limitPos := b.next(f.Limit)
	offsetPos := b.next((f.Page - 1) * f.Limit)
	sql := fmt.Sprintf(
		`SELECT %s FROM system_logs%s ORDER BY created_at %s LIMIT $%d OFFSET $%d`,
		insertColumns, where, order, limitPos, offsetPos,
	)

	rows, err := s.pool.Query(ctx, sql, b.args...)
	if err != nil {
		return Page{}, oops.Code("LOG_QUERY_FAILED").
			With("operation", "query filtered rows").
			Wrap(err)
	}
	defer rows.Close()

	entries := make([]Row, 0, f.Limit)
	for rows.Next() {
		var r Row
		var typ, level string
		if err := rows.Scan(&r.ID, &r.UserID, &typ, &level, &r.Action, &r.Metadata, &r.IPAddress, &r.UserAgent, &r.CreatedAt); err != nil {
			return Page{}, oops.Code("LOG_SCAN_FAILED").
				With("operation", "scan log row").
				Wrap(err)
		}
		r.Type = Category(typ)
		r.Level = Level(level)
		entries = append(entries, r)
	}
	if err := rows.Err(); err != nil {
		return Page{}, oops.Code("LOG_ROWS_ERROR").
			With("operation", "iterate log rows").
			Wrap(err)
	}

	totalPages := int((total + int64(f.Limit) - 1) / int64(f.Limit))
	return Page{
		Entries:    entries,
		TotalCount: total,
		Page:       f.Page,
		TotalPages: totalPages,
	}, nil
}

// CountAll returns the total row count.
func (s *PostgresStore) CountAll(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM system_logs`)
}

// CountSince counts rows created at or after since.
func (s *PostgresStore) CountSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM system_logs WHERE created_at >= $1`, since)
}

// CountErrorsSince counts error-level rows created at or after since.
func (s *PostgresStore) CountErrorsSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx,
		`SELECT count(*) FROM system_logs WHERE created_at >= $1 AND level = ANY($2)`,
		since, levelStrings(ErrorLevels()))
}

// CountByTypeSince counts rows of one category created at or after since.
func (s *PostgresStore) CountByTypeSince(ctx context.Context, t Category, since time.Time) (int64, error) {
	return s.count(ctx,
		`SELECT count(*) FROM system_logs WHERE created_at >= $1 AND type = $2`,
		since, string(t))
}

// CountDistinctUsersSince counts distinct non-null user ids seen at or
// after since.
func (s *PostgresStore) CountDistinctUsersSince(ctx context.Context, since time.Time) (int64, error) {
	return s.count(ctx,
		`SELECT count(DISTINCT user_id) FROM system_logs WHERE created_at >= $1 AND user_id IS NOT NULL`,
		since)
}

// CountBefore counts rows strictly older than cutoff.
func (s *PostgresStore) CountBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.count(ctx, `SELECT count(*) FROM system_logs WHERE created_at < $1`, cutoff)
}

// DeleteBatchBefore deletes at most limit rows older than cutoff and
// returns how many went. Postgres DELETE has no LIMIT, so the batch is
// selected by id first.
func (s *PostgresStore) DeleteBatchBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM system_logs WHERE id IN (
			SELECT id FROM system_logs WHERE created_at < $1 ORDER BY created_at LIMIT $2
		)`,
		cutoff, limit)
	if err != nil {
		return 0, oops.Code("LOG_DELETE_BATCH_FAILED").
			With("cutoff", cutoff).
			With("limit", limit).
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// CountMatching counts rows matching the ANDed criteria.
func (s *PostgresStore) CountMatching(ctx context.Context, c Criteria) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	b := c.build()
	return s.count(ctx, `SELECT count(*) FROM system_logs`+b.where(), b.args...)
}

// DeleteMatching deletes rows matching the ANDed criteria and returns
// how many went.
func (s *PostgresStore) DeleteMatching(ctx context.Context, c Criteria) (int64, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}
	b := c.build()
	tag, err := s.pool.Exec(ctx, `DELETE FROM system_logs`+b.where(), b.args...)
	if err != nil {
		return 0, oops.Code("LOG_DELETE_MATCHING_FAILED").
			With("operation", "delete matching rows").
			Wrap(err)
	}
	return tag.RowsAffected(), nil
}

// Bounds returns the oldest and newest entry timestamps, both nil for an
// empty store.
func (s *PostgresStore) Bounds(ctx context.Context) (Bounds, error) {
	var b Bounds
	err := s.pool.QueryRow(ctx,
		`SELECT min(created_at), max(created_at) FROM system_logs`).
		Scan(&b.Oldest, &b.Newest)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bounds{}, nil
	}
	if err != nil {
		return Bounds{}, oops.Code("LOG_BOUNDS_FAILED").
			With("operation", "read entry bounds").
			Wrap(err)
	}
	return b, nil
}

func (s *PostgresStore) count(ctx context.Context, sql string, args ...any) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, oops.Code("LOG_COUNT_FAILED").
			With("query", sql).
			Wrap(err)
	}
	return n, nil
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)
