// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package logstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Pagination bounds for queries.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// SortOrder orders query results by creation time.
type SortOrder string

// Sort orders.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Row is the flattened, persisted form of a log entry.
type Row struct {
	ID        string    `json:"id"`
	UserID    *string   `json:"userId,omitempty"`
	Type      Category  `json:"type"`
	Level     Level     `json:"level"`
	Action    string    `json:"action"`
	Metadata  []byte    `json:"metadata,omitempty"`
	IPAddress *string   `json:"ipAddress,omitempty"`
	UserAgent *string   `json:"userAgent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Filter selects rows for a query. Zero fields mean "no constraint".
// NOTE: this engine applies exactly the filter it is given. Narrowing a
// non-admin caller to their own UserID is the HTTP layer's job, not an
// enforcement this layer can be trusted for on its own.
type Filter struct {
	Type     Category
	Levels   []Level
	DateFrom *time.Time
	DateTo   *time.Time
	Search   string
	UserID   string
	Page     int
	Limit    int
	Sort     SortOrder
}

func (f *Filter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Sort != SortAsc {
		f.Sort = SortDesc
	}
}

// Validate rejects unknown categories and levels before any I/O.
func (f Filter) Validate() error {
	if f.Type != "" && !ValidCategory(f.Type) {
		return oops.Code("LOG_INVALID_FILTER").
			With("type", string(f.Type)).
			Errorf("unknown log type: %s", f.Type)
	}
	for _, l := range f.Levels {
		if !ValidLevel(l) {
			return oops.Code("LOG_INVALID_FILTER").
				With("level", string(l)).
				Errorf("unknown log level: %s", l)
		}
	}
	return nil
}

// Page is one page of query results.
type Page struct {
	Entries    []Row `json:"entries"`
	TotalCount int64 `json:"totalCount"`
	Page       int   `json:"page"`
	TotalPages int   `json:"totalPages"`
}

// Criteria is the ANDed predicate for manual cleanup. All present fields
// combine into one delete condition; an empty criteria matches every row.
type Criteria struct {
	Before *time.Time `json:"beforeDate,omitempty"`
	Types  []Category `json:"logTypes,omitempty"`
	Levels []Level    `json:"logLevels,omitempty"`
}

// Validate rejects unknown categories and levels before any I/O.
func (c Criteria) Validate() error {
	for _, t := range c.Types {
		if !ValidCategory(t) {
			return oops.Code("LOG_INVALID_CRITERIA").
				With("type", string(t)).
				Errorf("unknown log type: %s", t)
		}
	}
	for _, l := range c.Levels {
		if !ValidLevel(l) {
			return oops.Code("LOG_INVALID_CRITERIA").
				With("level", string(l)).
				Errorf("unknown log level: %s", l)
		}
	}
	return nil
}

// Bounds are the oldest and newest entry timestamps in the store.
type Bounds struct {
	Oldest *time.Time `json:"oldest,omitempty"`
	Newest *time.Time `json:"newest,omitempty"`
}

// Store is the append-only log store. Rows are immutable once written:
// they are only read or bulk-deleted.
type Store interface {
	Insert(ctx context.Context, row Row) error
	Query(ctx context.Context, f Filter) (Page, error)

	CountAll(ctx context.Context) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	CountErrorsSince(ctx context.Context, since time.Time) (int64, error)
	CountByTypeSince(ctx context.Context, t Category, since time.Time) (int64, error)
	CountDistinctUsersSince(ctx context.Context, since time.Time) (int64, error)

	CountBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteBatchBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	CountMatching(ctx context.Context, c Criteria) (int64, error)
	DeleteMatching(ctx context.Context, c Criteria) (int64, error)

	Bounds(ctx context.Context) (Bounds, error)
}

// NewRow flattens a typed entry into its persisted form, filling in the
// envelope fields the caller left zero.
func NewRow(e Entry, now time.Time) (Row, error) {
	if err := e.Validate(); err != nil {
		return Row{}, err
	}

	env := e.envelope()

	createdAt := env.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	id := env.ID
	if id.Compare(ulid.ULID{}) == 0 {
		id = NewEntryID(createdAt)
	}
	level := env.Level
	if level == "" {
		level = defaultLevel(e.Category())
	}

	userID := env.UserID
	if userID == "" {
		if a, ok := e.(AdminActionEntry); ok {
			userID = a.AdminID
		}
	}

	metadata, err := json.Marshal(e.Metadata())
	if err != nil {
		return Row{}, oops.Code("LOG_METADATA_MARSHAL_FAILED").
			With("category", string(e.Category())).
			Wrap(err)
	}

	return Row{
		ID:        id.String(),
		UserID:    nullable(userID),
		Type:      e.Category(),
		Level:     level,
		Action:    e.Action(),
		Metadata:  metadata,
		IPAddress: nullable(env.IPAddress),
		UserAgent: nullable(env.UserAgent),
		CreatedAt: createdAt,
	}, nil
}

func defaultLevel(c Category) Level {
	if c == CategoryError {
		return LevelError
	}
	return LevelInfo
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// condBuilder accumulates ANDed SQL conditions with positional args.
type condBuilder struct {
	conds []string
	args  []any
}

// add appends a condition; expr must contain one %d for the placeholder.
func (b *condBuilder) add(expr string, arg any) {
	b.args = append(b.args, arg)
	b.conds = append(b.conds, fmt.Sprintf(expr, len(b.args)))
}

// where renders the WHERE clause, or "" when no condition was added.
func (b *condBuilder) where() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

// next returns the next placeholder number after the accumulated args.
func (b *condBuilder) next(arg any) int {
	b.args = append(b.args, arg)
	return len(b.args)
}

func (f Filter) build() *condBuilder {
	b := &condBuilder{}
	if f.Type != "" {
		b.add("type = $%d", string(f.Type))
	}
	if len(f.Levels) > 0 {
		b.add("level = ANY($%d)", levelStrings(f.Levels))
	}
	if f.DateFrom != nil {
		b.add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		b.add("created_at <= $%d", *f.DateTo)
	}
	if f.Search != "" {
		b.add("action ILIKE $%d", "%"+f.Search+"%")
	}
	if f.UserID != "" {
		b.add("user_id = $%d", f.UserID)
	}
	return b
}

func (c Criteria) build() *condBuilder {
	b := &condBuilder{}
	if c.Before != nil {
		b.add("created_at < $%d", *c.Before)
	}
	if len(c.Types) > 0 {
		b.add("type = ANY($%d)", categoryStrings(c.Types))
	}
	if len(c.Levels) > 0 {
		b.add("level = ANY($%d)", levelStrings(c.Levels))
	}
	return b
}

func levelStrings(levels []Level) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}

func categoryStrings(cats []Category) []string {
	out := make([]string, len(cats))
	for i, c := range cats {
		out[i] = string(c)
	}
	return out
}
