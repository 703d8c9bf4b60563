// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package logstore is the append-only log engine: a typed ingestion
// surface over one shared store, filtered queries, and usage statistics.
package logstore

import (
	"crypto/rand"
	"encoding/json"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Category discriminates the log entry union.
type Category string

// Log categories sharing the system_logs store.
const (
	CategoryAccess       Category = "ACCESS"
	CategoryAuth         Category = "AUTH"
	CategoryAudit        Category = "AUDIT"
	CategoryError        Category = "ERROR"
	CategoryAdminAction  Category = "ADMIN_ACTION"
	CategorySystem       Category = "SYSTEM"
	CategoryQRGeneration Category = "QR_GENERATION"
)

// Categories lists every known category.
func Categories() []Category {
	return []Category{
		CategoryAccess,
		CategoryAuth,
		CategoryAudit,
		CategoryError,
		CategoryAdminAction,
		CategorySystem,
		CategoryQRGeneration,
	}
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Level is the severity of a log entry.
type Level string

// Severity levels.
const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
	LevelFatal Level = "FATAL"
)

// ErrorLevels are the levels counted as errors by the statistics engine.
func ErrorLevels() []Level {
	return []Level{LevelError, LevelFatal}
}

// ValidLevel reports whether l is a known level.
func ValidLevel(l Level) bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// Envelope is the common part of every log entry. ID, Level, and
// CreatedAt are filled in at record time when left zero. UserID,
// IPAddress, and UserAgent are opportunistic; empty means absent.
type Envelope struct {
	ID        ulid.ULID
	UserID    string
	Level     Level
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// Entry is one log record of any category. The union is closed: only the
// types in this package implement it.
type Entry interface {
	Category() Category
	Action() string
	Validate() error
	Metadata() map[string]any
	envelope() Envelope
}

// AccessEntry records one handled HTTP request.
type AccessEntry struct {
	Envelope
	Method     string
	Path       string
	StatusCode int
	DurationMS int64
}

func (e AccessEntry) Category() Category { return CategoryAccess }
func (e AccessEntry) Action() string     { return e.Method + " " + e.Path }
func (e AccessEntry) envelope() Envelope { return e.Envelope }

// Validate checks required fields.
func (e AccessEntry) Validate() error {
	if e.Method == "" || e.Path == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("access entry requires method and path")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e AccessEntry) Metadata() map[string]any {
	return map[string]any{
		"method":      e.Method,
		"path":        e.Path,
		"status_code": e.StatusCode,
		"duration_ms": e.DurationMS,
	}
}

// AuthEntry records an authentication event.
type AuthEntry struct {
	Envelope
	Event   string // login, logout, login_failed, ...
	Email   string
	Success bool
}

func (e AuthEntry) Category() Category { return CategoryAuth }
func (e AuthEntry) Action() string     { return e.Event }
func (e AuthEntry) envelope() Envelope { return e.Envelope }

// Validate checks required fields.
func (e AuthEntry) Validate() error {
	if e.Event == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("auth entry requires an event")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e AuthEntry) Metadata() map[string]any {
	return map[string]any{
		"email":   e.Email,
		"success": e.Success,
	}
}

// AuditEntry records a data mutation. It always names the table touched
// and the acting user.
type AuditEntry struct {
	Envelope
	Operation string // CREATE, UPDATE, DELETE
	TableName string
	RecordID  string
	OldValues json.RawMessage
	NewValues json.RawMessage
}

func (e AuditEntry) Category() Category { return CategoryAudit }
func (e AuditEntry) Action() string     { return e.Operation }
func (e AuditEntry) envelope() Envelope { return e.Envelope }

// Validate checks the audit discriminators: an audit row without an
// actor or a table is unusable as evidence.
func (e AuditEntry) Validate() error {
	if e.UserID == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("audit entry requires a user id")
	}
	if e.TableName == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("audit entry requires a table name")
	}
	if e.Operation == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("audit entry requires an operation")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e AuditEntry) Metadata() map[string]any {
	m := map[string]any{
		"table_name": e.TableName,
		"record_id":  e.RecordID,
	}
	if len(e.OldValues) > 0 {
		m["old_values"] = json.RawMessage(e.OldValues)
	}
	if len(e.NewValues) > 0 {
		m["new_values"] = json.RawMessage(e.NewValues)
	}
	return m
}

// ErrorEntry records an application error.
type ErrorEntry struct {
	Envelope
	Message string
	Source  string
	Stack   string
}

func (e ErrorEntry) Category() Category { return CategoryError }
func (e ErrorEntry) Action() string     { return e.Message }
func (e ErrorEntry) envelope() Envelope { return e.Envelope }

// Validate checks required fields.
func (e ErrorEntry) Validate() error {
	if e.Message == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("error entry requires a message")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e ErrorEntry) Metadata() map[string]any {
	m := map[string]any{}
	if e.Source != "" {
		m["source"] = e.Source
	}
	if e.Stack != "" {
		m["stack"] = e.Stack
	}
	return m
}

// AdminActionEntry records a privileged operation performed through the
// admin console.
type AdminActionEntry struct {
	Envelope
	AdminID         string
	Name            string // the action performed, e.g. manual_log_cleanup
	TargetUserID    string
	AffectedRecords int64
}

func (e AdminActionEntry) Category() Category { return CategoryAdminAction }
func (e AdminActionEntry) Action() string     { return e.Name }
func (e AdminActionEntry) envelope() Envelope { return e.Envelope }

// Validate checks the admin discriminators. Authorization itself is the
// caller's job; this only refuses rows that would be unattributable.
func (e AdminActionEntry) Validate() error {
	if e.AdminID == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("admin action entry requires an admin id")
	}
	if e.Name == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("admin action entry requires an action name")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e AdminActionEntry) Metadata() map[string]any {
	m := map[string]any{
		"admin_id":         e.AdminID,
		"affected_records": e.AffectedRecords,
	}
	if e.TargetUserID != "" {
		m["target_user_id"] = e.TargetUserID
	}
	return m
}

// SystemEntry records an internal maintenance event.
type SystemEntry struct {
	Envelope
	Event   string
	Message string
	Details map[string]any
}

func (e SystemEntry) Category() Category { return CategorySystem }
func (e SystemEntry) Action() string     { return e.Event }
func (e SystemEntry) envelope() Envelope { return e.Envelope }

// Validate checks required fields.
func (e SystemEntry) Validate() error {
	if e.Event == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("system entry requires an event")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e SystemEntry) Metadata() map[string]any {
	m := map[string]any{}
	if e.Message != "" {
		m["message"] = e.Message
	}
	for k, v := range e.Details {
		m[k] = v
	}
	return m
}

// QRGenerationEntry records one QR code generation.
type QRGenerationEntry struct {
	Envelope
	QRCodeID string
	Format   string
	Size     int
	Dynamic  bool
}

func (e QRGenerationEntry) Category() Category { return CategoryQRGeneration }
func (e QRGenerationEntry) Action() string     { return "qr_generated" }
func (e QRGenerationEntry) envelope() Envelope { return e.Envelope }

// Validate checks required fields.
func (e QRGenerationEntry) Validate() error {
	if e.QRCodeID == "" {
		return oops.Code("LOG_INVALID_ENTRY").Errorf("qr generation entry requires a qr code id")
	}
	return nil
}

// Metadata returns category-specific payload fields.
func (e QRGenerationEntry) Metadata() map[string]any {
	return map[string]any{
		"qr_code_id": e.QRCodeID,
		"format":     e.Format,
		"size":       e.Size,
		"dynamic":    e.Dynamic,
	}
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewEntryID generates a monotonic ULID for a log entry. Monotonicity is
// per writer; there is no global ordering guarantee across writers.
func NewEntryID(at time.Time) ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy)
}
