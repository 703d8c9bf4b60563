// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrtrace/qrtrace/pkg/errutil"
)

const (
	testUserID  = "clh3k2j5d0000mh08y3v9e2x1"
	testUserID2 = "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
)

func strPtr(s string) *string { return &s }

// expectApply registers the two set_config calls that bind a context.
func expectApply(mock pgxmock.PgxPoolIface, userID string, isAdmin bool) {
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(userIDSetting, userID).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(isAdminSetting, boolSetting(isAdmin)).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

// expectSnapshot registers the current_setting read that snapshots the
// active context. Pass nil pointers for settings that were never set.
func expectSnapshot(mock pgxmock.PgxPoolIface, userID, isAdmin *string) {
	mock.ExpectQuery(`SELECT current_setting\(\$1, true\), current_setting\(\$2, true\)`).
		WithArgs(userIDSetting, isAdminSetting).
		WillReturnRows(pgxmock.NewRows([]string{"current_setting", "current_setting"}).
			AddRow(userID, isAdmin))
}

func TestManager_SetUserContext(t *testing.T) {
	t.Run("valid CUID binds both settings", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		expectApply(mock, testUserID, true)

		m := NewManager(mock)
		require.NoError(t, m.SetUserContext(context.Background(), testUserID, true))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed id issues zero database calls", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		m := NewManager(mock)
		err = m.SetUserContext(context.Background(), "not-an-id", false)
		require.Error(t, err)
		// No expectations were registered, so any call would have failed.
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("set failure is wrapped", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
			WithArgs(userIDSetting, testUserID).
			WillReturnError(errors.New("connection reset"))

		m := NewManager(mock)
		err = m.SetUserContext(context.Background(), testUserID, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection reset")
		errutil.AssertErrorCode(t, err, "RLS_SET_FAILED")
		errutil.AssertErrorContext(t, err, "setting", userIDSetting)
	})
}

func TestManager_SetCurrentUser(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(userIDSetting, testUserID2).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	m := NewManager(mock)
	require.NoError(t, m.SetCurrentUser(context.Background(), testUserID2))
	assert.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, m.SetCurrentUser(context.Background(), ""))
}

func TestManager_SetAdminMode(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(isAdminSetting, "true").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(isAdminSetting, "false").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	m := NewManager(mock)
	require.NoError(t, m.SetAdminMode(context.Background(), true))
	require.NoError(t, m.SetAdminMode(context.Background(), false))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_ClearContext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectApply(mock, "", false)

	m := NewManager(mock)
	require.NoError(t, m.ClearContext(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_CurrentContext(t *testing.T) {
	tests := []struct {
		name    string
		userID  *string
		isAdmin *string
		want    ActorContext
	}{
		{
			name:    "bound user context",
			userID:  strPtr(testUserID),
			isAdmin: strPtr("true"),
			want:    ActorContext{UserID: testUserID, IsAdmin: true},
		},
		{
			name:    "bound non-admin context",
			userID:  strPtr(testUserID),
			isAdmin: strPtr("false"),
			want:    ActorContext{UserID: testUserID, IsAdmin: false},
		},
		{
			name:    "never set reads as anonymous",
			userID:  nil,
			isAdmin: nil,
			want:    ActorContext{},
		},
		{
			name:    "cleared context is anonymous",
			userID:  strPtr(""),
			isAdmin: strPtr("false"),
			want:    ActorContext{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			expectSnapshot(mock, tt.userID, tt.isAdmin)

			m := NewManager(mock)
			got, err := m.CurrentContext(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Anonymous() == (tt.want.UserID == ""))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestManager_WithUserContext_RestoresOnSuccess(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSnapshot(mock, nil, nil)
	expectApply(mock, testUserID, false)
	expectApply(mock, "", false) // restore to the pre-call (empty) context

	m := NewManager(mock)
	called := false
	err = m.WithUserContext(context.Background(), testUserID, false, func(_ context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithUserContext_RestoresOnError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSnapshot(mock, strPtr(testUserID2), strPtr("true"))
	expectApply(mock, testUserID, false)
	expectApply(mock, testUserID2, true) // restore happens despite the error

	m := NewManager(mock)
	boom := errors.New("scoped work failed")
	err = m.WithUserContext(context.Background(), testUserID, false, func(_ context.Context) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithUserContext_RestoresOnPanic(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSnapshot(mock, nil, nil)
	expectApply(mock, testUserID, true)
	expectApply(mock, "", false)

	m := NewManager(mock)
	assert.Panics(t, func() {
		_ = m.WithUserContext(context.Background(), testUserID, true, func(_ context.Context) error {
			panic("scoped work panicked")
		})
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithUserContext_RestoreFailureSurfaces(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectSnapshot(mock, nil, nil)
	expectApply(mock, testUserID, false)
	mock.ExpectExec(`SELECT set_config\(\$1, \$2, false\)`).
		WithArgs(userIDSetting, "").
		WillReturnError(errors.New("session gone"))

	m := NewManager(mock)
	err = m.WithUserContext(context.Background(), testUserID, false, func(_ context.Context) error {
		return nil
	})
	// fn succeeded, but a session still carrying the scoped identity must
	// fail loudly rather than report success.
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session gone")
	errutil.AssertErrorCode(t, err, "RLS_RESTORE_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithUserContext_MalformedIDNoIO(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	m := NewManager(mock)
	err = m.WithUserContext(context.Background(), "bogus", false, func(_ context.Context) error {
		t.Fatal("fn must not run for a malformed id")
		return nil
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithUserContext_Nesting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Outer scope: anonymous -> u1.
	expectSnapshot(mock, nil, nil)
	expectApply(mock, testUserID, false)
	// Inner scope: u1 -> u2.
	expectSnapshot(mock, strPtr(testUserID), strPtr("false"))
	expectApply(mock, testUserID2, true)
	// Inner restore lands exactly on u1's context.
	expectApply(mock, testUserID, false)
	// Outer restore lands on the pre-outer (anonymous) context.
	expectApply(mock, "", false)

	m := NewManager(mock)
	err = m.WithUserContext(context.Background(), testUserID, false, func(ctx context.Context) error {
		return m.WithUserContext(ctx, testUserID2, true, func(_ context.Context) error {
			return nil
		})
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManager_WithAdminContext(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// Admin scope keeps the bound user and raises the flag.
	expectSnapshot(mock, strPtr(testUserID), strPtr("false"))
	expectApply(mock, testUserID, true)
	expectApply(mock, testUserID, false)

	m := NewManager(mock)
	err = m.WithAdminContext(context.Background(), func(_ context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
