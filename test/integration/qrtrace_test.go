// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

//go:build integration

package integration

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/qrtrace/qrtrace/internal/logstore"
	"github.com/qrtrace/qrtrace/internal/retention"
	"github.com/qrtrace/qrtrace/internal/rls"
)

// schema is the minimal fixture: the log table plus one tenant-scoped
// table protected by a row security policy over the session settings.
const schema = `
CREATE TABLE system_logs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT,
	type       TEXT NOT NULL,
	level      TEXT NOT NULL,
	action     TEXT NOT NULL,
	metadata   JSONB,
	ip_address TEXT,
	user_agent TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE qr_codes (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	label   TEXT NOT NULL
);

ALTER TABLE qr_codes ENABLE ROW LEVEL SECURITY;
ALTER TABLE qr_codes FORCE ROW LEVEL SECURITY;

CREATE POLICY qr_codes_tenant ON qr_codes
	USING (
		user_id = current_setting('app.current_user_id', true)
		OR current_setting('app.is_admin', true) = 'true'
	);

-- Superusers bypass row security, so the application connects as a
-- plain role.
CREATE ROLE qrtrace_app LOGIN PASSWORD 'qrtrace_app';
GRANT SELECT, INSERT, UPDATE, DELETE ON qr_codes TO qrtrace_app;
GRANT SELECT, INSERT, DELETE ON system_logs TO qrtrace_app;
`

const (
	userAlice = "clh3k2j5d0000mh08y3v9e2x1"
	userBob   = "clh3k2j5d0000mh08y3v9e2x2"
)

var _ = Describe("qrtrace against Postgres", Ordered, func() {
	var (
		ctx       context.Context
		cancel    context.CancelFunc
		container *postgres.PostgresContainer
		pool      *pgxpool.Pool // superuser, for fixtures and the log store
		appPool   *pgxpool.Pool // plain role, subject to row security
	)

	BeforeAll(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Minute)

		var err error
		container, err = postgres.Run(ctx,
			"postgres:18-alpine",
			postgres.WithDatabase("qrtrace_test"),
			postgres.WithUsername("qrtrace"),
			postgres.WithPassword("qrtrace"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second),
			),
		)
		Expect(err).NotTo(HaveOccurred())

		connStr, err := container.ConnectionString(ctx, "sslmode=disable")
		Expect(err).NotTo(HaveOccurred())

		pool, err = logstore.Open(ctx, connStr)
		Expect(err).NotTo(HaveOccurred())

		_, err = pool.Exec(ctx, schema)
		Expect(err).NotTo(HaveOccurred())

		appCfg, err := pgxpool.ParseConfig(connStr)
		Expect(err).NotTo(HaveOccurred())
		appCfg.ConnConfig.User = "qrtrace_app"
		appCfg.ConnConfig.Password = "qrtrace_app"
		appPool, err = pgxpool.NewWithConfig(ctx, appCfg)
		Expect(err).NotTo(HaveOccurred())
		Expect(appPool.Ping(ctx)).To(Succeed())
	})

	AfterAll(func() {
		if appPool != nil {
			appPool.Close()
		}
		if pool != nil {
			pool.Close()
		}
		if container != nil {
			Expect(container.Terminate(context.Background())).To(Succeed())
		}
		cancel()
	})

	BeforeEach(func() {
		_, err := pool.Exec(ctx, `TRUNCATE system_logs`)
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, `TRUNCATE qr_codes`)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("actor context manager", func() {
		It("round-trips the session settings", func() {
			conn, err := pool.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Release()

			mgr := rls.NewManager(conn)
			Expect(mgr.SetUserContext(ctx, userAlice, false)).To(Succeed())

			current, err := mgr.CurrentContext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(current.UserID).To(Equal(userAlice))
			Expect(current.IsAdmin).To(BeFalse())

			Expect(mgr.ClearContext(ctx)).To(Succeed())
			current, err = mgr.CurrentContext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(current.Anonymous()).To(BeTrue())
		})

		It("restores the prior context after a scoped call", func() {
			conn, err := pool.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Release()

			mgr := rls.NewManager(conn)
			Expect(mgr.SetUserContext(ctx, userAlice, false)).To(Succeed())

			err = mgr.WithUserContext(ctx, userBob, true, func(ctx context.Context) error {
				inner, ierr := mgr.CurrentContext(ctx)
				Expect(ierr).NotTo(HaveOccurred())
				Expect(inner.UserID).To(Equal(userBob))
				Expect(inner.IsAdmin).To(BeTrue())
				return nil
			})
			Expect(err).NotTo(HaveOccurred())

			outer, err := mgr.CurrentContext(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(outer.UserID).To(Equal(userAlice))
			Expect(outer.IsAdmin).To(BeFalse())
		})
	})

	Describe("row security enforcement", func() {
		var scoped *rls.ScopedPool

		BeforeEach(func() {
			scoped = rls.NewScopedPool(appPool)

			err := scoped.WithAdminContext(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
				_, serr := conn.Exec(ctx,
					`INSERT INTO qr_codes (id, user_id, label) VALUES
						('qr-1', $1, 'alice menu'),
						('qr-2', $1, 'alice flyer'),
						('qr-3', $2, 'bob poster')`,
					userAlice, userBob)
				return serr
			})
			Expect(err).NotTo(HaveOccurred())
		})

		countVisible := func(userID string, isAdmin bool) int {
			var n int
			err := scoped.WithUserContext(ctx, userID, isAdmin, func(ctx context.Context, conn *pgxpool.Conn) error {
				return conn.QueryRow(ctx, `SELECT count(*) FROM qr_codes`).Scan(&n)
			})
			Expect(err).NotTo(HaveOccurred())
			return n
		}

		It("scopes tenants to their own rows", func() {
			Expect(countVisible(userAlice, false)).To(Equal(2))
			Expect(countVisible(userBob, false)).To(Equal(1))
		})

		It("lets admins see every row", func() {
			Expect(countVisible(userAlice, true)).To(Equal(3))
		})

		It("hides every row from a connection without a context", func() {
			var n int
			conn, err := appPool.Acquire(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Release()

			Expect(conn.QueryRow(ctx, `SELECT count(*) FROM qr_codes`).Scan(&n)).To(Succeed())
			Expect(n).To(BeZero())
		})
	})

	Describe("policy posture checker", func() {
		It("classifies tables by their row security state", func() {
			mgr := rls.NewManager(pool)
			statuses, err := mgr.CheckRLSStatus(ctx, []string{"qr_codes", "system_logs", "no_such_table"})
			Expect(err).NotTo(HaveOccurred())
			Expect(statuses).To(HaveLen(3))

			Expect(statuses[0].State).To(Equal(rls.StateHealthy))
			Expect(statuses[0].PolicyCount).To(Equal(1))
			Expect(statuses[1].State).To(Equal(rls.StateDisabled))
			Expect(statuses[2].State).To(Equal(rls.StateMissing))
		})
	})

	Describe("log store", func() {
		var (
			store    *logstore.PostgresStore
			recorder *logstore.Recorder
		)

		BeforeEach(func() {
			store = logstore.NewPostgresStore(pool)
			recorder = logstore.NewRecorder(store, slog.New(slog.NewTextHandler(GinkgoWriter, nil)))
		})

		It("persists and pages entries", func() {
			for i := 0; i < 3; i++ {
				row, err := logstore.NewRow(logstore.AuthEntry{
					Envelope: logstore.Envelope{UserID: userAlice},
					Event:    "login",
					Success:  true,
				}, time.Now())
				Expect(err).NotTo(HaveOccurred())
				Expect(store.Insert(ctx, row)).To(Succeed())
			}

			page, err := store.Query(ctx, logstore.Filter{Type: logstore.CategoryAuth, Limit: 2})
			Expect(err).NotTo(HaveOccurred())
			Expect(page.TotalCount).To(Equal(int64(3)))
			Expect(page.Entries).To(HaveLen(2))
			Expect(page.TotalPages).To(Equal(2))
		})

		It("enforces retention end to end", func() {
			old := time.Now().AddDate(0, 0, -100).UTC()
			for i := 0; i < 5; i++ {
				Expect(store.Insert(ctx, logstore.Row{
					ID:        logstore.NewEntryID(old).String(),
					Type:      logstore.CategoryAccess,
					Level:     logstore.LevelInfo,
					Action:    "GET /",
					CreatedAt: old,
				})).To(Succeed())
			}
			fresh, err := logstore.NewRow(logstore.SystemEntry{Event: "heartbeat"}, time.Now())
			Expect(err).NotTo(HaveOccurred())
			Expect(store.Insert(ctx, fresh)).To(Succeed())

			cleaner := retention.NewCleaner(store, recorder, 90,
				retention.WithBatchSize(2), retention.WithBatchPause(0))
			result, err := cleaner.AutoCleanup(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.DeletedCount).To(Equal(int64(5)))

			total, err := store.CountAll(ctx)
			Expect(err).NotTo(HaveOccurred())
			// The heartbeat survives and the cleanup writes its own
			// SYSTEM summary row.
			Expect(total).To(Equal(int64(2)))
		})
	})
})
