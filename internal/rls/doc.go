// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package rls manages the per-session actor context that PostgreSQL
// row-level security policies key off, and validates that protected
// tables actually carry RLS policies.
//
// The context is a (user id, admin flag) pair stored in the session
// settings app.current_user_id and app.is_admin. Everything in this
// package assumes it is talking to ONE underlying connection for the
// whole set/run/restore window; use ScopedPool when working against a
// pool so that affinity is explicit.
package rls
