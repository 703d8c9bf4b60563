// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

// Session setting keys read by the row-level security policies.
const (
	userIDSetting  = "app.current_user_id"
	isAdminSetting = "app.is_admin"
)

// ActorContext is the identity bound to one database session. It scopes
// every row-security check the database performs for that session.
type ActorContext struct {
	UserID  string
	IsAdmin bool
}

// Anonymous reports whether no user identity is bound.
func (c ActorContext) Anonymous() bool {
	return c.UserID == ""
}
