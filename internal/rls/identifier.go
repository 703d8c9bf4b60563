// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

package rls

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/samber/oops"
)

// User id format constraints. The id ends up in a session-scope setting
// that row-security policies compare against, so anything that is not a
// well-formed CUID or UUID is rejected before any database I/O happens.
var (
	cuidRegex = regexp.MustCompile(`^c[a-z0-9]{24}$`)
	uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ValidateUserID checks that userID is a CUID or a canonical UUID.
func ValidateUserID(userID string) error {
	if userID == "" {
		return oops.Code("RLS_INVALID_USER_ID").Errorf("user id cannot be empty")
	}
	if cuidRegex.MatchString(userID) {
		return nil
	}
	if uuidRegex.MatchString(userID) {
		if _, err := uuid.Parse(userID); err == nil {
			return nil
		}
	}
	return oops.Code("RLS_INVALID_USER_ID").
		With("user_id", userID).
		Errorf("user id must be a CUID or UUID")
}
