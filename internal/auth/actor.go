// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 QRTrace Contributors

// Package auth resolves the acting user for admin API requests.
//
// QRTrace sits behind an authenticating front proxy. The proxy verifies
// the session and forwards the caller's identity in trusted headers;
// this package only reads those headers and decides admin membership
// against a configured allow list. It never sees credentials.
package auth

import (
	"net/http"
	"strings"
)

// Header names set by the front proxy.
const (
	HeaderUserID = "X-Auth-User-Id"
	HeaderEmail  = "X-Auth-Email"
)

// Actor is the authenticated caller of a request. A zero Actor means
// the request carried no identity.
type Actor struct {
	UserID string
	Email  string
}

// Anonymous reports whether no identity was forwarded.
func (a Actor) Anonymous() bool {
	return a.UserID == ""
}

// FromRequest extracts the actor from the proxy headers.
func FromRequest(r *http.Request) Actor {
	return Actor{
		UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
		Email:  strings.TrimSpace(r.Header.Get(HeaderEmail)),
	}
}

// AllowList is the set of email addresses granted admin access.
// Matching is case-insensitive.
type AllowList struct {
	emails map[string]struct{}
}

// ParseAllowList builds an allow list from a comma-separated string.
// Whitespace around entries is ignored and empty entries are dropped,
// so "a@x.com, ,b@x.com," yields two admins.
func ParseAllowList(raw string) AllowList {
	emails := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		e := strings.ToLower(strings.TrimSpace(part))
		if e == "" {
			continue
		}
		emails[e] = struct{}{}
	}
	return AllowList{emails: emails}
}

// NewAllowList builds an allow list from already-split entries.
func NewAllowList(entries []string) AllowList {
	return ParseAllowList(strings.Join(entries, ","))
}

// IsAdmin reports whether the actor's email is on the allow list.
// Anonymous actors and actors without an email are never admins.
func (l AllowList) IsAdmin(a Actor) bool {
	if a.Anonymous() || a.Email == "" {
		return false
	}
	_, ok := l.emails[strings.ToLower(strings.TrimSpace(a.Email))]
	return ok
}

// Len returns the number of distinct allowed emails.
func (l AllowList) Len() int {
	return len(l.emails)
}
