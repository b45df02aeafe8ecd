package models

import "time"

// Claims is the advisory payload decoded from a bearer token.
// It is derived on demand and must not be cached.
type Claims struct {
	UserID    string         // userId claim, "" when absent
	Subject   string         // sub (the account phone number)
	ExpiresAt time.Time      // zero when the token has no exp
	IssuedAt  time.Time      // zero when the token has no iat
	Extra     map[string]any // remaining private claims
}

// ExpiredAt reports whether the claims are no longer valid at now.
// A token without an expiry is treated as expired.
func (c *Claims) ExpiredAt(now time.Time) bool {
	if c == nil || c.ExpiresAt.IsZero() {
		return true
	}
	return !c.ExpiresAt.After(now)
}
