package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPathLength bounds request and route paths in logs
	MaxPathLength = 500
	// MaxUserIDLength bounds user ids in logs
	MaxUserIDLength = 128
	// MaxErrorMessageLength bounds error strings and server messages in logs
	MaxErrorMessageLength = 1000
	// MaxGeneralStringLength is the fallback bound
	MaxGeneralStringLength = 2000

	tokenVisiblePrefix = 6
)

// SanitizePath prepares a URL or route path for logging
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeString strips control characters, repairs UTF-8 and truncates
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	s = filterRunes(s)
	if len(s) > maxLength {
		s = s[:maxLength] + "..."
	}
	return s
}

// SanitizeError prepares an error for logging
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}

// SanitizeUserID prepares a user id for logging
func SanitizeUserID(userID string) string {
	return SanitizeString(userID, MaxUserIDLength)
}

// RedactToken keeps only a short prefix of a bearer token so log lines can be
// correlated without leaking the credential.
func RedactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= tokenVisiblePrefix*2 {
		return "[redacted]"
	}
	return filterRunes(token[:tokenVisiblePrefix]) + "...[redacted]"
}

func filterRunes(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		// newlines are dropped to keep one event per line
		if unicode.IsPrint(r) || r == ' ' || r == '\t' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
