// Package token decodes the advisory claims carried by a bearer token.
//
// Nothing here verifies a signature. The decoded claims are only good for UI
// decisions such as "is the session still fresh"; the backend remains the
// authority on what the bearer may actually do.
package token

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/benvon/hospital-portal/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// ErrMalformedToken is returned when a token cannot be decoded
var ErrMalformedToken = errors.New("malformed token")

// UserIDClaim is the private claim holding the numeric account id
const UserIDClaim = "userId"

// registered claim names that Claims does not carry and Extra leaves out
var registered = map[string]bool{"iss": true, "aud": true, "nbf": true, "jti": true}

// Decode parses the payload segment of token into Claims. Any JSON object is
// accepted; only exp must be a number (or a numeric string) when present.
func Decode(token string) (*models.Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, fmt.Errorf("%w: expected 3 segments, got %d", ErrMalformedToken, len(segments))
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(segments[1], "="))
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url: %v", ErrMalformedToken, err)
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || payload[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrMalformedToken)
	}

	if claims, ok := decodeTyped(payload); ok {
		return claims, nil
	}
	return decodeLoose(payload)
}

// decodeTyped handles the common case where every registered claim has its
// standard type. It reports false rather than failing so decodeLoose can
// take over.
func decodeTyped(payload []byte) (*models.Claims, bool) {
	parsed := jwt.New()
	if err := json.Unmarshal(payload, parsed); err != nil {
		return nil, false
	}

	claims := &models.Claims{
		Subject:   parsed.Subject(),
		ExpiresAt: parsed.Expiration(),
		IssuedAt:  parsed.IssuedAt(),
		Extra:     make(map[string]any),
	}
	for name, value := range parsed.PrivateClaims() {
		if name == UserIDClaim {
			claims.UserID = formatID(value)
			continue
		}
		claims.Extra[name] = value
	}
	return claims, true
}

func decodeLoose(payload []byte) (*models.Claims, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrMalformedToken)
	}

	exp, err := numericDate(raw["exp"])
	if err != nil {
		return nil, fmt.Errorf("%w: exp: %v", ErrMalformedToken, err)
	}
	// iat is informational only
	iat, _ := numericDate(raw["iat"])

	claims := &models.Claims{
		UserID:    formatID(raw[UserIDClaim]),
		Subject:   formatID(raw["sub"]),
		ExpiresAt: exp,
		IssuedAt:  iat,
		Extra:     make(map[string]any),
	}
	for name, value := range raw {
		switch {
		case name == UserIDClaim, name == "exp", name == "iat", name == "sub", registered[name]:
			continue
		}
		claims.Extra[name] = value
	}
	return claims, nil
}

// numericDate reads a NumericDate given as a JSON number or numeric string.
// A missing value is the zero time.
func numericDate(v any) (time.Time, error) {
	var (
		secs float64
		err  error
	)
	switch d := v.(type) {
	case nil:
		return time.Time{}, nil
	case json.Number:
		secs, err = d.Float64()
	case string:
		secs, err = strconv.ParseFloat(strings.TrimSpace(d), 64)
	default:
		return time.Time{}, fmt.Errorf("unexpected type %T", v)
	}
	if err != nil {
		return time.Time{}, err
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), nil
}

// ExtractExpiry returns the exp claim of token. The zero time means the token
// carries no expiry.
func ExtractExpiry(token string) (time.Time, error) {
	claims, err := Decode(token)
	if err != nil {
		return time.Time{}, err
	}
	return claims.ExpiresAt, nil
}

// ExtractSubjectID returns the user id carried by token, or "" when the token
// cannot be decoded or has no id.
func ExtractSubjectID(token string) string {
	claims, err := Decode(token)
	if err != nil {
		return ""
	}
	return claims.UserID
}

func formatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case json.Number:
		return id.String()
	case float64:
		if id == math.Trunc(id) && math.Abs(id) < 1<<53 {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(id, 10)
	case int:
		return strconv.Itoa(id)
	default:
		return ""
	}
}
