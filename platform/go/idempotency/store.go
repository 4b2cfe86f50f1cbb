// Package idempotency remembers the response issued for a client-supplied
// Idempotency-Key so a retried request does not repeat a side effect.
package idempotency

import (
	"context"
	"errors"
	"strings"
	"time"
)

// HeaderName is the request header carrying the client key.
const HeaderName = "Idempotency-Key"

// MaxKeyLength bounds accepted keys.
const MaxKeyLength = 255

// ErrInvalidKey is returned for keys that are empty or too long.
var ErrInvalidKey = errors.New("invalid idempotency key")

// Store keeps values under keys for a bounded time.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// NormalizeKey trims the raw header value and validates its length.
func NormalizeKey(raw string) (string, error) {
	key := strings.TrimSpace(raw)
	if key == "" || len(key) > MaxKeyLength {
		return "", ErrInvalidKey
	}
	return key, nil
}

// ScopedKey namespaces key per operation so the same client key can be reused across endpoints.
func ScopedKey(scope, key string) string {
	return "atlas:idempotency:" + scope + ":" + key
}
