// Package requestid carries a per-request correlation id through contexts,
// logs, audit records and outbound calls.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header (and gRPC metadata key, lowercased) that
// carries the id.
const Header = "X-Request-ID"

const maxLen = 128

type contextKey struct{}

// With returns a context that carries id. An empty id leaves ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the id stored in ctx, or "".
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

func New() string {
	return uuid.NewString()
}

// Sanitize returns a client-supplied id when it is short and printable,
// otherwise a fresh one.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxLen {
		return New()
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return New()
		}
	}
	return id
}
