// Package requestid carries the per-request correlation id through contexts
// and into log lines.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Header is the HTTP header the id travels in.
const Header = "X-Request-ID"

const maxLen = 128

type ctxKey struct{}

// WithRequestID returns a context carrying id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the id stored in ctx, if any.
func FromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Ensure stores incoming in ctx when it is usable, otherwise a fresh id.
// Oversized or non-printable client ids are replaced.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	id := strings.TrimSpace(incoming)
	if !valid(id) {
		id = uuid.NewString()
	}
	return WithRequestID(ctx, id), id
}

// Logger returns base annotated with the request id from ctx.
func Logger(ctx context.Context, base zerolog.Logger) *zerolog.Logger {
	id, ok := FromContext(ctx)
	if !ok {
		return &base
	}
	l := base.With().Str("request_id", id).Logger()
	return &l
}

func valid(id string) bool {
	if id == "" || len(id) > maxLen {
		return false
	}
	for _, r := range id {
		if r < 0x21 || r > 0x7e {
			return false
		}
	}
	return true
}
