package log

import (
	"context"

	"github.com/rs/zerolog"
)

type fieldConnection struct{}
type fieldOrigin struct{}
type fieldUser struct{}

// WithConnection adds the connection identifier to the context.
func WithConnection(ctx context.Context, connection uint64) context.Context {
	return context.WithValue(ctx, fieldConnection{}, connection)
}

// WithOrigin adds the origin of processing (smtp, imap, outbound, api) to the context.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, fieldOrigin{}, origin)
}

// WithUser adds the id of the user being served to the context.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, fieldUser{}, userID)
}

func appendContextFields(ctx context.Context, event *zerolog.Event) *zerolog.Event {
	if ctx == nil {
		return event
	}

	if connection, ok := ctx.Value(fieldConnection{}).(uint64); ok {
		event.Uint64("connection", connection)
	}

	if origin, ok := ctx.Value(fieldOrigin{}).(string); ok {
		event.Str("origin", origin)
	}

	if userID, ok := ctx.Value(fieldUser{}).(string); ok {
		event.Str("user_id", userID)
	}

	return event
}
