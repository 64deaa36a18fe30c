package middleware

import (
	"context"

	"github.com/stellarion/api/services/session"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// SessionIDKey is the context key for the browser-context id
	SessionIDKey contextKey = "session_id"

	// StoreKey is the context key for the browser context's session store
	StoreKey contextKey = "session_store"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetSessionIDFromContext retrieves the browser-context id from context
func GetSessionIDFromContext(ctx context.Context) string {
	if val := ctx.Value(SessionIDKey); val != nil {
		if id, ok := val.(string); ok {
			return id
		}
	}
	return ""
}

// WithSession attaches a browser context and its store to the context
func WithSession(ctx context.Context, id string, store *session.Store) context.Context {
	ctx = context.WithValue(ctx, SessionIDKey, id)
	return context.WithValue(ctx, StoreKey, store)
}

// GetStoreFromContext retrieves the session store from context
func GetStoreFromContext(ctx context.Context) *session.Store {
	if val := ctx.Value(StoreKey); val != nil {
		if store, ok := val.(*session.Store); ok {
			return store
		}
	}
	return nil
}

// GetSnapshotFromContext returns the current session snapshot, or an anonymous
// snapshot when no store is attached
func GetSnapshotFromContext(ctx context.Context) session.Snapshot {
	if store := GetStoreFromContext(ctx); store != nil {
		return store.Snapshot()
	}
	return session.Snapshot{State: session.StateAnonymous}
}
