// Package logging provides cycle ID context propagation so log lines from
// one sync cycle can be correlated.
package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey string

const cycleIDKey contextKey = "cycleId"

// GenerateCycleID creates an 8-character hex cycle ID.
func GenerateCycleID() string {
	b := make([]byte, 4)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// WithCycleID injects a cycle ID into the context.
func WithCycleID(ctx context.Context, cycleID string) context.Context {
	return context.WithValue(ctx, cycleIDKey, cycleID)
}

// CycleID retrieves the cycle ID from the context.
// Returns empty string if not found.
func CycleID(ctx context.Context) string {
	if id, ok := ctx.Value(cycleIDKey).(string); ok {
		return id
	}
	return ""
}

// Tag renders the cycle ID as a log line prefix, or empty when absent.
func Tag(ctx context.Context) string {
	if id := CycleID(ctx); id != "" {
		return "[" + id + "] "
	}
	return ""
}
