package logger

import "context"

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// taskIDKey is the context key for the task ID.
var taskIDKey = contextKey{}

// WithTaskID returns a new context with the given task ID stored.
func WithTaskID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, taskIDKey, id)
}

// TaskID extracts the task ID from the context.
// Returns an empty string if no task ID is set.
func TaskID(ctx context.Context) string {
	id, _ := ctx.Value(taskIDKey).(string)
	return id
}
