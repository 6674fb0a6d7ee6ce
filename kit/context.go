// Package kit provides the small set of context-propagated identifiers
// shared across every adapter package: trace id for telemetry spans, the
// replay run id, and the window id a suspended operation belongs to.
//
// Mirrors the context-key convention used throughout the codebase this
// module is adapted from: typed keys, paired With*/Get* accessors, no
// exported key type leaking outside the package.
package kit

import "context"

type contextKey string

const (
	TraceIDKey   contextKey = "uicp_trace_id"
	RunIDKey     contextKey = "uicp_run_id"
	BatchIDKey   contextKey = "uicp_batch_id"
	WindowIDKey  contextKey = "uicp_window_id"
	ReplayingKey contextKey = "uicp_replaying"
)

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RunIDKey, id)
}

func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(RunIDKey).(string)
	return v
}

func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BatchIDKey, id)
}

func GetBatchID(ctx context.Context) string {
	v, _ := ctx.Value(BatchIDKey).(string)
	return v
}

func WithWindowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, WindowIDKey, id)
}

func GetWindowID(ctx context.Context) string {
	v, _ := ctx.Value(WindowIDKey).(string)
	return v
}

// WithReplaying marks the context as running a command-log replay;
// IsReplaying reads the mark. CommandLog.ReplayAll does not set it and
// CommandLog.Persist does not read it.
func WithReplaying(ctx context.Context) context.Context {
	return context.WithValue(ctx, ReplayingKey, true)
}

func IsReplaying(ctx context.Context) bool {
	v, _ := ctx.Value(ReplayingKey).(bool)
	return v
}
