package kit

import (
	"context"
	"testing"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trc_1")
	if got := GetTraceID(ctx); got != "trc_1" {
		t.Fatalf("got %q, want trc_1", got)
	}
}

func TestGetTraceID_Absent(t *testing.T) {
	if got := GetTraceID(context.Background()); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestIsReplaying(t *testing.T) {
	ctx := context.Background()
	if IsReplaying(ctx) {
		t.Fatal("fresh context should not be replaying")
	}
	ctx = WithReplaying(ctx)
	if !IsReplaying(ctx) {
		t.Fatal("expected replaying after WithReplaying")
	}
}

func TestWindowIDRoundTrip(t *testing.T) {
	ctx := WithWindowID(context.Background(), "win-1")
	if got := GetWindowID(ctx); got != "win-1" {
		t.Fatalf("got %q, want win-1", got)
	}
}
