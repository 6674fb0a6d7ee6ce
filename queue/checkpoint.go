package queue

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"

	"github.com/uicp/coreadapter/canon"
)

// CheckpointSink receives the hex digest of a state snapshot after a batch
// applies at least one change. The host store uses it to detect drift
// between what the adapter thinks is persisted and what actually is.
type CheckpointSink interface {
	RecordCheckpoint(ctx context.Context, digest string)
}

// Checkpointer computes and forwards state checkpoints off the hot path:
// Trigger returns immediately, the hash runs on its own goroutine.
type Checkpointer struct {
	sink   CheckpointSink
	logger *slog.Logger
}

// NewCheckpointer wraps a CheckpointSink. A nil sink makes Trigger a no-op.
func NewCheckpointer(sink CheckpointSink, logger *slog.Logger) *Checkpointer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpointer{sink: sink, logger: logger}
}

// Trigger stable-stringifies snapshot, hashes it, and forwards the hex
// digest to the sink asynchronously. snapshot is typically the full state
// store contents at the moment a batch finished applying.
func (c *Checkpointer) Trigger(ctx context.Context, snapshot any) {
	if c.sink == nil {
		return
	}
	go func() {
		b, err := canon.Marshal(snapshot)
		if err != nil {
			c.logger.Warn("queue: checkpoint marshal failed", "error", err)
			return
		}
		sum := sha256.Sum256(b)
		c.sink.RecordCheckpoint(ctx, hex.EncodeToString(sum[:]))
	}()
}
