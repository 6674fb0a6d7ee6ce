// Package cmdlog implements CommandLog: the SQLite-backed persisted command
// log (persist/replay in emission order, skipping ephemeral ops) and the
// bounded-TTL dedupe ledger Queue/Dedup consults before admitting a batch.
//
// The dedupe ledger's bounded, time-windowed admission check is adapted
// from a visibility-timeout queue's claim-and-expire SQL idiom: rows are
// inserted unconditionally and pruned by age and by a hard row cap rather
// than claimed and reappearing, since a duplicate batch is discarded, not
// retried.
package cmdlog

import (
	"context"
	"database/sql"
	"time"
)

// DedupTTL is how long a batch id or ops hash stays eligible for duplicate
// detection after being recorded.
const DedupTTL = 10 * time.Minute

// DedupCapacity bounds the ledger to the most recent N entries regardless
// of age.
const DedupCapacity = 500

// DedupRecord mirrors a row of the dedupe ledger.
type DedupRecord struct {
	BatchID   string
	OpsHash   string
	CreatedAt time.Time
	Applied   bool
}

// DedupLedger is the SQLite-backed bounded, TTL'd record of batches already
// applied, used to answer "have we seen this batch or this exact op
// sequence recently?" without holding everything in memory forever.
type DedupLedger struct {
	db *sql.DB
}

// NewDedupLedger wraps db. Call EnsureSchema once at startup.
func NewDedupLedger(db *sql.DB) *DedupLedger {
	return &DedupLedger{db: db}
}

// EnsureSchema creates the dedupe ledger table if it doesn't exist.
func (l *DedupLedger) EnsureSchema(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS batch_dedupe (
			batch_id   TEXT PRIMARY KEY,
			ops_hash   TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			applied    INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_batch_dedupe_hash ON batch_dedupe (ops_hash, created_at);
		CREATE INDEX IF NOT EXISTS idx_batch_dedupe_age ON batch_dedupe (created_at);
	`)
	return err
}

// Seen reports whether batchID or opsHash was recorded within DedupTTL. A
// match on either key is a duplicate: identical content re-sent under a new
// batchId is still a duplicate, and a retried batchId with regenerated
// content still collapses to the original.
func (l *DedupLedger) Seen(ctx context.Context, batchID, opsHash string) (bool, error) {
	cutoff := time.Now().Add(-DedupTTL).UnixMilli()
	var n int
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM batch_dedupe
		 WHERE created_at >= ? AND (batch_id = ? OR ops_hash = ?)`,
		cutoff, batchID, opsHash,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Record inserts a dedupe entry for a batch that was just applied and prunes
// the ledger down to DedupCapacity rows, oldest first. A conflicting
// batch_id (shouldn't happen once Seen has been checked) is ignored.
func (l *DedupLedger) Record(ctx context.Context, batchID, opsHash string, applied bool) error {
	now := time.Now().UnixMilli()
	if _, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO batch_dedupe (batch_id, ops_hash, created_at, applied) VALUES (?,?,?,?)`,
		batchID, opsHash, now, boolToInt(applied),
	); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx, `
		DELETE FROM batch_dedupe WHERE batch_id NOT IN (
			SELECT batch_id FROM batch_dedupe ORDER BY created_at DESC LIMIT ?
		)`, DedupCapacity,
	)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
