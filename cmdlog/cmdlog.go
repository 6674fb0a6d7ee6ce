package cmdlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/uicp/coreadapter/canon"
	"github.com/uicp/coreadapter/idgen"
	"github.com/uicp/coreadapter/schema"
)

// Applier replays a persisted command by re-running it through the same
// dispatch path a live batch would take. Implemented by the orchestrator;
// declared here narrowly so CommandLog doesn't import it.
type Applier interface {
	Apply(ctx context.Context, env schema.Envelope, runID string) error
}

// EventEmitter is the subset of telemetry.Bus CommandLog uses for replay
// progress.
type EventEmitter interface {
	Emit(ctx context.Context, name string, attrs map[string]any)
}

// PersistedCommand is one row of the command_log table.
type PersistedCommand struct {
	ID        string
	Tool      schema.Op
	Args      json.RawMessage
	WindowID  string
	CreatedAt time.Time
}

// CommandLog is the SQLite-backed persisted command log: every
// non-ephemeral envelope that applyBatch successfully dispatches is
// recorded here in emission order, so replayAll() can reconstruct
// workspace state after a restart (§4.2, invariant 5).
type CommandLog struct {
	db     *sql.DB
	gen    idgen.Generator
	bus    EventEmitter
	logger *slog.Logger
}

// Option configures a CommandLog.
type Option func(*CommandLog)

func WithIDGenerator(g idgen.Generator) Option { return func(c *CommandLog) { c.gen = g } }
func WithTelemetry(bus EventEmitter) Option    { return func(c *CommandLog) { c.bus = bus } }
func WithLogger(l *slog.Logger) Option         { return func(c *CommandLog) { c.logger = l } }

// New wraps db. Call EnsureSchema once at startup.
func New(db *sql.DB, opts ...Option) *CommandLog {
	c := &CommandLog{db: db, gen: idgen.Default, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EnsureSchema creates the command_log table if it doesn't exist.
func (c *CommandLog) EnsureSchema(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS command_log (
			id         TEXT PRIMARY KEY,
			tool       TEXT NOT NULL,
			args       TEXT NOT NULL,
			window_id  TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_command_log_created ON command_log (created_at);
		CREATE INDEX IF NOT EXISTS idx_command_log_window ON command_log (window_id);
	`)
	return err
}

// Persist records env if it isn't ephemeral, using idempotencyKey (then
// env.ID, then a fresh id) as the row id so a re-applied duplicate envelope
// overwrites its own prior row instead of appending a second one. Failures
// are logged and swallowed: persistence is best-effort bookkeeping, never a
// reason to fail a batch that otherwise applied cleanly.
func (c *CommandLog) Persist(ctx context.Context, env schema.Envelope) {
	if env.IsEphemeral() {
		return
	}

	id := env.IdempotencyKey
	if id == "" {
		id = env.ID
	}
	if id == "" {
		id = c.gen()
	}

	if _, err := c.db.ExecContext(ctx,
		`INSERT INTO command_log (id, tool, args, window_id, created_at) VALUES (?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET tool=excluded.tool, args=excluded.args,
		 window_id=excluded.window_id, created_at=excluded.created_at`,
		id, string(env.Op), string(env.Params), env.WindowID, time.Now().UnixMilli(),
	); err != nil {
		c.logger.WarnContext(ctx, "command log persist failed",
			"op", env.Op, "id", id, "error", err)
	}
}

// Clear deletes persisted commands, scoped to windowID when non-empty.
func (c *CommandLog) Clear(ctx context.Context, windowID string) error {
	if windowID == "" {
		_, err := c.db.ExecContext(ctx, `DELETE FROM command_log`)
		return err
	}
	_, err := c.db.ExecContext(ctx, `DELETE FROM command_log WHERE window_id = ?`, windowID)
	return err
}

// progressInterval is how often ReplayAll emits a replay_progress event.
const progressInterval = 20

// ReplayAll fetches every persisted command in insertion order and
// re-dispatches it through applier, deduping by (tool, canonical args) so a
// command that was persisted twice under two different ids (e.g. an
// idempotency-key retry that happened to also carry a fresh envelope id)
// only replays once, preserving the first occurrence's position — invariant
// 5's "replay preserves original application order". Progress is reported
// every progressInterval rows and once more on completion so a host UI can
// show a restore progress bar without polling.
func (c *CommandLog) ReplayAll(ctx context.Context, applier Applier) (int, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, tool, args, window_id, created_at FROM command_log ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return 0, fmt.Errorf("cmdlog: replay query: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	replayed := 0
	runID := c.gen()

	for rows.Next() {
		var pc PersistedCommand
		var createdAtMs int64
		if err := rows.Scan(&pc.ID, &pc.Tool, &pc.Args, &pc.WindowID, &createdAtMs); err != nil {
			return replayed, fmt.Errorf("cmdlog: replay scan: %w", err)
		}
		pc.CreatedAt = time.UnixMilli(createdAtMs)

		dedupeKey, err := replayDedupeKey(pc.Tool, pc.Args)
		if err != nil {
			c.logger.WarnContext(ctx, "command log replay skipping malformed row",
				"id", pc.ID, "error", err)
			continue
		}
		if _, dup := seen[dedupeKey]; dup {
			continue
		}
		seen[dedupeKey] = struct{}{}

		env := schema.Envelope{
			Op:             pc.Tool,
			Params:         pc.Args,
			ID:             pc.ID,
			WindowID:       pc.WindowID,
			IdempotencyKey: pc.ID,
		}
		if err := applier.Apply(ctx, env, runID); err != nil {
			c.logger.ErrorContext(ctx, "command log replay apply failed",
				"id", pc.ID, "op", pc.Tool, "error", err)
			continue
		}

		replayed++
		if replayed%progressInterval == 0 {
			c.emitProgress(ctx, runID, replayed, false)
		}
	}
	if err := rows.Err(); err != nil {
		return replayed, fmt.Errorf("cmdlog: replay rows: %w", err)
	}

	c.emitProgress(ctx, runID, replayed, true)
	return replayed, nil
}

func (c *CommandLog) emitProgress(ctx context.Context, runID string, count int, done bool) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(ctx, "replay_progress", map[string]any{
		"runId": runID, "count": count, "done": done,
	})
}

// replayDedupeKey canonicalises (tool, args) so structurally identical
// commands collapse regardless of key order in the stored JSON.
func replayDedupeKey(tool schema.Op, args json.RawMessage) (string, error) {
	var parsed any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &parsed); err != nil {
			return "", err
		}
	}
	hash, err := canon.Hash([2]any{string(tool), parsed})
	if err != nil {
		return "", err
	}
	return hash, nil
}
