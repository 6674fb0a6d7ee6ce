// Command uicpd is the reference host process for the command adapter: it
// wires every module into a single orchestrator.AdapterContext and exposes
// it over HTTP as POST /batch, following the shape of cmd/chrc/main.go
// (chi router, shield's default middleware stack, env-var configuration,
// JSON slog on stdout) adapted to a headless command-plane service rather
// than an authenticated multi-tenant web app.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/uicp/coreadapter/apirouter"
	"github.com/uicp/coreadapter/cmdlog"
	"github.com/uicp/coreadapter/component"
	"github.com/uicp/coreadapter/dbopen"
	"github.com/uicp/coreadapter/domapply"
	"github.com/uicp/coreadapter/observability"
	"github.com/uicp/coreadapter/orchestrator"
	"github.com/uicp/coreadapter/policy"
	"github.com/uicp/coreadapter/queue"
	"github.com/uicp/coreadapter/schema"
	"github.com/uicp/coreadapter/shield"
	"github.com/uicp/coreadapter/state"
	"github.com/uicp/coreadapter/telemetry"
	"github.com/uicp/coreadapter/watch"
	"github.com/uicp/coreadapter/windowmgr"
	_ "modernc.org/sqlite"
)

func main() {
	dbPath := env("UICPD_DB", "db/uicpd.db")
	policyPath := env("UICPD_POLICY_FILE", "db/policy.json")
	addr := env("UICPD_ADDR", ":8095")
	logLevel := env("LOG_LEVEL", "info")

	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("db open", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	dedup := cmdlog.NewDedupLedger(db)
	if err := dedup.EnsureSchema(ctx); err != nil {
		slog.Error("dedup schema", "error", err)
		os.Exit(1)
	}
	commands := cmdlog.New(db, cmdlog.WithLogger(logger))
	if err := commands.EnsureSchema(ctx); err != nil {
		slog.Error("command log schema", "error", err)
		os.Exit(1)
	}

	// A real TracerProvider makes every span telemetry.Bus starts actually
	// record (span.IsRecording() is false against the global no-op
	// tracer), without which the span-event half of Bus.Emit would be
	// dead code. No exporter is registered — spans are recorded and
	// discarded at End() — since this binary has nowhere of its own to
	// ship traces to; a host wanting real trace export registers its own
	// exporter-backed provider before constructing the Bus.
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	defer tp.Shutdown(context.Background())
	otel.SetTracerProvider(tp)

	bus := telemetry.New(telemetry.WithLogger(logger), telemetry.WithTracerName("uicpd"))
	defer bus.Stop()

	if err := observability.Init(db); err != nil {
		slog.Error("observability schema", "error", err)
		os.Exit(1)
	}
	audit := observability.NewAuditLogger(db, 1000)
	defer audit.Close()
	metrics := observability.NewMetricsManager(db, 100, 5*time.Second)
	defer metrics.Close()
	bus.Subscribe(func(ctx context.Context, ev telemetry.Event) {
		auditTelemetryEvent(ctx, audit, metrics, ev)
	})

	heartbeat := observability.NewHeartbeatWriter(db, "uicpd", 15*time.Second)
	heartbeat.Start(ctx)
	defer heartbeat.Stop()

	windows := windowmgr.New(windowmgr.WithLogger(logger))
	dom := domapply.New(windows, loggingSink{logger: logger}, domapply.WithLogger(logger))
	components := component.New(dom, component.WithLogger(logger))
	st := state.New(state.WithDomSink(dom), state.WithTelemetry(bus), state.WithLogger(logger))
	api := apirouter.New(apirouter.WithLogger(logger))
	api.RegisterStateStore(st)
	pol := policy.New(policy.WithPolicyFile(policyPath), policy.WithTelemetry(bus), policy.WithLogger(logger))
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		digest TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`); err != nil {
		slog.Error("checkpoints schema", "error", err)
		os.Exit(1)
	}

	dispatcher := queue.NewDispatcher(ctx, queue.WithLogger(logger))
	defer dispatcher.Stop()
	checkpointer := queue.NewCheckpointer(dbCheckpointSink{db: db, logger: logger}, logger)

	adapter := orchestrator.New(windows, dom, components, st, api, pol, commands, dedup, dispatcher, checkpointer, bus, orchestrator.WithLogger(logger))

	replayed, err := commands.ReplayAll(ctx, adapter)
	if err != nil {
		slog.Error("command log replay", "error", err)
	} else {
		slog.Info("command log replayed", "count", replayed)
	}
	adapter.RegisterWorkspace(ctx)

	// PRAGMA data_version advances whenever any connection writes to the
	// database file, including a writer outside this process (an admin
	// poking the command log directly). Recomputing the checkpoint on that
	// signal catches drift a pure in-process Trigger call after applyBatch
	// would miss.
	driftWatcher := watch.New(db, watch.Options{Interval: 2 * time.Second, Debounce: 3 * time.Second, Logger: logger})
	go driftWatcher.OnChange(ctx, func() error {
		checkpointer.Trigger(ctx, st.Snapshot())
		return nil
	})

	var ready atomic.Bool
	ready.Store(true)

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack() {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Get("/telemetry/stream", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, http.StatusInternalServerError, errStreamingUnsupported)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events := make(chan telemetry.Event, 64)
		unsubscribe := bus.Subscribe(func(_ context.Context, ev telemetry.Event) {
			select {
			case events <- ev:
			default:
			}
		})
		defer unsubscribe()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-events:
				b, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, b)
				flusher.Flush()
			}
		}
	})

	r.Post("/batch", func(w http.ResponseWriter, r *http.Request) {
		var batch schema.Batch
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		opts := orchestrator.Options{RunID: r.Header.Get("X-Run-Id"), AllowPartial: batch.AllowPartial}
		outcome, err := adapter.ApplyBatch(r.Context(), batch, opts)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("uicpd starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	ready.Store(false)
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// loggingSink is the headless reference domapply.Sink: it has no real DOM
// to mutate, so it records every apply as a structured log line. A real
// desktop shell host replaces this with its own Sink wired to the actual
// window tree.
type loggingSink struct {
	logger *slog.Logger
}

func (s loggingSink) ApplyDOM(ctx context.Context, windowID, target string, mode domapply.Mode, html string) error {
	s.logger.InfoContext(ctx, "dom.apply", "window_id", windowID, "target", target, "mode", mode, "bytes", len(html))
	return nil
}

// dbCheckpointSink persists checkpoint digests to the same database as the
// command log, giving queue.Checkpointer somewhere durable to write
// instead of the no-op a nil sink would produce.
type dbCheckpointSink struct {
	db     *sql.DB
	logger *slog.Logger
}

func (s dbCheckpointSink) RecordCheckpoint(ctx context.Context, digest string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (digest, created_at) VALUES (?, ?)`,
		digest, time.Now().UnixMilli())
	if err != nil {
		s.logger.WarnContext(ctx, "checkpoint write failed", "error", err)
	}
}

// auditTelemetryEvent is the bridge between telemetry.Bus's in-memory fan-out
// and observability's durable SQLite tables: every event the adapter emits
// becomes one audit_log row, and batch-apply outcomes additionally become
// metrics_timeseries datapoints for later trend queries.
func auditTelemetryEvent(ctx context.Context, audit *observability.AuditLogger, metrics *observability.MetricsManager, ev telemetry.Event) {
	meta, err := json.Marshal(ev.Attrs)
	if err != nil {
		meta = []byte("{}")
	}
	audit.LogAsync(&observability.AuditEntry{
		ComponentName: "orchestrator",
		OperationType: ev.Name,
		Metadata:      string(meta),
	})

	if ev.Name != "apply_end" {
		return
	}
	if applied, ok := ev.Attrs["applied"].(int); ok {
		metrics.RecordSimple("uicpd_batch_applied", float64(applied), "count")
	}
	if errCount, ok := ev.Attrs["errors"].(int); ok {
		metrics.RecordSimple("uicpd_batch_errors", float64(errCount), "count")
	}
}

var errStreamingUnsupported = errors.New("uicpd: response writer does not support streaming")

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
