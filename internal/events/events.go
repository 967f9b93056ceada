// Package events mirrors pipeline transitions into Postgres for offline
// analysis. The mirror is strictly optional: with no DSN configured every
// call is a no-op, and recording failures never affect a pipeline.
package events

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// queueSize bounds buffered event records. Overflow drops the record; the
// mirror is best-effort.
const queueSize = 256

type record struct {
	project   string
	event     string
	stage     string
	iteration int
	detail    string
}

// Recorder is the Postgres event sink. The zero-value (or nil) Recorder is
// a working no-op.
type Recorder struct {
	conn   *sql.DB
	queue  chan record
	logger *slog.Logger
}

// Open connects to Postgres and starts the writer goroutine. An empty DSN
// returns a no-op Recorder.
func Open(dsn string, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dsn == "" {
		return &Recorder{logger: logger}, nil
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open events database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping events database: %w", err)
	}

	r := &Recorder{
		conn:   conn,
		queue:  make(chan record, queueSize),
		logger: logger,
	}
	if err := r.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	go r.writer()
	return r, nil
}

// Close stops the writer and closes the connection.
func (r *Recorder) Close() error {
	if r.conn == nil {
		return nil
	}
	close(r.queue)
	return r.conn.Close()
}

// LogPipelineEvent enqueues one transition record. Never blocks.
func (r *Recorder) LogPipelineEvent(project, event, stage string, iteration int, detail string) {
	if r == nil || r.conn == nil {
		return
	}
	select {
	case r.queue <- record{project, event, stage, iteration, detail}:
	default:
		r.logger.Debug("event queue full, dropping", "event", event)
	}
}

func (r *Recorder) writer() {
	for rec := range r.queue {
		_, err := r.conn.Exec(
			`INSERT INTO pipeline_events (project, event, stage, iteration, detail) VALUES ($1, $2, $3, $4, $5)`,
			rec.project, rec.event, rec.stage, rec.iteration, rec.detail,
		)
		if err != nil {
			r.logger.Warn("event insert failed", "event", rec.event, "error", err)
		}
	}
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pipeline_events (
    id         BIGSERIAL PRIMARY KEY,
    project    TEXT NOT NULL,
    event      TEXT NOT NULL,
    stage      TEXT,
    iteration  INTEGER,
    detail     TEXT,
    timestamp  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_events_project ON pipeline_events(project, timestamp DESC);
`

func (r *Recorder) migrate() error {
	var count int
	err := r.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := r.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1) ON CONFLICT DO NOTHING"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
