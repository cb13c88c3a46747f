package tracesink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/germanamz/modelrouter/pkg/dispatch"
	"github.com/germanamz/modelrouter/pkg/router"

	_ "modernc.org/sqlite"
)

var _ router.TraceSink = (*SQLite)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS routing_traces (
	trace_id       TEXT PRIMARY KEY,
	created_at     INTEGER NOT NULL,
	mode           TEXT NOT NULL,
	reason         TEXT NOT NULL,
	selected_model TEXT NOT NULL,
	fallback_chain TEXT NOT NULL,
	used_models    TEXT NOT NULL,
	attachments    TEXT NOT NULL,
	asr_provider   TEXT NOT NULL,
	served_model   TEXT NOT NULL DEFAULT '',
	attempts       TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_routing_traces_created_at ON routing_traces(created_at);
`

// SQLite persists traces to a SQLite database.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens or creates the trace database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("tracesink: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("tracesink: apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("tracesink: init schema: %w", err)
	}

	return &SQLite{db: db, log: logger}, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Emit implements router.TraceSink. Write failures are logged.
func (s *SQLite) Emit(ctx context.Context, t *router.Trace) {
	if err := s.Insert(ctx, t); err != nil {
		s.log.WarnContext(ctx, "tracesink: persist trace failed", "trace_id", t.ID(), "error", err)
	}
}

// Insert stores t.
func (s *SQLite) Insert(ctx context.Context, t *router.Trace) error {
	rec := t.Record()

	chain, err := json.Marshal(rec.FallbackChain)
	if err != nil {
		return fmt.Errorf("tracesink: encode fallback chain: %w", err)
	}
	used, err := json.Marshal(rec.UsedModels)
	if err != nil {
		return fmt.Errorf("tracesink: encode used models: %w", err)
	}
	atts, err := json.Marshal(rec.Attachments)
	if err != nil {
		return fmt.Errorf("tracesink: encode attachments: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routing_traces (
			trace_id, created_at, mode, reason, selected_model,
			fallback_chain, used_models, attachments, asr_provider
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.Timestamp.UnixMilli(), string(rec.Mode), string(rec.Reason), rec.SelectedModel,
		string(chain), string(used), string(atts), rec.ASRProvider,
	)
	if err != nil {
		return fmt.Errorf("tracesink: insert trace: %w", err)
	}

	return nil
}

// RecordDispatch stores the model that served a trace's turn and the failed
// attempts that preceded it. servedModel is empty when dispatch failed.
func (s *SQLite) RecordDispatch(ctx context.Context, traceID, servedModel string, attempts []dispatch.Attempt) error {
	if attempts == nil {
		attempts = []dispatch.Attempt{}
	}

	enc, err := json.Marshal(attempts)
	if err != nil {
		return fmt.Errorf("tracesink: encode attempts: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE routing_traces SET served_model = ?, attempts = ? WHERE trace_id = ?`,
		servedModel, string(enc), traceID,
	)
	if err != nil {
		return fmt.Errorf("tracesink: record dispatch: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("tracesink: record dispatch: unknown trace %q", traceID)
	}

	return nil
}

// Entry is a stored trace.
type Entry struct {
	router.TraceRecord
	ServedModel string             `json:"served_model"`
	Attempts    []dispatch.Attempt `json:"attempts"`
}

// Recent returns up to limit traces, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, created_at, mode, reason, selected_model,
			fallback_chain, used_models, attachments, asr_provider, served_model, attempts
		FROM routing_traces
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tracesink: query traces: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                        Entry
			createdAt                int64
			mode, reason             string
			chain, used, atts, tries string
		)
		if err := rows.Scan(&e.TraceID, &createdAt, &mode, &reason, &e.SelectedModel,
			&chain, &used, &atts, &e.ASRProvider, &e.ServedModel, &tries); err != nil {
			return nil, fmt.Errorf("tracesink: scan trace: %w", err)
		}

		e.Timestamp = time.UnixMilli(createdAt)
		e.Mode = router.Mode(mode)
		e.Reason = router.Reason(reason)

		if err := decodeColumns(
			column{chain, &e.FallbackChain},
			column{used, &e.UsedModels},
			column{atts, &e.Attachments},
			column{tries, &e.Attempts},
		); err != nil {
			return nil, fmt.Errorf("tracesink: decode trace %s: %w", e.TraceID, err)
		}

		out = append(out, e)
	}

	return out, rows.Err()
}

type column struct {
	raw string
	dst any
}

func decodeColumns(cols ...column) error {
	for _, c := range cols {
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return err
		}
	}
	return nil
}
