// Package audit records structured audit events for policy decisions:
// guardrail blocks, rejected actions, and executed actions. Components
// emit events instead of writing raw content into logs, so retention
// and redaction policy live here rather than in the decision logic.
//
// The store is nil-safe: calling Record on a nil *Store is a no-op, so
// components do not need guard checks.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Source constants identify which component emitted an event.
const (
	// SourceGuardrail identifies events from the input guardrail.
	SourceGuardrail = "guardrail"
	// SourceAction identifies events from the action policy.
	SourceAction = "action"
)

// Kind constants describe the type of event within a source.
const (
	// KindInputBlocked signals the guardrail rejected an input.
	KindInputBlocked = "input_blocked"
	// KindProbeFailed signals the guardrail's classification probe
	// failed and the input was rejected fail-closed.
	KindProbeFailed = "probe_failed"
	// KindActionBlocked signals the action policy rejected a request.
	KindActionBlocked = "action_blocked"
	// KindActionExecuted signals a validated action was executed.
	KindActionExecuted = "action_executed"
)

// previewLimit caps how much of the offending content an event keeps.
// Full payloads never reach the audit trail or the logs.
const previewLimit = 120

// Event is one recorded policy decision.
type Event struct {
	ID      string    `json:"id"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source"`
	Kind    string    `json:"kind"`
	Reason  string    `json:"reason"`
	Preview string    `json:"preview"`
	Detail  string    `json:"detail,omitempty"`
}

// Recorder is the emission interface components depend on.
type Recorder interface {
	Record(e Event)
}

// Store persists audit events to SQLite. All public methods are safe
// for concurrent use (SQLite serializes writes).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore creates an audit store at the given database path. The
// schema is created automatically on first use.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit database: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id         TEXT NOT NULL PRIMARY KEY,
		time       TEXT NOT NULL,
		source     TEXT NOT NULL,
		kind       TEXT NOT NULL,
		reason     TEXT NOT NULL,
		preview    TEXT NOT NULL,
		detail     TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_events_time ON audit_events (time);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record persists an event, assigning an ID and timestamp if unset,
// and truncating the preview. Persistence failures are logged, never
// propagated: losing one audit row must not fail the turn that
// produced it.
func (s *Store) Record(e Event) {
	if s == nil {
		return
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	e.Preview = Truncate(e.Preview, previewLimit)

	s.logger.Warn("audit event",
		"source", e.Source,
		"kind", e.Kind,
		"reason", e.Reason,
		"preview", e.Preview,
	)

	_, err := s.db.Exec(
		`INSERT INTO audit_events (id, time, source, kind, reason, preview, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Time.Format(time.RFC3339Nano), e.Source, e.Kind, e.Reason, e.Preview, e.Detail,
	)
	if err != nil {
		s.logger.Error("audit event persist failed", "kind", e.Kind, "error", err)
	}
}

// Recent returns up to limit events, newest first.
func (s *Store) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, time, source, kind, reason, preview, detail
		 FROM audit_events ORDER BY time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Source, &e.Kind, &e.Reason, &e.Preview, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Time, _ = time.Parse(time.RFC3339Nano, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Truncate limits s to at most n runes, appending an ellipsis marker
// when anything was cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
