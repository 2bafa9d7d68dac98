// Package journal persists emitted lifecycle events in SQLite. Terminal
// executions are not retained in memory, so the journal is the local record
// of what happened to a workflow after it is gone.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/chatflow/internal/dispatch"
	"github.com/petrijr/chatflow/pkg/api"
)

// Entry is one journaled event.
type Entry struct {
	ExecutionID string
	EventType   string
	At          time.Time
	Data        map[string]any
}

// Journal is an append-only SQLite store of workflow lifecycle events.
type Journal struct {
	db *sql.DB
}

// Open creates (or opens) the journal database at path. Use ":memory:" for
// an ephemeral journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			at INTEGER NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_events_execution_id
			ON workflow_events(execution_id, id);
	`)
	if err != nil {
		return fmt.Errorf("init journal schema: %w", err)
	}
	return nil
}

// Append records one event. The execution id is read from the event data.
func (j *Journal) Append(ctx context.Context, eventType string, data map[string]any) error {
	executionID, _ := data["execution_id"].(string)
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO workflow_events (execution_id, event_type, at, data)
		VALUES (?, ?, ?, ?)`,
		executionID,
		eventType,
		time.Now().UnixNano(),
		string(encoded),
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// List returns the journaled events for one execution in append order.
func (j *Journal) List(ctx context.Context, executionID string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT execution_id, event_type, at, data
		FROM workflow_events
		WHERE execution_id = ?
		ORDER BY id ASC`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry   Entry
			atNanos int64
			data    string
		)
		if err := rows.Scan(&entry.ExecutionID, &entry.EventType, &atNanos, &data); err != nil {
			return nil, err
		}
		entry.At = time.Unix(0, atNanos)
		if err := json.Unmarshal([]byte(data), &entry.Data); err != nil {
			return nil, fmt.Errorf("decode journal entry: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Register subscribes the journal to every lifecycle event type.
func (j *Journal) Register(d *dispatch.Dispatcher) {
	for _, eventType := range []string{
		api.EventWorkflowStarted,
		api.EventStepCompleted,
		api.EventStepFailed,
		api.EventWorkflowCompleted,
		api.EventWorkflowCancelled,
	} {
		d.RegisterHandler(eventType, j.handler(eventType))
	}
}

func (j *Journal) handler(eventType string) dispatch.Handler {
	return func(ctx context.Context, data map[string]any) error {
		return j.Append(ctx, eventType, data)
	}
}

func (j *Journal) Close() error {
	return j.db.Close()
}
