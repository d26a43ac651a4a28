package tracing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// ErrJournalClosed is returned by a closed SQLite exporter.
var ErrJournalClosed = errors.New("trace journal is closed")

// SQLiteExporter appends events to a local trace_events table. The journal
// is an export target only; swarm state is never read back from it.
type SQLiteExporter struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// NewSQLiteExporter opens or creates the journal at dbPath.
func NewSQLiteExporter(dbPath string) (*SQLiteExporter, error) {
	if dbPath == "" {
		dbPath = "flyswarm-traces.db"
	}

	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open trace journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	e := &SQLiteExporter{db: db}
	if err := e.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return e, nil
}

func (e *SQLiteExporter) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS trace_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			swarm_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			ts INTEGER NOT NULL,
			attributes TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trace_events_swarm ON trace_events(swarm_id, ts);
		CREATE INDEX IF NOT EXISTS idx_trace_events_kind ON trace_events(kind);
	`

	if _, err := e.db.Exec(schema); err != nil {
		return fmt.Errorf("create trace journal schema: %w", err)
	}
	return nil
}

// Export inserts event.
func (e *SQLiteExporter) Export(ctx context.Context, event Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrJournalClosed
	}

	attrs, err := json.Marshal(event.Attributes)
	if err != nil {
		return fmt.Errorf("encode trace attributes: %w", err)
	}

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO trace_events (swarm_id, kind, ts, attributes)
		VALUES (?, ?, ?, ?)
	`, event.SwarmID, string(event.Kind), event.Timestamp, string(attrs))
	if err != nil {
		return fmt.Errorf("insert trace event: %w", err)
	}
	return nil
}

// Query returns up to limit events in insertion order. An empty swarmID
// matches every swarm; a non-positive limit returns everything.
func (e *SQLiteExporter) Query(ctx context.Context, swarmID string, limit int) ([]Event, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrJournalClosed
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT swarm_id, kind, ts, attributes
		FROM trace_events
		WHERE (? = '' OR swarm_id = ?)
		ORDER BY id
		LIMIT ?
	`, swarmID, swarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trace events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev    Event
			kind  string
			attrs string
		)
		if err := rows.Scan(&ev.SwarmID, &kind, &ev.Timestamp, &attrs); err != nil {
			return nil, fmt.Errorf("scan trace event: %w", err)
		}
		ev.Kind = Kind(kind)
		if err := json.Unmarshal([]byte(attrs), &ev.Attributes); err != nil {
			return nil, fmt.Errorf("decode trace attributes: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database.
func (e *SQLiteExporter) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}
