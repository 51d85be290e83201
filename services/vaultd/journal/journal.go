package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
	"github.com/google/uuid"

	"yieldvault/core/events"
)

const defaultFilePragmas = "mode=rwc&_busy_timeout=5000&_journal_mode=WAL"

const schema = `
CREATE TABLE IF NOT EXISTS vault_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    type TEXT NOT NULL,
    vault TEXT NOT NULL DEFAULT '',
    attributes TEXT NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vault_events_type ON vault_events(type);
`

// ErrPathRequired is returned when no journal path is configured.
var ErrPathRequired = errors.New("journal path must be configured")

// Entry is one recorded vault event.
type Entry struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Vault      string            `json:"vault,omitempty"`
	Attributes map[string]string `json:"attributes"`
	RecordedAt time.Time         `json:"recordedAt"`
}

// Journal appends every emitted vault event to SQLite.
type Journal struct {
	db      *sql.DB
	timeout time.Duration
	now     func() time.Time
}

// FileDSN converts a filesystem path into an on-disk SQLite DSN.
func FileDSN(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", ErrPathRequired
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve journal path: %w", err)
	}
	return fmt.Sprintf("file:%s?%s", abs, defaultFilePragmas), nil
}

// Open creates the journal at path, applying the schema if needed.
func Open(path string) (*Journal, error) {
	dsn, err := FileDSN(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db, timeout: 5 * time.Second, now: time.Now}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Emit implements events.Emitter. Write failures are logged; the vault
// state change they describe is already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || evt == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if _, err := j.Record(ctx, evt); err != nil {
		slog.Error("vaultd: journal write failed", "type", evt.EventType(), "error", err)
	}
}

// Record stores evt and returns the assigned entry id.
func (j *Journal) Record(ctx context.Context, evt events.Event) (string, error) {
	if j == nil || j.db == nil {
		return "", fmt.Errorf("journal not configured")
	}
	if evt == nil {
		return "", fmt.Errorf("nil event")
	}
	attrs := map[string]string{}
	if typed, ok := evt.(events.Recorder); ok {
		if rendered := typed.Event(); rendered != nil && rendered.Attributes != nil {
			attrs = rendered.Attributes
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return "", fmt.Errorf("encode attributes: %w", err)
	}
	id := uuid.NewString()
	_, err = j.db.ExecContext(ctx, `
        INSERT INTO vault_events(id, type, vault, attributes, recorded_at)
        VALUES(?, ?, ?, ?, ?)
    `, id, evt.EventType(), attrs["vault"], string(encoded), j.now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first, optionally filtered by
// event type.
func (j *Journal) Recent(ctx context.Context, eventType string, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, type, vault, attributes, recorded_at FROM vault_events`
	args := []any{}
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()
	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			entry Entry
			raw   string
		)
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Vault, &raw, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}
