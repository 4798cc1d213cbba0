// Package sqlite provides the embedded SQLite task store.
//
// The database runs in embedded mode through the ncruces WASM build of
// SQLite, with WAL enabled so that `bugwarrior status` can read while a
// pull is writing.
//
// Layout:
//   - tasks: one row per task; the open-ended field map is a JSON column
//   - udas: registered custom field declarations
//   - Indexes: status (for id allocation and completion scans)
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/bugwarrior/internal/store"
	"github.com/mschirtzinger/bugwarrior/internal/uda"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store is a store.Store backed by an SQLite database file.
type Store struct {
	conn *sql.DB
	path string

	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open creates a new database connection at the specified path and
// initializes the schema.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	return OpenContext(context.Background(), path)
}

// OpenContext opens the store with context support.
func OpenContext(ctx context.Context, path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// A sync run is a single writer; one connection keeps transactions
	// serialized without relying on busy retries.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, Now: time.Now}

	if _, err := s.conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := s.InitSchemaContext(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Path implements store.Store.
func (s *Store) Path() string { return s.path }

// InitSchema creates the database schema if it doesn't exist. It is
// idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		uuid TEXT PRIMARY KEY,
		id INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		description TEXT NOT NULL,
		fields TEXT NOT NULL,  -- JSON object
		entry TEXT NOT NULL,
		modified TEXT NOT NULL,
		end_at TEXT
	);

	CREATE TABLE IF NOT EXISTS udas (
		key TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		label TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_entry ON tasks(entry);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RegisterUDAs implements store.Store. Re-registering a key replaces its
// type and label; an identical entry leaves the row unchanged.
func (s *Store) RegisterUDAs(ctx context.Context, fields []uda.Field) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO udas (key, type, label) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET
		type = excluded.type,
		label = excluded.label
	WHERE udas.type != excluded.type OR udas.label != excluded.label
	`
	for _, f := range fields {
		if _, err := tx.ExecContext(ctx, query, f.Key, string(f.Type), f.Label); err != nil {
			return fmt.Errorf("failed to register uda %s: %w", f.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UDAs returns the registered custom fields sorted by key.
func (s *Store) UDAs(ctx context.Context) ([]uda.Field, error) {
	return queryUDAs(ctx, s.conn)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryUDAs(ctx context.Context, q querier) ([]uda.Field, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, type, label FROM udas ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query udas: %w", err)
	}
	defer rows.Close()

	var fields []uda.Field
	for rows.Next() {
		var f uda.Field
		var typ string
		if err := rows.Scan(&f.Key, &typ, &f.Label); err != nil {
			return nil, fmt.Errorf("failed to scan uda: %w", err)
		}
		f.Type = uda.Type(typ)
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating udas: %w", err)
	}
	return fields, nil
}

// Load implements store.Store. Tasks are ordered by entry time.
func (s *Store) Load(ctx context.Context) ([]*store.Task, error) {
	fields, err := queryUDAs(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	udas := uda.Index(fields)

	rows, err := s.conn.QueryContext(ctx, `
	SELECT uuid, id, status, fields, entry, modified, end_at
	FROM tasks
	ORDER BY entry ASC, uuid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*store.Task
	for rows.Next() {
		task, err := scanTask(rows, udas)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// Get retrieves a single task by uuid. Returns store.ErrNotFound if the
// task does not exist.
func (s *Store) Get(ctx context.Context, id string) (*store.Task, error) {
	fields, err := queryUDAs(ctx, s.conn)
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `
	SELECT uuid, id, status, fields, entry, modified, end_at
	FROM tasks
	WHERE uuid = ?
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query task %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to query task %s: %w", id, err)
		}
		return nil, fmt.Errorf("%s: %w", id, store.ErrNotFound)
	}
	return scanTask(rows, uda.Index(fields))
}

func scanTask(rows *sql.Rows, udas map[string]uda.Field) (*store.Task, error) {
	var task store.Task
	var status, fieldsJSON, entry, modified string
	var end sql.NullString

	if err := rows.Scan(&task.UUID, &task.ID, &status, &fieldsJSON, &entry, &modified, &end); err != nil {
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	task.Status = store.Status(status)

	if t, err := time.Parse(time.RFC3339Nano, entry); err == nil {
		task.Entry = t
	}
	if t, err := time.Parse(time.RFC3339Nano, modified); err == nil {
		task.Modified = t
	}
	task.End = nullStringToTime(end)

	var raw map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fields of %s: %w", task.UUID, err)
	}
	decoded, err := store.DecodeFields(raw, udas, store.ParseRFC3339)
	if err != nil {
		return nil, fmt.Errorf("task %s: %w", task.UUID, err)
	}
	task.Fields = decoded

	return &task, nil
}

// Save implements store.Store. The task is validated and written in one
// transaction; on success t carries the stored uuid, id and timestamps.
func (s *Store) Save(ctx context.Context, t *store.Task) error {
	t.SetDefaults()
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	fields, err := queryUDAs(ctx, tx)
	if err != nil {
		return err
	}
	if err := store.ValidateFields(t, uda.Index(fields)); err != nil {
		return err
	}

	now := s.Now().UTC()
	saved := t.Clone()
	if saved.UUID == "" {
		saved.UUID = uuid.NewString()
		saved.Entry = now
	} else {
		var entry string
		err := tx.QueryRowContext(ctx, `SELECT entry FROM tasks WHERE uuid = ?`, saved.UUID).Scan(&entry)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", saved.UUID, store.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to query task %s: %w", saved.UUID, err)
		}
	}
	saved.Modified = now

	if !saved.IsActive() {
		saved.ID = 0
	} else if saved.ID == 0 {
		var maxID sql.NullInt64
		err := tx.QueryRowContext(ctx,
			`SELECT MAX(id) FROM tasks WHERE status IN ('pending', 'waiting') AND uuid != ?`,
			saved.UUID,
		).Scan(&maxID)
		if err != nil {
			return fmt.Errorf("failed to allocate id: %w", err)
		}
		saved.ID = int(maxID.Int64) + 1
	}

	fieldsJSON, err := json.Marshal(store.EncodeFields(saved.Fields, time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}

	query := `
	INSERT INTO tasks (uuid, id, status, description, fields, entry, modified, end_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uuid) DO UPDATE SET
		id = excluded.id,
		status = excluded.status,
		description = excluded.description,
		fields = excluded.fields,
		modified = excluded.modified,
		end_at = excluded.end_at
	`
	_, err = tx.ExecContext(ctx, query,
		saved.UUID,
		saved.ID,
		string(saved.Status),
		saved.Description(),
		string(fieldsJSON),
		saved.Entry.UTC().Format(time.RFC3339Nano),
		saved.Modified.Format(time.RFC3339Nano),
		timeToNullString(saved.End),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", saved.UUID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.UUID, t.ID, t.Entry, t.Modified = saved.UUID, saved.ID, saved.Entry, saved.Modified
	return nil
}

// CountByStatus returns the number of tasks per status.
func (s *Store) CountByStatus(ctx context.Context) (map[store.Status]int, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[store.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[store.Status(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating counts: %w", err)
	}
	return counts, nil
}

// timeToNullString converts a time pointer to a nullable string for SQL.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
