package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"taskpilot/internal/logging"
	"taskpilot/internal/task"
)

// Driver names accepted by OpenSQL.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCgo     = "sqlite3" // github.com/mattn/go-sqlite3
)

// SQLStore is a task.Store on SQLite.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQL initializes the SQLite database at path using the named driver.
// path ":memory:" keeps everything in process.
func OpenSQL(driver, path string) (*SQLStore, error) {
	if driver != DriverModernc && driver != DriverCgo {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" coherent and serializes writers.
	db.SetMaxOpenConns(1)

	s := &SQLStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("opened %s store at %s", driver, path)
	return s, nil
}

func dsn(driver, path string) string {
	if path == ":memory:" {
		return path
	}
	if driver == DriverCgo {
		return path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	}
	return "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

func (s *SQLStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		due_date TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_owner_created ON tasks(owner_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// SetClock replaces the time source used to stamp updates.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

// EnsureActor inserts the actor unless a row with its id or email already exists.
func (s *SQLStore) EnsureActor(ctx context.Context, a task.Actor) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (id, email, name, created_at) VALUES (?, ?, ?, ?)`,
		a.ID, a.Email, a.Name, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("ensure actor: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Store("created actor %s (%s)", a.ID, a.Email)
	}
	return nil
}

const taskColumns = `id, owner_id, title, description, priority, due_date, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*task.Task, error) {
	var (
		t         task.Task
		desc, due sql.NullString
		status    string
		created   int64
		updated   int64
	)
	if err := r.Scan(&t.ID, &t.OwnerID, &t.Title, &desc, &t.Priority, &due, &status, &created, &updated); err != nil {
		return nil, err
	}
	if desc.Valid {
		d := desc.String
		t.Description = &d
	}
	if due.Valid && due.String != "" {
		d, err := task.ParseDate(due.String)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", t.ID, err)
		}
		t.DueDate = &d
	}
	t.Status = task.Status(status)
	t.CreatedAt = time.Unix(0, created).UTC()
	t.UpdatedAt = time.Unix(0, updated).UTC()
	return &t, nil
}

func taskArgs(t *task.Task) (desc, due any) {
	if t.Description != nil {
		desc = *t.Description
	}
	if t.DueDate != nil {
		due = t.DueDate.String()
	}
	return desc, due
}

func (s *SQLStore) Create(ctx context.Context, t *task.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("create: task id required")
	}
	desc, due := taskArgs(t)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OwnerID, t.Title, desc, t.Priority, due, string(t.Status),
		t.CreatedAt.UnixNano(), t.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	logging.StoreDebug("created task %s", t.ID)
	return nil
}

func (s *SQLStore) Get(ctx context.Context, ownerID, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// Update reads, patches and writes the row inside one transaction.
func (s *SQLStore) Update(ctx context.Context, ownerID, id string, p task.Patch) (*task.Task, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	p.Apply(t, s.now())
	desc, due := taskArgs(t)
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, priority = ?, due_date = ?, status = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		t.Title, desc, t.Priority, due, string(t.Status), t.UpdatedAt.UnixNano(), id, ownerID)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return t, nil
}

func (s *SQLStore) Delete(ctx context.Context, ownerID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task with ID %s not found", task.ErrNotFound, id)
	}
	logging.StoreDebug("deleted task %s", id)
	return nil
}

func (s *SQLStore) List(ctx context.Context, ownerID string, f task.Filter) ([]*task.Task, error) {
	var (
		where = []string{"owner_id = ?"}
		args  = []any{ownerID}
	)
	if f.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*f.Status))
	}
	// SQLite's lower() only folds ASCII, so text matching happens in Go
	// and the limit is applied after it.
	textual := strings.TrimSpace(f.Query) != ""
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 && !textual {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		if textual && !t.Matches(f.Query) {
			continue
		}
		out = append(out, t)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *SQLStore) Search(ctx context.Context, ownerID, text string) ([]*task.Task, error) {
	if strings.TrimSpace(text) == "" {
		return []*task.Task{}, nil
	}
	return s.List(ctx, ownerID, task.Filter{Query: text})
}

var (
	_ task.Store      = (*SQLStore)(nil)
	_ task.ActorStore = (*SQLStore)(nil)
)
