// Package taskdb stores the server's task collection in SQLite.
package taskdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	_ "modernc.org/sqlite"
)

// Record is a task as the server stores it. Desc is nil when the task
// has no description.
type Record struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Desc      *string       `json:"desc"`
	Column    models.Column `json:"column"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store provides access to the task database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	"desc"      TEXT,
	"column"    TEXT NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS tasks_updated_at ON tasks (updated_at);
`

const recordColumns = `id, title, "desc", "column", created_at, updated_at`

// New opens (or creates) the SQLite database at path and applies the
// schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serialises writers; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns every task, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM tasks ORDER BY updated_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	records := []Record{}

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, r)
	}

	return records, rows.Err()
}

// Get returns a single task.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM tasks WHERE id = ?`, id)

	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%w: %s", kerrors.ErrTaskNotFound, id)
	}

	return r, err
}

// Create inserts a task with the caller's ID. An existing ID yields
// ErrTaskExists and leaves the stored task untouched.
func (s *Store) Create(ctx context.Context, task models.Task) (Record, error) {
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		task.ID, task.Title, nullable(task.Desc), string(task.Column), now, now,
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert task: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, fmt.Errorf("%w: %s", kerrors.ErrTaskExists, task.ID)
	}

	return Record{
		ID:        task.ID,
		Title:     task.Title,
		Desc:      nullable(task.Desc),
		Column:    task.Column,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update replaces title, desc and column of task id and bumps its
// updated_at. A missing ID yields ErrTaskNotFound.
func (s *Store) Update(ctx context.Context, id string, task models.Task) (Record, error) {
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET title = ?, "desc" = ?, "column" = ?, updated_at = ? WHERE id = ?`,
		task.Title, nullable(task.Desc), string(task.Column), now, id,
	)
	if err != nil {
		return Record{}, fmt.Errorf("update task: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		return Record{}, fmt.Errorf("%w: %s", kerrors.ErrTaskNotFound, id)
	}

	return s.Get(ctx, id)
}

// Delete removes task id. Deleting a missing ID is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		r      Record
		desc   sql.NullString
		column string
	)

	if err := sc.Scan(&r.ID, &r.Title, &desc, &column, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}

		return Record{}, fmt.Errorf("scan task: %w", err)
	}

	r.Column = models.Column(column)

	if desc.Valid {
		d := desc.String
		r.Desc = &d
	}

	return r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}

	return &s
}
