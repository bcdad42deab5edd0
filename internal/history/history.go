// Package history provides persistence for join and launch events.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Entry kinds.
const (
	KindLaunch = "launch"
	KindSocial = "social"
)

// Entry is a single recorded account action.
type Entry struct {
	ID        int64
	UserID    uint64
	Username  string
	Kind      string
	Detail    string
	PlaceID   uint64
	JobID     string
	CreatedAt time.Time
}

// SQLiteRepository stores join history in a SQLite database.
type SQLiteRepository struct {
	// DB is the database handle for executing queries.
	DB *sql.DB
}

// NewSQLiteRepository creates a repository over the given database connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{DB: db}
}

// Open opens (creating if needed) the history database at path and prepares
// the schema.
func Open(ctx context.Context, path string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	r := NewSQLiteRepository(db)
	if err := r.Init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Init creates the history table if it does not exist.
func (r *SQLiteRepository) Init(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS account_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '',
		place_id INTEGER NOT NULL DEFAULT 0,
		job_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

// Record inserts an action event.
func (r *SQLiteRepository) Record(ctx context.Context, e Entry) error {
	_, err := r.DB.ExecContext(
		ctx,
		`INSERT INTO account_history (user_id, username, kind, detail, place_id, job_id) VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID, e.Username, e.Kind, e.Detail, e.PlaceID, e.JobID,
	)
	return err
}

// Recent returns the newest entries, most recent first.
func (r *SQLiteRepository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := r.DB.QueryContext(
		ctx,
		`SELECT id, user_id, username, kind, detail, place_id, job_id, created_at FROM account_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Username, &e.Kind, &e.Detail, &e.PlaceID, &e.JobID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the cutoff, returning the count removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.DB.ExecContext(
		ctx,
		`DELETE FROM account_history WHERE created_at < ?`,
		before,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	return r.DB.Close()
}
