package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry keeps pending jobs in a SQLite database.
type SQLiteRegistry struct {
	db    *sql.DB
	clock func() time.Time
}

// OpenSQLiteRegistry opens or creates the database at path.
func OpenSQLiteRegistry(ctx context.Context, path string) (*SQLiteRegistry, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &SQLiteRegistry{db: db, clock: time.Now}
	if err := r.initSchema(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRegistry) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS pending_jobs (
    content_id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (r *SQLiteRegistry) Put(ctx context.Context, contentID, jobID string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO pending_jobs(content_id, job_id, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(content_id) DO UPDATE SET job_id=excluded.job_id, created_at=excluded.created_at`,
		contentID, jobID, r.clock().UTC())
	return err
}

func (r *SQLiteRegistry) Get(ctx context.Context, contentID string) (string, error) {
	var jobID string
	err := r.db.QueryRowContext(ctx,
		`SELECT job_id FROM pending_jobs WHERE content_id = ?`, contentID).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return jobID, err
}

func (r *SQLiteRegistry) Delete(ctx context.Context, contentID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pending_jobs WHERE content_id = ?`, contentID)
	return err
}

func (r *SQLiteRegistry) All(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT content_id, job_id FROM pending_jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]string)
	for rows.Next() {
		var contentID, jobID string
		if err := rows.Scan(&contentID, &jobID); err != nil {
			return nil, err
		}
		out[contentID] = jobID
	}
	return out, rows.Err()
}

// Close releases the database.
func (r *SQLiteRegistry) Close() error {
	return r.db.Close()
}
