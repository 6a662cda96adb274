package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bookforge/bookforge/pkg/job"
)

func init() {
	RegisterFactory(BackendSQLite, func(cfg *Config) (Store, error) {
		return NewSQLiteStore(cfg)
	})
}

const sqliteSchema = `create table if not exists jobs (
	id           text primary key,
	status       text not null,
	created_at   datetime not null,
	completed_at datetime,
	payload      text not null
);
create index if not exists idx_jobs_status on jobs(status);`

// SQLiteStore persists jobs in an embedded SQLite database. The full job
// record is stored as a JSON payload alongside the columns needed for
// filtering, so the schema never chases the Go struct.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if needed) jobs.db under cfg.Dir.
func NewSQLiteStore(cfg *Config) (*SQLiteStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	path := filepath.Join(cfg.Dir, "jobs.db")
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(j *job.Job) error {
	payload, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", j.ID, err)
	}

	var completedAt any
	if j.CompletedAt != nil {
		completedAt = j.CompletedAt.UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(
		`insert into jobs (id, status, created_at, completed_at, payload)
		 values (?, ?, ?, ?, ?)
		 on conflict(id) do update set
		   status = excluded.status,
		   completed_at = excluded.completed_at,
		   payload = excluded.payload`,
		j.ID.String(), string(j.Status), j.CreatedAt.UTC(), completedAt, string(payload),
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(id uuid.UUID) (*job.Job, error) {
	var payload string
	err := s.db.QueryRow(`select payload from jobs where id = ?`, id.String()).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return decodeJobPayload(payload)
}

func (s *SQLiteStore) List() ([]*job.Job, error) {
	return s.query(`select payload from jobs`)
}

func (s *SQLiteStore) GetPending() ([]*job.Job, error) {
	return s.query(`select payload from jobs where status in (?, ?)`,
		string(job.StatusQueued), string(job.StatusProcessing))
}

func (s *SQLiteStore) query(q string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		j, err := decodeJobPayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`delete from jobs where id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Cleanup(olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.Exec(
		`delete from jobs where status in (?, ?, ?) and created_at < ?`,
		string(job.StatusCompleted), string(job.StatusFailed), string(job.StatusCancelled),
		olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Flush is a no-op: SQLite commits every statement durably.
func (s *SQLiteStore) Flush() error { return nil }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func decodeJobPayload(payload string) (*job.Job, error) {
	var j job.Job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		return nil, &CorruptStateError{Path: "jobs.db", Err: err}
	}
	return &j, nil
}
