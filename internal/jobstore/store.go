// Package jobstore is C8: sqlite-backed persistence for jobs, input rows,
// their retrieval candidates and terminal results. Each worker obtains its
// own connection lease (see WorkerHandle) so no connection is ever shared
// across goroutines.
package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO

	"github.com/ghgmatch/core/internal/domain"
)

// Store owns the underlying *sql.DB pool; WorkerHandle leases are drawn
// from it via DB.Conn, which modernc.org/sqlite/database/sql pools
// correctly for concurrent access within this process. processLock guards
// against a second ghgmatch process opening the same DSN concurrently,
// which sqlite's own locking does not reliably prevent on every
// filesystem.
type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	processLock *flock.Flock
}

// Open creates/opens the sqlite database at dsn and applies the schema.
// It acquires an exclusive process-level lock at dsn+".lock" first; a
// second process pointed at the same dsn fails fast here instead of
// racing sqlite's own file locking.
func Open(ctx context.Context, dsn string, busyTimeout time.Duration) (*Store, error) {
	processLock := flock.New(dsn + ".lock")
	locked, err := processLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire job store process lock for %s: %w", dsn, err)
	}
	if !locked {
		return nil, fmt.Errorf("job store %s is already open in another process", dsn)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		processLock.Unlock()
		return nil, fmt.Errorf("open job store %s: %w", dsn, err)
	}

	s := &Store{db: db, busyTimeout: busyTimeout, processLock: processLock}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		processLock.Unlock()
		return nil, fmt.Errorf("apply job store schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool and the process lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if unlockErr := s.processLock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	return err
}

// WorkerHandle leases a dedicated connection for one worker goroutine's
// lifetime, with its own busy_timeout pragma applied so concurrent writers
// block-and-retry rather than failing outright under contention.
func (s *Store) WorkerHandle(ctx context.Context) (*WorkerHandle, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("lease worker connection: %w", err)
	}
	ms := s.busyTimeout.Milliseconds()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", ms)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	return &WorkerHandle{conn: conn}, nil
}

// CreateJob inserts a new job row in status "created".
func (s *Store) CreateJob(ctx context.Context, jobID string, mode domain.JobMode) error {
	now := nowString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, mode, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		jobID, string(mode), string(domain.JobCreated), now, now)
	if err != nil {
		return fmt.Errorf("create job %s: %w", jobID, err)
	}
	return nil
}

// AddInputRows bulk-inserts the job's rows in pending status.
func (s *Store) AddInputRows(ctx context.Context, jobID string, rows []domain.InputRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add_input_rows tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO input_rows (
			id, job_id, row_index, bezeichnung, referenzeinheit,
			produktinformationen, scope, kategorie, unterkategorie,
			region, referenzjahr, status, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare add_input_rows: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ID, jobID, r.RowIndex, r.Bezeichnung, r.Referenzeinheit,
			r.Produktinformationen, string(r.Scope), r.Kategorie, r.Unterkategorie,
			r.Region, r.Referenzjahr, string(domain.RowPending), "",
		); err != nil {
			return fmt.Errorf("insert input row %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit add_input_rows: %w", err)
	}
	return nil
}

// JobCounters aggregates row statuses into the external-facing counters.
type JobCounters struct {
	Total      int
	Pending    int
	Processing int
	Calculated int
	Ambiguous  int
	Errors     int
}

// JobCounters computes the aggregate counters for one job by scanning its
// rows' current statuses.
func (s *Store) JobCounters(ctx context.Context, jobID string) (JobCounters, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM input_rows WHERE job_id = ? GROUP BY status`, jobID)
	if err != nil {
		return JobCounters{}, fmt.Errorf("query job counters for %s: %w", jobID, err)
	}
	defer rows.Close()

	var c JobCounters
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return JobCounters{}, fmt.Errorf("scan job counter row: %w", err)
		}
		c.Total += n
		switch domain.RowStatus(status) {
		case domain.RowPending:
			c.Pending += n
		case domain.RowSearching, domain.RowLLMDeciding, domain.RowDecomposing, domain.RowMatched:
			c.Processing += n
		case domain.RowCalculated:
			c.Calculated += n
		case domain.RowAmbiguous:
			c.Ambiguous += n
		case domain.RowError:
			c.Errors += n
		}
	}
	return c, rows.Err()
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
