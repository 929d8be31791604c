package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sreedath/simplepaperbanana/internal/domain"
)

// SQLiteStore implements Store using SQLite.
//
// Runs are never reloaded on open; a file DSN only makes the log
// inspectable from outside the process.
type SQLiteStore struct {
	db   *sql.DB
	opts Options
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string, opts Options) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// A single connection also serialises appends, which keeps sequence
	// assignment gap-free without retry loops.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, opts: opts}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			input TEXT NOT NULL,
			result TEXT,
			error TEXT,
			last_seq INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_updated ON runs(status, updated_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			kind TEXT NOT NULL,
			payload TEXT,
			ts INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun registers a new run, evicting stale runs first if full.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) ([]string, error) {
	input, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal input: %w", err)
	}

	var evicted []string
	full := false
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		evicted, full = nil, false
		if s.opts.Capacity > 0 {
			count, err := countRuns(ctx, tx)
			if err != nil {
				return err
			}
			if count >= s.opts.limit() {
				if evicted, err = s.evictTx(ctx, tx, s.opts.Capacity); err != nil {
					return err
				}
				if count, err = countRuns(ctx, tx); err != nil {
					return err
				}
				if count >= s.opts.limit() {
					// Commit the evictions; only the insert is refused.
					full = true
					return nil
				}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, status, created_at, updated_at, input, last_seq) VALUES (?, ?, ?, ?, ?, 0)`,
			run.RunID, run.Status, run.CreatedAt.UnixNano(), run.UpdatedAt.UnixNano(), string(input))
		return err
	})
	if err != nil {
		return nil, err
	}
	if full {
		return evicted, domain.ErrRegistryFull
	}
	return evicted, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	return scanRun(s.db.QueryRowContext(ctx, selectRunSQL+` WHERE run_id = ?`, runID))
}

// ListRuns returns up to limit run summaries, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	query := selectRunSQL + ` ORDER BY created_at DESC, run_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summaries := []domain.RunSummary{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, run.Summary())
	}
	return summaries, rows.Err()
}

// CountRuns returns the number of registered runs.
func (s *SQLiteStore) CountRuns(ctx context.Context) (int, error) {
	return countRuns(ctx, s.db)
}

// StartRun moves a pending run to running.
func (s *SQLiteStore) StartRun(ctx context.Context, runID string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		status, _, err := runState(ctx, tx, runID)
		if err != nil {
			return err
		}
		if !status.CanTransition(domain.RunStatusRunning) {
			return domain.ErrInvalidTransition
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, updated_at = ? WHERE run_id = ?`,
			domain.RunStatusRunning, s.opts.now().UnixNano(), runID)
		return err
	})
}

// AppendEvent assigns the next sequence number and stores the event.
func (s *SQLiteStore) AppendEvent(ctx context.Context, runID string, kind domain.EventKind, payload json.RawMessage) (*domain.Event, error) {
	if kind.IsTerminal() {
		return nil, domain.ErrInvalidTransition
	}
	var evt *domain.Event
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		status, lastSeq, err := runState(ctx, tx, runID)
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			return domain.ErrRunFrozen
		}
		evt, err = s.appendTx(ctx, tx, runID, lastSeq, kind, payload)
		return err
	})
	return evt, err
}

// FinishRun sets the terminal status and appends the terminal event in
// one transaction.
func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, fin Finish) (*domain.Event, error) {
	if err := validateFinish(fin); err != nil {
		return nil, err
	}
	result, err := marshalOptional(fin.Result)
	if err != nil {
		return nil, err
	}
	runErr, err := marshalOptional(fin.Error)
	if err != nil {
		return nil, err
	}

	var evt *domain.Event
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		status, lastSeq, err := runState(ctx, tx, runID)
		if err != nil {
			return err
		}
		if status.IsTerminal() {
			return domain.ErrRunFrozen
		}
		if !status.CanTransition(fin.Status) {
			return domain.ErrInvalidTransition
		}
		if evt, err = s.appendTx(ctx, tx, runID, lastSeq, fin.Kind, fin.Payload); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE runs SET status = ?, result = ?, error = ? WHERE run_id = ?`,
			fin.Status, result, runErr, runID)
		return err
	})
	return evt, err
}

func (s *SQLiteStore) appendTx(ctx context.Context, tx *sql.Tx, runID string, lastSeq int64, kind domain.EventKind, payload json.RawMessage) (*domain.Event, error) {
	now := s.opts.now()
	evt := &domain.Event{
		RunID:     runID,
		Sequence:  lastSeq + 1,
		Kind:      kind,
		Payload:   payload,
		Timestamp: now,
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, kind, payload, ts) VALUES (?, ?, ?, ?, ?)`,
		runID, evt.Sequence, kind, nullStringBytes(payload), now.UnixNano()); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET last_seq = ?, updated_at = ? WHERE run_id = ?`,
		evt.Sequence, now.UnixNano(), runID); err != nil {
		return nil, err
	}
	return evt, nil
}

// Events returns the events with sequence greater than afterSeq.
func (s *SQLiteStore) Events(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if _, _, err := runState(ctx, s.db, runID); err != nil {
		return nil, err
	}
	return queryEvents(ctx, s.db, runID, afterSeq, limit)
}

// Snapshot returns the run record and its log tail in one read transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context, runID string, afterSeq int64) (*domain.RunSnapshot, error) {
	var snap *domain.RunSnapshot
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		run, err := scanRun(tx.QueryRowContext(ctx, selectRunSQL+` WHERE run_id = ?`, runID))
		if err != nil {
			return err
		}
		events, err := queryEvents(ctx, tx, runID, afterSeq, 0)
		if err != nil {
			return err
		}
		cursor := max(afterSeq, 0)
		if n := len(events); n > 0 {
			cursor = events[n-1].Sequence
		}
		snap = &domain.RunSnapshot{Run: *run, Events: events, Cursor: cursor}
		return nil
	})
	return snap, err
}

// EvictRuns removes stale terminal runs, oldest first, until the registry
// is back within capacity.
func (s *SQLiteStore) EvictRuns(ctx context.Context) ([]string, error) {
	if s.opts.Capacity <= 0 {
		return nil, nil
	}
	var evicted []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		evicted, err = s.evictTx(ctx, tx, s.opts.Capacity)
		return err
	})
	return evicted, err
}

func (s *SQLiteStore) evictTx(ctx context.Context, tx *sql.Tx, target int) ([]string, error) {
	count, err := countRuns(ctx, tx)
	if err != nil {
		return nil, err
	}
	excess := count - target
	if excess <= 0 {
		return nil, nil
	}
	cutoff := s.opts.now().Add(-s.opts.TTL).UnixNano()
	rows, err := tx.QueryContext(ctx,
		`SELECT run_id FROM runs WHERE status IN (?, ?) AND updated_at <= ? ORDER BY updated_at ASC LIMIT ?`,
		domain.RunStatusCompleted, domain.RunStatusFailed, cutoff, excess)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM events WHERE run_id = ?`, id); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const selectRunSQL = `SELECT run_id, status, created_at, updated_at, input, result, error, last_seq FROM runs`

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var createdAt, updatedAt int64
	var input string
	var result, runErr sql.NullString
	err := row.Scan(&run.RunID, &run.Status, &createdAt, &updatedAt, &input, &result, &runErr, &run.LastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	run.CreatedAt = time.Unix(0, createdAt).UTC()
	run.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if err := json.Unmarshal([]byte(input), &run.Input); err != nil {
		return nil, fmt.Errorf("failed to decode run input: %w", err)
	}
	if result.Valid {
		run.Result = &domain.RunResult{}
		if err := json.Unmarshal([]byte(result.String), run.Result); err != nil {
			return nil, fmt.Errorf("failed to decode run result: %w", err)
		}
	}
	if runErr.Valid {
		run.Error = &domain.RunError{}
		if err := json.Unmarshal([]byte(runErr.String), run.Error); err != nil {
			return nil, fmt.Errorf("failed to decode run error: %w", err)
		}
	}
	return &run, nil
}

func runState(ctx context.Context, q queryer, runID string) (domain.RunStatus, int64, error) {
	var status domain.RunStatus
	var lastSeq int64
	err := q.QueryRowContext(ctx, `SELECT status, last_seq FROM runs WHERE run_id = ?`, runID).Scan(&status, &lastSeq)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, domain.ErrNotFound
	}
	return status, lastSeq, err
}

func countRuns(ctx context.Context, q queryer) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

func queryEvents(ctx context.Context, q queryer, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	query := `SELECT run_id, seq, kind, payload, ts FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := q.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var evt domain.Event
		var payload sql.NullString
		var ts int64
		if err := rows.Scan(&evt.RunID, &evt.Sequence, &evt.Kind, &payload, &ts); err != nil {
			return nil, err
		}
		if payload.Valid {
			evt.Payload = json.RawMessage(payload.String)
		}
		evt.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, evt)
	}
	return events, rows.Err()
}

func marshalOptional(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case *domain.RunResult:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *domain.RunError:
		if t == nil {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
