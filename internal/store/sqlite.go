package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Store represents the SQLite run store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and runs migrations.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := MigrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB exposes the underlying handle for migrations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// InsertRun stores run and its transcript in one transaction. A zero
// UUID or digest is filled in. It returns the new run id.
func (s *Store) InsertRun(ctx context.Context, run *Run) (int64, error) {
	if run.UUID == uuid.Nil {
		run.UUID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Digest == ([32]byte{}) {
		run.Digest = Digest(run.Events, run.Keys)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_uuid, script, seat, started_ns, steps, digest)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.UUID.String(), run.Script, run.Seat, run.StartedAt.UnixNano(), run.Steps, run.Digest[:],
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get last insert id: %w", err)
	}

	if err := insertEach(ctx, tx,
		"INSERT INTO events (run_id, ordinal, object, name, args) VALUES (?, ?, ?, ?, ?)",
		len(run.Events), func(i int) []any {
			e := run.Events[i]
			return []any{id, i, int64(e.Object), e.Name, e.Args}
		}); err != nil {
		return 0, fmt.Errorf("insert events: %w", err)
	}
	if err := insertEach(ctx, tx,
		"INSERT INTO keys (run_id, ordinal, code, state, serial, time_ms) VALUES (?, ?, ?, ?, ?, ?)",
		len(run.Keys), func(i int) []any {
			k := run.Keys[i]
			return []any{id, i, k.Code, k.State, k.Serial, k.Time}
		}); err != nil {
		return 0, fmt.Errorf("insert keys: %w", err)
	}
	if err := insertEach(ctx, tx,
		"INSERT INTO failures (run_id, step, op, message) VALUES (?, ?, ?, ?)",
		len(run.Failures), func(i int) []any {
			f := run.Failures[i]
			return []any{id, f.Step, f.Op, f.Message}
		}); err != nil {
		return 0, fmt.Errorf("insert failures: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}
	run.ID = id
	return id, nil
}

func insertEach(ctx context.Context, tx *sql.Tx, query string, n int, row func(i int) []any) error {
	if n == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, row(i)...); err != nil {
			return err
		}
	}
	return nil
}

const summaryQuery = `
	SELECT r.id, r.run_uuid, r.script, r.seat, r.started_ns, r.steps, r.digest,
		(SELECT COUNT(*) FROM events e WHERE e.run_id = r.id),
		(SELECT COUNT(*) FROM keys k WHERE k.run_id = r.id),
		(SELECT COUNT(*) FROM failures f WHERE f.run_id = r.id)
	FROM runs r`

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (RunSummary, error) {
	var (
		rs        RunSummary
		id        string
		startedNs int64
		digest    []byte
	)
	if err := row.Scan(&rs.ID, &id, &rs.Script, &rs.Seat, &startedNs, &rs.Steps, &digest,
		&rs.EventCount, &rs.KeyCount, &rs.FailureCount); err != nil {
		return rs, err
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return rs, fmt.Errorf("run %d: %w", rs.ID, err)
	}
	rs.UUID = u
	rs.StartedAt = time.Unix(0, startedNs)
	copy(rs.Digest[:], digest)
	return rs, nil
}

// ListRuns returns the newest runs first. script filters by script name
// when non-empty; limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, script string, limit int) ([]RunSummary, error) {
	query := summaryQuery
	var args []any
	if script != "" {
		query += " WHERE r.script = ?"
		args = append(args, script)
	}
	query += " ORDER BY r.started_ns DESC, r.id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		rs, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, rs)
	}
	return runs, rows.Err()
}

// Summary returns run id without its transcript.
func (s *Store) Summary(ctx context.Context, id int64) (RunSummary, error) {
	rs, err := scanSummary(s.db.QueryRowContext(ctx, summaryQuery+" WHERE r.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return rs, fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return rs, fmt.Errorf("get run: %w", err)
	}
	return rs, nil
}

// Run returns run id with its transcript.
func (s *Store) Run(ctx context.Context, id int64) (*Run, error) {
	rs, err := s.Summary(ctx, id)
	if err != nil {
		return nil, err
	}
	run := &Run{
		ID:        rs.ID,
		UUID:      rs.UUID,
		Script:    rs.Script,
		Seat:      rs.Seat,
		StartedAt: rs.StartedAt,
		Steps:     rs.Steps,
		Digest:    rs.Digest,
	}

	if err := s.each(ctx, "SELECT ordinal, object, name, args FROM events WHERE run_id = ? ORDER BY ordinal", id,
		func(rows *sql.Rows) error {
			var e Event
			var obj int64
			if err := rows.Scan(&e.Ordinal, &obj, &e.Name, &e.Args); err != nil {
				return err
			}
			e.Object = uint64(obj)
			run.Events = append(run.Events, e)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	if err := s.each(ctx, "SELECT ordinal, code, state, serial, time_ms FROM keys WHERE run_id = ? ORDER BY ordinal", id,
		func(rows *sql.Rows) error {
			var k Key
			if err := rows.Scan(&k.Ordinal, &k.Code, &k.State, &k.Serial, &k.Time); err != nil {
				return err
			}
			run.Keys = append(run.Keys, k)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("get keys: %w", err)
	}
	if err := s.each(ctx, "SELECT step, op, message FROM failures WHERE run_id = ? ORDER BY rowid", id,
		func(rows *sql.Rows) error {
			var f Failure
			if err := rows.Scan(&f.Step, &f.Op, &f.Message); err != nil {
				return err
			}
			run.Failures = append(run.Failures, f)
			return nil
		}); err != nil {
		return nil, fmt.Errorf("get failures: %w", err)
	}
	return run, nil
}

func (s *Store) each(ctx context.Context, query string, id int64, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// DeleteRun removes run id and its transcript.
func (s *Store) DeleteRun(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %d: %w", id, ErrNotFound)
	}
	return nil
}
