package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Instance states recorded in the ledger.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Ledger records multi-instance runs in a SQLite database so an interrupted
// run can be inspected and resumed.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// RunRecord is a row of the runs table.
type RunRecord struct {
	ID        string
	BaseDir   string
	Instances int
	BaseSeed  int64
	Status    string
	Started   time.Time
	Finished  time.Time
}

// InstanceRecord is a row of the instances table.
type InstanceRecord struct {
	RunID      string
	Index      int
	Dir        string
	Seed       int64
	Status     string
	Launches   int
	Iteration  int64
	Checkpoint string
	Error      string
	Updated    time.Time
}

// OpenLedger opens or creates the ledger at path. ":memory:" gives a private
// in-memory ledger.
func OpenLedger(path string) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("empty sqlite database path")
	}
	if path != ":memory:" {
		if parent := filepath.Dir(path); parent != "" && parent != "." {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, pragma := range []string{
		`PRAGMA busy_timeout = 5000;`,
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA foreign_keys = ON;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureLedgerSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db, now: time.Now}, nil
}

func ensureLedgerSchema(ctx context.Context, db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    base_dir TEXT NOT NULL,
    instances INTEGER NOT NULL,
    base_seed INTEGER NOT NULL,
    status TEXT NOT NULL,
    started_at_ms INTEGER NOT NULL,
    finished_at_ms INTEGER NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS instances (
    run_id TEXT NOT NULL,
    idx INTEGER NOT NULL,
    dir TEXT NOT NULL,
    seed INTEGER NOT NULL,
    status TEXT NOT NULL,
    launches INTEGER NOT NULL DEFAULT 0,
    iteration INTEGER NOT NULL DEFAULT 0,
    checkpoint TEXT NOT NULL DEFAULT '',
    error TEXT NOT NULL DEFAULT '',
    updated_at_ms INTEGER NOT NULL,
    PRIMARY KEY (run_id, idx),
    FOREIGN KEY(run_id) REFERENCES runs(id) ON DELETE CASCADE
)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// BeginRun records a new run and its pending instances.
func (l *Ledger) BeginRun(ctx context.Context, baseDir string, baseSeed int64, dirs []string) (string, error) {
	id := uuid.NewString()
	nowMs := l.now().UTC().UnixMilli()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO runs (id, base_dir, instances, base_seed, status, started_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, id, baseDir, len(dirs), baseSeed, StatusRunning, nowMs); err != nil {
		return "", err
	}
	for i, dir := range dirs {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO instances (run_id, idx, dir, seed, status, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
`, id, i, dir, baseSeed+int64(i), StatusPending, nowMs); err != nil {
			return "", err
		}
	}
	return id, tx.Commit()
}

// InstanceLaunched marks an instance running and counts the launch.
func (l *Ledger) InstanceLaunched(ctx context.Context, runID string, index int) error {
	return l.exec(ctx, `
UPDATE instances SET status = ?, launches = launches + 1, updated_at_ms = ?
WHERE run_id = ? AND idx = ?
`, StatusRunning, l.now().UTC().UnixMilli(), runID, index)
}

// InstanceProgress records the newest checkpoint of an instance.
func (l *Ledger) InstanceProgress(ctx context.Context, runID string, index int, iteration int64, checkpoint string) error {
	return l.exec(ctx, `
UPDATE instances SET iteration = ?, checkpoint = ?, updated_at_ms = ?
WHERE run_id = ? AND idx = ?
`, iteration, checkpoint, l.now().UTC().UnixMilli(), runID, index)
}

// InstanceFinished records the final state of an instance.
func (l *Ledger) InstanceFinished(ctx context.Context, runID string, index int, cause error) error {
	status, msg := StatusComplete, ""
	if cause != nil {
		status, msg = StatusFailed, cause.Error()
	}
	return l.exec(ctx, `
UPDATE instances SET status = ?, error = ?, updated_at_ms = ?
WHERE run_id = ? AND idx = ?
`, status, msg, l.now().UTC().UnixMilli(), runID, index)
}

// FinishRun closes the run record.
func (l *Ledger) FinishRun(ctx context.Context, runID string, cause error) error {
	status := StatusComplete
	if cause != nil {
		status = StatusFailed
	}
	return l.exec(ctx, `
UPDATE runs SET status = ?, finished_at_ms = ? WHERE id = ?
`, status, l.now().UTC().UnixMilli(), runID)
}

func (l *Ledger) exec(ctx context.Context, query string, args ...any) error {
	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("ledger: no row matched")
	}
	return nil
}

// Run returns a run record.
func (l *Ledger) Run(ctx context.Context, runID string) (RunRecord, error) {
	var r RunRecord
	var started, finished int64
	err := l.db.QueryRowContext(ctx, `
SELECT id, base_dir, instances, base_seed, status, started_at_ms, finished_at_ms
FROM runs WHERE id = ?
`, runID).Scan(&r.ID, &r.BaseDir, &r.Instances, &r.BaseSeed, &r.Status, &started, &finished)
	if err != nil {
		return r, err
	}
	r.Started = time.UnixMilli(started).UTC()
	if finished > 0 {
		r.Finished = time.UnixMilli(finished).UTC()
	}
	return r, nil
}

// Instances returns the instances of a run ordered by index.
func (l *Ledger) Instances(ctx context.Context, runID string) ([]InstanceRecord, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT run_id, idx, dir, seed, status, launches, iteration, checkpoint, error, updated_at_ms
FROM instances WHERE run_id = ? ORDER BY idx
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstanceRecord
	for rows.Next() {
		var r InstanceRecord
		var updated int64
		if err := rows.Scan(&r.RunID, &r.Index, &r.Dir, &r.Seed, &r.Status, &r.Launches, &r.Iteration, &r.Checkpoint, &r.Error, &updated); err != nil {
			return nil, err
		}
		r.Updated = time.UnixMilli(updated).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
