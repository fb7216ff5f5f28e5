package out

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"attacher/internal/modules/attach/domain"
	attachout "attacher/internal/modules/attach/port/out"

	_ "modernc.org/sqlite"
)

// journalTimeLayout has a fixed width so stored timestamps sort as text.
const journalTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Concurrent helpers wait for each other's writes instead of failing with SQLITE_BUSY.
const journalPragmas = "?_pragma=busy_timeout(5000)"

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath+journalPragmas)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	journal := &SQLiteJournal{db: db}
	if err := journal.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

var _ attachout.Journal = (*SQLiteJournal)(nil)

func (j *SQLiteJournal) ensureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  controller_type TEXT NOT NULL,
  process_id TEXT NOT NULL,
  extension_path TEXT NOT NULL,
  mode TEXT NOT NULL,
  has_argument INTEGER NOT NULL,
  state TEXT NOT NULL,
  failure TEXT NOT NULL,
  error TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at);
`
	if _, err := j.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Record(ctx context.Context, record domain.RunRecord) error {
	const stmt = `
INSERT INTO runs (id, controller_type, process_id, extension_path, mode, has_argument, state, failure, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := j.db.ExecContext(ctx, stmt,
		record.ID,
		record.ControllerType,
		record.ProcessID,
		record.ExtensionPath,
		string(record.Mode),
		record.HasArgument,
		string(record.State),
		string(record.Failure),
		record.Error,
		record.StartedAt.UTC().Format(journalTimeLayout),
		record.FinishedAt.UTC().Format(journalTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Recent(ctx context.Context, limit int) ([]domain.RunRecord, error) {
	const query = `
SELECT id, controller_type, process_id, extension_path, mode, has_argument, state, failure, COALESCE(error, ''), started_at, finished_at
FROM runs
ORDER BY started_at DESC, id DESC
LIMIT ?;
`
	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []domain.RunRecord{}
	for rows.Next() {
		var (
			record              domain.RunRecord
			mode, state, fail   string
			startedAt, finished string
		)
		if err := rows.Scan(&record.ID, &record.ControllerType, &record.ProcessID, &record.ExtensionPath, &mode, &record.HasArgument, &state, &fail, &record.Error, &startedAt, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		record.Mode = domain.LoadMode(mode)
		record.State = domain.SessionState(state)
		record.Failure = domain.FailureKind(fail)
		if record.StartedAt, err = time.Parse(journalTimeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if record.FinishedAt, err = time.Parse(journalTimeLayout, finished); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
