package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// created_at holds Unix nanoseconds so ordering is exact.
const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	dossier_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	degraded     INTEGER NOT NULL DEFAULT 0,
	score        REAL,
	category     TEXT NOT NULL DEFAULT '',
	result       TEXT,
	failure      TEXT,
	stage_errors TEXT NOT NULL DEFAULT '[]',
	total_cost   REAL NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS score_details (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	position      INTEGER NOT NULL,
	criterion     TEXT NOT NULL,
	label         TEXT NOT NULL,
	weight        REAL NOT NULL,
	sub_score     REAL NOT NULL,
	points        REAL NOT NULL,
	justification TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_dossier_created ON runs(dossier_id, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveRun(ctx context.Context, rec *model.RunRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	row, err := encodeRun(rec)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save run")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, dossier_id, status, degraded, score, category, result, failure, stage_errors, total_cost, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.id, row.dossierID, row.status, row.degraded, row.score, row.category,
		nullText(row.result), nullText(row.failure), string(row.stageErrors), row.totalCost, row.createdAt.UnixNano(),
	)
	if isSQLiteUnique(err) {
		return eris.Wrapf(ErrDuplicateRun, "sqlite: run %s", rec.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", rec.ID)
	}

	if details := detailRows(rec); len(details) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO score_details (run_id, position, criterion, label, weight, sub_score, points, justification)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare score details")
		}
		defer stmt.Close() //nolint:errcheck
		for _, d := range details {
			if _, err := stmt.ExecContext(ctx, d...); err != nil {
				return eris.Wrapf(err, "sqlite: insert score detail for %s", rec.ID)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save run")
}

const sqliteRunColumns = `id, dossier_id, status, degraded, score, category, result, failure, stage_errors, total_cost, created_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM runs WHERE id = ?`, runID)
	rec, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get run %s", runID)
	}
	return rec, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM runs WHERE 1=1`
	var args []any

	if filter.DossierID != "" {
		query += ` AND dossier_id = ?`
		args = append(args, filter.DossierID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC().UnixNano())
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.limit())
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := []model.RunRecord{}
	for rows.Next() {
		rec, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.RunRecord, error) {
	var (
		r           runRow
		score       sql.NullFloat64
		result      sql.NullString
		failure     sql.NullString
		stageErrors string
		createdAt   int64
	)
	err := row.Scan(&r.id, &r.dossierID, &r.status, &r.degraded, &score, &r.category,
		&result, &failure, &stageErrors, &r.totalCost, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	if score.Valid {
		r.score = &score.Float64
	}
	if result.Valid {
		r.result = []byte(result.String)
	}
	if failure.Valid {
		r.failure = []byte(failure.String)
	}
	r.stageErrors = []byte(stageErrors)
	r.createdAt = time.Unix(0, createdAt)
	return decodeRun(r)
}

func nullText(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: b != nil}
}

func isSQLiteUnique(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
