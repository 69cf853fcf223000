package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/okatech-org/mayfin-sub002/internal/db"
	"github.com/okatech-org/mayfin-sub002/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertRun = `INSERT INTO runs (id, dossier_id, status, degraded, score, category, result, failure, stage_errors, total_cost, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	pgGetRun    = `SELECT ` + pgRunColumns + ` FROM runs WHERE id = $1`

	pgRunColumns = `id, dossier_id, status, degraded, score, category, result, failure, stage_errors, total_cost, created_at`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_run": pgInsertRun,
	"get_run":    pgGetRun,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	dossier_id   TEXT NOT NULL,
	status       TEXT NOT NULL,
	degraded     BOOLEAN NOT NULL DEFAULT false,
	score        DOUBLE PRECISION,
	category     TEXT NOT NULL DEFAULT '',
	result       JSONB,
	failure      JSONB,
	stage_errors JSONB NOT NULL DEFAULT '[]',
	total_cost   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS score_details (
	run_id        TEXT NOT NULL REFERENCES runs(id),
	position      INTEGER NOT NULL,
	criterion     TEXT NOT NULL,
	label         TEXT NOT NULL,
	weight        DOUBLE PRECISION NOT NULL,
	sub_score     DOUBLE PRECISION NOT NULL,
	points        DOUBLE PRECISION NOT NULL,
	justification TEXT NOT NULL,
	PRIMARY KEY (run_id, position)
);

CREATE INDEX IF NOT EXISTS idx_runs_dossier_created ON runs(dossier_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return eris.Wrap(s.pool.QueryRow(ctx, "SELECT 1").Scan(&one), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// SaveRun inserts the run and copies its score details in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, rec *model.RunRecord) error {
	if err := validate(rec); err != nil {
		return err
	}
	row, err := encodeRun(rec)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save run")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, pgInsertRun,
		row.id, row.dossierID, row.status, row.degraded, row.score, row.category,
		row.result, row.failure, row.stageErrors, row.totalCost, row.createdAt,
	)
	if isUniqueViolation(err) {
		return eris.Wrapf(ErrDuplicateRun, "postgres: run %s", rec.ID)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", rec.ID)
	}

	if _, err := db.CopyFrom(ctx, tx, "score_details", detailColumns, detailRows(rec)); err != nil {
		return eris.Wrapf(err, "postgres: score details for %s", rec.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit save run")
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.RunRecord, error) {
	rec, err := scanPostgresRun(s.pool.QueryRow(ctx, pgGetRun, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return rec, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.RunRecord, error) {
	query := `SELECT ` + pgRunColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DossierID != "" {
		query += fmt.Sprintf(` AND dossier_id = $%d`, argIdx)
		args = append(args, filter.DossierID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, filter.limit())
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	runs := []model.RunRecord{}
	for rows.Next() {
		rec, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *rec)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row pgx.Row) (*model.RunRecord, error) {
	var (
		r           runRow
		result      *[]byte
		failure     *[]byte
		stageErrors []byte
	)
	err := row.Scan(&r.id, &r.dossierID, &r.status, &r.degraded, &r.score, &r.category,
		&result, &failure, &stageErrors, &r.totalCost, &r.createdAt)
	if err != nil {
		return nil, err
	}
	if result != nil {
		r.result = *result
	}
	if failure != nil {
		r.failure = *failure
	}
	r.stageErrors = stageErrors
	return decodeRun(r)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
