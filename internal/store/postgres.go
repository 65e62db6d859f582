package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/db"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
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

// preparedStatements are prepared on each new connection.
var preparedStatements = map[string]string{
	"get_screening":  `SELECT ` + pgScreeningColumns + ` FROM screenings WHERE request_id = $1`,
	"count_entities": `SELECT COUNT(*) FROM entities`,
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_id       TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases         JSONB NOT NULL DEFAULT '[]',
	country         TEXT NOT NULL DEFAULT '',
	date_of_birth   TEXT NOT NULL DEFAULT '',
	metadata        JSONB NOT NULL DEFAULT '{}',
	identifiers     JSONB NOT NULL DEFAULT '[]',
	embedding       REAL[],
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS screenings (
	request_id       TEXT PRIMARY KEY,
	text             TEXT NOT NULL,
	language         TEXT NOT NULL DEFAULT '',
	risk             TEXT NOT NULL,
	score            DOUBLE PRECISION NOT NULL,
	review_required  BOOLEAN NOT NULL DEFAULT false,
	decision         JSONB NOT NULL,
	candidates       JSONB NOT NULL DEFAULT '[]',
	snapshot_version BIGINT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_entities_identifiers ON entities USING GIN (identifiers);
CREATE INDEX IF NOT EXISTS idx_screenings_risk ON screenings(risk);
CREATE INDEX IF NOT EXISTS idx_screenings_created_at ON screenings(created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
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

var entityUpsert = db.UpsertConfig{
	Table:        "entities",
	Columns:      append(append([]string{}, entityColumns...), "updated_at"),
	ConflictKeys: []string{"entity_id"},
}

// UpsertEntities bulk-loads entities via COPY and merges them by entity_id.
func (s *PostgresStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	if err := validateEntities(entities); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert entities")
	}

	now := time.Now().UTC()
	rows := make([][]any, 0, len(entities))
	for _, e := range entities {
		enc, err := encodeEntity(e)
		if err != nil {
			return 0, eris.Wrap(err, "postgres")
		}
		var emb []float32
		if len(e.Embedding) > 0 {
			emb = e.Embedding
		}
		rows = append(rows, []any{
			e.EntityID, string(e.EntityType), e.NormalizedName, enc.aliases, e.Country,
			e.DateOfBirth, enc.metadata, enc.identifiers, emb, now,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, entityUpsert, rows)
	return n, eris.Wrap(err, "postgres: upsert entities")
}

// LoadEntities returns every entity ordered by ID.
func (s *PostgresStore) LoadEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+strings.Join(entityColumns, ", ")+` FROM entities ORDER BY entity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load entities")
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var (
			e                              model.Entity
			typ                            string
			aliases, metadata, identifiers []byte
		)
		if err := rows.Scan(&e.EntityID, &typ, &e.NormalizedName, &aliases, &e.Country,
			&e.DateOfBirth, &metadata, &identifiers, &e.Embedding); err != nil {
			return nil, eris.Wrap(err, "postgres: scan entity")
		}
		e.EntityType = model.EntityType(typ)
		if err := decodeEntity(&e, aliases, metadata, identifiers); err != nil {
			return nil, eris.Wrap(err, "postgres")
		}
		if len(e.Embedding) == 0 {
			e.Embedding = nil
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: load entities iterate")
}

func (s *PostgresStore) CountEntities(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count entities")
}

func (s *PostgresStore) DeleteEntities(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE entity_id = ANY($1)`, ids)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete entities")
	}
	return tag.RowsAffected(), nil
}

const pgScreeningColumns = `request_id, text, language, risk, score, review_required, decision, candidates, snapshot_version, created_at`

// RecordScreening writes one decision to the audit log. A repeated request
// ID overwrites the earlier row.
func (s *PostgresStore) RecordScreening(ctx context.Context, rec screening.AuditRecord) error {
	sc := screeningFromRecord(rec)
	decision, candidates, err := encodeScreening(sc)
	if err != nil {
		return eris.Wrap(err, "postgres: record screening")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO screenings (`+pgScreeningColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (request_id) DO UPDATE SET
				text = EXCLUDED.text,
				language = EXCLUDED.language,
				risk = EXCLUDED.risk,
				score = EXCLUDED.score,
				review_required = EXCLUDED.review_required,
				decision = EXCLUDED.decision,
				candidates = EXCLUDED.candidates,
				snapshot_version = EXCLUDED.snapshot_version,
				created_at = EXCLUDED.created_at`,
		sc.RequestID, sc.Text, sc.Language, string(sc.Risk), sc.Score, sc.ReviewRequired,
		decision, candidates, int64(sc.SnapshotVersion), sc.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record screening %s", sc.RequestID)
}

func (s *PostgresStore) GetScreening(ctx context.Context, requestID string) (*Screening, error) {
	sc, err := scanPgScreening(s.pool.QueryRow(ctx,
		`SELECT `+pgScreeningColumns+` FROM screenings WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: screening %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get screening %s", requestID)
	}
	return sc, nil
}

func (s *PostgresStore) ListScreenings(ctx context.Context, filter ScreeningFilter) ([]Screening, error) {
	query := `SELECT ` + pgScreeningColumns + ` FROM screenings WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Risk != "" {
		query += fmt.Sprintf(` AND risk = $%d`, argIdx)
		args = append(args, string(filter.Risk))
		argIdx++
	}
	if filter.ReviewRequired != nil {
		query += fmt.Sprintf(` AND review_required = $%d`, argIdx)
		args = append(args, *filter.ReviewRequired)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, request_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list screenings")
	}
	defer rows.Close()

	var out []Screening
	for rows.Next() {
		sc, err := scanPgScreening(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan screening")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list screenings iterate")
}

func scanPgScreening(row pgx.Row) (*Screening, error) {
	var (
		sc                   Screening
		risk                 string
		decision, candidates []byte
		version              int64
	)
	if err := row.Scan(&sc.RequestID, &sc.Text, &sc.Language, &risk, &sc.Score, &sc.ReviewRequired,
		&decision, &candidates, &version, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.Risk = model.RiskLevel(risk)
	sc.SnapshotVersion = uint64(version)
	if err := decodeScreening(&sc, decision, candidates); err != nil {
		return nil, err
	}
	return &sc, nil
}
