package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
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
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_id       TEXT PRIMARY KEY,
	entity_type     TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	aliases         TEXT NOT NULL DEFAULT '[]',
	country         TEXT NOT NULL DEFAULT '',
	date_of_birth   TEXT NOT NULL DEFAULT '',
	metadata        TEXT NOT NULL DEFAULT '{}',
	identifiers     TEXT NOT NULL DEFAULT '[]',
	embedding       TEXT,
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS screenings (
	request_id       TEXT PRIMARY KEY,
	text             TEXT NOT NULL,
	language         TEXT NOT NULL DEFAULT '',
	risk             TEXT NOT NULL,
	score            REAL NOT NULL,
	review_required  INTEGER NOT NULL DEFAULT 0,
	decision         TEXT NOT NULL,
	candidates       TEXT NOT NULL DEFAULT '[]',
	snapshot_version INTEGER NOT NULL DEFAULT 0,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_screenings_risk ON screenings(risk);
CREATE INDEX IF NOT EXISTS idx_screenings_created_at ON screenings(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteUpsertEntity = `INSERT INTO entities
	(entity_id, entity_type, normalized_name, aliases, country, date_of_birth, metadata, identifiers, embedding, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(entity_id) DO UPDATE SET
		entity_type = excluded.entity_type,
		normalized_name = excluded.normalized_name,
		aliases = excluded.aliases,
		country = excluded.country,
		date_of_birth = excluded.date_of_birth,
		metadata = excluded.metadata,
		identifiers = excluded.identifiers,
		embedding = excluded.embedding,
		updated_at = excluded.updated_at`

// UpsertEntities inserts or replaces entities in one transaction.
func (s *SQLiteStore) UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error) {
	if len(entities) == 0 {
		return 0, nil
	}
	if err := validateEntities(entities); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert entities")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert entities")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertEntity)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert entity")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, e := range entities {
		enc, err := encodeEntity(e)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite")
		}
		var emb any
		if len(e.Embedding) > 0 {
			b, err := json.Marshal(e.Embedding)
			if err != nil {
				return 0, eris.Wrapf(err, "sqlite: marshal embedding for %s", e.EntityID)
			}
			emb = string(b)
		}
		res, err := stmt.ExecContext(ctx,
			e.EntityID, string(e.EntityType), e.NormalizedName, string(enc.aliases), e.Country,
			e.DateOfBirth, string(enc.metadata), string(enc.identifiers), emb, now,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert entity %s", e.EntityID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert entities")
	}
	return n, nil
}

// LoadEntities returns every entity ordered by ID.
func (s *SQLiteStore) LoadEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+strings.Join(entityColumns, ", ")+` FROM entities ORDER BY entity_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load entities")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Entity
	for rows.Next() {
		var (
			e                              model.Entity
			typ                            string
			aliases, metadata, identifiers string
			emb                            sql.NullString
		)
		if err := rows.Scan(&e.EntityID, &typ, &e.NormalizedName, &aliases, &e.Country,
			&e.DateOfBirth, &metadata, &identifiers, &emb); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entity")
		}
		e.EntityType = model.EntityType(typ)
		if err := decodeEntity(&e, []byte(aliases), []byte(metadata), []byte(identifiers)); err != nil {
			return nil, eris.Wrap(err, "sqlite")
		}
		if emb.Valid && emb.String != "" {
			if err := json.Unmarshal([]byte(emb.String), &e.Embedding); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal embedding for %s", e.EntityID)
			}
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: load entities iterate")
}

func (s *SQLiteStore) CountEntities(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count entities")
}

func (s *SQLiteStore) DeleteEntities(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM entities WHERE entity_id IN (?`+strings.Repeat(", ?", len(ids)-1)+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete entities")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: delete entities rows affected")
}

// RecordScreening writes one decision to the audit log. A repeated request
// ID overwrites the earlier row.
func (s *SQLiteStore) RecordScreening(ctx context.Context, rec screening.AuditRecord) error {
	sc := screeningFromRecord(rec)
	decision, candidates, err := encodeScreening(sc)
	if err != nil {
		return eris.Wrap(err, "sqlite: record screening")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO screenings
			(request_id, text, language, risk, score, review_required, decision, candidates, snapshot_version, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(request_id) DO UPDATE SET
				text = excluded.text,
				language = excluded.language,
				risk = excluded.risk,
				score = excluded.score,
				review_required = excluded.review_required,
				decision = excluded.decision,
				candidates = excluded.candidates,
				snapshot_version = excluded.snapshot_version,
				created_at = excluded.created_at`,
		sc.RequestID, sc.Text, sc.Language, string(sc.Risk), sc.Score, sc.ReviewRequired,
		string(decision), string(candidates), int64(sc.SnapshotVersion), sc.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record screening %s", sc.RequestID)
}

const sqliteScreeningColumns = `request_id, text, language, risk, score, review_required, decision, candidates, snapshot_version, created_at`

func (s *SQLiteStore) GetScreening(ctx context.Context, requestID string) (*Screening, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteScreeningColumns+` FROM screenings WHERE request_id = ?`, requestID)
	sc, err := scanScreening(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: screening %s", requestID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get screening %s", requestID)
	}
	return sc, nil
}

func (s *SQLiteStore) ListScreenings(ctx context.Context, filter ScreeningFilter) ([]Screening, error) {
	query := `SELECT ` + sqliteScreeningColumns + ` FROM screenings WHERE 1=1`
	var args []any

	if filter.Risk != "" {
		query += ` AND risk = ?`
		args = append(args, string(filter.Risk))
	}
	if filter.ReviewRequired != nil {
		query += ` AND review_required = ?`
		args = append(args, *filter.ReviewRequired)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC, request_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list screenings")
	}
	defer rows.Close() //nolint:errcheck

	var out []Screening
	for rows.Next() {
		sc, err := scanScreening(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan screening")
		}
		out = append(out, *sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list screenings iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanScreening(row scannable) (*Screening, error) {
	var (
		sc                   Screening
		risk                 string
		decision, candidates string
		version              int64
	)
	if err := row.Scan(&sc.RequestID, &sc.Text, &sc.Language, &risk, &sc.Score, &sc.ReviewRequired,
		&decision, &candidates, &version, &sc.CreatedAt); err != nil {
		return nil, err
	}
	sc.Risk = model.RiskLevel(risk)
	sc.SnapshotVersion = uint64(version)
	if err := decodeScreening(&sc, []byte(decision), []byte(candidates)); err != nil {
		return nil, err
	}
	return &sc, nil
}
