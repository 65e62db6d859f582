// Package store persists reference entities and the screening audit log.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
)

// ScreeningFilter specifies criteria for listing audited screenings.
type ScreeningFilter struct {
	Risk           model.RiskLevel `json:"risk,omitempty"`
	ReviewRequired *bool           `json:"review_required,omitempty"`
	Since          time.Time       `json:"since,omitempty"`
	Limit          int             `json:"limit,omitempty"`
	Offset         int             `json:"offset,omitempty"`
}

// Screening is one audited decision.
type Screening struct {
	RequestID       string            `json:"request_id"`
	Text            string            `json:"text"`
	Language        string            `json:"language,omitempty"`
	Risk            model.RiskLevel   `json:"risk"`
	Score           float64           `json:"score"`
	ReviewRequired  bool              `json:"review_required"`
	Decision        model.Decision    `json:"decision"`
	Candidates      []model.Candidate `json:"candidates"`
	SnapshotVersion uint64            `json:"snapshot_version"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Store defines persistence for reference data and screening audit.
type Store interface {
	// Reference entities
	UpsertEntities(ctx context.Context, entities []model.Entity) (int64, error)
	LoadEntities(ctx context.Context) ([]model.Entity, error)
	CountEntities(ctx context.Context) (int, error)
	DeleteEntities(ctx context.Context, ids []string) (int64, error)

	// Audit log
	RecordScreening(ctx context.Context, rec screening.AuditRecord) error
	GetScreening(ctx context.Context, requestID string) (*Screening, error)
	ListScreenings(ctx context.Context, filter ScreeningFilter) ([]Screening, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ErrNotFound is returned when a screening does not exist.
var ErrNotFound = eris.New("store: not found")

const defaultListLimit = 100

// Open returns the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "screen.db"
		}
		return NewSQLite(dsn)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

func screeningFromRecord(rec screening.AuditRecord) Screening {
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	return Screening{
		RequestID:       rec.RequestID,
		Text:            rec.Text,
		Language:        rec.Language,
		Risk:            rec.Decision.Risk,
		Score:           rec.Decision.Score,
		ReviewRequired:  rec.Decision.ReviewRequired,
		Decision:        rec.Decision,
		Candidates:      rec.Candidates,
		SnapshotVersion: rec.SnapshotVersion,
		CreatedAt:       created,
	}
}

// listLimit applies the default page size.
func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

var (
	_ Store               = (*SQLiteStore)(nil)
	_ Store               = (*PostgresStore)(nil)
	_ screening.AuditSink = (Store)(nil)
	_ snapshot.Loader     = (Store)(nil)
)
