package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/screening"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testEntities() []model.Entity {
	return []model.Entity{
		{
			EntityID:       "p-1",
			EntityType:     model.EntityPerson,
			NormalizedName: "Ivan Petrov",
			Aliases:        []string{"Petrov Ivan", "Иван Петров"},
			Country:        "RU",
			DateOfBirth:    "1985-03-12",
			Metadata:       map[string]string{"list": "national"},
			Identifiers:    []string{"123456789012"},
			Embedding:      []float32{0.25, -0.5},
		},
		{
			EntityID:       "o-1",
			EntityType:     model.EntityOrganization,
			NormalizedName: "OOO Romashka",
			Identifiers:    []string{"7707083893"},
		},
	}
}

func TestSQLite_Entities_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	n, err := st.UpsertEntities(ctx, testEntities())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := st.LoadEntities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// ordered by entity_id
	assert.Equal(t, "o-1", got[0].EntityID)
	assert.Nil(t, got[0].Aliases)
	assert.Nil(t, got[0].Metadata)
	assert.Nil(t, got[0].Embedding)
	assert.Equal(t, testEntities()[0], got[1])

	count, err := st.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSQLite_Entities_UpsertReplaces(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertEntities(ctx, testEntities())
	require.NoError(t, err)

	updated := testEntities()[1]
	updated.Aliases = []string{"Romashka LLC"}
	_, err = st.UpsertEntities(ctx, []model.Entity{updated})
	require.NoError(t, err)

	got, err := st.LoadEntities(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"Romashka LLC"}, got[0].Aliases)
}

func TestSQLite_Entities_Validation(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.UpsertEntities(context.Background(), []model.Entity{{EntityID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty normalized_name")

	n, err := st.UpsertEntities(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_DeleteEntities(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertEntities(ctx, testEntities())
	require.NoError(t, err)

	n, err := st.DeleteEntities(ctx, []string{"p-1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := st.CountEntities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func auditRecord(id string, risk model.RiskLevel, review bool, at time.Time) screening.AuditRecord {
	tier := 0
	return screening.AuditRecord{
		RequestID: id,
		Text:      "Оплата от Ivan Petrov ИНН 123456789012",
		Language:  "ru",
		Decision: model.Decision{
			Risk:                     risk,
			Score:                    0.9,
			Reasons:                  []string{"score=0.900", "risk=" + string(risk)},
			ReviewRequired:           review,
			RequiredAdditionalFields: []string{},
			Details:                  map[string]any{"raw_score": 0.9},
		},
		Candidates: []model.Candidate{{
			EntityID:       "p-1",
			EntityType:     model.EntityPerson,
			NormalizedName: "Ivan Petrov",
			FusedScore:     1,
			MatchedTier:    &tier,
			SearchType:     model.SearchExact,
		}},
		SnapshotVersion: 3,
		CreatedAt:       at,
	}
}

func TestSQLite_Screenings(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.RecordScreening(ctx, auditRecord("req-1", model.RiskHigh, false, base)))
	require.NoError(t, st.RecordScreening(ctx, auditRecord("req-2", model.RiskMedium, true, base.Add(time.Minute))))
	require.NoError(t, st.RecordScreening(ctx, auditRecord("req-3", model.RiskLow, false, base.Add(2*time.Minute))))

	got, err := st.GetScreening(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, got.Risk)
	assert.Equal(t, model.RiskHigh, got.Decision.Risk)
	assert.InDelta(t, 0.9, got.Decision.Details["raw_score"], 1e-9)
	assert.Equal(t, uint64(3), got.SnapshotVersion)
	require.Len(t, got.Candidates, 1)
	require.NotNil(t, got.Candidates[0].MatchedTier)
	assert.Equal(t, 0, *got.Candidates[0].MatchedTier)
	assert.True(t, base.Equal(got.CreatedAt))

	all, err := st.ListScreenings(ctx, ScreeningFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "req-3", all[0].RequestID)

	review := true
	flagged, err := st.ListScreenings(ctx, ScreeningFilter{ReviewRequired: &review})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "req-2", flagged[0].RequestID)

	high, err := st.ListScreenings(ctx, ScreeningFilter{Risk: model.RiskHigh})
	require.NoError(t, err)
	require.Len(t, high, 1)

	recent, err := st.ListScreenings(ctx, ScreeningFilter{Since: base.Add(30 * time.Second), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "req-3", recent[0].RequestID)

	page, err := st.ListScreenings(ctx, ScreeningFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "req-2", page[0].RequestID)
}

func TestSQLite_RecordScreening_Overwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, st.RecordScreening(ctx, auditRecord("req-1", model.RiskLow, false, at)))
	require.NoError(t, st.RecordScreening(ctx, auditRecord("req-1", model.RiskHigh, false, at)))

	got, err := st.GetScreening(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, got.Risk)
}

func TestSQLite_GetScreening_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetScreening(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	_, err = Open(ctx, config.StoreConfig{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}
