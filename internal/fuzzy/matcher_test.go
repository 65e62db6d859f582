package fuzzy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
)

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"ivan petrov", "ivan petrov", 1},
		{"ivan petrov", "ivan petrof", 1 - 1.0/11},
		{"", "", 1},
		{"abc", "", 0},
		{"іван", "іван", 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Ratio(tt.a, tt.b), 1e-9, "%q vs %q", tt.a, tt.b)
	}
}

func TestTokenSortRatio(t *testing.T) {
	assert.InDelta(t, 1.0, TokenSortRatio("petrov ivan", "ivan petrov"), 1e-9)
}

func TestPartialRatio(t *testing.T) {
	assert.InDelta(t, 1.0, PartialRatio("petrov", "ivan petrov"), 1e-9)
	assert.InDelta(t, 1.0, PartialRatio("ivan petrov", "petrov"), 1e-9)
	assert.Zero(t, PartialRatio("", "petrov"))
}

func TestScorer(t *testing.T) {
	s := Scorer{PartialThreshold: 0.9, PartialDiscount: 0.9}
	assert.InDelta(t, 0.9, s.Score("petrov", "ivan petrov"), 1e-9)
	assert.InDelta(t, 1.0, s.Score("petrov ivan", "ivan petrov"), 1e-9)
	assert.InDelta(t, 0.9090909, s.Score("ivan petrof", "ivan petrov"), 1e-6)
	assert.Zero(t, s.Score("", "ivan"))

	// partial below the gate is ignored
	strict := Scorer{PartialThreshold: 1.01, PartialDiscount: 0.9}
	assert.Less(t, strict.Score("petrov", "ivan petrov"), 0.6)
}

func corpus() *Corpus {
	return NewCorpus(1, []model.Entity{
		{EntityID: "p-1", EntityType: model.EntityPerson, NormalizedName: "Ivan Petrov", Aliases: []string{"Ivan Ivanovich Petrov"}},
		{EntityID: "p-2", EntityType: model.EntityPerson, NormalizedName: "Maria Petrova"},
		{EntityID: "o-1", EntityType: model.EntityOrganization, NormalizedName: "OOO Romashka"},
	})
}

func defaultMatcher() *Matcher {
	return New(OptionsFromConfig(config.Default().Fuzzy))
}

func TestSearch_ThresholdsAndHighConfidence(t *testing.T) {
	m := defaultMatcher()
	got, err := m.Search(context.Background(), corpus(), "Ivan Petrof", model.EntityPerson)
	require.NoError(t, err)

	require.Len(t, got, 1, "maria petrova scores below min threshold")
	assert.Equal(t, "p-1", got[0].EntityID)
	assert.True(t, got[0].HighConfidence)
	assert.Equal(t, "ivan petrov", got[0].MatchedName)
}

func TestSearch_RestrictedToEntityType(t *testing.T) {
	m := defaultMatcher()
	got, err := m.Search(context.Background(), corpus(), "Romashka", model.EntityPerson)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = m.Search(context.Background(), corpus(), "Romashka", model.EntityOrganization)
	require.NoError(t, err)
	require.Len(t, got, 1)
	// legal form stripped variant matches exactly
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)

	got, err = m.Search(context.Background(), corpus(), "Romashka", "")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSearch_SortedAndTruncated(t *testing.T) {
	c := NewCorpus(1, []model.Entity{
		{EntityID: "b", EntityType: model.EntityPerson, NormalizedName: "John Smith"},
		{EntityID: "a", EntityType: model.EntityPerson, NormalizedName: "Smith John"},
		{EntityID: "c", EntityType: model.EntityPerson, NormalizedName: "Jon Smith"},
	})
	m := New(Options{MinScore: 0.5, HighConfidence: 0.85, MaxCandidates: 2})
	got, err := m.Search(context.Background(), c, "john smith", model.EntityPerson)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].EntityID)
	assert.Equal(t, "b", got[1].EntityID)
}

func TestSearch_CacheKeyedByVersion(t *testing.T) {
	m := New(Options{MinScore: 0.5, HighConfidence: 0.85, CacheSize: 10, CacheTTL: time.Minute})
	ctx := context.Background()

	_, err := m.Search(ctx, corpus(), "ivan petrov", model.EntityPerson)
	require.NoError(t, err)
	_, err = m.Search(ctx, corpus(), "IVAN  PETROV", model.EntityPerson)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Stats().CacheHits)

	v2 := NewCorpus(2, []model.Entity{{EntityID: "x", EntityType: model.EntityPerson, NormalizedName: "Ivan Petrov"}})
	got, err := m.Search(ctx, v2, "ivan petrov", model.EntityPerson)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].EntityID)
	assert.Equal(t, int64(2), m.Stats().CacheMisses)

	m.Purge()
	assert.Zero(t, m.Stats().CacheLen)
}

func TestSearch_CachedResultIsCopied(t *testing.T) {
	m := New(Options{MinScore: 0.5, CacheSize: 10})
	ctx := context.Background()
	first, err := m.Search(ctx, corpus(), "ivan petrov", model.EntityPerson)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	first[0].EntityID = "mutated"

	second, err := m.Search(ctx, corpus(), "ivan petrov", model.EntityPerson)
	require.NoError(t, err)
	assert.Equal(t, "p-1", second[0].EntityID)
}

func TestSearch_CanceledContext(t *testing.T) {
	m := defaultMatcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Search(ctx, corpus(), "ivan petrov", model.EntityPerson)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearch_EmptyQuery(t *testing.T) {
	got, err := defaultMatcher().Search(context.Background(), corpus(), "  ,, ", model.EntityPerson)
	require.NoError(t, err)
	assert.Nil(t, got)
}
