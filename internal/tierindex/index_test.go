package tierindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/model"
)

func testEntities() []model.Entity {
	return []model.Entity{
		{
			EntityID:       "p-1",
			EntityType:     model.EntityPerson,
			NormalizedName: "Ivan Petrov",
			Aliases:        []string{"Ivan Ivanovich Petrov"},
			Identifiers:    []string{"123456789012"},
		},
		{
			EntityID:       "o-1",
			EntityType:     model.EntityOrganization,
			NormalizedName: "ООО Ромашка",
			Identifiers:    []string{"1027700132195"},
		},
		{
			EntityID:       "p-2",
			EntityType:     model.EntityPerson,
			NormalizedName: "Maria Petrova",
		},
	}
}

func buildIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Build(testEntities(), BasicGenerator{})
	require.NoError(t, err)
	return ix
}

func TestBasicGenerator(t *testing.T) {
	e := testEntities()[0]
	got := BasicGenerator{}.Patterns(&e)

	byTier := map[int][]string{}
	for _, p := range got {
		byTier[p.Tier] = append(byTier[p.Tier], p.PatternText)
		assert.Equal(t, "p-1", p.EntityID)
	}
	assert.Equal(t, []string{"123456789012"}, byTier[0])
	assert.Equal(t, []string{"ivan petrov"}, byTier[1])
	assert.Equal(t, []string{"ivan ivanovich petrov"}, byTier[2])
	assert.Contains(t, byTier[3], "petrov")
	assert.Contains(t, byTier[3], "ivanovich")
}

func TestBasicGenerator_OrganizationWithoutLegalForm(t *testing.T) {
	e := testEntities()[1]
	var tier1 []string
	for _, p := range (BasicGenerator{}).Patterns(&e) {
		if p.Tier == 1 {
			tier1 = append(tier1, p.PatternText)
		}
	}
	assert.Equal(t, []string{"ооо ромашка", "ромашка"}, tier1)
}

func TestSearch_TierLadder(t *testing.T) {
	ix := buildIndex(t)

	tests := []struct {
		name     string
		query    string
		wantID   string
		wantTier int
	}{
		{"identifier in text", "payment to 123456789012", "p-1", 0},
		{"full name", "Transfer for IVAN PETROV, thanks", "p-1", 1},
		{"alias", "ivan ivanovich petrov", "p-1", 2},
		{"org without legal form", "оплата ромашка", "o-1", 1},
		{"fragment only", "mr petrov", "p-1", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits := ix.Search(tt.query)
			var found *Hit
			for i := range hits {
				if hits[i].EntityID == tt.wantID {
					found = &hits[i]
				}
			}
			require.NotNil(t, found, "no hit for %s in %+v", tt.wantID, hits)
			assert.Equal(t, tt.wantTier, found.Tier)
		})
	}
}

func TestSearch_LowestTierWins(t *testing.T) {
	ix := buildIndex(t)
	// Text contains identifier (tier 0), name (tier 1) and fragment (tier 3).
	hits := ix.Search("Ivan Petrov 123456789012 petrov")
	require.NotEmpty(t, hits)
	assert.Equal(t, "p-1", hits[0].EntityID)
	assert.Equal(t, 0, hits[0].Tier)
	for _, h := range hits {
		if h.EntityID == "p-1" {
			assert.Equal(t, 0, h.Tier)
		}
	}
}

func TestSearch_WholeWordOnly(t *testing.T) {
	ix := buildIndex(t)
	// "petrovsky" contains "petrov" but is a different word.
	assert.Empty(t, ix.Search("petrovsky street"))
	// digits embedded in a longer number do not match
	assert.Empty(t, ix.Search("91234567890123"))
}

func TestSearch_OrderedByTierThenID(t *testing.T) {
	ix, err := Build([]model.Entity{
		{EntityID: "b", EntityType: model.EntityPerson, NormalizedName: "Anna Smith"},
		{EntityID: "a", EntityType: model.EntityPerson, NormalizedName: "John Smith"},
	}, nil)
	require.NoError(t, err)

	hits := ix.Search("smith")
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].EntityID)
	assert.Equal(t, "b", hits[1].EntityID)
}

func TestSearchIdentifier(t *testing.T) {
	ix := buildIndex(t)
	hits := ix.SearchIdentifier("1027700132195")
	require.Len(t, hits, 1)
	assert.Equal(t, "o-1", hits[0].EntityID)
	assert.Equal(t, model.EntityOrganization, hits[0].EntityType)

	assert.Empty(t, ix.SearchIdentifier("0000"))
	assert.Empty(t, ix.SearchIdentifier(""))
}

func TestSearchIdentifier_LettersAreSignificant(t *testing.T) {
	ix, err := Build([]model.Entity{
		{EntityID: "p-7", EntityType: model.EntityPerson, NormalizedName: "Oleh Koval", Identifiers: []string{"AB12345678"}},
		{EntityID: "o-7", EntityType: model.EntityOrganization, NormalizedName: "Acme", Identifiers: []string{"77-07-083893"}},
	}, BasicGenerator{})
	require.NoError(t, err)

	tests := []struct {
		query string
		want  []string
	}{
		{query: "12345678"},
		{query: "AB12345678", want: []string{"p-7"}},
		{query: "ab 1234 5678", want: []string{"p-7"}},
		{query: "7707083893", want: []string{"o-7"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var got []string
			for _, h := range ix.SearchIdentifier(tt.query) {
				got = append(got, h.EntityID)
			}
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Empty(t, ix.Search("payment ref 12345678"))
}

func TestBuild_Errors(t *testing.T) {
	_, err := Build([]model.Entity{{NormalizedName: "x"}}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entity_id")

	_, err = Build([]model.Entity{{EntityID: "x", NormalizedName: "x"}}, badGenerator{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside")
}

type badGenerator struct{}

func (badGenerator) Patterns(e *model.Entity) []model.PatternEntry {
	return []model.PatternEntry{{PatternText: "x", Tier: 7, EntityID: e.EntityID}}
}

func TestBuild_EmptyIndex(t *testing.T) {
	ix, err := Build(nil, nil)
	require.NoError(t, err)
	assert.Nil(t, ix.Search("anything"))
	assert.Equal(t, 0, ix.Stats().Patterns)
}

func TestStats(t *testing.T) {
	ix := buildIndex(t)
	st := ix.Stats()
	assert.Equal(t, 3, st.Entities)
	assert.Equal(t, 2, st.PerTier[0])
	assert.Greater(t, st.PerTier[3], 0)
	assert.Equal(t, st.PerTier[0]+st.PerTier[1]+st.PerTier[2]+st.PerTier[3], st.Entries)
}
