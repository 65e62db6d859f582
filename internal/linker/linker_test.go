package linker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
)

func idAt(t *testing.T, text, value string, kind model.IdentifierKind, valid bool) model.IdentifierCandidate {
	t.Helper()
	start := strings.Index(text, value)
	require.GreaterOrEqual(t, start, 0, "value %q not in text", value)
	return model.IdentifierCandidate{
		Kind:            kind,
		RawText:         value,
		NormalizedValue: value,
		IsValid:         valid,
		Confidence:      0.8,
		Span:            &model.Span{Start: start, End: start + len(value)},
	}
}

func person(core ...string) model.PersonSignal {
	return model.PersonSignal{Core: core, FullName: strings.Join(core, " ")}
}

func TestLink_NearestPerson(t *testing.T) {
	text := "Ivan Petrov 123456789012 and Maria Sidorenko"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{idAt(t, text, "123456789012", model.IdentifierINN, false)}

	res := New(Options{}).Link(persons, ids, text)

	require.Len(t, persons[0].Identifiers, 1)
	assert.Equal(t, "123456789012", persons[0].Identifiers[0].NormalizedValue)
	assert.Empty(t, persons[1].Identifiers)
	assert.True(t, persons[0].Evidence.Has(TagLinkedProximity))
	assert.True(t, persons[0].Evidence.Has("invalid_inn"))
	assert.Empty(t, res.Unlinked)
}

func TestLink_IdentifiersBetweenPersonsRouteIndependently(t *testing.T) {
	text := "Ivan Petrov 7707083893 .......... 3005016939 Maria Sidorenko"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{
		idAt(t, text, "7707083893", model.IdentifierINN, true),
		idAt(t, text, "3005016939", model.IdentifierITN, true),
	}

	New(Options{}).Link(persons, ids, text)

	require.Len(t, persons[0].Identifiers, 1)
	require.Len(t, persons[1].Identifiers, 1)
	assert.Equal(t, "7707083893", persons[0].Identifiers[0].NormalizedValue)
	assert.Equal(t, "3005016939", persons[1].Identifiers[0].NormalizedValue)
	assert.True(t, persons[1].Evidence.Has("valid_itn"))
}

func TestLink_TieGoesToEarlierPerson(t *testing.T) {
	text := strings.Repeat(" ", 40)
	persons := []model.PersonSignal{
		{Core: []string{"a"}, NameSpans: []model.Span{{Start: 0, End: 1}}},
		{Core: []string{"b"}, NameSpans: []model.Span{{Start: 20, End: 21}}},
	}
	id := model.IdentifierCandidate{Kind: model.IdentifierINN, NormalizedValue: "x", Span: &model.Span{Start: 10, End: 11}}

	New(Options{}).Link(persons, []model.IdentifierCandidate{id}, text)

	assert.Len(t, persons[0].Identifiers, 1)
	assert.Empty(t, persons[1].Identifiers)
}

func TestLink_DistanceCutoff(t *testing.T) {
	text := "Ivan Petrov " + strings.Repeat("x", 600) + " 7707083893 " + strings.Repeat("y", 600) + " Maria Sidorenko"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{idAt(t, text, "7707083893", model.IdentifierINN, true)}

	res := New(Options{}).Link(persons, ids, text)

	assert.Empty(t, persons[0].Identifiers)
	assert.Empty(t, persons[1].Identifiers)
	require.Len(t, res.Unlinked, 1)
	assert.True(t, res.Evidence.Has(TagUnlinked))
}

func TestLink_DistanceCountsCharactersNotBytes(t *testing.T) {
	// 300 Cyrillic letters are 600 bytes but only 300 characters.
	text := "Іван " + strings.Repeat("я", 300) + " 7707083893 " + strings.Repeat("я", 600) + " Олег"
	persons := []model.PersonSignal{person("Іван"), person("Олег")}
	ids := []model.IdentifierCandidate{idAt(t, text, "7707083893", model.IdentifierINN, true)}

	New(Options{}).Link(persons, ids, text)

	require.Len(t, persons[0].Identifiers, 1)
	assert.True(t, persons[0].Evidence.Has(TagLinkedProximity))
}

func TestLink_SinglePersonSingleIDFallback(t *testing.T) {
	text := "Ivan Petrov"
	persons := []model.PersonSignal{person("Ivan", "Petrov")}
	ids := []model.IdentifierCandidate{{Kind: model.IdentifierINN, NormalizedValue: "7707083893", IsValid: true}}

	res := New(Options{}).Link(persons, ids, text)

	require.Len(t, persons[0].Identifiers, 1)
	assert.True(t, persons[0].Evidence.Has(TagLinkedFallback))
	assert.True(t, persons[0].Evidence.Has("valid_inn"))
	assert.Empty(t, res.Unlinked)
}

func TestLink_AmbiguousFallbackLeavesUnassigned(t *testing.T) {
	text := "Ivan Petrov and Maria Sidorenko"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{{Kind: model.IdentifierINN, NormalizedValue: "7707083893"}}

	res := New(Options{}).Link(persons, ids, text)

	assert.Empty(t, persons[0].Identifiers)
	assert.Empty(t, persons[1].Identifiers)
	require.Len(t, res.Unlinked, 1)
	assert.Equal(t, "7707083893", res.Unlinked[0].NormalizedValue)
}

func TestLink_AssignToAllWhenOptedIn(t *testing.T) {
	text := "Ivan Petrov and Maria Sidorenko"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{{Kind: model.IdentifierINN, NormalizedValue: "7707083893"}}

	opts := OptionsFromConfig(config.LinkerConfig{MaxLinkDistance: 500, AssignUnlinkedToAll: true})
	res := New(opts).Link(persons, ids, text)

	assert.Len(t, persons[0].Identifiers, 1)
	assert.Len(t, persons[1].Identifiers, 1)
	assert.True(t, persons[1].Evidence.Has(TagLinkedAllFallback))
	assert.Empty(t, res.Unlinked)
}

func TestLink_NoDoubleAssignment(t *testing.T) {
	text := "Ivan Petrov 7707083893 Petrov"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Petrov")}
	ids := []model.IdentifierCandidate{idAt(t, text, "7707083893", model.IdentifierINN, true)}

	New(Options{}).Link(persons, ids, text)

	total := len(persons[0].Identifiers) + len(persons[1].Identifiers)
	assert.Equal(t, 1, total)
}

func TestLink_UnlocatablePersonGetsNoProximity(t *testing.T) {
	text := "Ivan Petrov 7707083893"
	persons := []model.PersonSignal{person("Ghost"), person("Ivan", "Petrov")}
	ids := []model.IdentifierCandidate{idAt(t, text, "7707083893", model.IdentifierINN, true)}

	New(Options{}).Link(persons, ids, text)

	assert.Empty(t, persons[0].Identifiers)
	assert.Len(t, persons[1].Identifiers, 1)
}

func TestLink_DatesBecomeDOB(t *testing.T) {
	text := "Ivan Petrov 1985-03-12, Maria Sidorenko 1990-01-01"
	persons := []model.PersonSignal{person("Ivan", "Petrov"), person("Maria", "Sidorenko")}
	ids := []model.IdentifierCandidate{
		idAt(t, text, "1985-03-12", model.IdentifierDate, true),
		idAt(t, text, "1990-01-01", model.IdentifierDate, true),
	}

	res := New(Options{}).Link(persons, ids, text)

	assert.Equal(t, "1985-03-12", persons[0].DateOfBirth)
	assert.Equal(t, "1990-01-01", persons[1].DateOfBirth)
	assert.True(t, persons[0].Evidence.Has(TagDOBProximity))
	assert.Empty(t, persons[0].Identifiers)
	assert.Empty(t, res.Unlinked)
}

func TestLink_InvalidDateSurfacesGlobally(t *testing.T) {
	text := "Ivan Petrov 31.02.1980"
	persons := []model.PersonSignal{person("Ivan", "Petrov")}
	ids := []model.IdentifierCandidate{idAt(t, text, "31.02.1980", model.IdentifierDate, false)}

	res := New(Options{}).Link(persons, ids, text)

	assert.Empty(t, persons[0].DateOfBirth)
	require.Len(t, res.Unlinked, 1)
}

func TestLink_NoPersons(t *testing.T) {
	text := "7707083893"
	ids := []model.IdentifierCandidate{idAt(t, text, "7707083893", model.IdentifierINN, true)}
	res := New(Options{AssignUnlinkedToAll: true}).Link(nil, ids, text)
	assert.Len(t, res.Unlinked, 1)
}

func TestLink_SameValueReadTwiceLinksOnce(t *testing.T) {
	tests := []struct {
		name string
		text string
		tag  string
	}{
		{name: "proximity", text: "Ivan Petrov 7707083893", tag: TagLinkedProximity},
		{name: "fallback", text: "Ivan Petrov " + strings.Repeat(" ", 600) + "7707083893", tag: TagLinkedFallback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			persons := []model.PersonSignal{person("Ivan", "Petrov")}
			ids := []model.IdentifierCandidate{
				idAt(t, tt.text, "7707083893", model.IdentifierINN, true),
				idAt(t, tt.text, "7707083893", model.IdentifierITN, false),
			}

			res := New(Options{}).Link(persons, ids, tt.text)

			require.Len(t, persons[0].Identifiers, 1)
			assert.Equal(t, model.IdentifierINN, persons[0].Identifiers[0].Kind)
			assert.True(t, persons[0].Evidence.Has(tt.tag))
			assert.False(t, persons[0].Evidence.Has("invalid_itn"))
			assert.Empty(t, res.Unlinked)
		})
	}
}
