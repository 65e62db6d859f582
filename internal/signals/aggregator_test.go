package signals

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// tok locates text's first occurrence of word at or after from and returns a
// token with its span.
func tok(t *testing.T, text, word string, role model.TokenRole, group int) model.NameToken {
	t.Helper()
	i := strings.Index(text, word)
	require.GreaterOrEqual(t, i, 0)
	return model.NameToken{Text: word, Role: role, Group: group, Span: &model.Span{Start: i, End: i + len(word)}}
}

func TestAggregate_PersonWithIDAndDOB(t *testing.T) {
	text := "Ivan Petrov ИНН 500100732259 д.р. 12.03.1985"
	in := Input{
		Text:     text,
		Language: "ru",
		Tokens: []model.NameToken{
			tok(t, text, "Ivan", model.RoleGiven, 0),
			tok(t, text, "Petrov", model.RoleSurname, 0),
		},
	}

	res := New(nil, nil).Aggregate(in)

	require.Len(t, res.Signals.Persons, 1)
	p := res.Signals.Persons[0]
	assert.Equal(t, []string{"Ivan", "Petrov"}, p.Core)
	assert.Equal(t, "Ivan Petrov", p.FullName)
	assert.Equal(t, "1985-03-12", p.DateOfBirth)
	require.Len(t, p.Identifiers, 1)
	assert.Equal(t, "500100732259", p.Identifiers[0].NormalizedValue)
	assert.True(t, p.Evidence.Has(TagNameFull))
	assert.True(t, p.Evidence.Has("valid_inn"))
	assert.InDelta(t, 0.85, p.Confidence, 1e-9)

	assert.True(t, res.Signals.Evidence.Has(TagHasValidID))
	assert.True(t, res.Signals.Evidence.Has(TagHasDOB))
	assert.Len(t, res.Identifiers, 2)
}

func TestAggregate_OrganizationLegalFormNotInCore(t *testing.T) {
	text := "ТОВ Ромашка ЄДРПОУ 14360570"
	in := Input{
		Text: text,
		Tokens: []model.NameToken{
			tok(t, text, "ТОВ", model.RoleLegalForm, 1),
			tok(t, text, "Ромашка", model.RoleOrg, 1),
		},
	}

	res := New(nil, nil).Aggregate(in)

	assert.Empty(t, res.Signals.Persons)
	require.Len(t, res.Signals.Organizations, 1)
	o := res.Signals.Organizations[0]
	assert.Equal(t, []string{"Ромашка"}, o.Core)
	assert.Equal(t, "ТОВ", o.LegalForm)
	assert.Equal(t, "ТОВ Ромашка", o.FullName)
	require.Len(t, o.Identifiers, 1)
	assert.Equal(t, model.IdentifierEDRPOU, o.Identifiers[0].Kind)
	assert.True(t, o.Evidence.Has(TagOrgLinked))
	assert.InDelta(t, 0.8, o.Confidence, 1e-9)
	assert.Empty(t, res.Signals.Unlinked)
}

func TestAggregate_MislabeledLegalFormStillExcluded(t *testing.T) {
	text := "Acme LLC"
	in := Input{
		Text: text,
		Tokens: []model.NameToken{
			tok(t, text, "Acme", model.RoleOrg, 0),
			tok(t, text, "LLC", model.RoleOrg, 0),
		},
	}
	res := New(nil, nil).Aggregate(in)
	require.Len(t, res.Signals.Organizations, 1)
	assert.Equal(t, []string{"Acme"}, res.Signals.Organizations[0].Core)
	assert.Equal(t, "LLC", res.Signals.Organizations[0].LegalForm)
}

func TestAggregate_GroupsInFirstAppearanceOrder(t *testing.T) {
	text := "Maria Sidorenko and Ivan Petrov"
	in := Input{
		Text: text,
		Tokens: []model.NameToken{
			tok(t, text, "Maria", model.RoleGiven, 7),
			tok(t, text, "Sidorenko", model.RoleSurname, 7),
			tok(t, text, "Ivan", model.RoleGiven, 2),
			tok(t, text, "Petrov", model.RoleSurname, 2),
		},
	}
	res := New(nil, nil).Aggregate(in)
	require.Len(t, res.Signals.Persons, 2)
	assert.Equal(t, "Maria Sidorenko", res.Signals.Persons[0].FullName)
	assert.Equal(t, "Ivan Petrov", res.Signals.Persons[1].FullName)
}

func TestAggregate_InitialsExcludedFromCore(t *testing.T) {
	text := "Petrov I."
	in := Input{
		Text: text,
		Tokens: []model.NameToken{
			tok(t, text, "Petrov", model.RoleSurname, 0),
			tok(t, text, "I", model.RoleInitial, 0),
		},
	}
	res := New(nil, nil).Aggregate(in)
	require.Len(t, res.Signals.Persons, 1)
	p := res.Signals.Persons[0]
	assert.Equal(t, []string{"Petrov"}, p.Core)
	assert.True(t, p.Evidence.Has(TagNameInitials))
	assert.InDelta(t, 0.6, p.Confidence, 1e-9)
}

func TestAggregate_NoTokens(t *testing.T) {
	res := New(nil, nil).Aggregate(Input{Text: "payment 7707083893"})
	assert.Empty(t, res.Signals.Persons)
	// INN and ITN readings of the same digits both surface globally.
	assert.Len(t, res.Signals.Unlinked, 2)
	assert.True(t, res.Signals.Evidence.Has(TagHasValidID))
}

func TestAggregate_TenDigitNumberLinksOnce(t *testing.T) {
	tests := []struct {
		name    string
		padding int
		tag     string
	}{
		{name: "in range", padding: 10, tag: "id_linked_proximity"},
		{name: "out of range falls back to sole person", padding: 610, tag: "id_linked_fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := "Ivan Petrov " + strings.Repeat(".", tt.padding) + " 7707083893"
			in := Input{
				Text:     text,
				Language: "ru",
				Tokens: []model.NameToken{
					tok(t, text, "Ivan", model.RoleGiven, 0),
					tok(t, text, "Petrov", model.RoleSurname, 0),
				},
			}

			res := New(nil, nil).Aggregate(in)

			require.Len(t, res.Signals.Persons, 1)
			p := res.Signals.Persons[0]
			require.Len(t, p.Identifiers, 1)
			assert.Equal(t, "7707083893", p.Identifiers[0].NormalizedValue)
			assert.Equal(t, model.IdentifierINN, p.Identifiers[0].Kind)
			assert.True(t, p.Evidence.Has(tt.tag))
			assert.True(t, p.Evidence.Has("valid_inn"))
			assert.False(t, p.Evidence.Has("invalid_itn"))
			assert.Empty(t, res.Signals.Unlinked)
		})
	}
}

func TestCollapseSameSpan(t *testing.T) {
	sp := &model.Span{Start: 4, End: 14}
	ids := []model.IdentifierCandidate{
		{Kind: model.IdentifierINN, NormalizedValue: "1234567890", IsValid: false, Confidence: 0.5, Span: sp},
		{Kind: model.IdentifierITN, NormalizedValue: "1234567890", IsValid: true, Confidence: 0.4, Span: sp},
		{Kind: model.IdentifierINN, NormalizedValue: "1234567890", IsValid: true, Confidence: 0.9, Span: &model.Span{Start: 40, End: 50}},
	}

	out := collapseSameSpan(ids)

	require.Len(t, out, 2)
	assert.Equal(t, model.IdentifierITN, out[0].Kind)
	assert.Equal(t, 40, out[1].Span.Start)
}
