package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvidenceJSONSorted(t *testing.T) {
	e := NewEvidence("valid_inn", "id_linked_proximity", "date_linked")
	data, err := json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `["date_linked","id_linked_proximity","valid_inn"]`, string(data))

	var back Evidence
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Has("valid_inn"))
	assert.Len(t, back, 3)
}

func TestEvidenceEmptyMarshalsAsArray(t *testing.T) {
	data, err := json.Marshal(Evidence(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestCandidateFromEntityCopies(t *testing.T) {
	e := &Entity{
		EntityID:       "e1",
		EntityType:     EntityPerson,
		NormalizedName: "ivan petrov",
		Aliases:        []string{"petrov ivan"},
		Metadata:       map[string]string{"list": "ofac"},
		Identifiers:    []string{"123456789012"},
	}
	c := CandidateFromEntity(e)
	c.Aliases[0] = "changed"
	c.Metadata["list"] = "changed"
	c.Identifiers[0] = "changed"

	assert.Equal(t, "petrov ivan", e.Aliases[0])
	assert.Equal(t, "ofac", e.Metadata["list"])
	assert.Equal(t, "123456789012", e.Identifiers[0])
}

func TestCandidateHasIdentifier(t *testing.T) {
	c := Candidate{Identifiers: []string{"7707083893"}}
	assert.True(t, c.HasIdentifier("7707083893"))
	assert.False(t, c.HasIdentifier("1234567890"))
	assert.False(t, c.HasIdentifier(""))
}

func TestCandidateTier(t *testing.T) {
	assert.Equal(t, -1, Candidate{}.Tier())
	assert.Equal(t, 2, Candidate{MatchedTier: IntPtr(2)}.Tier())
}

func TestParseEntityType(t *testing.T) {
	tests := []struct {
		in   string
		want EntityType
	}{
		{"person", EntityPerson},
		{"Individual", EntityPerson},
		{"ORG", EntityOrganization},
		{" company ", EntityOrganization},
		{"", EntityPerson},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEntityType(tt.in), tt.in)
	}
}

func TestSignalSetAggregates(t *testing.T) {
	s := SignalSet{
		Persons: []PersonSignal{
			{Confidence: 0.4, Identifiers: []LinkedIdentifier{{NormalizedValue: "a"}}},
			{Confidence: 0.9},
		},
		Organizations: []OrganizationSignal{{Confidence: 0.7, Identifiers: []LinkedIdentifier{{NormalizedValue: "b"}}}},
		Unlinked:      []LinkedIdentifier{{NormalizedValue: "c"}},
	}
	assert.InDelta(t, 0.9, s.PersonConfidence(), 1e-9)
	assert.InDelta(t, 0.7, s.OrgConfidence(), 1e-9)

	var values []string
	for _, id := range s.AllIdentifiers() {
		values = append(values, id.NormalizedValue)
	}
	assert.Equal(t, []string{"a", "b", "c"}, values)
}
