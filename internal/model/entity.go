package model

import "strings"

// EntityType distinguishes person and organization records.
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
)

// ParseEntityType maps loose input ("individual", "org", "company") onto an
// EntityType. Unknown values default to EntityPerson.
func ParseEntityType(s string) EntityType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "organization", "organisation", "org", "company", "entity", "legal":
		return EntityOrganization
	default:
		return EntityPerson
	}
}

// Entity is a reference (watch-list) record.
type Entity struct {
	EntityID       string            `json:"entity_id" yaml:"entity_id"`
	EntityType     EntityType        `json:"entity_type" yaml:"entity_type"`
	NormalizedName string            `json:"normalized_name" yaml:"normalized_name"`
	Aliases        []string          `json:"aliases,omitempty" yaml:"aliases,omitempty"`
	Country        string            `json:"country,omitempty" yaml:"country,omitempty"`
	DateOfBirth    string            `json:"date_of_birth,omitempty" yaml:"date_of_birth,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Identifiers    []string          `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`
	Embedding      []float32         `json:"embedding,omitempty" yaml:"embedding,omitempty"`
}

// PatternEntry is one exact-match pattern in the tier index.
type PatternEntry struct {
	PatternText string     `json:"pattern_text"`
	Tier        int        `json:"tier"`
	EntityID    string     `json:"entity_id"`
	EntityType  EntityType `json:"entity_type"`
}

// Tier bounds.
const (
	TierExactID   = 0
	TierBroadest  = 3
	NumberOfTiers = 4
)
