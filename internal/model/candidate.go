package model

// SearchType is the strategy that produced a candidate's fused score.
type SearchType string

const (
	SearchExact  SearchType = "exact"
	SearchFuzzy  SearchType = "fuzzy"
	SearchVector SearchType = "vector"
)

// Candidate is one fused search hit, unique per EntityID within a result.
type Candidate struct {
	EntityID       string            `json:"entity_id"`
	EntityType     EntityType        `json:"entity_type"`
	NormalizedName string            `json:"normalized_name"`
	Aliases        []string          `json:"aliases"`
	Country        string            `json:"country,omitempty"`
	DateOfBirth    string            `json:"date_of_birth,omitempty"`
	Metadata       map[string]string `json:"metadata"`
	Identifiers    []string          `json:"identifiers,omitempty"`

	ACScore     float64    `json:"ac_score"`
	FuzzyScore  float64    `json:"fuzzy_score"`
	VectorScore float64    `json:"vector_score"`
	FusedScore  float64    `json:"fused_score"`
	MatchedTier *int       `json:"matched_tier,omitempty"`
	SearchType  SearchType `json:"search_type"`

	// MatchedBy lists strategies that independently matched this entity.
	MatchedBy []SearchType `json:"matched_by"`
	// MatchedPattern is the exact pattern text that hit, if any.
	MatchedPattern string `json:"matched_pattern,omitempty"`
	// HighConfidence is set when the fuzzy score reached the high-confidence threshold.
	HighConfidence bool `json:"high_confidence"`
}

// CandidateFromEntity copies reference fields into a fresh candidate.
func CandidateFromEntity(e *Entity) Candidate {
	meta := make(map[string]string, len(e.Metadata))
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return Candidate{
		EntityID:       e.EntityID,
		EntityType:     e.EntityType,
		NormalizedName: e.NormalizedName,
		Aliases:        append([]string(nil), e.Aliases...),
		Country:        e.Country,
		DateOfBirth:    e.DateOfBirth,
		Metadata:       meta,
		Identifiers:    append([]string(nil), e.Identifiers...),
	}
}

// HasIdentifier reports whether the candidate's reference record carries the value.
func (c Candidate) HasIdentifier(value string) bool {
	if value == "" {
		return false
	}
	for _, id := range c.Identifiers {
		if id == value {
			return true
		}
	}
	return false
}

// Tier returns the matched tier or -1.
func (c Candidate) Tier() int {
	if c.MatchedTier == nil {
		return -1
	}
	return *c.MatchedTier
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }
