package model

// RiskLevel is the terminal state of a screening decision.
type RiskLevel string

const (
	RiskSkip   RiskLevel = "SKIP"
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// SmartFilterVerdict is the upstream pre-classifier result.
type SmartFilterVerdict struct {
	ShouldProcess bool    `json:"should_process"`
	Confidence    float64 `json:"confidence"`
}

// SignalSummary condenses the aggregated signals for the decision engine.
type SignalSummary struct {
	PersonConfidence float64  `json:"person_confidence"`
	OrgConfidence    float64  `json:"org_confidence"`
	IDMatch          bool     `json:"id_match"`
	DateMatch        bool     `json:"date_match"`
	Evidence         []string `json:"evidence"`
}

// SimilaritySummary condenses vector similarity across candidates.
type SimilaritySummary struct {
	CosTop float64 `json:"cos_top"`
	CosP95 float64 `json:"cos_p95"`
}

// SearchSummary condenses the fused search result.
type SearchSummary struct {
	HasExactMatches       bool        `json:"has_exact_matches"`
	ExactConfidence       float64     `json:"exact_confidence"`
	TotalMatches          int         `json:"total_matches"`
	HighConfidenceMatches int         `json:"high_confidence_matches"`
	Candidates            []Candidate `json:"candidates"`
	// Degraded lists strategies that failed or timed out.
	Degraded []string `json:"degraded,omitempty"`
}

// DecisionInput is constructed once per request and never mutated.
type DecisionInput struct {
	Text        string             `json:"text"`
	Language    string             `json:"language"`
	SmartFilter SmartFilterVerdict `json:"smartfilter"`
	Signals     SignalSummary      `json:"signals"`
	Similarity  SimilaritySummary  `json:"similarity"`
	Search      SearchSummary      `json:"search"`

	// QueryIdentifiers are normalized tax-ID values extracted from the text.
	QueryIdentifiers []string `json:"query_identifiers,omitempty"`
	// QueryDates are ISO dates (candidate dates of birth) extracted from the text.
	QueryDates []string `json:"query_dates,omitempty"`
}

// Decision is the screening verdict.
type Decision struct {
	Risk                     RiskLevel      `json:"risk"`
	Score                    float64        `json:"score"`
	Reasons                  []string       `json:"reasons"`
	ReviewRequired           bool           `json:"review_required"`
	RequiredAdditionalFields []string       `json:"required_additional_fields"`
	Details                  map[string]any `json:"details"`
}
