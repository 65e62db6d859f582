package decision

import (
	"math"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
)

func defaultEngine() *Engine {
	return New(OptionsFromConfig(config.Default().Decision))
}

func processed(conf float64) model.SmartFilterVerdict {
	return model.SmartFilterVerdict{ShouldProcess: true, Confidence: conf}
}

func sanctionedPerson() model.Candidate {
	return model.Candidate{
		EntityID:       "p-1",
		EntityType:     model.EntityPerson,
		NormalizedName: "ivan petrov",
		DateOfBirth:    "1985-03-12",
		Identifiers:    []string{"123456789012"},
		ACScore:        1,
		FuzzyScore:     1,
		FusedScore:     1,
		MatchedTier:    model.IntPtr(0),
		SearchType:     model.SearchExact,
	}
}

func TestDecide_SkipShortCircuits(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: model.SmartFilterVerdict{ShouldProcess: false, Confidence: 0.99},
		Signals:     model.SignalSummary{IDMatch: true, PersonConfidence: 1},
		Search: model.SearchSummary{
			HasExactMatches: true,
			ExactConfidence: 1,
			Candidates:      []model.Candidate{sanctionedPerson()},
		},
		QueryIdentifiers: []string{"123456789012"},
	})

	assert.Equal(t, model.RiskSkip, d.Risk)
	assert.Zero(t, d.Score)
	assert.Equal(t, []string{"score=0.000", "risk=SKIP", ReasonSkip}, d.Reasons)
	assert.False(t, d.ReviewRequired)
	assert.Empty(t, d.RequiredAdditionalFields)
	assert.Equal(t, SourceSkip, d.Details["risk_source"])
}

// Ivan Petrov with identifier 123456789012 against a record carrying it.
func TestDecide_SanctionedIDMatch(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		Text:        "Ivan Petrov ИНН 123456789012",
		SmartFilter: processed(0.9),
		Signals:     model.SignalSummary{PersonConfidence: 0.8, IDMatch: true},
		Search: model.SearchSummary{
			HasExactMatches: true,
			ExactConfidence: 1,
			TotalMatches:    1,
			Candidates:      []model.Candidate{sanctionedPerson()},
		},
		QueryIdentifiers: []string{"123456789012"},
	})

	assert.Equal(t, model.RiskHigh, d.Risk)
	assert.Contains(t, d.Reasons, ReasonSanctionedID)
	assert.False(t, d.ReviewRequired)
	assert.Empty(t, d.RequiredAdditionalFields)
	assert.Equal(t, SourceOverride, d.Details["risk_source"])
	assert.Equal(t, "123456789012", d.Details["matched_identifier"])
	assert.Equal(t, "p-1", d.Details["matched_entity_id"])
}

// Petrov Ivan Vasilievich matched only by fuzzy search at 0.82.
func TestDecide_FuzzyOnlyNeedsReview(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		Text:        "Petrov Ivan Vasilievich",
		SmartFilter: processed(0.9),
		Signals:     model.SignalSummary{PersonConfidence: 0.8},
		Search: model.SearchSummary{
			TotalMatches: 1,
			Candidates: []model.Candidate{{
				EntityID:   "p-1",
				FuzzyScore: 0.82,
				FusedScore: 0.82,
				SearchType: model.SearchFuzzy,
			}},
		},
	})

	assert.Contains(t, []model.RiskLevel{model.RiskHigh, model.RiskMedium}, d.Risk)
	assert.Equal(t, model.RiskMedium, d.Risk)
	assert.InDelta(t, 0.702, d.Score, 1e-9)
	assert.True(t, d.ReviewRequired)
	assert.Equal(t, []string{FieldTaxID, FieldDateOfBirth}, d.RequiredAdditionalFields)
	assert.NotContains(t, d.Reasons, ReasonSanctionedID)
}

func TestDecide_OverrideBeatsLowScore(t *testing.T) {
	e := New(Options{ThrHigh: 0.85, ThrMedium: 0.65, Weights: config.DecisionWeights{SearchFuzzy: 0.1}})
	cand := sanctionedPerson()
	cand.ACScore, cand.FuzzyScore, cand.FusedScore = 0, 0.3, 0.3

	d := e.Decide(model.DecisionInput{
		SmartFilter:      processed(0),
		Signals:          model.SignalSummary{IDMatch: true},
		Search:           model.SearchSummary{Candidates: []model.Candidate{cand}},
		QueryIdentifiers: []string{"1234 5678 9012"},
	})

	assert.Less(t, d.Score, 0.65)
	assert.Equal(t, model.RiskHigh, d.Risk)
	assert.Contains(t, d.Reasons, ReasonSanctionedID)
}

func TestDecide_TINAndDOB(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(0.9),
		Signals:     model.SignalSummary{PersonConfidence: 0.9, IDMatch: true, DateMatch: true},
		Search: model.SearchSummary{
			HasExactMatches: true,
			ExactConfidence: 1,
			Candidates:      []model.Candidate{sanctionedPerson()},
		},
		QueryIdentifiers: []string{"123456789012"},
		QueryDates:       []string{"1985-03-12"},
	})

	assert.Equal(t, model.RiskHigh, d.Risk)
	n := len(d.Reasons)
	assert.Equal(t, []string{ReasonSanctionedID, ReasonTINDOB}, d.Reasons[n-2:])
	assert.False(t, d.ReviewRequired)
	assert.Empty(t, d.RequiredAdditionalFields)
}

func TestDecide_DOBOnlyIsNotAnOverride(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(0),
		Search:      model.SearchSummary{Candidates: []model.Candidate{{EntityID: "p-1", DateOfBirth: "1985-03-12", FuzzyScore: 0.5}}},
		QueryDates:  []string{"1985-03-12"},
	})
	assert.Equal(t, model.RiskLow, d.Risk)
	assert.NotContains(t, d.Reasons, ReasonTINDOB)
}

func TestDecide_Thresholds(t *testing.T) {
	e := New(Options{ThrHigh: 0.85, ThrMedium: 0.65, Weights: config.DecisionWeights{SearchExact: 1}})
	tests := []struct {
		exact float64
		want  model.RiskLevel
	}{
		{0.90, model.RiskHigh},
		{0.85, model.RiskHigh},
		{0.70, model.RiskMedium},
		{0.65, model.RiskMedium},
		{0.50, model.RiskLow},
		{0, model.RiskLow},
	}
	for _, tt := range tests {
		d := e.Decide(model.DecisionInput{
			SmartFilter: processed(0),
			Search:      model.SearchSummary{ExactConfidence: tt.exact},
		})
		assert.Equal(t, tt.want, d.Risk, "exact=%v", tt.exact)
		assert.InDelta(t, tt.exact, d.Score, 1e-9)
	}
}

func TestDecide_ScoreClamped(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(1),
		Signals:     model.SignalSummary{PersonConfidence: 1, OrgConfidence: 1, IDMatch: true, DateMatch: true},
		Similarity:  model.SimilaritySummary{CosTop: 1},
		Search: model.SearchSummary{
			ExactConfidence: 1,
			Candidates:      []model.Candidate{{EntityID: "x", FuzzyScore: 1, VectorScore: 1}},
		},
	})
	assert.InDelta(t, 1.0, d.Score, 1e-9)
	assert.Greater(t, d.Details["raw_score"].(float64), 1.0)
}

func TestDecide_InvalidInputsDegrade(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(math.NaN()),
		Signals:     model.SignalSummary{PersonConfidence: math.Inf(1), OrgConfidence: 1.5},
		Similarity:  model.SimilaritySummary{CosTop: -0.2},
	})

	assert.Equal(t, model.RiskLow, d.Risk)
	assert.Zero(t, d.Score)
	assert.True(t, d.ReviewRequired)
	assert.Equal(t, ReasonDegraded, d.Reasons[len(d.Reasons)-1])
	assert.Equal(t, []string{FieldTaxID, FieldDateOfBirth}, d.RequiredAdditionalFields)
	assert.ElementsMatch(t,
		[]string{FactorSimilarity, FactorSmartFilter, FactorPerson, FactorOrg},
		d.Details["invalid"],
	)
}

func TestDecide_DegradedSearch(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(0.5),
		Search:      model.SearchSummary{Degraded: []string{"vector"}},
	})
	assert.Equal(t, model.RiskLow, d.Risk)
	assert.True(t, d.ReviewRequired)
	assert.Contains(t, d.Reasons, ReasonDegraded)
	assert.Equal(t, []string{"vector"}, d.Details["strategies"])

	clean := defaultEngine().Decide(model.DecisionInput{SmartFilter: processed(0.5)})
	assert.False(t, clean.ReviewRequired)
	assert.NotContains(t, clean.Reasons, ReasonDegraded)
}

func TestDecide_ReasonsOrder(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(0.9),
		Signals:     model.SignalSummary{PersonConfidence: 0.8, OrgConfidence: 0, DateMatch: true},
		Search: model.SearchSummary{
			Candidates: []model.Candidate{{EntityID: "p-1", FuzzyScore: 0.82}},
		},
	})

	require.GreaterOrEqual(t, len(d.Reasons), 6)
	assert.True(t, strings.HasPrefix(d.Reasons[0], "score="))
	assert.True(t, strings.HasPrefix(d.Reasons[1], "risk="))
	var names []string
	for _, r := range d.Reasons[2:] {
		names = append(names, strings.SplitN(r, "=", 2)[0])
	}
	assert.Equal(t, []string{FactorSearchFuzzy, FactorSmartFilter, FactorPerson, FactorDateMatch}, names)
}

func TestDecide_DetailsReproduceScore(t *testing.T) {
	d := defaultEngine().Decide(model.DecisionInput{
		SmartFilter: processed(0.7),
		Signals:     model.SignalSummary{PersonConfidence: 0.6, OrgConfidence: 0.4},
		Similarity:  model.SimilaritySummary{CosTop: 0.77},
		Search: model.SearchSummary{
			ExactConfidence: 0.6,
			Candidates:      []model.Candidate{{EntityID: "p-1", FuzzyScore: 0.55, VectorScore: 0.78}},
		},
	})

	weights := d.Details["weights"].(map[string]float64)
	inputs := d.Details["inputs"].(map[string]float64)
	contributions := d.Details["contributions"].(map[string]float64)

	var sum float64
	for name, w := range weights {
		assert.InDelta(t, w*inputs[name], contributions[name], 1e-12, name)
		sum += contributions[name]
	}
	assert.InDelta(t, math.Min(1, sum), d.Score, 1e-12)
}

func TestDecide_Deterministic(t *testing.T) {
	in := model.DecisionInput{
		SmartFilter:      processed(0.9),
		Signals:          model.SignalSummary{PersonConfidence: 0.8, IDMatch: true},
		Search:           model.SearchSummary{ExactConfidence: 1, Candidates: []model.Candidate{sanctionedPerson()}},
		QueryIdentifiers: []string{"123456789012"},
	}
	e := defaultEngine()
	assert.Equal(t, e.Decide(in), e.Decide(in))
}

func TestDecide_IdentifierComparison(t *testing.T) {
	tests := []struct {
		name      string
		candidate string
		query     string
		want      bool
	}{
		{name: "separators ignored", candidate: "77-07-083893", query: "7707083893", want: true},
		{name: "letter prefix is significant", candidate: "AB12345678", query: "12345678", want: false},
		{name: "letter prefix case folded", candidate: "AB12345678", query: "ab 12345678", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := model.Candidate{EntityID: "p-9", FuzzyScore: 0.5, FusedScore: 0.5, Identifiers: []string{tt.candidate}}
			d := defaultEngine().Decide(model.DecisionInput{
				SmartFilter:      processed(0.5),
				Search:           model.SearchSummary{Candidates: []model.Candidate{cand}},
				QueryIdentifiers: []string{tt.query},
			})
			if tt.want {
				assert.Contains(t, d.Reasons, ReasonSanctionedID)
				assert.Equal(t, model.RiskHigh, d.Risk)
			} else {
				assert.NotContains(t, d.Reasons, ReasonSanctionedID)
				assert.NotContains(t, d.Details, "matched_identifier")
			}
		})
	}
}

func TestDecide_UpstreamIDMatchWithTierZero(t *testing.T) {
	tests := []struct {
		name    string
		idMatch bool
		tier    *int
		dates   []string
		want    []string
	}{
		{name: "tier zero with id match", idMatch: true, tier: model.IntPtr(0), want: []string{ReasonSanctionedID}},
		{name: "tier zero with id match and dob", idMatch: true, tier: model.IntPtr(0), dates: []string{"1985-03-12"}, want: []string{ReasonSanctionedID, ReasonTINDOB}},
		{name: "id match without tier zero", idMatch: true, tier: model.IntPtr(1)},
		{name: "tier zero without id match", tier: model.IntPtr(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cand := sanctionedPerson()
			cand.MatchedTier = tt.tier
			cand.MatchedPattern = "123456789012"
			d := defaultEngine().Decide(model.DecisionInput{
				SmartFilter: processed(0.9),
				Signals:     model.SignalSummary{PersonConfidence: 0.8, IDMatch: tt.idMatch},
				Search:      model.SearchSummary{Candidates: []model.Candidate{cand}},
				QueryDates:  tt.dates,
			})
			for _, r := range []string{ReasonSanctionedID, ReasonTINDOB} {
				if slices.Contains(tt.want, r) {
					assert.Contains(t, d.Reasons, r)
				} else {
					assert.NotContains(t, d.Reasons, r)
				}
			}
			if len(tt.want) > 0 {
				assert.Equal(t, model.RiskHigh, d.Risk)
				assert.False(t, d.ReviewRequired)
				assert.Equal(t, "p-1", d.Details["matched_entity_id"])
				assert.Equal(t, "123456789012", d.Details["matched_identifier"])
			}
		})
	}
}
