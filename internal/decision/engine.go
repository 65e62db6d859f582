// Package decision turns aggregated signals and fused search evidence into a
// risk verdict. Decide is pure: the same input always yields the same
// Decision, and Details carries everything needed to recompute the score.
package decision

import (
	"fmt"
	"math"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Override and review reasons.
const (
	ReasonSanctionedID = "SANCTIONED ID MATCH CONFIRMED"
	ReasonTINDOB       = "TIN+DOB SANCTIONS MATCH"
	ReasonDegraded     = "degraded evidence"
	ReasonSkip         = "smart filter: should_process=false"
)

// Confirmatory fields requested when evidence is name-only.
const (
	FieldTaxID       = "tax_id"
	FieldDateOfBirth = "date_of_birth"
)

// Factor names in evaluation order.
const (
	FactorSearchExact  = "search_exact"
	FactorSearchFuzzy  = "search_fuzzy"
	FactorSearchVector = "search_vector"
	FactorSimilarity   = "similarity"
	FactorSmartFilter  = "smartfilter"
	FactorPerson       = "person_confidence"
	FactorOrg          = "org_confidence"
	FactorIDMatch      = "id_match_bonus"
	FactorDateMatch    = "date_match_bonus"
)

// Risk sources recorded in details.
const (
	SourceSkip      = "skip"
	SourceOverride  = "override"
	SourceThreshold = "threshold"
)

// Options holds thresholds and weights.
type Options struct {
	ThrHigh   float64
	ThrMedium float64
	Weights   config.DecisionWeights
}

// OptionsFromConfig converts the decision section.
func OptionsFromConfig(cfg config.DecisionConfig) Options {
	return Options{ThrHigh: cfg.ThrHigh, ThrMedium: cfg.ThrMedium, Weights: cfg.Weights}
}

// Engine is stateless and safe for concurrent use.
type Engine struct {
	opts Options
}

// New returns an Engine. Options are expected to be validated by
// config.Validate.
func New(opts Options) *Engine {
	return &Engine{opts: opts}
}

// Options returns the engine configuration.
func (e *Engine) Options() Options { return e.opts }

type factor struct {
	name   string
	weight float64
	value  float64
}

// Decide evaluates one input. It never fails: malformed values contribute
// zero and mark the evidence as degraded.
func (e *Engine) Decide(in model.DecisionInput) model.Decision {
	if !in.SmartFilter.ShouldProcess {
		return e.skip(in)
	}

	var invalid []string
	sanitize := func(name string, v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			invalid = append(invalid, name)
			return 0
		}
		return v
	}

	var topFuzzy, topVector float64
	for _, c := range in.Search.Candidates {
		if v := sanitize(FactorSearchFuzzy, c.FuzzyScore); v > topFuzzy {
			topFuzzy = v
		}
		if v := sanitize(FactorSearchVector, c.VectorScore); v > topVector {
			topVector = v
		}
	}

	w := e.opts.Weights
	factors := []factor{
		{FactorSearchExact, w.SearchExact, sanitize(FactorSearchExact, in.Search.ExactConfidence)},
		{FactorSearchFuzzy, w.SearchFuzzy, topFuzzy},
		{FactorSearchVector, w.SearchVector, topVector},
		{FactorSimilarity, w.Similarity, sanitize(FactorSimilarity, in.Similarity.CosTop)},
		{FactorSmartFilter, w.SmartFilter, sanitize(FactorSmartFilter, in.SmartFilter.Confidence)},
		{FactorPerson, w.Person, sanitize(FactorPerson, in.Signals.PersonConfidence)},
		{FactorOrg, w.Org, sanitize(FactorOrg, in.Signals.OrgConfidence)},
		{FactorIDMatch, w.IDMatch, boolFactor(in.Signals.IDMatch)},
		{FactorDateMatch, w.DateMatch, boolFactor(in.Signals.DateMatch)},
	}

	weights := make(map[string]float64, len(factors))
	inputs := make(map[string]float64, len(factors))
	contributions := make(map[string]float64, len(factors))
	var raw float64
	var factorReasons []string
	for _, f := range factors {
		wt := f.weight
		if math.IsNaN(wt) || math.IsInf(wt, 0) || wt < 0 {
			invalid = append(invalid, "weight:"+f.name)
			wt = 0
		}
		c := wt * f.value
		weights[f.name] = wt
		inputs[f.name] = f.value
		contributions[f.name] = c
		raw += c
		if c != 0 {
			factorReasons = append(factorReasons, fmt.Sprintf("%s=%.3f (weight %.2f)", f.name, f.value, wt))
		}
	}
	score := clamp01(raw)

	ev := evaluateOverrides(in)

	risk, source := e.threshold(score), SourceThreshold
	if len(ev.overrides) > 0 {
		risk, source = model.RiskHigh, SourceOverride
	}

	degraded := len(in.Search.Degraded) > 0 || len(invalid) > 0

	review := false
	switch risk {
	case model.RiskHigh, model.RiskMedium:
		review = !ev.idConfirmed
	case model.RiskLow:
		review = degraded
	}

	fields := []string{}
	if review {
		if !ev.idConfirmed {
			fields = append(fields, FieldTaxID)
		}
		if !ev.dobConfirmed {
			fields = append(fields, FieldDateOfBirth)
		}
	}

	reasons := []string{
		fmt.Sprintf("score=%.3f", score),
		fmt.Sprintf("risk=%s", risk),
	}
	reasons = append(reasons, factorReasons...)
	reasons = append(reasons, ev.overrides...)
	if degraded && risk == model.RiskLow {
		reasons = append(reasons, ReasonDegraded)
	}

	details := map[string]any{
		"weights":       weights,
		"thresholds":    e.thresholds(),
		"inputs":        inputs,
		"contributions": contributions,
		"raw_score":     raw,
		"score":         score,
		"risk_source":   source,
		"overrides":     nonNil(ev.overrides),
		"degraded":      degraded,
		"strategies":    nonNil(in.Search.Degraded),
		"invalid":       nonNil(invalid),
		"total_matches": in.Search.TotalMatches,
	}
	if ev.topEntityID != "" {
		details["top_candidate"] = ev.topEntityID
	}
	if ev.idConfirmed {
		details["matched_entity_id"] = ev.matchedEntityID
		if ev.matchedIdentifier != "" {
			details["matched_identifier"] = ev.matchedIdentifier
		}
	}

	return model.Decision{
		Risk:                     risk,
		Score:                    score,
		Reasons:                  reasons,
		ReviewRequired:           review,
		RequiredAdditionalFields: fields,
		Details:                  details,
	}
}

func (e *Engine) skip(in model.DecisionInput) model.Decision {
	return model.Decision{
		Risk:  model.RiskSkip,
		Score: 0,
		Reasons: []string{
			"score=0.000",
			fmt.Sprintf("risk=%s", model.RiskSkip),
			ReasonSkip,
		},
		RequiredAdditionalFields: []string{},
		Details: map[string]any{
			"risk_source":            SourceSkip,
			"smartfilter_confidence": in.SmartFilter.Confidence,
			"thresholds":             e.thresholds(),
		},
	}
}

func (e *Engine) threshold(score float64) model.RiskLevel {
	switch {
	case score >= e.opts.ThrHigh:
		return model.RiskHigh
	case score >= e.opts.ThrMedium:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

func (e *Engine) thresholds() map[string]float64 {
	return map[string]float64{"high": e.opts.ThrHigh, "medium": e.opts.ThrMedium}
}

type overrideEval struct {
	overrides         []string
	idConfirmed       bool
	dobConfirmed      bool
	matchedIdentifier string
	matchedEntityID   string
	topEntityID       string
}

// evaluateOverrides checks the categorical rules. A sanctioned ID match is
// any query identifier found on any candidate, or an upstream identifier
// match backed by a tier-0 candidate; TIN+DOB additionally requires the top
// candidate to carry both the identifier and a query date as its date of
// birth.
func evaluateOverrides(in model.DecisionInput) overrideEval {
	var ev overrideEval
	cands := in.Search.Candidates
	if len(cands) == 0 {
		return ev
	}
	top := cands[0]
	ev.topEntityID = top.EntityID

	for _, c := range cands {
		if id := sharedIdentifier(c, in.QueryIdentifiers); id != "" {
			ev.idConfirmed = true
			ev.matchedIdentifier = id
			ev.matchedEntityID = c.EntityID
			break
		}
	}
	if !ev.idConfirmed && in.Signals.IDMatch {
		for _, c := range cands {
			if c.Tier() == model.TierExactID {
				ev.idConfirmed = true
				ev.matchedIdentifier = c.MatchedPattern
				ev.matchedEntityID = c.EntityID
				break
			}
		}
	}
	if ev.idConfirmed {
		ev.overrides = append(ev.overrides, ReasonSanctionedID)
	}

	if top.DateOfBirth != "" {
		for _, d := range in.QueryDates {
			if d == top.DateOfBirth {
				ev.dobConfirmed = true
				break
			}
		}
	}
	topHasID := sharedIdentifier(top, in.QueryIdentifiers) != "" ||
		(in.Signals.IDMatch && top.Tier() == model.TierExactID)
	if ev.dobConfirmed && topHasID {
		ev.overrides = append(ev.overrides, ReasonTINDOB)
	}
	return ev
}

// sharedIdentifier returns the first query identifier the candidate carries,
// comparing canonical forms.
func sharedIdentifier(c model.Candidate, query []string) string {
	for _, q := range query {
		qd := textnorm.CanonicalID(q)
		if qd == "" {
			continue
		}
		for _, id := range c.Identifiers {
			if textnorm.CanonicalID(id) == qd {
				return qd
			}
		}
	}
	return ""
}

func boolFactor(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
