// Package search fuses the exact tier index, fuzzy matcher and vector
// fallback into one ranked candidate list per query.
package search

import (
	"context"
	"errors"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/fuzzy"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/resilience"
	"github.com/sells-group/watchlist-screen/internal/snapshot"
	"github.com/sells-group/watchlist-screen/internal/tierindex"
	"github.com/sells-group/watchlist-screen/internal/vector"
)

// Strategy status values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
	StatusOpen    = "circuit_open"
	StatusSkipped = "skipped"
)

// Query is one search request. Name and Identifiers may each be empty.
type Query struct {
	Name        string           `json:"name"`
	Identifiers []string         `json:"identifiers,omitempty"`
	EntityType  model.EntityType `json:"entity_type,omitempty"`
	// EmbeddingText overrides Name for the vector strategy.
	EmbeddingText string `json:"embedding_text,omitempty"`
}

// StrategyStatus records how one strategy ran.
type StrategyStatus struct {
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Matches    int    `json:"matches"`
	DurationMs int64  `json:"duration_ms"`
}

// Degraded reports whether the strategy failed to contribute.
func (s StrategyStatus) Degraded() bool {
	switch s.Status {
	case StatusError, StatusTimeout, StatusOpen:
		return true
	default:
		return false
	}
}

// Result is the fused output.
type Result struct {
	Candidates      []model.Candidate         `json:"candidates"`
	Summary         model.SearchSummary       `json:"summary"`
	Similarity      model.SimilaritySummary   `json:"similarity"`
	StrategyStatus  map[string]StrategyStatus `json:"strategy_status"`
	SnapshotVersion uint64                    `json:"snapshot_version"`
}

// Options configures fusion.
type Options struct {
	// TierConfidence maps tier 0..3 to an exact-match score.
	TierConfidence      []float64
	CorroborationBonus  float64
	VectorMinCandidates int
	StrategyTimeout     time.Duration
	MaxResults          int
	// HighConfidence is the fused score counted as a high-confidence match.
	HighConfidence float64
}

// OptionsFromConfig converts the search section. highConfidence comes from
// the fuzzy section so both agree on what "high confidence" means.
func OptionsFromConfig(cfg config.SearchConfig, highConfidence float64) Options {
	return Options{
		TierConfidence:      append([]float64(nil), cfg.TierConfidence...),
		CorroborationBonus:  cfg.CorroborationBonus,
		VectorMinCandidates: cfg.VectorMinCandidates,
		StrategyTimeout:     time.Duration(cfg.StrategyTimeoutMs) * time.Millisecond,
		MaxResults:          cfg.MaxResults,
		HighConfidence:      highConfidence,
	}
}

// Fuser runs the strategies against one snapshot. Safe for concurrent use.
type Fuser struct {
	opts     Options
	fuzzy    *fuzzy.Matcher
	vector   *vector.Matcher
	breakers *resilience.Breakers
}

// New returns a Fuser. A nil vector matcher or one without an embedder
// disables the vector strategy; nil breakers get defaults.
func New(opts Options, fm *fuzzy.Matcher, vm *vector.Matcher, breakers *resilience.Breakers) *Fuser {
	if len(opts.TierConfidence) != model.NumberOfTiers {
		opts.TierConfidence = []float64{1.0, 0.90, 0.75, 0.60}
	}
	if opts.StrategyTimeout <= 0 {
		opts.StrategyTimeout = 500 * time.Millisecond
	}
	if fm == nil {
		fm = fuzzy.New(fuzzy.Options{MinScore: 0.5, HighConfidence: 0.85})
	}
	if breakers == nil {
		breakers = resilience.NewBreakers(resilience.DefaultBreakerConfig())
	}
	return &Fuser{opts: opts, fuzzy: fm, vector: vm, breakers: breakers}
}

// Breakers exposes the per-strategy circuit breakers.
func (f *Fuser) Breakers() *resilience.Breakers { return f.breakers }

// Search runs exact and fuzzy in parallel, then vector when too few
// candidates were found, and fuses the hits. It never returns an error: a
// failed or timed-out strategy contributes nothing and is recorded in
// StrategyStatus.
func (f *Fuser) Search(ctx context.Context, snap *snapshot.Snapshot, q Query) Result {
	res := Result{StrategyStatus: make(map[string]StrategyStatus, 3)}
	if snap == nil {
		st := StrategyStatus{Status: StatusError, Error: snapshot.ErrNotLoaded.Error()}
		for _, name := range []model.SearchType{model.SearchExact, model.SearchFuzzy, model.SearchVector} {
			res.StrategyStatus[string(name)] = st
		}
		res.Summary = f.summarize(res)
		return res
	}
	res.SnapshotVersion = snap.Version

	var (
		exact   []tierindex.Hit
		fuzzies []fuzzy.Match
		vectors []vector.Match
		mu      sync.Mutex
	)
	record := func(name model.SearchType, st StrategyStatus) {
		mu.Lock()
		res.StrategyStatus[string(name)] = st
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, st := runStrategy(gctx, f.opts.StrategyTimeout, f.breakers.Get(string(model.SearchExact)),
			func(context.Context) ([]tierindex.Hit, error) {
				return exactHits(snap.Index, q), nil
			})
		exact = hits
		st.Matches = len(hits)
		record(model.SearchExact, st)
		return nil
	})
	g.Go(func() error {
		if q.Name == "" {
			record(model.SearchFuzzy, StrategyStatus{Status: StatusSkipped})
			return nil
		}
		hits, st := runStrategy(gctx, f.opts.StrategyTimeout, f.breakers.Get(string(model.SearchFuzzy)),
			func(sctx context.Context) ([]fuzzy.Match, error) {
				return f.fuzzy.Search(sctx, snap.Fuzzy, q.Name, q.EntityType)
			})
		fuzzies = hits
		st.Matches = len(hits)
		record(model.SearchFuzzy, st)
		return nil
	})
	_ = g.Wait()

	text := q.EmbeddingText
	if text == "" {
		text = q.Name
	}
	switch {
	case !f.vector.Enabled() || text == "":
		record(model.SearchVector, StrategyStatus{Status: StatusSkipped})
	case distinct(exact, fuzzies) >= f.opts.VectorMinCandidates:
		record(model.SearchVector, StrategyStatus{Status: StatusSkipped})
	default:
		type out struct {
			hits    []vector.Match
			summary model.SimilaritySummary
		}
		o, st := runStrategy(ctx, f.opts.StrategyTimeout, f.breakers.Get(string(model.SearchVector)),
			func(sctx context.Context) (out, error) {
				hits, summary, err := f.vector.Search(sctx, snap.Vectors, text, q.EntityType)
				return out{hits: hits, summary: summary}, err
			})
		vectors = o.hits
		res.Similarity = o.summary
		st.Matches = len(o.hits)
		record(model.SearchVector, st)
	}

	all := f.fuse(snap, exact, fuzzies, vectors)
	total := len(all)
	if f.opts.MaxResults > 0 && len(all) > f.opts.MaxResults {
		all = all[:f.opts.MaxResults]
	}
	res.Candidates = all
	res.Summary = f.summarize(res)
	res.Summary.TotalMatches = total

	if len(res.Summary.Degraded) > 0 {
		zap.L().Warn("search: degraded strategies",
			zap.Strings("degraded", res.Summary.Degraded),
			zap.Uint64("snapshot_version", snap.Version),
		)
	}
	return res
}

// exactHits scans the name and each identifier. Name hits honor the entity
// type filter; identifier hits do not, since an identifier names exactly one
// record whatever its type.
func exactHits(ix *tierindex.Index, q Query) []tierindex.Hit {
	best := make(map[string]tierindex.Hit)
	keep := func(h tierindex.Hit) {
		if cur, ok := best[h.EntityID]; ok && cur.Tier <= h.Tier {
			return
		}
		best[h.EntityID] = h
	}
	if q.Name != "" {
		for _, h := range ix.Search(q.Name) {
			if q.EntityType != "" && h.EntityType != q.EntityType {
				continue
			}
			keep(h)
		}
	}
	for _, id := range q.Identifiers {
		for _, h := range ix.SearchIdentifier(id) {
			keep(h)
		}
	}

	out := make([]tierindex.Hit, 0, len(best))
	for _, h := range best {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Tier != out[j].Tier {
			return out[i].Tier < out[j].Tier
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

func distinct(exact []tierindex.Hit, fz []fuzzy.Match) int {
	ids := make(map[string]struct{}, len(exact)+len(fz))
	for _, h := range exact {
		ids[h.EntityID] = struct{}{}
	}
	for _, m := range fz {
		ids[m.EntityID] = struct{}{}
	}
	return len(ids)
}

// runStrategy runs fn behind the breaker with its own deadline. The caller
// gets control back at the deadline even if fn ignores its context.
func runStrategy[T any](ctx context.Context, timeout time.Duration, b *resilience.Breaker, fn func(ctx context.Context) (T, error)) (T, StrategyStatus) {
	var zero T
	start := time.Now()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := resilience.Call(sctx, b, fn)
		ch <- result{v: v, err: err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-sctx.Done():
		r = result{err: sctx.Err()}
	}

	st := StrategyStatus{Status: StatusOK, DurationMs: time.Since(start).Milliseconds()}
	switch {
	case r.err == nil:
		return r.v, st
	case errors.Is(r.err, resilience.ErrOpen):
		st.Status = StatusOpen
	case errors.Is(r.err, context.DeadlineExceeded):
		st.Status = StatusTimeout
	default:
		st.Status = StatusError
	}
	st.Error = eris.Wrap(r.err, "search: strategy").Error()
	return zero, st
}

// fuse merges hits by entity id. Each candidate's fused score is the max of
// its component scores plus the corroboration bonus when two or more
// strategies agree, capped at 1.
func (f *Fuser) fuse(snap *snapshot.Snapshot, exact []tierindex.Hit, fz []fuzzy.Match, vec []vector.Match) []model.Candidate {
	byID := make(map[string]*model.Candidate)
	var order []string
	get := func(id string) *model.Candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		e, ok := snap.Entity(id)
		if !ok {
			return nil
		}
		c := model.CandidateFromEntity(e)
		byID[id] = &c
		order = append(order, id)
		return &c
	}

	for _, h := range exact {
		c := get(h.EntityID)
		if c == nil || h.Tier < 0 || h.Tier >= len(f.opts.TierConfidence) {
			continue
		}
		c.ACScore = f.opts.TierConfidence[h.Tier]
		c.MatchedTier = model.IntPtr(h.Tier)
		c.MatchedPattern = h.Pattern
		c.MatchedBy = append(c.MatchedBy, model.SearchExact)
	}
	for _, m := range fz {
		c := get(m.EntityID)
		if c == nil {
			continue
		}
		c.FuzzyScore = m.Score
		c.HighConfidence = m.HighConfidence
		c.MatchedBy = append(c.MatchedBy, model.SearchFuzzy)
	}
	for _, m := range vec {
		c := get(m.EntityID)
		if c == nil {
			continue
		}
		c.VectorScore = clamp01(m.Score)
		c.MatchedBy = append(c.MatchedBy, model.SearchVector)
	}

	out := make([]model.Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		c.FusedScore, c.SearchType = FusedScore(c.ACScore, c.FuzzyScore, c.VectorScore, len(c.MatchedBy), f.opts.CorroborationBonus)
		out = append(out, *c)
	}
	sortCandidates(out)
	return out
}

// sortCandidates orders by fused score desc; ties put exact-tier matches
// first (lower tier first), then entity id ascending.
func sortCandidates(cs []model.Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].FusedScore != cs[j].FusedScore {
			return cs[i].FusedScore > cs[j].FusedScore
		}
		ti, tj := cs[i].Tier(), cs[j].Tier()
		if (ti >= 0) != (tj >= 0) {
			return ti >= 0
		}
		if ti != tj {
			return ti < tj
		}
		return cs[i].EntityID < cs[j].EntityID
	})
}

// statusRank orders outcomes so merging keeps the worst one.
var statusRank = map[string]int{
	StatusSkipped: 0,
	StatusOK:      1,
	StatusTimeout: 2,
	StatusOpen:    3,
	StatusError:   4,
}

// Merge combines the results of several queries against the same snapshot.
// Candidates are joined by entity id: component scores keep their maxima,
// the lowest exact tier wins and matched strategies are unioned, so agreement
// across queries earns the corroboration bonus. Similarity keeps the maxima
// and each strategy keeps its worst status.
func (f *Fuser) Merge(results ...Result) Result {
	if len(results) == 1 {
		return results[0]
	}
	out := Result{StrategyStatus: make(map[string]StrategyStatus, 3)}
	byID := make(map[string]*model.Candidate)
	var order []string
	for _, r := range results {
		if r.SnapshotVersion > out.SnapshotVersion {
			out.SnapshotVersion = r.SnapshotVersion
		}
		if r.Similarity.CosTop > out.Similarity.CosTop {
			out.Similarity.CosTop = r.Similarity.CosTop
		}
		if r.Similarity.CosP95 > out.Similarity.CosP95 {
			out.Similarity.CosP95 = r.Similarity.CosP95
		}
		for name, st := range r.StrategyStatus {
			cur, ok := out.StrategyStatus[name]
			if !ok {
				out.StrategyStatus[name] = st
				continue
			}
			if statusRank[st.Status] > statusRank[cur.Status] {
				cur.Status, cur.Error = st.Status, st.Error
			}
			cur.Matches += st.Matches
			cur.DurationMs = max(cur.DurationMs, st.DurationMs)
			out.StrategyStatus[name] = cur
		}
		for _, c := range r.Candidates {
			cur, ok := byID[c.EntityID]
			if !ok {
				cp := c
				cp.MatchedBy = append([]model.SearchType(nil), c.MatchedBy...)
				byID[c.EntityID] = &cp
				order = append(order, c.EntityID)
				continue
			}
			mergeCandidate(cur, c)
		}
	}

	all := make([]model.Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if len(c.MatchedBy) > 0 {
			c.FusedScore, c.SearchType = FusedScore(c.ACScore, c.FuzzyScore, c.VectorScore, len(c.MatchedBy), f.opts.CorroborationBonus)
		}
		all = append(all, *c)
	}
	sortCandidates(all)
	total := len(all)
	if f.opts.MaxResults > 0 && len(all) > f.opts.MaxResults {
		all = all[:f.opts.MaxResults]
	}
	out.Candidates = all
	out.Summary = f.summarize(out)
	out.Summary.TotalMatches = total
	return out
}

// mergeCandidate folds c into dst. Candidates without recorded strategies
// keep the higher fused score as is.
func mergeCandidate(dst *model.Candidate, c model.Candidate) {
	dst.ACScore = max(dst.ACScore, c.ACScore)
	dst.FuzzyScore = max(dst.FuzzyScore, c.FuzzyScore)
	dst.VectorScore = max(dst.VectorScore, c.VectorScore)
	dst.HighConfidence = dst.HighConfidence || c.HighConfidence
	if t := c.Tier(); t >= 0 && (dst.Tier() < 0 || t < dst.Tier()) {
		dst.MatchedTier = model.IntPtr(t)
		dst.MatchedPattern = c.MatchedPattern
	}
	for _, st := range c.MatchedBy {
		if !slices.Contains(dst.MatchedBy, st) {
			dst.MatchedBy = append(dst.MatchedBy, st)
		}
	}
	if c.FusedScore > dst.FusedScore {
		dst.FusedScore, dst.SearchType = c.FusedScore, c.SearchType
	}
}

// FusedScore derives the fused score and dominant strategy from the
// component scores. Ties between components prefer exact, then fuzzy.
func FusedScore(ac, fz, vec float64, strategies int, bonus float64) (float64, model.SearchType) {
	fused, kind := ac, model.SearchExact
	if fz > fused {
		fused, kind = fz, model.SearchFuzzy
	}
	if vec > fused {
		fused, kind = vec, model.SearchVector
	}
	if strategies >= 2 {
		fused += bonus
	}
	return clamp01(fused), kind
}

func (f *Fuser) summarize(res Result) model.SearchSummary {
	s := model.SearchSummary{
		TotalMatches: len(res.Candidates),
		Candidates:   res.Candidates,
	}
	for _, c := range res.Candidates {
		if c.MatchedTier != nil {
			s.HasExactMatches = true
			if c.ACScore > s.ExactConfidence {
				s.ExactConfidence = c.ACScore
			}
		}
		if f.opts.HighConfidence > 0 && c.FusedScore >= f.opts.HighConfidence {
			s.HighConfidenceMatches++
		}
	}
	for _, name := range []model.SearchType{model.SearchExact, model.SearchFuzzy, model.SearchVector} {
		if st, ok := res.StrategyStatus[string(name)]; ok && st.Degraded() {
			s.Degraded = append(s.Degraded, string(name))
		}
	}
	return s
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
