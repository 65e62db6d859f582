// Package fuzzy scores approximate name similarity between a query and the
// reference pool, with a bounded TTL cache per snapshot version.
package fuzzy

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Options configures a Matcher.
type Options struct {
	MinScore         float64
	HighConfidence   float64
	PartialThreshold float64
	PartialDiscount  float64
	MaxCandidates    int
	CacheSize        int
	CacheTTL         time.Duration
}

// OptionsFromConfig converts the fuzzy config section.
func OptionsFromConfig(cfg config.FuzzyConfig) Options {
	return Options{
		MinScore:         cfg.MinScoreThreshold,
		HighConfidence:   cfg.HighConfidenceThreshold,
		PartialThreshold: cfg.PartialMatchThreshold,
		PartialDiscount:  cfg.PartialDiscount,
		MaxCandidates:    cfg.MaxCandidates,
		CacheSize:        cfg.CacheSize,
		CacheTTL:         time.Duration(cfg.CacheTTLSecs) * time.Second,
	}
}

// Match is one fuzzy hit.
type Match struct {
	EntityID       string
	EntityType     model.EntityType
	Score          float64
	HighConfidence bool
	// MatchedName is the canonical name or alias that scored best.
	MatchedName string
}

// Stats are cache counters.
type Stats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	CacheLen    int   `json:"cache_len"`
}

type cacheKey struct {
	query      string
	entityType model.EntityType
	version    uint64
}

// checkEvery is how many entries are scored between context checks.
const checkEvery = 256

// Matcher is safe for concurrent use.
type Matcher struct {
	opts   Options
	scorer Scorer
	cache  *expirable.LRU[cacheKey, []Match]

	hits   atomic.Int64
	misses atomic.Int64
}

// New returns a Matcher. A non-positive CacheSize disables caching.
func New(opts Options) *Matcher {
	if opts.PartialDiscount <= 0 {
		opts.PartialDiscount = 1
	}
	if opts.PartialThreshold <= 0 {
		opts.PartialThreshold = 1
	}
	m := &Matcher{
		opts:   opts,
		scorer: Scorer{PartialThreshold: opts.PartialThreshold, PartialDiscount: opts.PartialDiscount},
	}
	if opts.CacheSize > 0 {
		m.cache = expirable.NewLRU[cacheKey, []Match](opts.CacheSize, nil, opts.CacheTTL)
	}
	return m
}

// Search scores query against the corpus entries of entityType (all types
// when entityType is empty). Results are sorted by score desc then entity id
// and truncated to MaxCandidates.
func (m *Matcher) Search(ctx context.Context, c *Corpus, query string, entityType model.EntityType) ([]Match, error) {
	q := textnorm.Canonical(query)
	if q == "" || c == nil {
		return nil, nil
	}

	key := cacheKey{query: q, entityType: entityType, version: c.Version()}
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			m.hits.Add(1)
			return append([]Match(nil), cached...), nil
		}
	}
	m.misses.Add(1)

	var out []Match
	for i, e := range c.entries(entityType) {
		if i%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		var best float64
		var bestName string
		for _, name := range e.names {
			if s := m.scorer.Score(q, name); s > best {
				best, bestName = s, name
			}
		}
		if best < m.opts.MinScore || best == 0 {
			continue
		}
		out = append(out, Match{
			EntityID:       e.id,
			EntityType:     e.entityType,
			Score:          best,
			HighConfidence: best >= m.opts.HighConfidence,
			MatchedName:    bestName,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].EntityID < out[j].EntityID
	})
	if m.opts.MaxCandidates > 0 && len(out) > m.opts.MaxCandidates {
		out = out[:m.opts.MaxCandidates]
	}

	if m.cache != nil {
		m.cache.Add(key, append([]Match(nil), out...))
	}
	return out, nil
}

// Stats returns cache counters.
func (m *Matcher) Stats() Stats {
	st := Stats{CacheHits: m.hits.Load(), CacheMisses: m.misses.Load()}
	if m.cache != nil {
		st.CacheLen = m.cache.Len()
	}
	return st
}

// Purge drops all cached results.
func (m *Matcher) Purge() {
	if m.cache != nil {
		m.cache.Purge()
	}
}
