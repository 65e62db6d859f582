// Package tierindex is the exact-match pattern index: every reference entity
// contributes patterns at tiers 0 (identifier) through 3 (name fragment), and
// queries are scanned with a single Aho-Corasick automaton.
package tierindex

import (
	"sort"

	"github.com/coregx/ahocorasick"
	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Hit is the best exact match for one entity.
type Hit struct {
	EntityID   string
	EntityType model.EntityType
	Tier       int
	Pattern    string
}

// Stats summarizes index contents.
type Stats struct {
	Patterns int                      `json:"patterns"`
	Entries  int                      `json:"entries"`
	PerTier  [model.NumberOfTiers]int `json:"per_tier"`
	Entities int                      `json:"entities"`
}

// Index is immutable after Build and safe for concurrent reads.
type Index struct {
	ac       *ahocorasick.Automaton
	patterns []string
	// entries[i] lists every (entity, tier) sharing patterns[i].
	entries [][]model.PatternEntry
	stats   Stats
}

// Build canonicalizes generated patterns and compiles the automaton. When the
// same pattern is produced for the same entity at several tiers, only the
// lowest tier is kept.
func Build(entities []model.Entity, gen Generator) (*Index, error) {
	if gen == nil {
		gen = BasicGenerator{}
	}

	ix := &Index{}
	patternIdx := make(map[string]int)
	type key struct {
		pattern int
		entity  string
	}
	seen := make(map[key]int) // -> position within entries[pattern]
	entitySet := make(map[string]struct{})

	for i := range entities {
		e := &entities[i]
		if e.EntityID == "" {
			return nil, eris.Errorf("tierindex: entity at position %d has no entity_id", i)
		}
		entitySet[e.EntityID] = struct{}{}

		for _, p := range gen.Patterns(e) {
			if p.Tier < model.TierExactID || p.Tier > model.TierBroadest {
				return nil, eris.Errorf("tierindex: pattern %q for %s has tier %d outside 0..%d",
					p.PatternText, e.EntityID, p.Tier, model.TierBroadest)
			}
			text := textnorm.Canonical(p.PatternText)
			if text == "" {
				continue
			}
			p.PatternText = text

			idx, ok := patternIdx[text]
			if !ok {
				idx = len(ix.patterns)
				patternIdx[text] = idx
				ix.patterns = append(ix.patterns, text)
				ix.entries = append(ix.entries, nil)
			}

			k := key{pattern: idx, entity: p.EntityID}
			if pos, dup := seen[k]; dup {
				if p.Tier < ix.entries[idx][pos].Tier {
					ix.entries[idx][pos].Tier = p.Tier
				}
				continue
			}
			seen[k] = len(ix.entries[idx])
			ix.entries[idx] = append(ix.entries[idx], p)
		}
	}

	for _, list := range ix.entries {
		for _, p := range list {
			ix.stats.PerTier[p.Tier]++
			ix.stats.Entries++
		}
	}
	ix.stats.Patterns = len(ix.patterns)
	ix.stats.Entities = len(entitySet)

	if len(ix.patterns) == 0 {
		return ix, nil
	}

	ac, err := ahocorasick.NewBuilder().
		AddStrings(ix.patterns).
		Build()
	if err != nil {
		return nil, eris.Wrap(err, "tierindex: build automaton")
	}
	ix.ac = ac
	return ix, nil
}

// Stats returns index counters.
func (ix *Index) Stats() Stats { return ix.stats }

// Search scans query for whole-word pattern occurrences and returns the
// lowest-tier hit per entity, ordered by tier then entity id.
func (ix *Index) Search(query string) []Hit {
	if ix == nil || ix.ac == nil {
		return nil
	}
	hay := textnorm.Canonical(query)
	if hay == "" {
		return nil
	}
	data := []byte(hay)

	best := make(map[string]Hit)
	for _, m := range ix.ac.FindAllOverlapping(data) {
		if !wholeWord(data, m.Start, m.End) {
			continue
		}
		if m.PatternID < 0 || m.PatternID >= len(ix.entries) {
			continue
		}
		for _, p := range ix.entries[m.PatternID] {
			cur, ok := best[p.EntityID]
			if ok && cur.Tier <= p.Tier {
				continue
			}
			best[p.EntityID] = Hit{
				EntityID:   p.EntityID,
				EntityType: p.EntityType,
				Tier:       p.Tier,
				Pattern:    p.PatternText,
			}
		}
	}

	out := make([]Hit, 0, len(best))
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

// SearchIdentifier matches one identifier value against tier-0 patterns only.
func (ix *Index) SearchIdentifier(value string) []Hit {
	id := textnorm.CanonicalID(value)
	if id == "" {
		return nil
	}
	var out []Hit
	for _, h := range ix.Search(id) {
		if h.Tier == model.TierExactID {
			out = append(out, h)
		}
	}
	return out
}

// wholeWord reports whether [start,end) is bounded by spaces or the ends of
// the canonical haystack.
func wholeWord(hay []byte, start, end int) bool {
	if start < 0 || end > len(hay) || start >= end {
		return false
	}
	if start > 0 && hay[start-1] != ' ' {
		return false
	}
	if end < len(hay) && hay[end] != ' ' {
		return false
	}
	return true
}
