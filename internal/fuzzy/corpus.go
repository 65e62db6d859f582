package fuzzy

import (
	"strings"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

type entry struct {
	id         string
	entityType model.EntityType
	// names holds the canonical name and aliases; organizations also get a
	// variant without legal forms.
	names []string
}

// Corpus is the per-snapshot, pre-canonicalized fuzzy pool. Read-only after
// NewCorpus.
type Corpus struct {
	version uint64
	all     []entry
	byType  map[model.EntityType][]entry
}

// NewCorpus canonicalizes every entity's names once.
func NewCorpus(version uint64, entities []model.Entity) *Corpus {
	c := &Corpus{version: version, byType: make(map[model.EntityType][]entry)}
	for i := range entities {
		e := &entities[i]
		en := entry{id: e.EntityID, entityType: e.EntityType}
		seen := make(map[string]bool)
		add := func(s string) {
			if s != "" && !seen[s] {
				seen[s] = true
				en.names = append(en.names, s)
			}
		}
		for _, n := range append([]string{e.NormalizedName}, e.Aliases...) {
			toks := textnorm.Tokens(n)
			add(strings.Join(toks, " "))
			if e.EntityType == model.EntityOrganization {
				core, _ := textnorm.StripLegalForms(toks)
				add(strings.Join(core, " "))
			}
		}
		if len(en.names) == 0 {
			continue
		}
		c.all = append(c.all, en)
		c.byType[e.EntityType] = append(c.byType[e.EntityType], en)
	}
	return c
}

// Version is the snapshot version the corpus was built from.
func (c *Corpus) Version() uint64 { return c.version }

// Len is the number of indexed entities.
func (c *Corpus) Len() int { return len(c.all) }

func (c *Corpus) entries(t model.EntityType) []entry {
	if t == "" {
		return c.all
	}
	return c.byType[t]
}
