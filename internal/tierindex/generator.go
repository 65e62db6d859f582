package tierindex

import (
	"strings"
	"unicode/utf8"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Generator produces exact-match patterns for one reference entity. Pattern
// text need not be canonical; Build canonicalizes it.
type Generator interface {
	Patterns(e *model.Entity) []model.PatternEntry
}

// DefaultMinFragmentRunes is the shortest name token indexed at the broadest
// tier.
const DefaultMinFragmentRunes = 4

// BasicGenerator indexes identifiers (tier 0), the normalized name (tier 1),
// aliases (tier 2) and single long name tokens (tier 3). It does no
// morphology or permutation.
type BasicGenerator struct {
	MinFragmentRunes int
}

// Patterns implements Generator.
func (g BasicGenerator) Patterns(e *model.Entity) []model.PatternEntry {
	minRunes := g.MinFragmentRunes
	if minRunes <= 0 {
		minRunes = DefaultMinFragmentRunes
	}

	var out []model.PatternEntry
	add := func(text string, tier int) {
		if text == "" {
			return
		}
		out = append(out, model.PatternEntry{
			PatternText: text,
			Tier:        tier,
			EntityID:    e.EntityID,
			EntityType:  e.EntityType,
		})
	}

	for _, id := range e.Identifiers {
		add(textnorm.CanonicalID(id), 0)
	}

	names := append([]string{e.NormalizedName}, e.Aliases...)
	for i, name := range names {
		tier := 2
		if i == 0 {
			tier = 1
		}
		tokens := textnorm.Tokens(name)
		add(strings.Join(tokens, " "), tier)
		if e.EntityType == model.EntityOrganization {
			core, forms := textnorm.StripLegalForms(tokens)
			if forms != "" {
				add(strings.Join(core, " "), tier)
			}
		}
	}

	for _, name := range names {
		core, _ := textnorm.StripLegalForms(textnorm.Tokens(name))
		if len(core) < 2 {
			// a single-token name is already indexed whole at tier 1 or 2
			continue
		}
		for _, tok := range core {
			if utf8.RuneCountInString(tok) >= minRunes && !isDigits(tok) {
				add(tok, 3)
			}
		}
	}
	return out
}

func isDigits(s string) bool {
	return s != "" && textnorm.DigitsOnly(s) == s
}
