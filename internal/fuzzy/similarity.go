package fuzzy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Ratio is 1 - edit distance / longer length, over runes.
func Ratio(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// TokenSortRatio compares the strings after sorting their tokens, so word
// order does not matter.
func TokenSortRatio(a, b string) float64 {
	return Ratio(sortTokens(a), sortTokens(b))
}

// PartialRatio is the best Ratio between the shorter string and any window of
// the same number of tokens in the longer one.
func PartialRatio(a, b string) float64 {
	ta, tb := strings.Fields(a), strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	if len(ta) > len(tb) {
		ta, tb = tb, ta
	}
	short := strings.Join(ta, " ")
	var best float64
	for i := 0; i+len(ta) <= len(tb); i++ {
		r := Ratio(short, strings.Join(tb[i:i+len(ta)], " "))
		if r > best {
			best = r
		}
	}
	return best
}

func sortTokens(s string) string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// Scorer combines the three measures.
type Scorer struct {
	// PartialThreshold gates the partial measure; below it partial is ignored.
	PartialThreshold float64
	// PartialDiscount scales an accepted partial score so a substring hit
	// ranks below a comparable full match.
	PartialDiscount float64
}

// Score returns max(ratio, token-sort, discounted partial) in [0,1]. Inputs
// are expected in canonical form.
func (s Scorer) Score(query, name string) float64 {
	if query == "" || name == "" {
		return 0
	}
	best := Ratio(query, name)
	if ts := TokenSortRatio(query, name); ts > best {
		best = ts
	}
	if best < 1 {
		if p := PartialRatio(query, name); p >= s.PartialThreshold {
			if d := p * s.PartialDiscount; d > best {
				best = d
			}
		}
	}
	return best
}
