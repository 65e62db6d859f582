// Package identifier recognizes tax numbers, registration numbers and dates
// in normalized screening text.
package identifier

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// Recognizer finds one identifier class in text. Recognizers never fail:
// malformed input simply yields no candidates or invalid ones.
type Recognizer interface {
	Kind() model.IdentifierKind
	Find(text, lang string) []model.IdentifierCandidate
}

// Extractor runs a fixed list of recognizers independently.
type Extractor struct {
	recognizers []Recognizer
}

// NewExtractor returns an extractor with the given recognizers, or the
// default set when none are supplied.
func NewExtractor(recognizers ...Recognizer) *Extractor {
	if len(recognizers) == 0 {
		recognizers = DefaultRecognizers()
	}
	return &Extractor{recognizers: recognizers}
}

// DefaultRecognizers returns the built-in recognizer set in evaluation order.
func DefaultRecognizers() []Recognizer {
	return []Recognizer{
		innRecognizer{},
		itnRecognizer{},
		edrpouRecognizer{},
		ogrnRecognizer{},
		dateRecognizer{},
	}
}

// Extract returns every candidate ordered by span start. Candidates from
// different recognizers may overlap; ties keep recognizer order.
func (e *Extractor) Extract(text, lang string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, r := range e.recognizers {
		out = append(out, r.Find(text, lang)...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Span.Start < out[j].Span.Start
	})
	return out
}

var digitRunRe = regexp.MustCompile(`\d+`)

// digitRuns returns [start,end) byte offsets of maximal ASCII digit runs with
// the given lengths.
func digitRuns(text string, lengths ...int) [][]int {
	var out [][]int
	for _, loc := range digitRunRe.FindAllStringIndex(text, -1) {
		n := loc[1] - loc[0]
		for _, l := range lengths {
			if n == l {
				out = append(out, loc)
				break
			}
		}
	}
	return out
}

// contextWindow is how many bytes before a match are searched for keywords.
const contextWindow = 24

// precededBy reports whether any keyword appears shortly before start.
func precededBy(text string, start int, keywords []string) bool {
	from := start - contextWindow
	if from < 0 {
		from = 0
	}
	for from < start && !utf8.RuneStart(text[from]) {
		from++
	}
	window := strings.ToLower(text[from:start])
	for _, kw := range keywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func newCandidate(kind model.IdentifierKind, text string, loc []int, normalized string, valid bool, conf float64) model.IdentifierCandidate {
	return model.IdentifierCandidate{
		Kind:            kind,
		RawText:         text[loc[0]:loc[1]],
		NormalizedValue: normalized,
		IsValid:         valid,
		Confidence:      clamp01(conf),
		Span:            &model.Span{Start: loc[0], End: loc[1]},
	}
}

var (
	innKeywords    = []string{"инн", "inn", "ідентифікаційн", "taxpayer"}
	itnKeywords    = []string{"ипн", "іпн", "рнокпп", "інн", "itn", "tax id", "tin"}
	edrpouKeywords = []string{"єдрпоу", "едрпоу", "edrpou", "код"}
	ogrnKeywords   = []string{"огрн", "ogrn", "огрнип"}
)

type innRecognizer struct{}

func (innRecognizer) Kind() model.IdentifierKind { return model.IdentifierINN }

func (innRecognizer) Find(text, lang string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, loc := range digitRuns(text, 10, 12) {
		v := text[loc[0]:loc[1]]
		valid := ValidINN(v)
		conf := 0.4
		if valid {
			conf = 0.85
		}
		if precededBy(text, loc[0], innKeywords) {
			conf += 0.1
		}
		if lang == "uk" && len(v) == 10 {
			conf -= 0.1
		}
		out = append(out, newCandidate(model.IdentifierINN, text, loc, v, valid, conf))
	}
	return out
}

type itnRecognizer struct{}

func (itnRecognizer) Kind() model.IdentifierKind { return model.IdentifierITN }

func (itnRecognizer) Find(text, lang string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, loc := range digitRuns(text, 10) {
		v := text[loc[0]:loc[1]]
		valid := ValidITN(v)
		conf := 0.4
		if valid {
			conf = 0.85
		}
		if precededBy(text, loc[0], itnKeywords) {
			conf += 0.1
		}
		if lang == "ru" {
			conf -= 0.1
		}
		out = append(out, newCandidate(model.IdentifierITN, text, loc, v, valid, conf))
	}
	return out
}

type edrpouRecognizer struct{}

func (edrpouRecognizer) Kind() model.IdentifierKind { return model.IdentifierEDRPOU }

func (edrpouRecognizer) Find(text, _ string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, loc := range digitRuns(text, 8) {
		v := text[loc[0]:loc[1]]
		valid := ValidEDRPOU(v)
		conf := 0.3
		if valid {
			conf = 0.75
		}
		if precededBy(text, loc[0], edrpouKeywords) {
			conf += 0.15
		}
		out = append(out, newCandidate(model.IdentifierEDRPOU, text, loc, v, valid, conf))
	}
	return out
}

type ogrnRecognizer struct{}

func (ogrnRecognizer) Kind() model.IdentifierKind { return model.IdentifierOGRN }

func (ogrnRecognizer) Find(text, _ string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, loc := range digitRuns(text, 13, 15) {
		v := text[loc[0]:loc[1]]
		valid := ValidOGRN(v)
		conf := 0.35
		if valid {
			conf = 0.8
		}
		if precededBy(text, loc[0], ogrnKeywords) {
			conf += 0.15
		}
		out = append(out, newCandidate(model.IdentifierOGRN, text, loc, v, valid, conf))
	}
	return out
}
