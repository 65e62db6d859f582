// Package linker attaches extracted identifiers and dates to the nearest
// person mention by character distance in the source text.
package linker

import (
	"math"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/watchlist-screen/internal/config"
	"github.com/sells-group/watchlist-screen/internal/model"
)

// Evidence tags written onto persons and the global result.
const (
	TagLinkedProximity   = "id_linked_proximity"
	TagLinkedFallback    = "id_linked_fallback"
	TagLinkedAllFallback = "id_linked_all_fallback"
	TagDOBProximity      = "dob_linked_proximity"
	TagDOBFallback       = "dob_linked_fallback"
	TagUnlinked          = "id_unlinked"
)

// DefaultMaxLinkDistance is the proximity cutoff in characters.
const DefaultMaxLinkDistance = 500

// Options controls linking.
type Options struct {
	MaxLinkDistance int
	// AssignUnlinkedToAll attaches every identifier that could not be placed
	// to all persons that received nothing. Off by default.
	AssignUnlinkedToAll bool
}

// OptionsFromConfig converts the linker config section.
func OptionsFromConfig(cfg config.LinkerConfig) Options {
	return Options{
		MaxLinkDistance:     cfg.MaxLinkDistance,
		AssignUnlinkedToAll: cfg.AssignUnlinkedToAll,
	}
}

// Result holds what the linker could not attach to a person.
type Result struct {
	// Unlinked identifiers (including dates) to surface at the global level.
	Unlinked []model.LinkedIdentifier
	Evidence model.Evidence
}

// Linker is stateless; one instance may be shared across goroutines.
type Linker struct {
	opts Options
}

// New returns a linker. A non-positive distance falls back to the default.
func New(opts Options) *Linker {
	if opts.MaxLinkDistance <= 0 {
		opts.MaxLinkDistance = DefaultMaxLinkDistance
	}
	return &Linker{opts: opts}
}

// Link assigns ids to persons in place. Tax identifiers are appended to
// PersonSignal.Identifiers; valid dates fill PersonSignal.DateOfBirth.
func (l *Linker) Link(persons []model.PersonSignal, ids []model.IdentifierCandidate, text string) Result {
	res := Result{Evidence: model.NewEvidence()}
	for i := range persons {
		if persons[i].Evidence == nil {
			persons[i].Evidence = model.NewEvidence()
		}
	}

	anchors := make([][]int, len(persons))
	for i := range persons {
		anchors[i] = nameAnchors(persons[i], text)
	}

	var taxIDs, dates []model.IdentifierCandidate
	for _, id := range ids {
		if id.Kind == model.IdentifierDate {
			dates = append(dates, id)
		} else {
			taxIDs = append(taxIDs, id)
		}
	}

	received := make([]bool, len(persons))

	var pending []model.IdentifierCandidate
	for _, id := range taxIDs {
		idx := l.nearest(anchors, id, text)
		if idx < 0 {
			pending = append(pending, id)
			continue
		}
		attachID(&persons[idx], id, TagLinkedProximity)
		received[idx] = true
	}
	l.fallbackIDs(persons, pending, received, &res)

	var pendingDates []model.IdentifierCandidate
	for _, d := range dates {
		if !d.IsValid {
			res.Unlinked = append(res.Unlinked, d.Linked())
			continue
		}
		idx := l.nearest(anchors, d, text)
		if idx < 0 || persons[idx].DateOfBirth != "" {
			pendingDates = append(pendingDates, d)
			continue
		}
		persons[idx].DateOfBirth = d.NormalizedValue
		persons[idx].Evidence.Add(TagDOBProximity)
	}
	if len(persons) == 1 && len(pendingDates) == 1 && persons[0].DateOfBirth == "" {
		persons[0].DateOfBirth = pendingDates[0].NormalizedValue
		persons[0].Evidence.Add(TagDOBFallback)
		pendingDates = nil
	}
	for _, d := range pendingDates {
		res.Unlinked = append(res.Unlinked, d.Linked())
	}

	if len(res.Unlinked) > 0 {
		res.Evidence.Add(TagUnlinked)
	}
	return res
}

// fallbackIDs handles identifiers without a usable position or with no person
// in range.
func (l *Linker) fallbackIDs(persons []model.PersonSignal, pending []model.IdentifierCandidate, received []bool, res *Result) {
	if len(pending) == 0 {
		return
	}
	if len(persons) == 1 && distinctValues(pending) == 1 {
		for _, id := range pending {
			attachID(&persons[0], id, TagLinkedFallback)
		}
		return
	}
	if !l.opts.AssignUnlinkedToAll || len(persons) == 0 {
		for _, id := range pending {
			res.Unlinked = append(res.Unlinked, id.Linked())
		}
		return
	}

	targets := make([]int, 0, len(persons))
	for i := range persons {
		if !received[i] {
			targets = append(targets, i)
		}
	}
	if len(targets) == 0 {
		for i := range persons {
			targets = append(targets, i)
		}
	}
	zap.L().Warn("linker: assigning unlinked identifiers to all persons",
		zap.Int("identifiers", len(pending)),
		zap.Int("persons", len(targets)),
	)
	for _, id := range pending {
		for _, i := range targets {
			attachID(&persons[i], id, TagLinkedAllFallback)
		}
	}
}

// nearest returns the index of the closest person within range, or -1.
// Equal distances keep the earlier person.
func (l *Linker) nearest(anchors [][]int, id model.IdentifierCandidate, text string) int {
	if !id.HasSpan() {
		return -1
	}
	best, bestDist := -1, math.MaxInt
	for i, starts := range anchors {
		for _, s := range starts {
			d := charDistance(text, id.Span.Start, s)
			if d < bestDist {
				best, bestDist = i, d
			}
		}
	}
	if best < 0 || bestDist > l.opts.MaxLinkDistance {
		return -1
	}
	return best
}

// distinctValues counts identifiers by normalized value, so several readings
// of one number count once.
func distinctValues(ids []model.IdentifierCandidate) int {
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id.NormalizedValue] = true
	}
	return len(seen)
}

// attachID adds id to p once per normalized value.
func attachID(p *model.PersonSignal, id model.IdentifierCandidate, tag string) {
	for _, have := range p.Identifiers {
		if have.NormalizedValue == id.NormalizedValue {
			return
		}
	}
	p.Identifiers = append(p.Identifiers, id.Linked())
	p.Evidence.Add(tag)
	if id.IsValid {
		p.Evidence.Add("valid_" + string(id.Kind))
	} else {
		p.Evidence.Add("invalid_" + string(id.Kind))
	}
}

// nameAnchors returns byte offsets where the person's name tokens start.
// Known spans win; otherwise each core token is located as a whole word,
// case-insensitively.
func nameAnchors(p model.PersonSignal, text string) []int {
	if len(p.NameSpans) > 0 {
		out := make([]int, 0, len(p.NameSpans))
		for _, s := range p.NameSpans {
			if s.Start >= 0 && s.Start <= len(text) {
				out = append(out, s.Start)
			}
		}
		return out
	}
	var out []int
	words := splitWords(text)
	for _, tok := range p.Core {
		for _, w := range words {
			if equalFold(text[w[0]:w[1]], tok) {
				out = append(out, w[0])
			}
		}
	}
	return out
}

// splitWords returns [start,end) byte offsets of letter/digit runs.
func splitWords(text string) [][2]int {
	var out [][2]int
	start := -1
	for i, r := range text {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\''
		switch {
		case inWord && start < 0:
			start = i
		case !inWord && start >= 0:
			out = append(out, [2]int{start, i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, [2]int{start, len(text)})
	}
	return out
}

func equalFold(a, b string) bool {
	return a != "" && b != "" && foldString(a) == foldString(b)
}

func foldString(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}

// charDistance is |a-b| measured in runes when both offsets fall inside text.
func charDistance(text string, a, b int) int {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if lo < 0 || hi > len(text) {
		return hi - lo
	}
	return utf8.RuneCountInString(text[lo:hi])
}
