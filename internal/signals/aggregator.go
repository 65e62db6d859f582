// Package signals assembles person and organization signals from name tokens
// and linked identifiers.
package signals

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/watchlist-screen/internal/identifier"
	"github.com/sells-group/watchlist-screen/internal/linker"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Evidence tags.
const (
	TagNameFull       = "name_full"
	TagNamePatronymic = "name_patronymic"
	TagNameInitials   = "name_initials"
	TagNamePartial    = "name_partial"
	TagNameUnknown    = "name_unknown_roles"
	TagLegalForm      = "legal_form"
	TagOrgLinked      = "id_linked_org"
	TagHasValidID     = "has_valid_id"
	TagHasDOB         = "has_dob"
)

// Input is one normalized text with its name tokens.
type Input struct {
	Text     string
	Language string
	Tokens   []model.NameToken
}

// Result is the aggregator output plus every raw extractor hit.
type Result struct {
	Signals     model.SignalSet
	Identifiers []model.IdentifierCandidate
}

// Aggregator runs extraction and linking and builds signals. Safe for
// concurrent use.
type Aggregator struct {
	extractor *identifier.Extractor
	linker    *linker.Linker
}

// New returns an aggregator.
func New(ex *identifier.Extractor, l *linker.Linker) *Aggregator {
	if ex == nil {
		ex = identifier.NewExtractor()
	}
	if l == nil {
		l = linker.New(linker.Options{})
	}
	return &Aggregator{extractor: ex, linker: l}
}

// Aggregate builds the signal set for in.
func (a *Aggregator) Aggregate(in Input) Result {
	ids := a.extractor.Extract(in.Text, in.Language)
	persons, orgs := buildMentions(in.Tokens)

	personIDs, orgIDs := splitByHolder(collapseSameSpan(ids))
	lr := a.linker.Link(persons, personIDs, in.Text)

	set := model.SignalSet{
		Persons:       persons,
		Organizations: orgs,
		Evidence:      lr.Evidence,
	}

	for _, id := range orgIDs {
		if len(set.Organizations) == 1 {
			o := &set.Organizations[0]
			o.Identifiers = append(o.Identifiers, id.Linked())
			o.Evidence.Add(TagOrgLinked)
			o.Evidence.Add(validityTag(id))
			continue
		}
		set.Unlinked = append(set.Unlinked, id.Linked())
	}
	set.Unlinked = append(set.Unlinked, lr.Unlinked...)

	for i := range set.Persons {
		scorePerson(&set.Persons[i])
	}
	for i := range set.Organizations {
		scoreOrganization(&set.Organizations[i])
	}

	for _, id := range set.AllIdentifiers() {
		if id.IsValid && id.Kind.IsTaxID() {
			set.Evidence.Add(TagHasValidID)
		}
	}
	for _, p := range set.Persons {
		if p.DateOfBirth != "" {
			set.Evidence.Add(TagHasDOB)
		}
	}

	return Result{Signals: set, Identifiers: ids}
}

// collapseSameSpan keeps one candidate per (span, normalized value): the same
// digits read by several recognizers are one identifier in the text. Valid
// readings win, then higher confidence, then recognizer order.
func collapseSameSpan(ids []model.IdentifierCandidate) []model.IdentifierCandidate {
	out := make([]model.IdentifierCandidate, 0, len(ids))
	at := make(map[string]int, len(ids))
	for _, id := range ids {
		key := spanKey(id)
		i, ok := at[key]
		if !ok {
			at[key] = len(out)
			out = append(out, id)
			continue
		}
		cur := out[i]
		if (id.IsValid && !cur.IsValid) || (id.IsValid == cur.IsValid && id.Confidence > cur.Confidence) {
			out[i] = id
		}
	}
	return out
}

func spanKey(id model.IdentifierCandidate) string {
	if id.Kind == model.IdentifierDate {
		return "date|" + id.NormalizedValue + "|" + spanString(id.Span)
	}
	return id.NormalizedValue + "|" + spanString(id.Span)
}

func spanString(sp *model.Span) string {
	if sp == nil {
		return "-"
	}
	return strconv.Itoa(sp.Start) + ":" + strconv.Itoa(sp.End)
}

// splitByHolder routes company-only registration codes away from persons.
func splitByHolder(ids []model.IdentifierCandidate) (person, org []model.IdentifierCandidate) {
	for _, id := range ids {
		switch {
		case id.Kind == model.IdentifierEDRPOU:
			org = append(org, id)
		case id.Kind == model.IdentifierOGRN && len(id.NormalizedValue) == 13:
			org = append(org, id)
		default:
			person = append(person, id)
		}
	}
	return person, org
}

type mention struct {
	group  int
	tokens []model.NameToken
}

// buildMentions groups tokens by Group in order of first appearance and
// classifies each group.
func buildMentions(tokens []model.NameToken) ([]model.PersonSignal, []model.OrganizationSignal) {
	var order []*mention
	byGroup := make(map[int]*mention)
	for _, t := range tokens {
		if strings.TrimSpace(t.Text) == "" {
			continue
		}
		m, ok := byGroup[t.Group]
		if !ok {
			m = &mention{group: t.Group}
			byGroup[t.Group] = m
			order = append(order, m)
		}
		m.tokens = append(m.tokens, t)
	}

	var persons []model.PersonSignal
	var orgs []model.OrganizationSignal
	for _, m := range order {
		if isOrganization(m.tokens) {
			orgs = append(orgs, newOrganization(m.tokens))
		} else {
			persons = append(persons, newPerson(m.tokens))
		}
	}
	return persons, orgs
}

func isOrganization(tokens []model.NameToken) bool {
	for _, t := range tokens {
		if t.Role == model.RoleOrg || t.Role == model.RoleLegalForm {
			return true
		}
	}
	return false
}

func newPerson(tokens []model.NameToken) model.PersonSignal {
	p := model.PersonSignal{Evidence: model.NewEvidence()}
	full := make([]string, 0, len(tokens))
	for _, t := range tokens {
		full = append(full, t.Text)
		if t.Span != nil {
			p.NameSpans = append(p.NameSpans, *t.Span)
		}
		if t.Role != model.RoleInitial {
			p.Core = append(p.Core, t.Text)
		}
	}
	p.FullName = strings.Join(full, " ")
	sort.SliceStable(p.NameSpans, func(i, j int) bool { return p.NameSpans[i].Start < p.NameSpans[j].Start })
	p.Evidence.Add(nameShapeTag(tokens))
	if hasRole(tokens, model.RolePatronymic) {
		p.Evidence.Add(TagNamePatronymic)
	}
	return p
}

func newOrganization(tokens []model.NameToken) model.OrganizationSignal {
	o := model.OrganizationSignal{Evidence: model.NewEvidence()}
	full := make([]string, 0, len(tokens))
	var forms []string
	for _, t := range tokens {
		full = append(full, t.Text)
		if t.Role == model.RoleLegalForm || textnorm.IsLegalForm(t.Text) {
			forms = append(forms, t.Text)
			continue
		}
		o.Core = append(o.Core, t.Text)
	}
	o.FullName = strings.Join(full, " ")
	o.LegalForm = strings.Join(forms, " ")
	if o.LegalForm != "" {
		o.Evidence.Add(TagLegalForm)
	}
	return o
}

func hasRole(tokens []model.NameToken, role model.TokenRole) bool {
	for _, t := range tokens {
		if t.Role == role {
			return true
		}
	}
	return false
}

func nameShapeTag(tokens []model.NameToken) string {
	given := hasRole(tokens, model.RoleGiven)
	surname := hasRole(tokens, model.RoleSurname)
	switch {
	case given && surname:
		return TagNameFull
	case surname && hasRole(tokens, model.RoleInitial):
		return TagNameInitials
	case given || surname:
		return TagNamePartial
	default:
		return TagNameUnknown
	}
}

func validityTag(id model.IdentifierCandidate) string {
	if id.IsValid {
		return "valid_" + string(id.Kind)
	}
	return "invalid_" + string(id.Kind)
}

func scorePerson(p *model.PersonSignal) {
	var c float64
	switch {
	case p.Evidence.Has(TagNameFull) && p.Evidence.Has(TagNamePatronymic):
		c = 0.8
	case p.Evidence.Has(TagNameFull):
		c = 0.7
	case p.Evidence.Has(TagNameInitials):
		c = 0.6
	case p.Evidence.Has(TagNamePartial):
		c = 0.4
	default:
		c = 0.3
	}
	for _, id := range p.Identifiers {
		if id.IsValid {
			c += 0.1
			break
		}
	}
	if p.DateOfBirth != "" {
		c += 0.05
	}
	p.Confidence = clamp01(c)
}

func scoreOrganization(o *model.OrganizationSignal) {
	c := 0.3
	if len(o.Core) > 0 {
		c = 0.5
	}
	if o.LegalForm != "" {
		c += 0.2
	}
	for _, id := range o.Identifiers {
		if id.IsValid {
			c += 0.1
			break
		}
	}
	o.Confidence = clamp01(c)
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
