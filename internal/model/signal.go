package model

import "sort"

// SignalKind is the closed set of signal variants produced by extraction.
type SignalKind string

const (
	SignalPerson       SignalKind = "person"
	SignalOrganization SignalKind = "organization"
)

// TokenRole tags a normalized name token.
type TokenRole string

const (
	RoleGiven      TokenRole = "given"
	RoleSurname    TokenRole = "surname"
	RolePatronymic TokenRole = "patronymic"
	RoleInitial    TokenRole = "initial"
	RoleUnknown    TokenRole = "unknown"
	RoleLegalForm  TokenRole = "legal_form"
	RoleOrg        TokenRole = "org"
)

// NameToken is one normalized token from the upstream normalizer. Group
// identifies which mention the token belongs to; tokens sharing a group form
// one person or organization.
type NameToken struct {
	Text  string    `json:"text"`
	Role  TokenRole `json:"role"`
	Group int       `json:"group"`
	Span  *Span     `json:"span,omitempty"`
}

// Evidence is a set of evidence tags.
type Evidence map[string]struct{}

// NewEvidence builds an evidence set from tags.
func NewEvidence(tags ...string) Evidence {
	e := make(Evidence, len(tags))
	for _, t := range tags {
		e[t] = struct{}{}
	}
	return e
}

// Add inserts a tag.
func (e Evidence) Add(tag string) { e[tag] = struct{}{} }

// Has reports whether a tag is present.
func (e Evidence) Has(tag string) bool {
	_, ok := e[tag]
	return ok
}

// Sorted returns the tags in lexical order.
func (e Evidence) Sorted() []string {
	out := make([]string, 0, len(e))
	for t := range e {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON renders the set as a sorted array so output is deterministic.
func (e Evidence) MarshalJSON() ([]byte, error) {
	return marshalStrings(e.Sorted())
}

// UnmarshalJSON accepts an array of tags.
func (e *Evidence) UnmarshalJSON(data []byte) error {
	tags, err := unmarshalStrings(data)
	if err != nil {
		return err
	}
	*e = NewEvidence(tags...)
	return nil
}

// PersonSignal is a person mention with its linked identifiers.
type PersonSignal struct {
	Core        []string           `json:"core"`
	FullName    string             `json:"full_name"`
	DateOfBirth string             `json:"date_of_birth,omitempty"`
	Identifiers []LinkedIdentifier `json:"identifiers"`
	Confidence  float64            `json:"confidence"`
	Evidence    Evidence           `json:"evidence"`

	// NameSpans locates the mention's tokens in the source text. Not serialized.
	NameSpans []Span `json:"-"`
}

// OrganizationSignal is an organization mention. LegalForm is never part of Core.
type OrganizationSignal struct {
	Core        []string           `json:"core"`
	LegalForm   string             `json:"legal_form,omitempty"`
	FullName    string             `json:"full_name"`
	Identifiers []LinkedIdentifier `json:"identifiers"`
	Confidence  float64            `json:"confidence"`
	Evidence    Evidence           `json:"evidence"`
}

// SignalSet is the aggregator output for one text.
type SignalSet struct {
	Persons       []PersonSignal       `json:"persons"`
	Organizations []OrganizationSignal `json:"organizations"`
	// Unlinked holds identifiers surfaced only at the global level.
	Unlinked []LinkedIdentifier `json:"unlinked_identifiers"`
	Evidence Evidence           `json:"evidence"`
}

// PersonConfidence returns the highest person confidence, or 0.
func (s SignalSet) PersonConfidence() float64 {
	var best float64
	for _, p := range s.Persons {
		if p.Confidence > best {
			best = p.Confidence
		}
	}
	return best
}

// OrgConfidence returns the highest organization confidence, or 0.
func (s SignalSet) OrgConfidence() float64 {
	var best float64
	for _, o := range s.Organizations {
		if o.Confidence > best {
			best = o.Confidence
		}
	}
	return best
}

// AllIdentifiers returns every linked and unlinked identifier, persons first.
func (s SignalSet) AllIdentifiers() []LinkedIdentifier {
	var out []LinkedIdentifier
	for _, p := range s.Persons {
		out = append(out, p.Identifiers...)
	}
	for _, o := range s.Organizations {
		out = append(out, o.Identifiers...)
	}
	return append(out, s.Unlinked...)
}
