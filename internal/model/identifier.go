package model

// IdentifierKind names the class of an identifier recognizer.
type IdentifierKind string

const (
	// IdentifierINN is a Russian taxpayer number (10 digits for legal entities, 12 for individuals).
	IdentifierINN IdentifierKind = "inn"
	// IdentifierITN is a Ukrainian individual taxpayer number (RNOKPP, 10 digits).
	IdentifierITN IdentifierKind = "itn"
	// IdentifierEDRPOU is a Ukrainian company registration code (8 digits).
	IdentifierEDRPOU IdentifierKind = "edrpou"
	// IdentifierOGRN is a Russian state registration number (13 or 15 digits).
	IdentifierOGRN IdentifierKind = "ogrn"
	// IdentifierDate is a calendar date, typically a date of birth.
	IdentifierDate IdentifierKind = "date"
)

// IsTaxID reports whether the kind identifies a person or company for tax
// purposes (everything except dates).
func (k IdentifierKind) IsTaxID() bool {
	return k != IdentifierDate && k != ""
}

// Span is a half-open [Start, End) byte range in the source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// IdentifierCandidate is a single recognizer hit. Span is nil when the
// position is unknown (legacy callers).
type IdentifierCandidate struct {
	Kind            IdentifierKind `json:"kind"`
	RawText         string         `json:"raw_text"`
	NormalizedValue string         `json:"normalized_value"`
	IsValid         bool           `json:"is_valid"`
	Confidence      float64        `json:"confidence"`
	Span            *Span          `json:"span,omitempty"`
}

// HasSpan reports whether the candidate carries a usable position.
func (c IdentifierCandidate) HasSpan() bool {
	return c.Span != nil && c.Span.Start >= 0 && c.Span.End >= c.Span.Start
}

// Linked drops the span, producing the form stored on signals.
func (c IdentifierCandidate) Linked() LinkedIdentifier {
	return LinkedIdentifier{
		Kind:            c.Kind,
		RawText:         c.RawText,
		NormalizedValue: c.NormalizedValue,
		IsValid:         c.IsValid,
		Confidence:      c.Confidence,
	}
}

// LinkedIdentifier is an identifier attached to a signal after linking.
type LinkedIdentifier struct {
	Kind            IdentifierKind `json:"kind"`
	RawText         string         `json:"raw_text"`
	NormalizedValue string         `json:"normalized_value"`
	IsValid         bool           `json:"is_valid"`
	Confidence      float64        `json:"confidence"`
}
