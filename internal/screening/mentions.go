package screening

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// Mention is a caller-supplied name without a tokenizer's role tags.
type Mention struct {
	Name string           `json:"name"`
	Kind model.SignalKind `json:"kind"`
}

// MentionTokens turns plain mentions into name tokens for callers without an
// upstream normalizer. Person tokens get RoleUnknown; organization tokens get
// RoleOrg or RoleLegalForm. Each token is located case-insensitively in text,
// searching forward from the previous token; tokens not found carry no span.
func MentionTokens(text string, mentions []Mention) []model.NameToken {
	var out []model.NameToken
	from := 0
	for group, m := range mentions {
		for _, tok := range strings.Fields(m.Name) {
			tok = strings.Trim(tok, ",;:")
			if tok == "" {
				continue
			}
			nt := model.NameToken{Text: tok, Role: model.RoleUnknown, Group: group}
			if m.Kind == model.SignalOrganization {
				nt.Role = model.RoleOrg
				if textnorm.IsLegalForm(tok) {
					nt.Role = model.RoleLegalForm
				}
			}
			if start := indexFold(text, tok, from); start >= 0 {
				nt.Span = &model.Span{Start: start, End: start + len(tok)}
				from = nt.Span.End
			} else if start := indexFold(text, tok, 0); start >= 0 {
				nt.Span = &model.Span{Start: start, End: start + len(tok)}
			}
			out = append(out, nt)
		}
	}
	return out
}

// indexFold finds the first whole-word, case-insensitive occurrence of sub in
// s at or after byte offset from.
func indexFold(s, sub string, from int) int {
	for i := from; i+len(sub) <= len(s); {
		if strings.EqualFold(s[i:i+len(sub)], sub) && boundary(s, i, i+len(sub)) {
			return i
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1
}

func boundary(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
