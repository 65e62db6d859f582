package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonical(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase and trim", "  Ivan PETROV ", "ivan petrov"},
		{"punctuation to space", "Petrov, Ivan.", "petrov ivan"},
		{"hyphen splits", "Sidorenko-Petrova", "sidorenko petrova"},
		{"apostrophe joins", "O'Brien", "obrien"},
		{"diacritics removed", "José Müller", "jose muller"},
		{"cyrillic kept", "ООО «Ромашка»", "ооо ромашка"},
		{"yo folds to ye", "Фёдор", "федор"},
		{"fullwidth digits", "ＩＮＮ１２３", "inn123"},
		{"empty", "", ""},
		{"only punctuation", "--..,,", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Canonical(tt.input))
		})
	}
}

func TestIsLegalForm(t *testing.T) {
	assert.True(t, IsLegalForm("LLC"))
	assert.True(t, IsLegalForm("L.L.C."))
	assert.True(t, IsLegalForm("ООО"))
	assert.True(t, IsLegalForm("ТОВ"))
	assert.False(t, IsLegalForm("Romashka"))
	assert.False(t, IsLegalForm(""))
}

func TestStripLegalForms(t *testing.T) {
	core, forms := StripLegalForms([]string{"ООО", "Ромашка", "Трейд"})
	assert.Equal(t, []string{"Ромашка", "Трейд"}, core)
	assert.Equal(t, "ООО", forms)

	core, forms = StripLegalForms([]string{"Acme"})
	assert.Equal(t, []string{"Acme"}, core)
	assert.Empty(t, forms)
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "7707083893", DigitsOnly("77-07-083893"))
	assert.Equal(t, "", DigitsOnly("abc"))
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"77-07-083893", "7707083893"},
		{"7707 083 893", "7707083893"},
		{"AB12345678", "ab12345678"},
		{"ＡＢ１２３４５６７８", "ab12345678"},
		{"12345678", "12345678"},
		{" -/ ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.in))
		})
	}
	assert.NotEqual(t, CanonicalID("AB12345678"), CanonicalID("12345678"))
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"ivan", "petrov"}, Tokens("Ivan  Petrov!"))
	assert.Empty(t, Tokens(""))
}
