package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/sells-group/watchlist-screen/internal/model"
)

var (
	// dd.mm.yyyy, dd/mm/yyyy, dd-mm-yyyy
	dmyRe = regexp.MustCompile(`\b((\d{1,2})[./-](\d{1,2})[./-](\d{4}))\b`)
	// yyyy-mm-dd
	ymdRe = regexp.MustCompile(`\b((\d{4})-(\d{2})-(\d{2}))\b`)

	dobKeywords = []string{"д.р", "др ", "дата народження", "дата рождения", "born", "dob", "р.н", "г.р"}
)

const minBirthYear = 1900

// nowFunc is replaced in tests.
var nowFunc = time.Now

type dateRecognizer struct{}

func (dateRecognizer) Kind() model.IdentifierKind { return model.IdentifierDate }

func (dateRecognizer) Find(text, _ string) []model.IdentifierCandidate {
	var out []model.IdentifierCandidate
	for _, m := range dmyRe.FindAllStringSubmatchIndex(text, -1) {
		day, month, year := atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]]), atoi(text[m[8]:m[9]])
		out = append(out, dateCandidate(text, []int{m[2], m[3]}, year, month, day))
	}
	for _, m := range ymdRe.FindAllStringSubmatchIndex(text, -1) {
		year, month, day := atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]]), atoi(text[m[8]:m[9]])
		out = append(out, dateCandidate(text, []int{m[2], m[3]}, year, month, day))
	}
	return out
}

func dateCandidate(text string, loc []int, year, month, day int) model.IdentifierCandidate {
	valid := validDate(year, month, day)
	normalized := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
	conf := 0.3
	if valid {
		conf = 0.7
	}
	if precededBy(text, loc[0], dobKeywords) {
		conf += 0.2
	}
	return newCandidate(model.IdentifierDate, text, loc, normalized, valid, conf)
}

// validDate reports whether y-m-d is a real calendar date in a plausible
// birth-year range.
func validDate(year, month, day int) bool {
	if year < minBirthYear || year > nowFunc().Year() {
		return false
	}
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Year() == year && int(t.Month()) == month && t.Day() == day
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
