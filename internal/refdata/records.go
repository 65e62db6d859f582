package refdata

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/model"
)

type field int

const (
	fieldMetadata field = iota
	fieldID
	fieldType
	fieldName
	fieldAliases
	fieldCountry
	fieldDOB
	fieldIdentifiers
)

// headerAliases maps normalized column headers onto entity fields. Unknown
// columns land in Metadata.
var headerAliases = map[string]field{
	"entity_id": fieldID, "id": fieldID, "uid": fieldID, "record_id": fieldID,
	"entity_type": fieldType, "type": fieldType, "kind": fieldType,
	"normalized_name": fieldName, "name": fieldName, "full_name": fieldName, "наименование": fieldName, "фио": fieldName,
	"aliases": fieldAliases, "alias": fieldAliases, "aka": fieldAliases,
	"country": fieldCountry, "nationality": fieldCountry, "страна": fieldCountry,
	"date_of_birth": fieldDOB, "dob": fieldDOB, "birth_date": fieldDOB, "дата_рождения": fieldDOB,
	"identifiers": fieldIdentifiers, "identifier": fieldIdentifiers, "tax_id": fieldIdentifiers,
	"inn": fieldIdentifiers, "инн": fieldIdentifiers, "ogrn": fieldIdentifiers, "огрн": fieldIdentifiers,
	"edrpou": fieldIdentifiers, "itn": fieldIdentifiers,
}

// listSeparators split multi-valued cells.
const listSeparators = ";|"

// EntitiesFromRows maps tabular rows onto entities using the header row.
// Rows without an id or name are skipped; rows with a name but no id get a
// positional id.
func EntitiesFromRows(header []string, rows [][]string) ([]model.Entity, error) {
	cols, err := mapHeader(header)
	if err != nil {
		return nil, err
	}
	var out []model.Entity
	for i, row := range rows {
		e, ok := entityFromRow(cols, header, row)
		if !ok {
			continue
		}
		if e.EntityID == "" {
			e.EntityID = "row-" + strconv.Itoa(i+1)
		}
		out = append(out, e)
	}
	return out, nil
}

func mapHeader(header []string) ([]field, error) {
	cols := make([]field, len(header))
	hasName := false
	for i, h := range header {
		key := normalizeHeader(h)
		if f, ok := headerAliases[key]; ok {
			cols[i] = f
			if f == fieldName {
				hasName = true
			}
		}
	}
	if !hasName {
		return nil, eris.Errorf("header has no name column: %v", header)
	}
	return cols, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func entityFromRow(cols []field, header, row []string) (model.Entity, bool) {
	var e model.Entity
	for i, raw := range row {
		if i >= len(cols) {
			break
		}
		v := strings.TrimSpace(raw)
		if v == "" {
			continue
		}
		switch cols[i] {
		case fieldID:
			e.EntityID = v
		case fieldType:
			e.EntityType = model.ParseEntityType(v)
		case fieldName:
			e.NormalizedName = v
		case fieldAliases:
			e.Aliases = append(e.Aliases, splitList(v)...)
		case fieldCountry:
			e.Country = strings.ToUpper(v)
		case fieldDOB:
			e.DateOfBirth = NormalizeDate(v)
		case fieldIdentifiers:
			e.Identifiers = append(e.Identifiers, splitList(v)...)
		default:
			if e.Metadata == nil {
				e.Metadata = map[string]string{}
			}
			e.Metadata[normalizeHeader(header[i])] = v
		}
	}
	if e.NormalizedName == "" {
		return e, false
	}
	if e.EntityType == "" {
		e.EntityType = model.EntityPerson
	}
	return e, true
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return strings.ContainsRune(listSeparators, r) }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var dateLayouts = []string{"2006-01-02", "02.01.2006", "02/01/2006", "2006/01/02", "2.1.2006"}

// NormalizeDate rewrites common date layouts as YYYY-MM-DD. Values that
// match no layout are returned trimmed and unchanged.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return v
}

// normalizeEntities fills defaults on decoded records and drops those
// without a name.
func normalizeEntities(in []model.Entity) []model.Entity {
	out := in[:0]
	for i, e := range in {
		e.NormalizedName = strings.TrimSpace(e.NormalizedName)
		if e.NormalizedName == "" {
			continue
		}
		if e.EntityID == "" {
			e.EntityID = "row-" + strconv.Itoa(i+1)
		}
		e.EntityType = model.ParseEntityType(string(e.EntityType))
		e.DateOfBirth = NormalizeDate(e.DateOfBirth)
		out = append(out, e)
	}
	return out
}
