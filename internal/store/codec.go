package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// entityColumns is the column order shared by inserts and selects.
var entityColumns = []string{
	"entity_id", "entity_type", "normalized_name", "aliases", "country",
	"date_of_birth", "metadata", "identifiers", "embedding",
}

// entityJSON holds the JSON-encoded list and map columns of an entity.
type entityJSON struct {
	aliases     []byte
	metadata    []byte
	identifiers []byte
}

func encodeEntity(e model.Entity) (entityJSON, error) {
	var out entityJSON
	var err error
	if out.aliases, err = marshalList(e.Aliases); err != nil {
		return out, eris.Wrapf(err, "marshal aliases for %s", e.EntityID)
	}
	md := e.Metadata
	if md == nil {
		md = map[string]string{}
	}
	if out.metadata, err = json.Marshal(md); err != nil {
		return out, eris.Wrapf(err, "marshal metadata for %s", e.EntityID)
	}
	if out.identifiers, err = marshalList(e.Identifiers); err != nil {
		return out, eris.Wrapf(err, "marshal identifiers for %s", e.EntityID)
	}
	return out, nil
}

func marshalList(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}

func decodeEntity(e *model.Entity, aliases, metadata, identifiers []byte) error {
	if len(aliases) > 0 {
		if err := json.Unmarshal(aliases, &e.Aliases); err != nil {
			return eris.Wrapf(err, "unmarshal aliases for %s", e.EntityID)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return eris.Wrapf(err, "unmarshal metadata for %s", e.EntityID)
		}
	}
	if len(identifiers) > 0 {
		if err := json.Unmarshal(identifiers, &e.Identifiers); err != nil {
			return eris.Wrapf(err, "unmarshal identifiers for %s", e.EntityID)
		}
	}
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	if len(e.Aliases) == 0 {
		e.Aliases = nil
	}
	if len(e.Identifiers) == 0 {
		e.Identifiers = nil
	}
	return nil
}

// validateEntities rejects records the index cannot key.
func validateEntities(entities []model.Entity) error {
	for i, e := range entities {
		if e.EntityID == "" {
			return eris.Errorf("entity %d: empty entity_id", i)
		}
		if e.NormalizedName == "" {
			return eris.Errorf("entity %s: empty normalized_name", e.EntityID)
		}
	}
	return nil
}

func encodeScreening(s Screening) (decision, candidates []byte, err error) {
	if decision, err = json.Marshal(s.Decision); err != nil {
		return nil, nil, eris.Wrap(err, "marshal decision")
	}
	cands := s.Candidates
	if cands == nil {
		cands = []model.Candidate{}
	}
	if candidates, err = json.Marshal(cands); err != nil {
		return nil, nil, eris.Wrap(err, "marshal candidates")
	}
	return decision, candidates, nil
}

func decodeScreening(s *Screening, decision, candidates []byte) error {
	if len(decision) > 0 {
		if err := json.Unmarshal(decision, &s.Decision); err != nil {
			return eris.Wrapf(err, "unmarshal decision for %s", s.RequestID)
		}
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &s.Candidates); err != nil {
			return eris.Wrapf(err, "unmarshal candidates for %s", s.RequestID)
		}
	}
	return nil
}
