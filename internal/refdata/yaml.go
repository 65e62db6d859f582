package refdata

import (
	"io"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// ReadYAMLEntities accepts either a top-level sequence of entities or a
// mapping with an "entities" key.
func ReadYAMLEntities(r io.Reader) ([]model.Entity, error) {
	var node yaml.Node
	if err := yaml.NewDecoder(r).Decode(&node); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "yaml: decode")
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	var ents []model.Entity
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&ents); err != nil {
			return nil, eris.Wrap(err, "yaml: decode entities")
		}
	case yaml.MappingNode:
		var doc entityDocument
		if err := root.Decode(&doc); err != nil {
			return nil, eris.Wrap(err, "yaml: decode document")
		}
		ents = doc.Entities
	default:
		return nil, eris.Errorf("yaml: expected sequence or mapping at line %d", root.Line)
	}
	return normalizeEntities(ents), nil
}
