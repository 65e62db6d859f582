// Package snapshot holds the immutable reference data a screening request
// reads: entities, the tier index, the fuzzy corpus and the vector store.
// Reloads build a new snapshot and swap it in atomically.
package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/watchlist-screen/internal/fuzzy"
	"github.com/sells-group/watchlist-screen/internal/model"
	"github.com/sells-group/watchlist-screen/internal/tierindex"
	"github.com/sells-group/watchlist-screen/internal/vector"
)

// maxEmbedConcurrency bounds parallel embedding calls while building.
const maxEmbedConcurrency = 8

// BuildOptions controls snapshot construction.
type BuildOptions struct {
	Generator tierindex.Generator
	// Embedder, when set, fills missing entity embeddings from the
	// normalized name.
	Embedder vector.Embedder
	Source   string
}

// Stats summarizes a snapshot.
type Stats struct {
	Version    uint64          `json:"version"`
	LoadedAt   time.Time       `json:"loaded_at"`
	Source     string          `json:"source,omitempty"`
	Entities   int             `json:"entities"`
	Duplicates int             `json:"duplicates"`
	Embedded   int             `json:"embedded"`
	Index      tierindex.Stats `json:"index"`
}

// Snapshot is read-only after Build.
type Snapshot struct {
	Version  uint64
	LoadedAt time.Time

	Index   *tierindex.Index
	Fuzzy   *fuzzy.Corpus
	Vectors *vector.Store

	entities []model.Entity
	byID     map[string]*model.Entity
	stats    Stats
}

// Build assembles a snapshot. Entities are copied; duplicates by entity_id
// keep the first occurrence.
func Build(ctx context.Context, version uint64, entities []model.Entity, opts BuildOptions) (*Snapshot, error) {
	log := zap.L().With(zap.Uint64("version", version), zap.String("source", opts.Source))

	s := &Snapshot{
		Version:  version,
		LoadedAt: time.Now().UTC(),
		byID:     make(map[string]*model.Entity, len(entities)),
	}

	seen := make(map[string]bool, len(entities))
	dups := 0
	for _, e := range entities {
		if e.EntityID == "" {
			return nil, eris.New("snapshot: entity without entity_id")
		}
		if seen[e.EntityID] {
			dups++
			continue
		}
		seen[e.EntityID] = true
		s.entities = append(s.entities, e)
	}
	if dups > 0 {
		log.Warn("snapshot: duplicate entity ids skipped", zap.Int("duplicates", dups))
	}

	if opts.Embedder != nil {
		if err := fillEmbeddings(ctx, s.entities, opts.Embedder); err != nil {
			return nil, err
		}
	}

	for i := range s.entities {
		s.byID[s.entities[i].EntityID] = &s.entities[i]
	}

	ix, err := tierindex.Build(s.entities, opts.Generator)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: build tier index")
	}
	s.Index = ix
	s.Fuzzy = fuzzy.NewCorpus(version, s.entities)
	s.Vectors = vector.NewStore(s.entities)

	s.stats = Stats{
		Version:    version,
		LoadedAt:   s.LoadedAt,
		Source:     opts.Source,
		Entities:   len(s.entities),
		Duplicates: dups,
		Embedded:   s.Vectors.Len(),
		Index:      ix.Stats(),
	}
	log.Info("snapshot: built",
		zap.Int("entities", s.stats.Entities),
		zap.Int("patterns", s.stats.Index.Patterns),
		zap.Int("embedded", s.stats.Embedded),
	)
	return s, nil
}

// fillEmbeddings embeds entities that have none. Entities whose embedding
// fails are left without a vector.
func fillEmbeddings(ctx context.Context, entities []model.Entity, emb vector.Embedder) error {
	var mu sync.Mutex
	failed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxEmbedConcurrency)
	for i := range entities {
		if len(entities[i].Embedding) > 0 || entities[i].NormalizedName == "" {
			continue
		}
		e := &entities[i]
		g.Go(func() error {
			v, err := emb.Embed(gctx, e.NormalizedName)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			e.Embedding = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return eris.Wrap(err, "snapshot: embed entities")
	}
	if failed > 0 {
		zap.L().Warn("snapshot: entities left without embeddings",
			zap.Int("failed", failed),
			zap.String("model", emb.ModelID()),
		)
	}
	return nil
}

// Entity looks up a reference record by id.
func (s *Snapshot) Entity(id string) (*model.Entity, bool) {
	e, ok := s.byID[id]
	return e, ok
}

// Entities returns the reference records. Callers must not modify them.
func (s *Snapshot) Entities() []model.Entity { return s.entities }

// Len is the number of entities.
func (s *Snapshot) Len() int { return len(s.entities) }

// Stats returns build statistics.
func (s *Snapshot) Stats() Stats { return s.stats }
