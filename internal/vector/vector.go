// Package vector is the embedding fallback matcher: cosine similarity between
// a query embedding and stored reference embeddings.
package vector

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/watchlist-screen/internal/model"
)

// Embedder turns text into a dense vector. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	ModelID() string
}

// ErrDimensionMismatch is returned when the query vector length differs from
// the stored vectors.
var ErrDimensionMismatch = eris.New("vector: embedding dimension mismatch")

type item struct {
	id         string
	entityType model.EntityType
	vec        []float32 // unit length
}

// Store holds unit-normalized entity embeddings for one snapshot.
type Store struct {
	dims  int
	items []item
}

// NewStore keeps every entity whose embedding matches the first embedding's
// dimension; zero vectors and mismatched lengths are skipped.
func NewStore(entities []model.Entity) *Store {
	s := &Store{}
	for i := range entities {
		e := &entities[i]
		if len(e.Embedding) == 0 {
			continue
		}
		if s.dims == 0 {
			s.dims = len(e.Embedding)
		}
		if len(e.Embedding) != s.dims {
			continue
		}
		v := normalize(e.Embedding)
		if v == nil {
			continue
		}
		s.items = append(s.items, item{id: e.EntityID, entityType: e.EntityType, vec: v})
	}
	return s
}

// Len is the number of stored vectors.
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// Dims is the stored vector dimension, or 0 when empty.
func (s *Store) Dims() int {
	if s == nil {
		return 0
	}
	return s.dims
}

// Match is one vector hit.
type Match struct {
	EntityID   string
	EntityType model.EntityType
	Score      float64
}

// Options configures a Matcher.
type Options struct {
	MinScore float64
	TopK     int
}

// Matcher embeds queries and ranks stored vectors.
type Matcher struct {
	embedder Embedder
	opts     Options
}

// NewMatcher returns a matcher; a nil embedder disables it.
func NewMatcher(embedder Embedder, opts Options) *Matcher {
	return &Matcher{embedder: embedder, opts: opts}
}

// Enabled reports whether an embedder is configured.
func (m *Matcher) Enabled() bool { return m != nil && m.embedder != nil }

// Search embeds text and returns hits at or above MinScore, best first, plus
// the similarity summary over every scored vector of entityType.
func (m *Matcher) Search(ctx context.Context, s *Store, text string, entityType model.EntityType) ([]Match, model.SimilaritySummary, error) {
	var summary model.SimilaritySummary
	if !m.Enabled() {
		return nil, summary, eris.New("vector: no embedder configured")
	}
	if s.Len() == 0 || text == "" {
		return nil, summary, nil
	}

	q, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, summary, eris.Wrap(err, "vector: embed query")
	}
	if len(q) != s.dims {
		return nil, summary, eris.Wrapf(ErrDimensionMismatch, "query %d, stored %d", len(q), s.dims)
	}
	qn := normalize(q)
	if qn == nil {
		return nil, summary, nil
	}

	var all []Match
	for _, it := range s.items {
		if entityType != "" && it.entityType != entityType {
			continue
		}
		all = append(all, Match{EntityID: it.id, EntityType: it.entityType, Score: float64(dot(qn, it.vec))})
	}
	if err := ctx.Err(); err != nil {
		return nil, summary, err
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].EntityID < all[j].EntityID
	})
	summary = summarize(all)

	var out []Match
	for _, mt := range all {
		if mt.Score < m.opts.MinScore {
			break
		}
		out = append(out, mt)
		if m.opts.TopK > 0 && len(out) == m.opts.TopK {
			break
		}
	}
	return out, summary, nil
}

// summarize expects matches sorted by score descending.
func summarize(sorted []Match) model.SimilaritySummary {
	if len(sorted) == 0 {
		return model.SimilaritySummary{}
	}
	// nearest-rank 95th percentile
	rank := int(math.Ceil(0.95*float64(len(sorted)))) - 1
	return model.SimilaritySummary{
		CosTop: clampCos(sorted[0].Score),
		CosP95: clampCos(sorted[len(sorted)-1-rank].Score),
	}
}

// clampCos maps cosine into [0,1]; negative similarity counts as none.
func clampCos(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Cosine returns the cosine similarity of a and b, or 0 when either is zero
// or the lengths differ.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var d, na, nb float32
	for i := range a {
		d += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return d / (float32(math.Sqrt(float64(na))) * float32(math.Sqrt(float64(nb))))
}

func dot(a, b []float32) float32 {
	var d float32
	for i := range a {
		d += a[i] * b[i]
	}
	return d
}

func normalize(v []float32) []float32 {
	var n float64
	for _, x := range v {
		n += float64(x) * float64(x)
	}
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil
	}
	inv := float32(1 / math.Sqrt(n))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}
