package vector

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/sells-group/watchlist-screen/internal/textnorm"
)

// HashEmbedder is a deterministic local embedder: character trigrams of the
// canonical text are hashed into a fixed number of buckets. It needs no model
// and is used when no embedding service is configured.
type HashEmbedder struct {
	Dims int
}

// Embed implements Embedder.
func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dims := h.Dims
	if dims <= 0 {
		dims = 384
	}
	vec := make([]float32, dims)
	for _, tok := range textnorm.Tokens(text) {
		r := []rune(" " + tok + " ")
		for i := 0; i+3 <= len(r); i++ {
			f := fnv.New32a()
			_, _ = f.Write([]byte(string(r[i : i+3])))
			sum := f.Sum32()
			sign := float32(1)
			if sum&1 == 1 {
				sign = -1
			}
			vec[int(sum>>1)%dims] += sign
		}
	}
	return vec, nil
}

// ModelID implements Embedder.
func (h HashEmbedder) ModelID() string {
	return fmt.Sprintf("hash-trigram-%d", h.Dims)
}
