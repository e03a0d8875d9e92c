package embedding

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// HashEngine is a deterministic offline embedding engine. Each token is
// hashed into a handful of signed buckets and the accumulated vector is
// normalized. It carries no semantic knowledge beyond token overlap, but it
// is fast, dependency-free at runtime, and bitwise-reproducible, which makes
// it the engine of choice for tests and for air-gapped hosts.
type HashEngine struct {
	dims int
}

// tokenSpread is how many buckets a single token contributes to.
const tokenSpread = 4

// NewHashEngine creates a hash engine with the given dimensionality.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 384
	}
	return &HashEngine{dims: dims}
}

// Embed generates a deterministic embedding for a single text.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	for _, token := range tokenize(text) {
		sum := blake3.Sum256([]byte(token))
		for i := 0; i < tokenSpread; i++ {
			chunk := binary.LittleEndian.Uint64(sum[i*8 : i*8+8])
			idx := int(chunk % uint64(e.dims))
			sign := float32(1)
			if chunk&(1<<63) != 0 {
				sign = -1
			}
			vec[idx] += sign
		}
	}
	return Normalize(vec), nil
}

// EmbedBatch generates embeddings for multiple texts.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vec
	}
	return embeddings, nil
}

// Dimensions returns the dimensionality of embeddings.
func (e *HashEngine) Dimensions() int {
	return e.dims
}

// Name returns the engine name.
func (e *HashEngine) Name() string {
	return fmt.Sprintf("hash:%d", e.dims)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return false
		default:
			return true
		}
	})
}
