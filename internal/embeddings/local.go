// Package embeddings provides embedding providers for the vector store
package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/bobmcallan/vire-assistant/internal/interfaces"
)

const DefaultLocalDimensions = 256

// LocalEmbedder is a deterministic hashed bag-of-words embedder. It needs no
// network access and is the default provider.
type LocalEmbedder struct {
	dims int
}

// NewLocalEmbedder creates a local embedder producing vectors of length dims
func NewLocalEmbedder(dims int) *LocalEmbedder {
	if dims < 1 {
		dims = DefaultLocalDimensions
	}
	return &LocalEmbedder{dims: dims}
}

func (e *LocalEmbedder) Name() string   { return "local" }
func (e *LocalEmbedder) Dimensions() int { return e.dims }

// Embed returns one unit-length vector per text. Text without any tokens maps
// to the zero vector.
func (e *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = e.vector(text)
	}
	return vectors, nil
}

func (e *LocalEmbedder) vector(text string) []float32 {
	vec := make([]float32, e.dims)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		idx := int(sum % uint32(e.dims))
		// high bit picks the sign so unrelated tokens partly cancel
		if sum&(1<<31) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Tokenize lowercases text and splits it on anything that is not a letter or
// digit. Single-character tokens are dropped.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

var _ interfaces.Embedder = (*LocalEmbedder)(nil)
