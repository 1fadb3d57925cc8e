package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

const defaultHashDimensions = 256

// HashEmbedder is a deterministic bag-of-words embedder based on feature
// hashing. It needs no network and gives the same vector for the same text on
// every run, which makes retrieval reproducible in tests and offline setups.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = defaultHashDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int {
	return e.dims
}

func (e *HashEmbedder) embed(text string) []float64 {
	vec := make([]float64, e.dims)
	for _, tok := range Tokenize(text) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		sum := h.Sum32()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1.0
		}
		vec[int(sum>>1)%e.dims] += sign
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

// Tokenize lowercases text and splits it into words and numbers.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
