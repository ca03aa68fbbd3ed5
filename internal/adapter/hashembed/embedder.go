// Package hashembed provides a deterministic bag-of-words embedder that
// needs no network. It backs offline runs and tests; neighbors are lexical,
// not semantic.
package hashembed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/Strob0t/ModGuard/internal/port/llm"
)

var _ llm.Embedder = (*Embedder)(nil)

// Embedder hashes lower-cased word tokens into a fixed number of buckets
// and L2-normalizes the counts.
type Embedder struct {
	dim int
}

// New creates an Embedder producing vectors of length dim.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = 256
	}
	return &Embedder{dim: dim}
}

// Dim returns the vector length.
func (e *Embedder) Dim() int { return e.dim }

// Embed never fails; text without tokens yields the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[h.Sum32()%uint32(e.dim)]++
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq > 0 {
		norm := float32(1 / math.Sqrt(sumSq))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec, nil
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"i": true, "me": true, "my": true, "you": true, "your": true, "it": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "for": true,
	"with": true, "this": true, "that": true, "s": true, "t": true,
}
