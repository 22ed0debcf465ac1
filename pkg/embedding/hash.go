package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"medassist-go/internal/apperr"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "but": {},
	"by": {}, "can": {}, "do": {}, "does": {}, "for": {}, "from": {}, "had": {}, "has": {}, "have": {},
	"how": {}, "i": {}, "if": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "me": {},
	"my": {}, "of": {}, "on": {}, "or": {}, "should": {}, "so": {}, "that": {}, "the": {}, "their": {},
	"them": {}, "there": {}, "these": {}, "they": {}, "this": {}, "to": {}, "was": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "will": {}, "with": {}, "you": {},
	"your": {},
}

// HashClient produces deterministic bag-of-words vectors without any network call.
// Used for local development, tests and as an offline provider.
type HashClient struct {
	dimensions int
}

// NewHashClient creates a hash embedder; dimensions <= 0 falls back to 256.
func NewHashClient(dimensions int) *HashClient {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashClient{dimensions: dimensions}
}

func (h *HashClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ErrEmptyInput
	}
	vec := make([]float32, h.dimensions)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		vec[f.Sum32()%uint32(h.dimensions)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

// Tokenize lowercases text, splits on anything that is not a letter or digit, drops
// stopwords and folds a trailing plural "s" on longer words (headaches -> headache).
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, ok := stopwords[f]; ok {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		out = append(out, f)
	}
	return out
}
