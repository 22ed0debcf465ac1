package embedding

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"medassist-go/internal/apperr"
)

type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]float32, bool, error) {
	return nil, false, errors.New("redis down")
}
func (brokenCache) Set(context.Context, string, []float32) error { return errors.New("redis down") }

func TestCachedClientReadThrough(t *testing.T) {
	ctx := context.Background()
	next := &countingClient{}
	cache := NewMemoryCache()
	c := NewCachedClient(next, cache, "text-embedding-3-small")

	first, err := c.CreateEmbedding(ctx, "headache")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.CreateEmbedding(ctx, "headache")
	if err != nil {
		t.Fatal(err)
	}
	if next.calls != 1 {
		t.Fatalf("upstream calls = %d, want 1", next.calls)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached vector differs: %v vs %v", first, second)
	}
}

func TestCachedClientDoesNotCacheFailures(t *testing.T) {
	ctx := context.Background()
	upstream := apperr.Upstream(apperr.CodeUpstreamUnavailable, errors.New("503"), "embedding api call failed")
	next := &countingClient{err: upstream}
	cache := NewMemoryCache()
	c := NewCachedClient(next, cache, "m")

	if _, err := c.CreateEmbedding(ctx, "fever"); !errors.Is(err, apperr.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want UpstreamUnavailable", err)
	}
	if cache.Len() != 0 {
		t.Fatalf("failure must not be cached")
	}
}

func TestCachedClientIgnoresCacheErrors(t *testing.T) {
	next := &countingClient{}
	c := NewCachedClient(next, brokenCache{}, "m")
	if _, err := c.CreateEmbedding(context.Background(), "cough"); err != nil {
		t.Fatalf("cache failure leaked: %v", err)
	}
}

func TestEmptyInputRejected(t *testing.T) {
	clients := []Client{NewHashClient(16), NewCachedClient(&countingClient{}, NewMemoryCache(), "m")}
	for _, c := range clients {
		if _, err := c.CreateEmbedding(context.Background(), "   "); !errors.Is(err, apperr.ErrEmptyInput) {
			t.Errorf("%T: err = %v, want EmptyInput", c, err)
		}
	}
}

func TestHashClientDeterministicAndNormalized(t *testing.T) {
	h := NewHashClient(64)
	a, _ := h.CreateEmbedding(context.Background(), "Headaches and fever")
	b, _ := h.CreateEmbedding(context.Background(), "headache, FEVER!")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("plural folding and punctuation should give identical vectors")
	}
	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Fatalf("norm = %f, want 1", norm)
	}
}

func TestCacheKeyStable(t *testing.T) {
	if CacheKey("m", "abc") != CacheKey("m", "abc") {
		t.Fatal("key must be stable")
	}
	if CacheKey("m1", "abc") == CacheKey("m2", "abc") {
		t.Fatal("key must include the model")
	}
}
