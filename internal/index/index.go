// Package index 提供知识条目的向量相似度检索。
package index

import (
	"context"
	"math"
	"sort"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
)

// Searcher 返回与查询向量最相似的 k 个条目，按相似度降序、ID 升序排列。
type Searcher interface {
	TopK(ctx context.Context, query []float32, k int) ([]model.RetrievalResult, error)
}

// Cosine 计算余弦相似度，任一向量范数为 0 时返回 0。
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

// MemoryIndex 是构建后不可变的精确检索索引，可被并发读取。
type MemoryIndex struct {
	items []model.KnowledgeItem
	norms []float64
	dim   int
}

// NewMemoryIndex 批量构建索引。所有条目的向量维度必须一致。
func NewMemoryIndex(items []model.KnowledgeItem) (*MemoryIndex, error) {
	idx := &MemoryIndex{
		items: make([]model.KnowledgeItem, len(items)),
		norms: make([]float64, len(items)),
	}
	copy(idx.items, items)
	for i, item := range idx.items {
		if len(item.Embedding) == 0 {
			return nil, apperr.Validation("knowledge item %s has no embedding", item.ID)
		}
		if i == 0 {
			idx.dim = len(item.Embedding)
		} else if len(item.Embedding) != idx.dim {
			return nil, apperr.Wrap(apperr.ErrDimensionMismatch, apperr.KindValidation, apperr.CodeDimensionMismatch,
				"item %s has dimension %d, corpus dimension is %d", item.ID, len(item.Embedding), idx.dim)
		}
		idx.norms[i] = norm(item.Embedding)
	}
	return idx, nil
}

// Len 返回语料规模。
func (m *MemoryIndex) Len() int { return len(m.items) }

// Dimension 返回语料向量维度，空语料为 0。
func (m *MemoryIndex) Dimension() int { return m.dim }

func (m *MemoryIndex) TopK(ctx context.Context, query []float32, k int) ([]model.RetrievalResult, error) {
	if k < 1 {
		return nil, apperr.Validation("k must be at least 1, got %d", k)
	}
	if len(m.items) == 0 {
		return []model.RetrievalResult{}, nil
	}
	if len(query) != m.dim {
		return nil, apperr.Wrap(apperr.ErrDimensionMismatch, apperr.KindValidation, apperr.CodeDimensionMismatch,
			"query dimension %d, corpus dimension %d", len(query), m.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	qn := norm(query)
	results := make([]model.RetrievalResult, len(m.items))
	for i, item := range m.items {
		score := 0.0
		if qn != 0 && m.norms[i] != 0 {
			var dot float64
			for j, x := range item.Embedding {
				dot += float64(x) * float64(query[j])
			}
			score = dot / (qn * m.norms[i])
		}
		results[i] = model.RetrievalResult{Item: item, SimilarityScore: score}
	}
	SortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// SortResults 按相似度降序排序，分数相同按 ID 升序。
func SortResults(results []model.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].SimilarityScore != results[j].SimilarityScore {
			return results[i].SimilarityScore > results[j].SimilarityScore
		}
		return results[i].Item.ID < results[j].Item.ID
	})
}
