package index

import (
	"context"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
	"medassist-go/pkg/log"
)

// KNNSource 是近似 kNN 候选来源，由 es.KnowledgeStore 实现。
type KNNSource interface {
	SearchKNN(ctx context.Context, vector []float32, k, numCandidates int) ([]model.EsKnowledgeDocument, error)
}

// ElasticsearchIndex 从 Elasticsearch 取 kNN 候选，再用精确余弦重新打分排序，
// 保证与 MemoryIndex 相同的排序与并列规则。
type ElasticsearchIndex struct {
	source KNNSource
	dim    int
}

// NewElasticsearchIndex 创建索引，dim 为语料向量维度。
func NewElasticsearchIndex(source KNNSource, dim int) *ElasticsearchIndex {
	return &ElasticsearchIndex{source: source, dim: dim}
}

func (e *ElasticsearchIndex) TopK(ctx context.Context, query []float32, k int) ([]model.RetrievalResult, error) {
	if k < 1 {
		return nil, apperr.Validation("k must be at least 1, got %d", k)
	}
	if e.dim > 0 && len(query) != e.dim {
		return nil, apperr.Wrap(apperr.ErrDimensionMismatch, apperr.KindValidation, apperr.CodeDimensionMismatch,
			"query dimension %d, corpus dimension %d", len(query), e.dim)
	}

	numCandidates := 10 * k
	if numCandidates < 100 {
		numCandidates = 100
	}
	docs, err := e.source.SearchKNN(ctx, query, numCandidates, numCandidates)
	if err != nil {
		log.Errorf("[ElasticsearchIndex] kNN 检索失败: %v", err)
		return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "vector search failed")
	}

	results := make([]model.RetrievalResult, 0, len(docs))
	for _, d := range docs {
		if len(d.Vector) != len(query) {
			log.Warnf("[ElasticsearchIndex] 跳过维度不一致的文档 %s (dim=%d)", d.ID, len(d.Vector))
			continue
		}
		results = append(results, model.RetrievalResult{
			Item: model.KnowledgeItem{
				ID:           d.ID,
				Title:        d.Title,
				Content:      d.Content,
				Category:     d.Category,
				ModelVersion: d.ModelVersion,
			},
			SimilarityScore: Cosine(query, d.Vector),
		})
	}
	SortResults(results)
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}
