package model

import "time"

// KnowledgeItem 对应 knowledge_items 表，入库后不可变。
type KnowledgeItem struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title        string    `gorm:"type:varchar(255);not null" json:"title"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Category     string    `gorm:"type:varchar(64);index" json:"category"`
	Embedding    []float32 `gorm:"type:longtext;serializer:json" json:"embedding,omitempty"`
	ModelVersion string    `gorm:"type:varchar(100)" json:"model_version,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (KnowledgeItem) TableName() string {
	return "knowledge_items"
}

// EmbeddingText 是计算条目向量时使用的文本。
func (k KnowledgeItem) EmbeddingText() string {
	return k.Title + ". " + k.Content
}

// RetrievalResult 是一次检索命中，不持久化。
type RetrievalResult struct {
	Item            KnowledgeItem
	SimilarityScore float64
}

// RetrievalResultDTO 是 knowledge agent 返回的结构。
type RetrievalResultDTO struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	Category        string  `json:"category"`
	SimilarityScore float64 `json:"similarity_score"`
}

// DTO 转换为对外结构，不携带向量。
func (r RetrievalResult) DTO() RetrievalResultDTO {
	return RetrievalResultDTO{
		ID:              r.Item.ID,
		Title:           r.Item.Title,
		Content:         r.Item.Content,
		Category:        r.Item.Category,
		SimilarityScore: r.SimilarityScore,
	}
}

// EsKnowledgeDocument 定义了存储在 Elasticsearch 中的知识条目文档。
type EsKnowledgeDocument struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Category     string    `json:"category"`
	Vector       []float32 `json:"vector"`
	ModelVersion string    `json:"model_version"`
}
