package repository

import (
	"context"

	"medassist-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KnowledgeRepository 定义了对 knowledge_items 表的数据操作接口。
type KnowledgeRepository interface {
	Upsert(ctx context.Context, items []model.KnowledgeItem) error
	FindAll(ctx context.Context) ([]model.KnowledgeItem, error)
	Count(ctx context.Context) (int64, error)
}

type knowledgeRepository struct {
	db *gorm.DB
}

// NewKnowledgeRepository 创建一个新的 KnowledgeRepository 实例。
func NewKnowledgeRepository(db *gorm.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

// Upsert 批量写入知识条目，同 ID 的条目整体覆盖（重新入库视为新版本）。
func (r *knowledgeRepository) Upsert(ctx context.Context, items []model.KnowledgeItem) error {
	if len(items) == 0 {
		return nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "content", "category", "embedding", "model_version"}),
	}).CreateInBatches(items, 100).Error
	if err != nil {
		return storeError(err, "upsert knowledge items")
	}
	return nil
}

// FindAll 按 ID 顺序返回全部条目。
func (r *knowledgeRepository) FindAll(ctx context.Context) ([]model.KnowledgeItem, error) {
	var items []model.KnowledgeItem
	if err := r.db.WithContext(ctx).Order("id").Find(&items).Error; err != nil {
		return nil, storeError(err, "load knowledge items")
	}
	return items, nil
}

func (r *knowledgeRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.KnowledgeItem{}).Count(&n).Error; err != nil {
		return 0, storeError(err, "count knowledge items")
	}
	return n, nil
}
