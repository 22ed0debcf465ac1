package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"medassist-go/internal/apperr"
	"medassist-go/internal/index"
	"medassist-go/internal/model"
	"medassist-go/internal/repository"
	"medassist-go/pkg/embedding"
	"medassist-go/pkg/log"

	"github.com/google/uuid"
)

// KnowledgeMirror 是语料的可选镜像存储（Elasticsearch）。
type KnowledgeMirror interface {
	IndexKnowledgeItem(ctx context.Context, doc model.EsKnowledgeDocument) error
}

// KnowledgeService 接口定义了知识检索与语料维护操作。
type KnowledgeService interface {
	Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error)
	Ingest(ctx context.Context, items []model.KnowledgeItem) (int, error)
	Reload(ctx context.Context) (int, error)
	SeedFromFile(ctx context.Context, path string) (int, error)
}

// KnowledgeOptions 配置知识服务。Searcher 为空时使用内存索引。
type KnowledgeOptions struct {
	DefaultTopK  int
	MaxTopK      int
	ModelVersion string
	Searcher     index.Searcher
	Mirror       KnowledgeMirror
}

type knowledgeService struct {
	embedder embedding.Client
	repo     repository.KnowledgeRepository
	holder   *index.Holder
	searcher index.Searcher
	mirror   KnowledgeMirror
	opts     KnowledgeOptions

	// mu 串行化写库与快照替换，避免旧快照覆盖新快照
	mu sync.Mutex
}

// NewKnowledgeService 创建一个新的 KnowledgeService 实例。
func NewKnowledgeService(embedder embedding.Client, repo repository.KnowledgeRepository, holder *index.Holder, opts KnowledgeOptions) KnowledgeService {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 3
	}
	if opts.MaxTopK <= 0 {
		opts.MaxTopK = 20
	}
	if holder == nil {
		holder = index.NewHolder()
	}
	searcher := opts.Searcher
	if searcher == nil {
		searcher = holder
	}
	return &knowledgeService{
		embedder: embedder,
		repo:     repo,
		holder:   holder,
		searcher: searcher,
		mirror:   opts.Mirror,
		opts:     opts,
	}
}

// Retrieve 将查询向量化后在索引中检索，topK<=0 使用默认值，超过上限时截断。
func (s *knowledgeService) Retrieve(ctx context.Context, query string, topK int) ([]model.RetrievalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.Wrap(apperr.ErrEmptyInput, apperr.KindValidation, apperr.CodeEmptyInput, "query must not be empty")
	}
	k := s.clampTopK(topK)

	vec, err := s.embedder.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[KnowledgeService] 向量化查询失败: %v", err)
		return nil, apperr.WithCode(err, apperr.CodeRetrievalFailed, "embed query")
	}
	results, err := s.searcher.TopK(ctx, vec, k)
	if err != nil {
		log.Errorf("[KnowledgeService] 检索失败: %v", err)
		return nil, apperr.WithCode(err, apperr.CodeRetrievalFailed, "search index")
	}
	log.Infof("[KnowledgeService] 检索完成, query: '%s', topK: %d, 命中: %d", query, k, len(results))
	return results, nil
}

func (s *knowledgeService) clampTopK(topK int) int {
	if topK <= 0 {
		return s.opts.DefaultTopK
	}
	if topK > s.opts.MaxTopK {
		return s.opts.MaxTopK
	}
	return topK
}

// Ingest 为缺少向量的条目计算 embedding，写入数据库并重建索引。
func (s *knowledgeService) Ingest(ctx context.Context, items []model.KnowledgeItem) (int, error) {
	if len(items) == 0 {
		return 0, apperr.Validation("no knowledge items to ingest")
	}
	log.Infof("[KnowledgeService] 开始入库 %d 个知识条目", len(items))
	var pending []int
	var texts []string
	for i := range items {
		it := &items[i]
		it.Title = strings.TrimSpace(it.Title)
		it.Content = strings.TrimSpace(it.Content)
		if it.Title == "" || it.Content == "" {
			return 0, apperr.Validation("knowledge item %d: title and content are required", i)
		}
		if it.ID == "" {
			it.ID = "kb_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}
		if len(it.Embedding) == 0 {
			pending = append(pending, i)
			texts = append(texts, it.EmbeddingText())
		}
	}

	vectors, err := embedding.CreateEmbeddings(ctx, s.embedder, texts)
	if err != nil {
		log.Errorf("[KnowledgeService] 条目向量化失败: %v", err)
		return 0, fmt.Errorf("embed knowledge items: %w", err)
	}
	for j, i := range pending {
		items[i].Embedding = vectors[j]
		items[i].ModelVersion = s.opts.ModelVersion
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkDimensions(items); err != nil {
		log.Errorf("[KnowledgeService] 入库被拒绝: %v", err)
		return 0, err
	}
	if err := s.repo.Upsert(ctx, items); err != nil {
		return 0, err
	}

	if s.mirror != nil {
		for _, it := range items {
			doc := model.EsKnowledgeDocument{
				ID:           it.ID,
				Title:        it.Title,
				Content:      it.Content,
				Category:     it.Category,
				Vector:       it.Embedding,
				ModelVersion: it.ModelVersion,
			}
			if err := s.mirror.IndexKnowledgeItem(ctx, doc); err != nil {
				// 镜像失败不影响内存索引
				log.Warnf("[KnowledgeService] 同步条目 %s 到 Elasticsearch 失败: %v", it.ID, err)
			}
		}
	}

	if _, err := s.reloadLocked(ctx); err != nil {
		return 0, err
	}
	log.Infof("[KnowledgeService] 入库完成, 共 %d 个条目", len(items))
	return len(items), nil
}

// Reload 从数据库加载全部条目，构建新的索引快照并替换。返回新索引大小。
func (s *knowledgeService) Reload(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloadLocked(ctx)
}

// checkDimensions 要求新条目的向量维度与当前语料一致；语料为空时以批内第一条为准。
func (s *knowledgeService) checkDimensions(items []model.KnowledgeItem) error {
	dim := s.holder.Load().Dimension()
	if dim == 0 {
		dim = len(items[0].Embedding)
	}
	for _, it := range items {
		if len(it.Embedding) != dim {
			return apperr.Wrap(apperr.ErrDimensionMismatch, apperr.KindValidation, apperr.CodeDimensionMismatch,
				"item %s has dimension %d, corpus dimension is %d", it.ID, len(it.Embedding), dim)
		}
	}
	return nil
}

func (s *knowledgeService) reloadLocked(ctx context.Context) (int, error) {
	items, err := s.repo.FindAll(ctx)
	if err != nil {
		return 0, err
	}
	next, err := index.NewMemoryIndex(items)
	if err != nil {
		log.Errorf("[KnowledgeService] 构建索引失败: %v", err)
		return 0, err
	}
	s.holder.Swap(next)
	log.Infof("[KnowledgeService] 索引已刷新, 条目数: %d, 维度: %d", next.Len(), next.Dimension())
	return next.Len(), nil
}

// SeedFromFile 在语料表为空时从 JSON 文件导入初始条目；表非空时只刷新索引。
func (s *knowledgeService) SeedFromFile(ctx context.Context, path string) (int, error) {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 || path == "" {
		return s.Reload(ctx)
	}
	items, err := LoadKnowledgeFile(path)
	if err != nil {
		return 0, err
	}
	log.Infof("[KnowledgeService] 语料表为空, 从 %s 导入 %d 个条目", path, len(items))
	return s.Ingest(ctx, items)
}

// LoadKnowledgeFile 读取 JSON 数组格式的语料文件。
func LoadKnowledgeFile(path string) ([]model.KnowledgeItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return DecodeKnowledgeItems(data)
}

// DecodeKnowledgeItems 解析 [{id,title,content,category}] 格式的语料。
func DecodeKnowledgeItems(data []byte) ([]model.KnowledgeItem, error) {
	var items []model.KnowledgeItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, apperr.Validation("invalid knowledge corpus: %v", err)
	}
	return items, nil
}
