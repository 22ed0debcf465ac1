// Package pipeline 定义了知识库导入的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"medassist-go/internal/model"
	"medassist-go/internal/service"
	"medassist-go/pkg/log"
	"medassist-go/pkg/tasks"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
	defaultCategory     = "documents"
)

// ObjectReader 读取对象存储中的文件。
type ObjectReader interface {
	Read(ctx context.Context, objectName string) ([]byte, error)
}

// TextExtractor 从二进制文档中抽取纯文本，由 tika.Client 实现。
type TextExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Processor 封装了导入任务处理的所有依赖和逻辑。
type Processor struct {
	objects      ObjectReader
	extractor    TextExtractor
	knowledge    service.KnowledgeService
	chunkSize    int
	chunkOverlap int
}

// NewProcessor 创建一个新的 Processor 实例。extractor 为空时只接受 JSON 语料。
func NewProcessor(objects ObjectReader, extractor TextExtractor, knowledge service.KnowledgeService) *Processor {
	return &Processor{
		objects:      objects,
		extractor:    extractor,
		knowledge:    knowledge,
		chunkSize:    defaultChunkSize,
		chunkOverlap: defaultChunkOverlap,
	}
}

// Process 是导入任务的主函数：下载对象，转换为知识条目，交给 KnowledgeService 入库并刷新索引。
func (p *Processor) Process(ctx context.Context, task tasks.KnowledgeIngestTask) error {
	log.Infof("[Processor] 开始处理导入任务, TaskID: %s, FileName: %s", task.TaskID, task.FileName)

	// 1. 从对象存储下载文件
	data, err := p.objects.Read(ctx, task.ObjectName)
	if err != nil {
		log.Errorf("[Processor] 下载对象失败, Object: %s, Error: %v", task.ObjectName, err)
		return err
	}
	log.Infof("[Processor] 步骤1: 文件下载成功, 大小: %d字节", len(data))
	if len(data) == 0 {
		log.Warnf("[Processor] 文件 '%s' 内容为空, 处理中止", task.FileName)
		return errors.New("文件内容为空")
	}

	// 2. 转换为知识条目
	var items []model.KnowledgeItem
	if task.IsCorpus() {
		items, err = service.DecodeKnowledgeItems(data)
		if err != nil {
			log.Errorf("[Processor] 解析 JSON 语料失败, FileName: %s, Error: %v", task.FileName, err)
			return err
		}
		for i := range items {
			if items[i].Category == "" {
				items[i].Category = task.Category
			}
		}
	} else {
		items, err = p.documentItems(ctx, task, data)
		if err != nil {
			return err
		}
	}
	log.Infof("[Processor] 步骤2: 共得到 %d 个知识条目", len(items))
	if len(items) == 0 {
		return errors.New("未生成任何知识条目")
	}

	// 3. 向量化、入库并替换索引
	n, err := p.knowledge.Ingest(ctx, items)
	if err != nil {
		log.Errorf("[Processor] 知识条目入库失败, TaskID: %s, Error: %v", task.TaskID, err)
		return err
	}
	log.Infof("[Processor] 导入任务成功完成, TaskID: %s, 入库 %d 条", task.TaskID, n)
	return nil
}

// documentItems 使用 Tika 抽取文本并切块，每个分块成为一个知识条目。
func (p *Processor) documentItems(ctx context.Context, task tasks.KnowledgeIngestTask, data []byte) ([]model.KnowledgeItem, error) {
	if p.extractor == nil {
		return nil, fmt.Errorf("不支持的文件类型: %s", task.FileName)
	}
	text, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), task.FileName)
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, FileName: %s, Error: %v", task.FileName, err)
		return nil, fmt.Errorf("使用 Tika 提取文本失败: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Warnf("[Processor] Tika提取的文本内容为空, 处理中止, FileName: %s", task.FileName)
		return nil, errors.New("提取的文本内容为空")
	}
	log.Infof("[Processor] 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	chunks := splitText(text, p.chunkSize, p.chunkOverlap)
	category := task.Category
	if category == "" {
		category = defaultCategory
	}
	title := strings.TrimSuffix(task.FileName, extOf(task.FileName))
	items := make([]model.KnowledgeItem, 0, len(chunks))
	for i, chunk := range chunks {
		itemTitle := title
		if len(chunks) > 1 {
			itemTitle = fmt.Sprintf("%s (part %d)", title, i+1)
		}
		items = append(items, model.KnowledgeItem{
			ID:       chunkID(task.TaskID, i),
			Title:    itemTitle,
			Content:  chunk,
			Category: category,
		})
	}
	return items, nil
}

// chunkID 由任务 ID 派生，重复处理同一任务时覆盖而不是追加。
func chunkID(taskID string, i int) string {
	short := strings.ReplaceAll(taskID, "-", "")
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("doc_%s_%d", short, i)
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

// splitText 将长文本按指定大小和重叠进行切分。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	if chunkSize <= chunkOverlap {
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
