package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"
	"medassist-go/pkg/tasks"

	"github.com/google/uuid"
)

// maxIngestFileSize 是单个导入文件的上限。
const maxIngestFileSize = 50 << 20

// supportedIngestTypes 是允许导入的文件后缀。
var supportedIngestTypes = map[string]string{
	".json": "application/json",
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".html": "text/html",
}

// ObjectWriter 把上传的文件写入对象存储。
type ObjectWriter interface {
	Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error
}

// TaskPublisher 投递导入任务，Kafka 或进程内实现。
type TaskPublisher interface {
	Publish(ctx context.Context, task tasks.KnowledgeIngestTask) error
}

// IngestReceipt 是提交导入后返回给调用方的回执。
type IngestReceipt struct {
	TaskID     string `json:"task_id"`
	ObjectName string `json:"object_name"`
}

// IngestService 接收知识库文件，存入对象存储并异步导入。
type IngestService interface {
	Submit(ctx context.Context, fileName, category string, r io.Reader, size int64) (*IngestReceipt, error)
}

type ingestService struct {
	objects   ObjectWriter
	publisher TaskPublisher
	now       func() time.Time
}

// NewIngestService 创建一个新的 IngestService。
func NewIngestService(objects ObjectWriter, publisher TaskPublisher) IngestService {
	return &ingestService{objects: objects, publisher: publisher, now: time.Now}
}

func (s *ingestService) Submit(ctx context.Context, fileName, category string, r io.Reader, size int64) (*IngestReceipt, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." {
		return nil, apperr.Validation("file name is required")
	}
	contentType, ok := supportedIngestTypes[strings.ToLower(filepath.Ext(fileName))]
	if !ok {
		return nil, apperr.Validation("unsupported file type %q", filepath.Ext(fileName))
	}
	if size > maxIngestFileSize {
		return nil, apperr.Validation("file exceeds %d bytes", maxIngestFileSize)
	}

	taskID := uuid.NewString()
	objectName := fmt.Sprintf("knowledge/%s/%s", taskID, fileName)
	if err := s.objects.Put(ctx, objectName, r, size, contentType); err != nil {
		log.Errorf("[IngestService] 上传文件失败, FileName: %s, Error: %v", fileName, err)
		return nil, apperr.Upstream(apperr.CodeStoreUnavailable, err, "object store unavailable")
	}

	task := tasks.KnowledgeIngestTask{
		TaskID:      taskID,
		ObjectName:  objectName,
		FileName:    fileName,
		Category:    strings.TrimSpace(category),
		SubmittedAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, task); err != nil {
		log.Errorf("[IngestService] 发送导入任务失败, TaskID: %s, Error: %v", taskID, err)
		return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "ingest queue unavailable")
	}
	log.Infof("[IngestService] 导入任务已提交, TaskID: %s, Object: %s", taskID, objectName)
	return &IngestReceipt{TaskID: taskID, ObjectName: objectName}, nil
}
