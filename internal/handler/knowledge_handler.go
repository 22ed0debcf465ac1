package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/apperr"
	"medassist-go/internal/service"
	"medassist-go/pkg/log"
)

// KnowledgeHandler 负责知识库的导入与索引刷新。
type KnowledgeHandler struct {
	ingestService    service.IngestService
	knowledgeService service.KnowledgeService
}

func NewKnowledgeHandler(ingestService service.IngestService, knowledgeService service.KnowledgeService) *KnowledgeHandler {
	return &KnowledgeHandler{ingestService: ingestService, knowledgeService: knowledgeService}
}

// Ingest 处理 multipart 上传，文件写入对象存储后异步导入。
func (h *KnowledgeHandler) Ingest(c *gin.Context) {
	if h.ingestService == nil {
		writeError(c, "KnowledgeHandler", apperr.New(apperr.KindUpstream, apperr.CodeUpstreamUnavailable, "knowledge ingestion is not enabled"), nil)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		writeError(c, "KnowledgeHandler", apperr.Validation("file is required"), nil)
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		writeError(c, "KnowledgeHandler", apperr.Validation("cannot open uploaded file"), nil)
		return
	}
	defer file.Close()

	category := c.PostForm("category")
	log.Infof("[KnowledgeHandler] 收到导入请求, file: %s, size: %d, category: %s", fileHeader.Filename, fileHeader.Size, category)
	receipt, err := h.ingestService.Submit(c.Request.Context(), fileHeader.Filename, category, file, fileHeader.Size)
	if err != nil {
		writeError(c, "KnowledgeHandler", err, nil)
		return
	}
	c.JSON(http.StatusAccepted, receipt)
}

// Reload 从持久层重建索引。
func (h *KnowledgeHandler) Reload(c *gin.Context) {
	size, err := h.knowledgeService.Reload(c.Request.Context())
	if err != nil {
		writeError(c, "KnowledgeHandler", err, nil)
		return
	}
	log.Infof("[KnowledgeHandler] 索引已重建, size: %d", size)
	c.JSON(http.StatusOK, gin.H{"size": size})
}
