package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/service"
	"medassist-go/pkg/log"
)

// OrchestrateHandler 是面向用户的统一入口。
type OrchestrateHandler struct {
	orchestrator service.OrchestratorService
}

func NewOrchestrateHandler(orchestrator service.OrchestratorService) *OrchestrateHandler {
	return &OrchestrateHandler{orchestrator: orchestrator}
}

// Orchestrate 处理 POST /api/v1/orchestrate。
func (h *OrchestrateHandler) Orchestrate(c *gin.Context) {
	var req service.OrchestrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "Orchestrator", err)
		return
	}
	log.Infof("[Orchestrator] 收到请求, user: %s, conversation: %s", req.UserID, req.ConversationID)

	resp, err := h.orchestrator.Handle(c.Request.Context(), req)
	if err != nil {
		writeError(c, "Orchestrator", err, nil)
		return
	}
	c.JSON(http.StatusOK, resp)
}
