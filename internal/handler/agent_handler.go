package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"medassist-go/internal/apperr"
	"medassist-go/internal/model"
	"medassist-go/internal/service"
	"medassist-go/pkg/log"
)

// AgentHandler 暴露三个专职 agent，供 Tool Connector 调用。
type AgentHandler struct {
	parserService    service.ParserService
	knowledgeService service.KnowledgeService
	bookingService   service.BookingService
}

// NewAgentHandler 创建一个新的 AgentHandler 实例。
func NewAgentHandler(parserService service.ParserService, knowledgeService service.KnowledgeService, bookingService service.BookingService) *AgentHandler {
	return &AgentHandler{
		parserService:    parserService,
		knowledgeService: knowledgeService,
		bookingService:   bookingService,
	}
}

type parseRequest struct {
	Text string `json:"text"`
}

// Parse 处理 POST /api/v1/agents/parser。
func (h *AgentHandler) Parse(c *gin.Context) {
	var req parseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "ParserAgent", err)
		return
	}
	intent, err := h.parserService.Parse(c.Request.Context(), req.Text)
	if err != nil {
		writeError(c, "ParserAgent", err, nil)
		return
	}
	log.Infof("[ParserAgent] 解析完成, intent: %s, symptoms: %v", intent.PrimaryIntent, intent.Symptoms)
	c.JSON(http.StatusOK, intent)
}

type retrieveRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Retrieve 处理 POST /api/v1/agents/knowledge。
func (h *AgentHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "KnowledgeAgent", err)
		return
	}
	results, err := h.knowledgeService.Retrieve(c.Request.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(c, "KnowledgeAgent", err, nil)
		return
	}
	dtos := make([]model.RetrievalResultDTO, 0, len(results))
	for _, r := range results {
		dtos = append(dtos, r.DTO())
	}
	log.Infof("[KnowledgeAgent] 检索完成, query: '%s', 返回 %d 条结果", req.Query, len(dtos))
	c.JSON(http.StatusOK, gin.H{"results": dtos})
}

// Booking 处理 POST /api/v1/agents/booking。
func (h *AgentHandler) Booking(c *gin.Context) {
	var req service.BookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, "BookingAgent", err)
		return
	}
	result, err := h.bookingService.Handle(c.Request.Context(), req)
	if err != nil {
		var extra gin.H
		if apperr.CodeOf(err) == apperr.CodeSlotConflict && result != nil {
			extra = gin.H{"suggested_times": nonNil(result.AvailableSlots)}
		}
		writeError(c, "BookingAgent", err, extra)
		return
	}
	log.Infof("[BookingAgent] 操作完成, action: %s, success: %v", result.Action, result.Success)
	c.JSON(http.StatusOK, bookingBody(result))
}

func bookingBody(r *service.BookingResult) gin.H {
	switch r.Action {
	case model.ActionBook, model.ActionCancel:
		return gin.H{
			"success":        r.Success,
			"appointment_id": r.Appointment.ID,
			"message":        r.Message,
			"appointment":    r.Appointment,
		}
	case model.ActionList:
		appts := r.Appointments
		if appts == nil {
			appts = []model.Appointment{}
		}
		return gin.H{"user_id": r.UserID, "appointments": appts, "count": len(appts)}
	default:
		body := gin.H{"date": r.Date, "doctor": r.Doctor, "available_slots": nonNil(r.AvailableSlots)}
		if r.Message != "" {
			body["success"] = r.Success
			body["message"] = r.Message
		}
		if r.SuggestedDate != "" {
			body["suggested_date"] = r.SuggestedDate
		}
		return body
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
