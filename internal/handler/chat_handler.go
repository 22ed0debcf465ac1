package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"medassist-go/internal/apperr"
	"medassist-go/internal/service"
	"medassist-go/pkg/log"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理 WebSocket 聊天连接，每个连接对应一个会话。
type ChatHandler struct {
	chatService service.ChatService
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// Handle 处理一个传入的 WebSocket 连接。
// 查询参数 conversation_id 可续接已有会话，user_id 作为预约操作的默认用户。
func (h *ChatHandler) Handle(c *gin.Context) {
	conversationID := c.Query("conversation_id")
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	userID := c.Query("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("[ChatHandler] WebSocket 连接已建立, conversation: %s", conversationID)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warnf("[ChatHandler] 从 WebSocket 读取消息失败: %v", err)
			}
			break
		}

		resp, err := h.chatService.Reply(c.Request.Context(), conversationID, userID, message)
		if err != nil {
			log.Errorf("[ChatHandler] 处理消息失败: %v", err)
			if !writeJSON(conn, map[string]string{
				"type":  "error",
				"error": apperr.MessageOf(err),
				"code":  string(apperr.CodeOf(err)),
			}) {
				break
			}
		} else if !writeJSON(conn, map[string]interface{}{
			"type":            "response",
			"response":        resp.Response,
			"agent_calls":     resp.AgentCalls,
			"error_code":      resp.ErrorCode,
			"conversation_id": conversationID,
		}) {
			break
		}
		if !sendCompletion(conn) {
			break
		}
	}
}

func writeJSON(conn *websocket.Conn, v interface{}) bool {
	b, err := json.Marshal(v)
	if err != nil {
		log.Errorf("[ChatHandler] 序列化消息失败: %v", err)
		return false
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		log.Warnf("[ChatHandler] 写入 WebSocket 失败: %v", err)
		return false
	}
	return true
}

// sendCompletion 在每次回复后发送完成通知。
func sendCompletion(conn *websocket.Conn) bool {
	now := time.Now()
	return writeJSON(conn, map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"message":   "响应已完成",
		"timestamp": now.UnixMilli(),
		"date":      now.Format("2006-01-02T15:04:05"),
	})
}
