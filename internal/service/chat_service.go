package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"medassist-go/internal/apperr"
	"medassist-go/pkg/log"
)

// ChatService 把 WebSocket 上的一帧消息转换为一次编排请求。
type ChatService interface {
	Reply(ctx context.Context, conversationID, userID string, frame []byte) (*OrchestrateResponse, error)
}

type chatService struct {
	orchestrator OrchestratorService
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(orchestrator OrchestratorService) ChatService {
	return &chatService{orchestrator: orchestrator}
}

// Reply 接受 JSON 格式的 OrchestrateRequest 或纯文本问题。
// 连接级的会话 ID 与用户 ID 在消息未指定时补齐。
func (s *chatService) Reply(ctx context.Context, conversationID, userID string, frame []byte) (*OrchestrateResponse, error) {
	req, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	if req.ConversationID == "" {
		req.ConversationID = conversationID
	}
	if req.UserID == "" {
		req.UserID = userID
	}
	log.Infof("[ChatService] 处理消息, conversation: %s", req.ConversationID)
	return s.orchestrator.Handle(ctx, req)
}

func decodeFrame(frame []byte) (OrchestrateRequest, error) {
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var req OrchestrateRequest
		if err := json.Unmarshal(trimmed, &req); err != nil {
			return OrchestrateRequest{}, apperr.Validation("invalid message: %v", err)
		}
		return req, nil
	}
	return OrchestrateRequest{Query: strings.TrimSpace(string(trimmed))}, nil
}
