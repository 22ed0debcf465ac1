// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"time"

	"medassist-go/internal/model"
	"medassist-go/internal/repository"
)

// ConversationService 定义了对话历史的业务逻辑接口。
type ConversationService interface {
	GetConversationHistory(ctx context.Context, conversationID string) ([]model.Turn, error)
	// AddExchange 将一问一答追加到会话历史中。
	AddExchange(ctx context.Context, conversationID, question, answer string) error
}

type conversationService struct {
	repo repository.ConversationRepository
}

// NewConversationService 创建一个新的 ConversationService。
func NewConversationService(repo repository.ConversationRepository) ConversationService {
	return &conversationService{repo: repo}
}

// GetConversationHistory 获取会话的完整消息历史。
func (s *conversationService) GetConversationHistory(ctx context.Context, conversationID string) ([]model.Turn, error) {
	return s.repo.GetHistory(ctx, conversationID)
}

func (s *conversationService) AddExchange(ctx context.Context, conversationID, question, answer string) error {
	now := time.Now()
	return s.repo.AppendTurns(ctx, conversationID,
		model.Turn{Role: model.RoleUser, Content: question, Timestamp: now},
		model.Turn{Role: model.RoleAssistant, Content: answer, Timestamp: now},
	)
}
