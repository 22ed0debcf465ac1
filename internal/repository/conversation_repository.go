package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"medassist-go/internal/model"

	"github.com/go-redis/redis/v8"
)

const (
	conversationTTL      = 7 * 24 * time.Hour
	conversationMaxTurns = 20
)

// ConversationRepository 定义了对话历史记录的操作接口。
type ConversationRepository interface {
	GetHistory(ctx context.Context, conversationID string) ([]model.Turn, error)
	AppendTurns(ctx context.Context, conversationID string, turns ...model.Turn) error
}

type redisConversationRepository struct {
	redisClient *redis.Client
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(redisClient *redis.Client) ConversationRepository {
	return &redisConversationRepository{redisClient: redisClient}
}

func conversationKey(conversationID string) string {
	return fmt.Sprintf("conversation:%s", conversationID)
}

// GetHistory 从 Redis 获取对话历史记录，不存在时返回空切片。
func (r *redisConversationRepository) GetHistory(ctx context.Context, conversationID string) ([]model.Turn, error) {
	jsonData, err := r.redisClient.Get(ctx, conversationKey(conversationID)).Result()
	if err == redis.Nil {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation history: %w", err)
	}
	var turns []model.Turn
	if err := json.Unmarshal([]byte(jsonData), &turns); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
	}
	return turns, nil
}

// AppendTurns 追加消息并保留最近 20 条，刷新 7 天过期时间。
func (r *redisConversationRepository) AppendTurns(ctx context.Context, conversationID string, turns ...model.Turn) error {
	history, err := r.GetHistory(ctx, conversationID)
	if err != nil {
		return err
	}
	history = append(history, turns...)
	if len(history) > conversationMaxTurns {
		history = history[len(history)-conversationMaxTurns:]
	}
	jsonData, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation history: %w", err)
	}
	if err := r.redisClient.Set(ctx, conversationKey(conversationID), jsonData, conversationTTL).Err(); err != nil {
		return fmt.Errorf("failed to set conversation history: %w", err)
	}
	return nil
}
