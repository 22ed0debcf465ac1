// Package model 包含了应用的数据模型定义。
package model

import "time"

// 对话角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Turn 是一条对话消息，也是存储在 Redis 中的会话历史元素。
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Query 是一次用户请求：当前问题加上此前的有界历史。
type Query struct {
	Text    string `json:"query"`
	History []Turn `json:"history,omitempty"`
}

// BoundHistory 保留最近 maxTurns 条历史，maxTurns <= 0 时不截断。
func BoundHistory(history []Turn, maxTurns int) []Turn {
	if maxTurns <= 0 || len(history) <= maxTurns {
		return history
	}
	return history[len(history)-maxTurns:]
}
