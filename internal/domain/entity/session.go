// Package entity 定义领域实体
package entity

import (
	"time"
)

// Role 对话角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid 判断角色是否合法
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn 会话中的单条消息
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session 问答会话,按 TTL 保存在缓存中
type Session struct {
	ID        string    `json:"id"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession 创建新会话
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Turns:     []Turn{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append 追加一组问答消息并截断到最大保留条数
func (s *Session) Append(question, answer string, maxTurns int) {
	now := time.Now()
	s.Turns = append(s.Turns,
		Turn{Role: RoleUser, Content: question, CreatedAt: now},
		Turn{Role: RoleAssistant, Content: answer, CreatedAt: now},
	)
	if maxTurns > 0 && len(s.Turns) > maxTurns {
		s.Turns = s.Turns[len(s.Turns)-maxTurns:]
	}
	s.UpdatedAt = now
}
