// Package redis 提供 Redis 会话存储实现
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"immigration-qa-api/internal/domain/entity"
	"immigration-qa-api/pkg/logger"
)

// SessionStore 基于 Redis LIST 的会话历史存储
// 每条消息为一个 JSON 元素,TTL 随每次追加刷新
type SessionStore struct {
	client          *Client
	keyPrefix       string
	ttl             time.Duration
	maxHistoryTurns int
}

// NewSessionStore 创建会话存储
func NewSessionStore(client *Client, keyPrefix string, ttl time.Duration, maxHistoryTurns int) *SessionStore {
	if keyPrefix == "" {
		keyPrefix = "immigration_qa:session:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxHistoryTurns <= 0 {
		maxHistoryTurns = 20
	}
	return &SessionStore{
		client:          client,
		keyPrefix:       keyPrefix,
		ttl:             ttl,
		maxHistoryTurns: maxHistoryTurns,
	}
}

func (s *SessionStore) key(sessionID string) string {
	return s.keyPrefix + sessionID
}

// Resolve 解析会话
// 空 id 创建新会话;已有 id 读取全部历史,返回最近若干条消息与消息总数
func (s *SessionStore) Resolve(ctx context.Context, sessionID string) (string, []entity.Turn, int, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return uuid.NewString(), nil, 0, nil
	}

	ctx, span := tracer.Start(ctx, "session.Resolve",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	items, err := s.client.rdb.LRange(ctx, s.key(sessionID), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		return sessionID, nil, 0, fmt.Errorf("failed to read session history: %w", err)
	}

	total := len(items)
	if total > s.maxHistoryTurns {
		items = items[total-s.maxHistoryTurns:]
	}

	turns := make([]entity.Turn, 0, len(items))
	for _, item := range items {
		var turn entity.Turn
		if uerr := json.Unmarshal([]byte(item), &turn); uerr != nil {
			// 单条损坏不影响其余历史
			logger.Warn(ctx, "skipping corrupt session turn", "session_id", sessionID, "error", uerr.Error())
			continue
		}
		turns = append(turns, turn)
	}

	span.SetAttributes(attribute.Int("history_length", total))
	return sessionID, turns, total, nil
}

// Append 追加一组问答消息并刷新 TTL
func (s *SessionStore) Append(ctx context.Context, sessionID, question, answer string) error {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}

	ctx, span := tracer.Start(ctx, "session.Append",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	now := time.Now()
	userTurn, err := json.Marshal(entity.Turn{Role: entity.RoleUser, Content: question, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to encode user turn: %w", err)
	}
	assistantTurn, err := json.Marshal(entity.Turn{Role: entity.RoleAssistant, Content: answer, CreatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to encode assistant turn: %w", err)
	}

	pipe := s.client.rdb.TxPipeline()
	pipe.RPush(ctx, s.key(sessionID), userTurn, assistantTurn)
	pipe.Expire(ctx, s.key(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to append session history: %w", err)
	}
	return nil
}
