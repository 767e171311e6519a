package pipeline

import (
	"context"

	"immigration-qa-api/internal/domain/entity"
)

// Embedder 将查询文本编码为向量
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// PassageSearcher 向量检索端口
type PassageSearcher interface {
	// Search 主检索,按相似度降序返回至多 topK 条段落,同分按 id 升序
	Search(ctx context.Context, vector []float32, topK int) ([]entity.Passage, error)
	// SearchFiltered 维度约束检索,排除已收集的段落 id
	SearchFiltered(ctx context.Context, vector []float32, facet, value string, excludeIDs []int64, topK int) ([]entity.Passage, error)
}

// Reranker 交叉编码重排端口
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []entity.Passage) ([]entity.Passage, error)
}

// AnswerGenerator 基于检索上下文与对话历史生成回答
type AnswerGenerator interface {
	Generate(ctx context.Context, history []entity.Turn, passages []entity.Passage, question string) (string, error)
}

// SessionStore 会话历史端口,TTL 过期由存储层负责
type SessionStore interface {
	// Resolve 解析会话,空 id 创建新会话并返回生成的 id
	// 返回值依次为会话 id、供下游使用的最近若干条消息、存储中的消息总数
	Resolve(ctx context.Context, sessionID string) (string, []entity.Turn, int, error)
	// Append 追加一组问答消息并刷新 TTL
	Append(ctx context.Context, sessionID, question, answer string) error
}
