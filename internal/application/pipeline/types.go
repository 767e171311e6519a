// Package pipeline 实现问答编排流水线
package pipeline

import (
	"immigration-qa-api/internal/domain/entity"
)

// 检索数量边界
const (
	MinTopK = 1
	MaxTopK = 10
)

// 各阶段耗时在 Timings 中的键名
const (
	TimingHistoryRetrieval = "history_retrieval_ms"
	TimingEmbedding        = "embedding_ms"
	TimingPrimaryRetrieval = "primary_retrieval_ms"
	TimingFacetExpansion   = "facet_expansion_ms"
	TimingRerank           = "rerank_ms"
	TimingLLM              = "llm_ms"
	TimingSaveHistory      = "save_history_ms"
	TimingTotal            = "total_ms"
)

// QueryContext 单次问答请求的输入
type QueryContext struct {
	Query     string
	K         int
	UseFacet  bool
	UseRerank bool
	SessionID string
}

// ClampK 将检索数量收敛到合法区间
func (q QueryContext) ClampK(defaultK int) int {
	k := q.K
	if k == 0 {
		k = defaultK
	}
	if k < MinTopK {
		k = MinTopK
	}
	if k > MaxTopK {
		k = MaxTopK
	}
	return k
}

// Result 单次问答请求的输出
type Result struct {
	Answer        string
	Thinking      string
	Passages      []entity.Passage
	Timings       map[string]float64
	SessionID     string
	HistoryLength int
}
