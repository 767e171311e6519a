package dto

import (
	"immigration-qa-api/internal/domain/entity"
)

// ChatRequest 问答请求
type ChatRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
	K         int    `json:"k"`
	UseFacet  bool   `json:"use_facet"`
	UseRerank bool   `json:"use_rerank"`
}

// SourceRef 回答引用的知识库片段
type SourceRef struct {
	ID         int64   `json:"id"`
	Source     string  `json:"source,omitempty"`
	Title      string  `json:"title,omitempty"`
	Section    string  `json:"section,omitempty"`
	Similarity float64 `json:"similarity"`
}

// ChatResponse 问答响应
type ChatResponse struct {
	Answer        string             `json:"answer"`
	Thinking      string             `json:"thinking,omitempty"`
	SessionID     string             `json:"session_id"`
	HistoryLength int                `json:"history_length"`
	Sources       []SourceRef        `json:"sources,omitempty"`
	Timings       map[string]float64 `json:"timings,omitempty"`
}

// NewSourceRefs 将检索结果转换为响应引用
func NewSourceRefs(passages []entity.Passage) []SourceRef {
	if len(passages) == 0 {
		return nil
	}
	refs := make([]SourceRef, 0, len(passages))
	for _, p := range passages {
		refs = append(refs, SourceRef{
			ID:         p.ID,
			Source:     p.Source,
			Title:      p.Title,
			Section:    p.Section,
			Similarity: p.Similarity,
		})
	}
	return refs
}
