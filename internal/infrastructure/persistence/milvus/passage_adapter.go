package milvus

import (
	"context"
	"time"

	"immigration-qa-api/internal/domain/entity"
	"immigration-qa-api/pkg/metrics"
)

// PassageSearcher 面向问答流水线的检索适配器
type PassageSearcher struct {
	repo *Repository
}

// NewPassageSearcher 创建检索适配器
func NewPassageSearcher(repo *Repository) *PassageSearcher {
	return &PassageSearcher{repo: repo}
}

// Search 主检索
func (s *PassageSearcher) Search(ctx context.Context, vector []float32, topK int) ([]entity.Passage, error) {
	start := time.Now()
	passages, err := s.repo.SearchPassages(ctx, vector, "", topK)
	s.observe(start, err)
	return passages, err
}

// SearchFiltered 维度约束检索,排除已收集的段落
func (s *PassageSearcher) SearchFiltered(ctx context.Context, vector []float32, facet, value string, excludeIDs []int64, topK int) ([]entity.Passage, error) {
	filter, err := BuildFacetFilter(facet, value, excludeIDs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	passages, err := s.repo.SearchPassages(ctx, vector, filter, topK)
	s.observe(start, err)
	return passages, err
}

func (s *PassageSearcher) observe(start time.Time, err error) {
	metrics.MilvusSearchDuration.WithLabelValues(CollectionPassages).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.MilvusSearchTotal.WithLabelValues(CollectionPassages, status).Inc()
}
