package pipeline

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"immigration-qa-api/internal/domain/entity"
	"immigration-qa-api/pkg/logger"
)

// FacetConfig 维度扩展参数
type FacetConfig struct {
	Facets         []string // 参与扩展的维度字段
	MaxFacetValues int      // 每个维度最多选取的取值数
	ExtraLimit     int      // 扩展阶段追加段落总数上限
	Concurrency    int      // 子检索并发上限
}

// FacetExpander 维度扩展引擎
// 对主检索结果中出现频率最高的维度取值发起约束检索,
// 将新段落确定性地追加到主结果之后,主结果顺序不变
type FacetExpander struct {
	searcher PassageSearcher
	cfg      FacetConfig
}

// NewFacetExpander 创建维度扩展引擎
func NewFacetExpander(searcher PassageSearcher, cfg FacetConfig) *FacetExpander {
	if cfg.MaxFacetValues <= 0 {
		cfg.MaxFacetValues = 2
	}
	if cfg.ExtraLimit <= 0 {
		cfg.ExtraLimit = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if len(cfg.Facets) == 0 {
		cfg.Facets = []string{"source", "title", "section"}
	}
	return &FacetExpander{searcher: searcher, cfg: cfg}
}

// facetTarget 一次约束检索的目标 (维度, 取值)
type facetTarget struct {
	facet string
	value string
}

// Expand 执行维度扩展,返回主结果加追加段落
// 任何子检索失败都不影响主结果,仅记录告警
func (f *FacetExpander) Expand(ctx context.Context, vector []float32, primary []entity.Passage) []entity.Passage {
	if len(primary) == 0 {
		return primary
	}

	targets := f.selectTargets(primary)
	if len(targets) == 0 {
		return primary
	}

	seen := make(map[int64]struct{}, len(primary))
	excludeIDs := make([]int64, 0, len(primary))
	for _, p := range primary {
		seen[p.ID] = struct{}{}
		excludeIDs = append(excludeIDs, p.ID)
	}

	// 子检索并发执行,结果按目标顺序收集,保证合并与调度无关
	results := make([][]entity.Passage, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, target := range targets {
		g.Go(func() error {
			found, err := f.searcher.SearchFiltered(gctx, vector, target.facet, target.value, excludeIDs, f.cfg.ExtraLimit)
			if err != nil {
				logger.Warn(gctx, "facet sub-search failed",
					"facet", target.facet,
					"value", target.value,
					"error", err.Error(),
				)
				return nil
			}
			results[i] = found
			return nil
		})
	}
	// 子检索自身不返回错误,等待全部完成
	_ = g.Wait()

	// 汇总候选,按相似度降序、id 升序排序后去重
	var candidates []entity.Passage
	for _, batch := range results {
		candidates = append(candidates, batch...)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Similarity != candidates[j].Similarity {
			return candidates[i].Similarity > candidates[j].Similarity
		}
		return candidates[i].ID < candidates[j].ID
	})

	combined := append([]entity.Passage{}, primary...)
	added := 0
	for _, c := range candidates {
		if added >= f.cfg.ExtraLimit {
			break
		}
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		combined = append(combined, c)
		added++
	}

	return combined
}

// selectTargets 从主结果中选取约束检索目标
// 每个维度取频率最高的若干非空取值,频率相同按字典序
func (f *FacetExpander) selectTargets(primary []entity.Passage) []facetTarget {
	var targets []facetTarget
	for _, facet := range f.cfg.Facets {
		counts := make(map[string]int)
		for _, p := range primary {
			if v := p.FacetValue(facet); v != "" {
				counts[v]++
			}
		}
		values := make([]string, 0, len(counts))
		for v := range counts {
			values = append(values, v)
		}
		sort.Slice(values, func(i, j int) bool {
			if counts[values[i]] != counts[values[j]] {
				return counts[values[i]] > counts[values[j]]
			}
			return values[i] < values[j]
		})
		if len(values) > f.cfg.MaxFacetValues {
			values = values[:f.cfg.MaxFacetValues]
		}
		for _, v := range values {
			targets = append(targets, facetTarget{facet: facet, value: v})
		}
	}
	return targets
}
