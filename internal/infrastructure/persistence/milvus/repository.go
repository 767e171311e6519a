// Package milvus 提供 Milvus 向量数据库访问层实现
package milvus

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	milvusentity "github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"immigration-qa-api/internal/domain/entity"
)

// 过滤表达式允许使用的维度字段
var filterableFields = map[string]struct{}{
	"source":  {},
	"title":   {},
	"section": {},
}

// 检索时返回的标量字段
var outputFields = []string{"id", "source", "title", "section", "text_content"}

// Repository 段落向量检索仓储
type Repository struct {
	client    *Client
	dimension int
}

// NewRepository 创建段落检索仓储
func NewRepository(client *Client, dimension int) *Repository {
	return &Repository{client: client, dimension: dimension}
}

// EnsurePassagesCollection 确保 passages 集合与索引可用（不存在则创建）。
// 约束：不会做 drop/rebuild 等破坏性操作。
func (r *Repository) EnsurePassagesCollection(ctx context.Context) error {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return fmt.Errorf("milvus client not configured")
	}

	exists, err := r.client.HasCollection(ctx, CollectionPassages)
	if err != nil {
		return err
	}
	if !exists {
		if err := r.createCollection(ctx); err != nil {
			return err
		}
		// 新建集合时创建索引；若失败，允许后续由运维介入
		_ = r.createIndex(ctx)
	}

	return r.client.LoadCollection(ctx, CollectionPassages)
}

func (r *Repository) createCollection(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.CreateCollection",
		trace.WithAttributes(attribute.String("collection", CollectionPassages)))
	defer span.End()

	schema := PassagesSchema(r.dimension)
	schema.CollectionName = r.client.CollectionName(CollectionPassages)

	if err := r.client.milvus.CreateCollection(ctx, schema, milvusentity.DefaultShardNumber); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

func (r *Repository) createIndex(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "milvus.CreateIndex",
		trace.WithAttributes(attribute.String("collection", CollectionPassages)))
	defer span.End()

	idx, err := milvusentity.NewIndexHNSW(
		milvusentity.COSINE,
		r.client.config.HNSWM,
		r.client.config.HNSWEfConstruction,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}

	collName := r.client.CollectionName(CollectionPassages)
	if err := r.client.milvus.CreateIndex(ctx, collName, "vector", idx, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create index: %w", err)
	}
	return nil
}

// SearchPassages 向量检索段落,相似度降序,同分按 id 升序
// filter 为空时执行全量检索
func (r *Repository) SearchPassages(ctx context.Context, vector []float32, filter string, topK int) ([]entity.Passage, error) {
	if r == nil || r.client == nil || r.client.milvus == nil {
		return nil, fmt.Errorf("milvus client not configured")
	}
	ctx, span := tracer.Start(ctx, "milvus.SearchPassages",
		trace.WithAttributes(
			attribute.Int("top_k", topK),
			attribute.String("filter", filter),
		))
	defer span.End()

	sp, err := milvusentity.NewIndexHNSWSearchParam(128)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	collName := r.client.CollectionName(CollectionPassages)
	results, err := r.client.milvus.Search(ctx,
		collName,
		nil,
		filter,
		outputFields,
		[]milvusentity.Vector{milvusentity.FloatVector(vector)},
		"vector",
		milvusentity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var passages []entity.Passage
	for _, result := range results {
		for i := 0; i < result.ResultCount; i++ {
			p := entity.Passage{
				Similarity: float64(result.Scores[i]),
			}
			if col, ok := result.Fields.GetColumn("id").(*milvusentity.ColumnInt64); ok {
				p.ID = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("source").(*milvusentity.ColumnVarChar); ok {
				p.Source = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("title").(*milvusentity.ColumnVarChar); ok {
				p.Title = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("section").(*milvusentity.ColumnVarChar); ok {
				p.Section = col.Data()[i]
			}
			if col, ok := result.Fields.GetColumn("text_content").(*milvusentity.ColumnVarChar); ok {
				p.TextContent = col.Data()[i]
			}
			passages = append(passages, p)
		}
	}

	// Milvus 不保证同分顺序,统一排序保证可重放
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Similarity != passages[j].Similarity {
			return passages[i].Similarity > passages[j].Similarity
		}
		return passages[i].ID < passages[j].ID
	})

	span.SetAttributes(attribute.Int("result_count", len(passages)))
	return passages, nil
}

// BuildFacetFilter 构建维度约束过滤表达式,可附带排除 id 列表
// 非法维度字段返回错误,避免表达式注入
func BuildFacetFilter(facet, value string, excludeIDs []int64) (string, error) {
	if _, ok := filterableFields[facet]; !ok {
		return "", fmt.Errorf("facet field %q is not filterable", facet)
	}

	filter := fmt.Sprintf(`%s == "%s"`, facet, escapeExprValue(value))
	if len(excludeIDs) > 0 {
		ids := make([]string, len(excludeIDs))
		for i, id := range excludeIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		filter += fmt.Sprintf(" && id not in [%s]", strings.Join(ids, ", "))
	}
	return filter, nil
}

func escapeExprValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}
