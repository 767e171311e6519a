// Package rerank 提供交叉编码重排服务客户端
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"immigration-qa-api/internal/domain/entity"
)

var tracer = otel.Tracer("rerank")

// Client 重排服务 HTTP 客户端
type Client struct {
	endpoint   string
	model      string
	httpClient *http.Client
}

// NewClient 创建重排客户端
func NewClient(endpoint, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Query      string   `json:"query"`
	Candidates []string `json:"candidates"`
	Model      string   `json:"model,omitempty"`
	TopK       int      `json:"top_k"`
}

type rerankResponse struct {
	Results []rerankResult `json:"results"`
}

type rerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank 对候选段落重排
// 成功时按分数降序返回全集,同分保持原有次序;任何失败由调用方降级处理
func (c *Client) Rerank(ctx context.Context, query string, passages []entity.Passage) ([]entity.Passage, error) {
	if len(passages) == 0 {
		return passages, nil
	}

	ctx, span := tracer.Start(ctx, "rerank.Rerank",
		trace.WithAttributes(attribute.Int("candidate_count", len(passages))))
	defer span.End()

	candidates := make([]string, len(passages))
	for i, p := range passages {
		candidates[i] = p.TextContent
	}

	body, err := json.Marshal(rerankRequest{
		Query:      query,
		Candidates: candidates,
		Model:      c.model,
		TopK:       len(passages),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		err := fmt.Errorf("rerank request failed: status=%d", httpResp.StatusCode)
		span.RecordError(err)
		return nil, err
	}

	var resp rerankResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	return applyScores(passages, resp.Results)
}

// applyScores 将重排分数写回段落并按分数降序排序
// 响应缺失的候选记零分;非法下标视为协议错误
func applyScores(passages []entity.Passage, results []rerankResult) ([]entity.Passage, error) {
	reranked := make([]entity.Passage, len(passages))
	copy(reranked, passages)

	for _, r := range results {
		if r.Index < 0 || r.Index >= len(reranked) {
			return nil, fmt.Errorf("rerank result index %d out of range", r.Index)
		}
		reranked[r.Index].RerankScore = r.Score
	}

	// 稳定排序保证同分候选维持检索顺序
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RerankScore > reranked[j].RerankScore
	})
	return reranked, nil
}
