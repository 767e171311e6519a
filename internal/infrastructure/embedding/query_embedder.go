package embedding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"

	apperrors "immigration-qa-api/pkg/errors"
	"immigration-qa-api/pkg/retry"
)

// QueryEmbedder 面向问答流水线的向量化适配器
// 首次成功向量化时校验维度与配置一致,不一致视为配置错误
type QueryEmbedder struct {
	embedder  embedding.Embedder
	dimension int

	dimCheck sync.Once
	dimErr   error
}

// NewQueryEmbedder 创建向量化适配器
func NewQueryEmbedder(embedder embedding.Embedder, dimension int) *QueryEmbedder {
	return &QueryEmbedder{
		embedder:  embedder,
		dimension: dimension,
	}
}

// EmbedQuery 将查询文本编码为向量
func (e *QueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, retry.Permanent(fmt.Errorf("query is empty"))
	}

	v64, err := e.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(v64) == 0 || len(v64[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}

	vec := v64[0]
	e.dimCheck.Do(func() {
		if len(vec) != e.dimension {
			e.dimErr = apperrors.Newf(apperrors.CodeConfigError,
				"embedding dimension mismatch: got %d, config declares %d", len(vec), e.dimension)
		}
	})
	if e.dimErr != nil {
		return nil, retry.Permanent(e.dimErr)
	}

	out := make([]float32, 0, len(vec))
	for _, x := range vec {
		out = append(out, float32(x))
	}
	return out, nil
}
