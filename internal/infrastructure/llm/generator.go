package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"immigration-qa-api/internal/application/pipeline"
	"immigration-qa-api/internal/domain/entity"
	"immigration-qa-api/pkg/metrics"
)

// ChatModelProvider 提供 ChatModel 实例
type ChatModelProvider interface {
	Get(ctx context.Context) (model.BaseChatModel, error)
}

// AnswerGenerator 基于 ChatModel 的回答生成适配器
type AnswerGenerator struct {
	provider           ChatModelProvider
	providerName       string
	modelName          string
	maxContextPassages int
}

// NewAnswerGenerator 创建回答生成适配器
func NewAnswerGenerator(provider ChatModelProvider, providerName, modelName string, maxContextPassages int) *AnswerGenerator {
	return &AnswerGenerator{
		provider:           provider,
		providerName:       providerName,
		modelName:          modelName,
		maxContextPassages: maxContextPassages,
	}
}

// Generate 构造消息序列并调用模型生成回答
// 消息顺序:系统提示 -> 历史(旧到新) -> 检索上下文与当前问题
func (g *AnswerGenerator) Generate(ctx context.Context, history []entity.Turn, passages []entity.Passage, question string) (string, error) {
	chatModel, err := g.provider.Get(ctx)
	if err != nil {
		return "", err
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(pipeline.SystemPrompt))
	for _, turn := range history {
		switch turn.Role {
		case entity.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(turn.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(turn.Content))
		}
	}
	msgs = append(msgs, schema.UserMessage(pipeline.BuildUserPrompt(passages, question, g.maxContextPassages)))

	start := time.Now()
	outMsg, err := chatModel.Generate(ctx, msgs)
	metrics.LLMCallDuration.WithLabelValues(g.providerName, g.modelName).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(g.providerName, g.modelName, "error").Inc()
		return "", fmt.Errorf("chat model generation failed: %w", err)
	}
	metrics.LLMCallTotal.WithLabelValues(g.providerName, g.modelName, "ok").Inc()

	if outMsg == nil || outMsg.Content == "" {
		return "", fmt.Errorf("chat model returned empty content")
	}

	if usage := outMsg.ResponseMeta; usage != nil && usage.Usage != nil {
		metrics.LLMTokensUsed.WithLabelValues(g.providerName, g.modelName, "prompt").Add(float64(usage.Usage.PromptTokens))
		metrics.LLMTokensUsed.WithLabelValues(g.providerName, g.modelName, "completion").Add(float64(usage.Usage.CompletionTokens))
	}

	return outMsg.Content, nil
}
