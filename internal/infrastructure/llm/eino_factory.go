// Package llm 提供大模型访问实现
package llm

import (
	"context"
	"fmt"
	"sync"

	"immigration-qa-api/internal/config"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
)

// EinoFactory 惰性创建并复用 Eino ChatModel 实例
type EinoFactory struct {
	config *config.LLMConfig
	model  model.BaseChatModel
	mu     sync.RWMutex
}

// NewEinoFactory 创建 Eino LLM 工厂
func NewEinoFactory(cfg *config.LLMConfig) *EinoFactory {
	return &EinoFactory{config: cfg}
}

// Get 获取 ChatModel,首次调用时创建
func (f *EinoFactory) Get(ctx context.Context) (model.BaseChatModel, error) {
	f.mu.RLock()
	m := f.model
	f.mu.RUnlock()
	if m != nil {
		return m, nil
	}

	// 惰性加载
	f.mu.Lock()
	defer f.mu.Unlock()

	// 再次检查防止竞态
	if f.model != nil {
		return f.model, nil
	}

	// 使用 Eino 的 OpenAI 适配器
	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		APIKey:      f.config.APIKey,
		BaseURL:     f.config.BaseURL,
		Model:       f.config.Model,
		MaxTokens:   &f.config.MaxTokens,
		Temperature: ptrFloat32(float32(f.config.Temperature)),
		Timeout:     f.config.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create eino chat model: %w", err)
	}

	f.model = chatModel
	return chatModel, nil
}

func ptrFloat32(f float32) *float32 {
	return &f
}
