package pipeline

import (
	"fmt"
	"strings"

	"immigration-qa-api/internal/domain/entity"
)

// SystemPrompt 问答助手的系统提示词
const SystemPrompt = "You are an expert Canadian immigration assistant. " +
	"Do not mention the context provided if not relevant. " +
	"Use any relevant provided context to answer questions accurately, " +
	"or find the answer yourself otherwise. " +
	"If referencing previous conversation, acknowledge it naturally."

// BuildUserPrompt 将检索上下文与当前问题拼装为最终用户消息
// 约束：上下文尽量短,不携带 score 等调试信息
func BuildUserPrompt(passages []entity.Passage, question string, maxPassages int) string {
	if maxPassages <= 0 {
		maxPassages = 8
	}

	n := len(passages)
	if n > maxPassages {
		n = maxPassages
	}

	if n == 0 {
		return question
	}

	blocks := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p := passages[i]
		text := strings.TrimSpace(p.TextContent)
		if text == "" {
			continue
		}
		ref := strings.TrimSpace(p.Title)
		if section := strings.TrimSpace(p.Section); section != "" {
			ref = strings.TrimSpace(ref + " / " + section)
		}
		if ref != "" {
			blocks = append(blocks, fmt.Sprintf("[%s]\n%s", ref, text))
		} else {
			blocks = append(blocks, text)
		}
	}

	if len(blocks) == 0 {
		return question
	}

	return fmt.Sprintf(
		"Context from knowledge base:\n%s\n\nCurrent Question: %s\n\nAnswer based on the context provided:",
		strings.Join(blocks, "\n\n"),
		question,
	)
}
