package pipeline

import (
	"strings"
)

const (
	thinkOpenTag  = "<think>"
	thinkCloseTag = "</think>"
)

// SplitThinking 将模型原始输出拆分为思考过程与最终回答
// 仅以第一个 </think> 为分界,不含分界符时整段输出视为回答
func SplitThinking(raw string) (thinking, answer string) {
	idx := strings.Index(raw, thinkCloseTag)
	if idx < 0 {
		return "", strings.TrimSpace(raw)
	}

	thinking = raw[:idx]
	thinking = strings.TrimSpace(thinking)
	thinking = strings.TrimPrefix(thinking, thinkOpenTag)
	thinking = strings.TrimSpace(thinking)

	answer = strings.TrimSpace(raw[idx+len(thinkCloseTag):])
	return thinking, answer
}
