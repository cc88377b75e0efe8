package contract

import "context"

// Prompt: 不透明载荷，由 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 纯文本提示。
type TextPrompt string

// ChatPrompt: 会话型提示；约定 system 消息承载 instruction，user 消息承载标题。
type ChatPrompt []Message

// Instruction 返回首条 system 消息内容（无则为空）。
func (p ChatPrompt) Instruction() string {
	for _, m := range p {
		if m.Role == "system" {
			return m.Content
		}
	}
	return ""
}

// UserContent 拼接全部 user 消息内容。
func (p ChatPrompt) UserContent() string {
	out := ""
	for _, m := range p {
		if m.Role != "user" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += m.Content
	}
	return out
}

// PromptBuilder: 由单个标题构造确定性的 Prompt。纯计算，不做 I/O。
type PromptBuilder interface {
	Build(ctx context.Context, title string) (Prompt, error)
	// EstimateOverheadTokens: 固定 instruction 部分的近似 token 数。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
type TokenEstimator func(s string) int
