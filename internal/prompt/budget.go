package prompt

import "github.com/firstsmile-dev/Excel-AI-project/pkg/contract"

// DefaultBytesPerToken: 估算时每 token 对应的 UTF-8 字节数。
const DefaultBytesPerToken = 4

// MakeEstimator 返回近似估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// bytesPerToken<=0 时采用默认值。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = DefaultBytesPerToken
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// PromptTokens 按 Prompt 实际文本估算输入 token 数；未知类型返回 0。
func PromptTokens(p contract.Prompt, est contract.TokenEstimator) int {
	if est == nil {
		est = MakeEstimator(0)
	}
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		total := 0
		for _, m := range v {
			total += est(m.Content)
		}
		return total
	default:
		return 0
	}
}

// RequestTokens 为限流申请的单次 token 数：输入估算 + 预留输出。
func RequestTokens(p contract.Prompt, est contract.TokenEstimator, reserveOutput int) int {
	if reserveOutput < 0 {
		reserveOutput = 0
	}
	return PromptTokens(p, est) + reserveOutput
}
