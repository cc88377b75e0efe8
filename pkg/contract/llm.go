package contract

import (
	"context"
	"errors"
)

// Raw: 模型返回的原始文本，原样返回，不做清洗。
type Raw struct {
	Text string
}

// LLMClient: 一次请求/响应。输入为 Prompt（instruction + 用户内容），输出单个文本块。
// 同步返回；应尊重 ctx 取消/超时。
type LLMClient interface {
	Invoke(ctx context.Context, p Prompt) (Raw, error)
}

// Decoder: 将 Raw 解析为 Normalization。src 为送入模型的原始标题，
// 供无法解析时回退使用。畸形输出应降级而不是报错。
type Decoder interface {
	Decode(ctx context.Context, src string, raw Raw) (Normalization, error)
}

// 模型边界错误分类。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrAuth            = errors.New("authentication rejected")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
