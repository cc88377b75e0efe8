package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
	"github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/mock"
)

// Options 定义可选项。
type Options struct {
	// Failures: 前 N 次调用返回 ErrRateLimited，默认 1。
	Failures int `json:"failures,omitempty"`
	// Mock: 之后委托给 mock 客户端的原样选项。
	Mock json.RawMessage `json:"mock,omitempty"`
}

// Client 是带状态的实现：前 Failures 次 Invoke 返回 ErrRateLimited，之后委托 mock。
// 用于验证重试路径。
type Client struct {
	failures int64
	next     contract.LLMClient
	count    atomic.Int64
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("flaky options: %w", err)
		}
	}
	if o.Failures <= 0 {
		o.Failures = 1
	}
	next, err := mock.New(o.Mock)
	if err != nil {
		return nil, err
	}
	return &Client{failures: int64(o.Failures), next: next}, nil
}

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	if n := c.count.Add(1); n <= c.failures {
		return contract.Raw{}, fmt.Errorf("flaky call %d: %w", n, contract.ErrRateLimited)
	}
	return c.next.Invoke(ctx, p)
}

var _ contract.LLMClient = (*Client)(nil)
