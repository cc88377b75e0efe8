package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/width"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 响应模式。
const (
	ModeExtract = "extract" // 默认：拆出末尾卷号，"标题\n卷号"；无卷号时 "标题\n0"
	ModeEcho    = "echo"    // 原样标题 + "\n0"
	ModeFixed   = "fixed"   // 按 responses 表查表，未命中回退 extract
)

// Options: 离线调试配置，不发起任何网络请求。
type Options struct {
	Mode      string            `json:"mode,omitempty"`
	Responses map[string]string `json:"responses,omitempty"`
	// APIKey: 仅用于限流分组。
	APIKey string `json:"api_key,omitempty"`
	// DelayMS: 每次调用的模拟延迟（毫秒）。
	DelayMS int `json:"delay_ms,omitempty"`
	// Fail: 非空时每次调用都失败："auth" | "rate" | "invalid"。
	Fail string `json:"fail,omitempty"`
}

// Client: 确定性的模型替身。
type Client struct {
	mode      string
	responses map[string]string
	delay     time.Duration
	fail      error
	calls     atomic.Int64
}

// New 从原样 JSON 构造。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	return NewClient(raw)
}

// NewClient 同 New，但返回具体类型以便读取调用计数。
func NewClient(raw json.RawMessage) (*Client, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("mock options: %w", err)
		}
	}
	mode := strings.TrimSpace(o.Mode)
	if mode == "" {
		mode = ModeExtract
	}
	switch mode {
	case ModeExtract, ModeEcho, ModeFixed:
	default:
		return nil, fmt.Errorf("mock: %w: unknown mode %q", contract.ErrConfig, mode)
	}
	c := &Client{mode: mode, responses: o.Responses, delay: time.Duration(o.DelayMS) * time.Millisecond}
	switch o.Fail {
	case "":
	case "auth":
		c.fail = contract.ErrAuth
	case "rate":
		c.fail = contract.ErrRateLimited
	case "invalid":
		c.fail = contract.ErrInvalidInput
	default:
		return nil, fmt.Errorf("mock: %w: unknown fail %q", contract.ErrConfig, o.Fail)
	}
	return c, nil
}

// Calls 返回累计调用次数。
func (c *Client) Calls() int64 { return c.calls.Load() }

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	if c.fail != nil {
		return contract.Raw{}, fmt.Errorf("mock: %w", c.fail)
	}
	var title string
	switch v := p.(type) {
	case contract.TextPrompt:
		title = string(v)
	case contract.ChatPrompt:
		title = v.UserContent()
	default:
		return contract.Raw{}, fmt.Errorf("mock: %w: prompt type %T", contract.ErrInvalidInput, p)
	}
	title = strings.TrimSpace(title)
	switch c.mode {
	case ModeEcho:
		return contract.Raw{Text: title + "\n0"}, nil
	case ModeFixed:
		if r, ok := c.responses[title]; ok {
			return contract.Raw{Text: r}, nil
		}
	}
	t, vol := Extract(title)
	return contract.Raw{Text: t + "\n" + vol}, nil
}

var trailingVolume = regexp.MustCompile(`^(.*?)[\s　]*(?:第|[vV][oO][lL]\.?)?[\s　]*[(（]?([0-9０-９]+)[)）]?[\s　]*巻?$`)

// Extract 拆出标题末尾的卷号；无卷号时返回 ("标题", "0")。
func Extract(title string) (string, string) {
	title = strings.TrimSpace(title)
	m := trailingVolume.FindStringSubmatch(title)
	if m == nil || strings.TrimSpace(m[1]) == "" {
		return title, "0"
	}
	vol := strings.TrimLeft(width.Narrow.String(m[2]), "0")
	if vol == "" {
		vol = "0"
	}
	return strings.TrimSpace(m[1]), vol
}

var _ contract.LLMClient = (*Client)(nil)
