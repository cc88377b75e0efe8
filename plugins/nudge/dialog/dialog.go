// Package dialog 在宏运行期间尽力关闭阻塞的确认对话框。
// 可能静默失败；调用方不得以其结果判断成功与否。
package dialog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 默认值。
var (
	DefaultKeywords = []string{"マクロ実行確認", "マクロ", "実行確認"}
	DefaultButtons  = []string{"はい", "Yes", "OK"}
)

const (
	DefaultTimeout = 15 * time.Second
	DefaultPoll    = 200 * time.Millisecond
)

// Options: 目标窗口与按钮匹配规则。
type Options struct {
	Keywords []string `json:"keywords,omitempty"`
	Buttons  []string `json:"buttons,omitempty"`
	// Key: 找不到按钮时发送的按键（单个 ASCII 字母），默认 "Y"。
	Key    string `json:"key,omitempty"`
	PollMS int    `json:"poll_ms,omitempty"`
}

// probeFunc 执行一次查找与点击。
type probeFunc func(o Options) contract.NudgeResult

// Nudger 轮询直到命中目标窗口并完成点击/按键，或超时。
type Nudger struct {
	opts  Options
	poll  time.Duration
	probe probeFunc
}

// New 从原样 JSON 构造。非 Windows 平台上探测恒为未命中。
func New(raw json.RawMessage) (contract.Nudger, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("dialog options: %w", err)
		}
	}
	if len(o.Keywords) == 0 {
		o.Keywords = DefaultKeywords
	}
	if len(o.Buttons) == 0 {
		o.Buttons = DefaultButtons
	}
	if o.Key == "" {
		o.Key = "Y"
	}
	if len(o.Key) != 1 || !((o.Key[0] >= 'A' && o.Key[0] <= 'Z') || (o.Key[0] >= 'a' && o.Key[0] <= 'z')) {
		return nil, fmt.Errorf("%w: dialog key must be a single letter", contract.ErrConfig)
	}
	poll := DefaultPoll
	if o.PollMS > 0 {
		poll = time.Duration(o.PollMS) * time.Millisecond
	}
	return &Nudger{opts: o, poll: poll, probe: platformProbe}, nil
}

// Nudge 最迟在 timeout（<=0 用默认 15s）或 ctx 结束时返回。
func (n *Nudger) Nudge(ctx context.Context, timeout time.Duration) contract.NudgeResult {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	t := time.NewTicker(n.poll)
	defer t.Stop()
	var last contract.NudgeResult
	for {
		r := n.probe(n.opts)
		if r.Found {
			last = r
			if r.Clicked || r.KeySent {
				return r
			}
		}
		select {
		case <-ctx.Done():
			return last
		case <-t.C:
		}
	}
}

// None 什么也不做。
type None struct{}

func (None) Nudge(context.Context, time.Duration) contract.NudgeResult { return contract.NudgeResult{} }

// NewNone 供注册表使用。
func NewNone(json.RawMessage) (contract.Nudger, error) { return None{}, nil }

var (
	_ contract.Nudger = (*Nudger)(nil)
	_ contract.Nudger = None{}
)
