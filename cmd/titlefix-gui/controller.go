package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/firstsmile-dev/Excel-AI-project/internal/pipeline"
)

// maxHistory: 保留的运行记录条数。
const maxHistory = 50

type runFunc func(ctx context.Context) (pipeline.Report, error)

// entry: 一次运行的记录。
type entry struct {
	Started  time.Time
	Duration time.Duration
	OK       bool
	Stopped  bool
	Output   string
	Err      string
}

// Summary 用于历史列表的一行展示。
func (e entry) Summary() string {
	head := fmt.Sprintf("%s  %s", e.Started.Format("2006-01-02 15:04:05"), formatElapsed(e.Duration))
	switch {
	case e.OK:
		return head + "  完了  " + e.Output
	case e.Stopped:
		return head + "  中止"
	default:
		return head + "  失敗  " + e.Err
	}
}

// controller 管理单个后台运行：同一时刻最多一个；Stop 取消运行上下文。
type controller struct {
	run runFunc
	now func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	started  time.Time
	done     chan struct{}
	history  []entry
	onUpdate func()
}

func newController(run runFunc) *controller {
	return &controller{run: run, now: time.Now}
}

// SetOnUpdate 注册运行结束时的回调（在后台 goroutine 中调用）。
func (c *controller) SetOnUpdate(fn func()) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// Start 启动一次运行；已在运行时返回 false。
func (c *controller) Start(parent context.Context) bool {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	c.started = c.now()
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		rep, err := c.run(ctx)
		c.finish(rep, err)
	}()
	return true
}

func (c *controller) finish(rep pipeline.Report, err error) {
	c.mu.Lock()
	e := entry{Started: c.started, Duration: c.now().Sub(c.started), OK: err == nil, Output: rep.Output}
	if err != nil {
		e.Stopped = errors.Is(err, context.Canceled)
		e.Err = err.Error()
	}
	c.history = append([]entry{e}, c.history...)
	if len(c.history) > maxHistory {
		c.history = c.history[:maxHistory]
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	cb := c.onUpdate
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Stop 取消当前运行；未运行时返回 false。
func (c *controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Wait 阻塞直到最近一次运行结束。
func (c *controller) Wait() {
	c.mu.Lock()
	ch := c.done
	c.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (c *controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Elapsed 返回当前运行已用时间；未运行时为 0。
func (c *controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return 0
	}
	return c.now().Sub(c.started)
}

// History 返回运行记录副本（新的在前）。
func (c *controller) History() []entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]entry(nil), c.history...)
}

// formatElapsed 格式化为 HH:MM:SS。
func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s/60)%60, s%60)
}
