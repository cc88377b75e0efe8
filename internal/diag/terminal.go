package diag

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Terminal: 终端进度提示（非日志）。
// TTY 下进度单行 \r 覆盖；非 TTY 只在关键节点分行打印。写失败后转为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool

	llm         string
	concurrency int
	runStart    time.Time
	stepsDone   int

	step      string
	total     int
	done      int
	errs      int
	lastLen   int
	lastFlush time.Time

	mu sync.Mutex
}

var (
	termMu sync.RWMutex
	term   *Terminal
)

// SetTerminal 设置全局终端（nil 清除）。
func SetTerminal(t *Terminal) { termMu.Lock(); term = t; termMu.Unlock() }

// GetTerminal 返回全局终端（可能为 nil；nil 上的方法均为 no-op）。
func GetTerminal() *Terminal { termMu.RLock(); defer termMu.RUnlock(); return term }

// NewTerminal 构造终端提示器；enabled=false 时总是 no-op。
func NewTerminal(w io.Writer, enabled bool) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: enabled}
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			if fi, err := f.Stat(); err == nil {
				t.isTTY = fi.Mode()&os.ModeCharDevice != 0
			}
		}
	}
	return t
}

// RunStart 记录运行上下文。
func (t *Terminal) RunStart(llm string, concurrency int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.llm, t.concurrency = llm, concurrency
	t.runStart = time.Now()
	t.stepsDone = 0
	t.println(fmt.Sprintf("[run] llm=%s | 并发=%d", safe(llm), concurrency))
}

// StepStart 标记当前步骤与计划条数（未知时为 0）。
func (t *Terminal) StepStart(step string, total int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.step, t.total, t.done, t.errs = step, total, 0, 0
	if !t.isTTY {
		t.println(fmt.Sprintf("[step] %s | 计划=%d", step, total))
	}
}

// StepProgress 周期性进度，TTY 下 100ms 节流。
func (t *Terminal) StepProgress(done, total, errs int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled || !t.isTTY {
		return
	}
	t.done, t.total, t.errs = done, total, errs
	now := time.Now()
	if now.Sub(t.lastFlush) < 100*time.Millisecond {
		return
	}
	t.lastFlush = now
	t.printInline(fmt.Sprintf("[step] %s | 进度 %d/%d | 错误 %d | 用时 %s",
		t.step, done, total, errs, formatDur(time.Since(t.runStart))))
}

// StepFinish 完成当前步骤。
func (t *Terminal) StepFinish(ok bool, count int, dur time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	t.stepsDone++
	status := "done"
	if !ok {
		status = "fail"
	}
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
	}
	t.println(fmt.Sprintf("[%s] %s | 条数 %d | 用时 %s", status, t.step, count, formatDur(dur)))
}

// RunFinish 输出总览；output 为导出文件路径（可为空）。
func (t *Terminal) RunFinish(ok bool, dur time.Duration, output string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return
	}
	tag := "ok"
	if !ok {
		tag = "fail"
	}
	line := fmt.Sprintf("[%s] 完成 | 步骤 %d | 总用时 %s", tag, t.stepsDone, formatDur(dur))
	if output != "" {
		line += " | 输出 " + safe(output)
	}
	t.println(line)
}

func (t *Terminal) println(s string) {
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) printInline(s string) {
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	if _, err := io.WriteString(t.w, "\r"+s+strings.Repeat(" ", pad)); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

func visLen(s string) int { return len([]rune(s)) }

func safe(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

// formatDur: <1s 显示毫秒，否则秒保留 1 位小数。
func formatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms < 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	return fmt.Sprintf("%.1fs", float64(d.Milliseconds())/1000.0)
}
