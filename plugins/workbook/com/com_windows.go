//go:build windows

package com

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// executor 把所有 COM 调用限定在一个锁定 OS 线程的 goroutine 中。
type executor struct {
	jobs chan func()
	done chan struct{}
}

func newExecutor() (*executor, error) {
	e := &executor{jobs: make(chan func()), done: make(chan struct{})}
	ready := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
			var oe *ole.OleError
			// S_FALSE: 本线程已初始化
			if !errors.As(err, &oe) || oe.Code() != 1 {
				ready <- err
				return
			}
		}
		defer ole.CoUninitialize()
		ready <- nil
		for {
			select {
			case f := <-e.jobs:
				f()
			case <-e.done:
				return
			}
		}
	}()
	if err := <-ready; err != nil {
		return nil, fmt.Errorf("com init: %w", err)
	}
	return e, nil
}

// do 在 COM 线程执行 f。ctx 只控制排队；已开始的 COM 调用不会被打断。
func (e *executor) do(ctx context.Context, f func() error) error {
	res := make(chan error, 1)
	select {
	case e.jobs <- func() { res <- f() }:
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-res
}

func (e *executor) stop() { close(e.done) }

// Book 实现 contract.Workbook。
type Book struct {
	ex   *executor
	app  *ole.IDispatch
	wb   *ole.IDispatch
	path string
	save *bool
	// written: 本次会话写过单元格
	written bool
	quit    bool
}

// New 启动 Excel 并打开工作簿。
func New(raw json.RawMessage) (contract.Workbook, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("com options: %w", err)
		}
	}
	if strings.TrimSpace(o.Path) == "" {
		return nil, fmt.Errorf("%w: workbook path empty", contract.ErrConfig)
	}
	abs, err := filepath.Abs(o.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: workbook path %s: %v", contract.ErrConfig, o.Path, err)
	}
	if o.Unblock {
		// 失败忽略：文件可能本就没有区域标记
		_ = exec.Command("powershell", "-NoProfile", "-Command", "Unblock-File", "-LiteralPath", abs).Run()
	}
	ex, err := newExecutor()
	if err != nil {
		return nil, err
	}
	b := &Book{ex: ex, path: abs, save: o.Save, quit: boolOr(o.Quit, true)}
	err = ex.do(context.Background(), func() error {
		unk, err := oleutil.CreateObject("Excel.Application")
		if err != nil {
			return fmt.Errorf("%w: start excel: %v", contract.ErrUnsupported, err)
		}
		defer unk.Release()
		app, err := unk.QueryInterface(ole.IID_IDispatch)
		if err != nil {
			return fmt.Errorf("excel dispatch: %w", err)
		}
		b.app = app
		if _, err := oleutil.PutProperty(app, "Visible", boolOr(o.Visible, true)); err != nil {
			return fmt.Errorf("excel visible: %w", err)
		}
		_, _ = oleutil.PutProperty(app, "DisplayAlerts", o.DisplayAlerts)
		if boolOr(o.LowSecurity, true) {
			_, _ = oleutil.PutProperty(app, "AutomationSecurity", 1)
		}
		books, err := oleutil.GetProperty(app, "Workbooks")
		if err != nil {
			return fmt.Errorf("excel workbooks: %w", err)
		}
		defer books.Clear()
		wb, err := oleutil.CallMethod(books.ToIDispatch(), "Open", abs)
		if err != nil {
			return fmt.Errorf("open workbook %s: %w", abs, err)
		}
		b.wb = wb.ToIDispatch()
		return nil
	})
	if err != nil {
		b.shutdown(false)
		return nil, err
	}
	return b, nil
}

var _ contract.Workbook = (*Book)(nil)

func (b *Book) Name() string { return filepath.Base(b.path) }

func (b *Book) Sheets(ctx context.Context) ([]string, error) {
	var names []string
	err := b.ex.do(ctx, func() error {
		ws, err := oleutil.GetProperty(b.wb, "Worksheets")
		if err != nil {
			return err
		}
		defer ws.Clear()
		cnt, err := oleutil.GetProperty(ws.ToIDispatch(), "Count")
		if err != nil {
			return err
		}
		n := int(cnt.Val)
		for i := 1; i <= n; i++ {
			sh, err := oleutil.GetProperty(ws.ToIDispatch(), "Item", i)
			if err != nil {
				return err
			}
			name, err := oleutil.GetProperty(sh.ToIDispatch(), "Name")
			if err == nil {
				names = append(names, name.ToString())
			}
			sh.Clear()
		}
		return nil
	})
	return names, err
}

// withRange 在 COM 线程上取得 sheet!cell 的 Range 并调用 f。
func (b *Book) withRange(ctx context.Context, sheet, cell string, f func(rng *ole.IDispatch) error) error {
	return b.ex.do(ctx, func() error {
		sh, err := oleutil.GetProperty(b.wb, "Worksheets", sheet)
		if err != nil {
			return fmt.Errorf("%w: sheet %q: %v", contract.ErrConfig, sheet, err)
		}
		defer sh.Clear()
		rng, err := oleutil.GetProperty(sh.ToIDispatch(), "Range", cell)
		if err != nil {
			return fmt.Errorf("range %s!%s: %w", sheet, cell, err)
		}
		defer rng.Clear()
		return f(rng.ToIDispatch())
	})
}

func (b *Book) ReadValue(ctx context.Context, sheet, cell string) (string, error) {
	var out string
	err := b.withRange(ctx, sheet, cell, func(rng *ole.IDispatch) error {
		v, err := oleutil.GetProperty(rng, "Value")
		if err != nil {
			return fmt.Errorf("read %s!%s: %w", sheet, cell, err)
		}
		defer v.Clear()
		out = variantString(v.Value())
		return nil
	})
	return out, err
}

func variantString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// ReadColor 读取渲染后的背景色（DisplayFormat，含条件格式）。
func (b *Book) ReadColor(ctx context.Context, sheet, cell string) (int64, error) {
	code := int64(-1)
	err := b.withRange(ctx, sheet, cell, func(rng *ole.IDispatch) error {
		df, err := oleutil.GetProperty(rng, "DisplayFormat")
		if err != nil {
			return fmt.Errorf("display format %s!%s: %w", sheet, cell, err)
		}
		defer df.Clear()
		in, err := oleutil.GetProperty(df.ToIDispatch(), "Interior")
		if err != nil {
			return fmt.Errorf("interior %s!%s: %w", sheet, cell, err)
		}
		defer in.Clear()
		c, err := oleutil.GetProperty(in.ToIDispatch(), "Color")
		if err != nil {
			return fmt.Errorf("color %s!%s: %w", sheet, cell, err)
		}
		defer c.Clear()
		switch x := c.Value().(type) {
		case float64:
			code = int64(x)
		case int32:
			code = int64(x)
		case int64:
			code = x
		}
		return nil
	})
	return code, err
}

func (b *Book) WriteValue(ctx context.Context, sheet, cell string, v any) error {
	return b.withRange(ctx, sheet, cell, func(rng *ole.IDispatch) error {
		prop := "Value"
		if s, ok := v.(string); ok && strings.HasPrefix(s, "=") {
			prop = "Formula"
		}
		if _, err := oleutil.PutProperty(rng, prop, v); err != nil {
			return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
		}
		b.written = true
		return nil
	})
}

// RunMacro 调用 Application.Run；阻塞直到宏结束。
func (b *Book) RunMacro(ctx context.Context, name string) error {
	return b.ex.do(ctx, func() error {
		if _, err := oleutil.CallMethod(b.app, "Run", name); err != nil {
			return fmt.Errorf("run macro %q: %w", name, err)
		}
		return nil
	})
}

// ListMacros 扫描 VBProject 各组件的代码模块。需要"信任对 VBA 工程对象模型的访问"。
func (b *Book) ListMacros(ctx context.Context) ([]contract.Macro, error) {
	var out []contract.Macro
	err := b.ex.do(ctx, func() error {
		proj, err := oleutil.GetProperty(b.wb, "VBProject")
		if err != nil {
			return fmt.Errorf("%w: vbproject access denied: %v", contract.ErrUnsupported, err)
		}
		defer proj.Clear()
		comps, err := oleutil.GetProperty(proj.ToIDispatch(), "VBComponents")
		if err != nil {
			return err
		}
		defer comps.Clear()
		cnt, err := oleutil.GetProperty(comps.ToIDispatch(), "Count")
		if err != nil {
			return err
		}
		out = scanModules(int(cnt.Val), func(i int) (string, string, error) {
			return readComponent(comps.ToIDispatch(), i)
		})
		return nil
	})
	return out, err
}

// readComponent 读取第 i 个 VBComponent 的名称与代码；任一属性不可读时返回错误。
func readComponent(comps *ole.IDispatch, i int) (string, string, error) {
	comp, err := oleutil.CallMethod(comps, "Item", i)
	if err != nil {
		return "", "", err
	}
	defer comp.Clear()
	name, err := oleutil.GetProperty(comp.ToIDispatch(), "Name")
	if err != nil {
		return "", "", fmt.Errorf("component %d name: %w", i, err)
	}
	defer name.Clear()
	cm, err := oleutil.GetProperty(comp.ToIDispatch(), "CodeModule")
	if err != nil {
		return "", "", fmt.Errorf("component %d code module: %w", i, err)
	}
	defer cm.Clear()
	lines, err := oleutil.GetProperty(cm.ToIDispatch(), "CountOfLines")
	if err != nil {
		return "", "", fmt.Errorf("component %d lines: %w", i, err)
	}
	defer lines.Clear()
	n := int(lines.Val)
	if n <= 0 {
		return name.ToString(), "", nil
	}
	code, err := oleutil.GetProperty(cm.ToIDispatch(), "Lines", 1, n)
	if err != nil {
		return "", "", fmt.Errorf("component %d code: %w", i, err)
	}
	defer code.Clear()
	return name.ToString(), code.ToString(), nil
}

func (b *Book) shutdown(save bool) error {
	var first error
	_ = b.ex.do(context.Background(), func() error {
		if b.wb != nil {
			if _, err := oleutil.CallMethod(b.wb, "Close", save); err != nil {
				first = fmt.Errorf("close workbook: %w", err)
			}
			b.wb.Release()
			b.wb = nil
		}
		if b.app != nil {
			if b.quit {
				_, _ = oleutil.CallMethod(b.app, "Quit")
			}
			b.app.Release()
			b.app = nil
		}
		return nil
	})
	b.ex.stop()
	return first
}

// Close 关闭工作簿（是否保存见 shouldSave），按配置退出 Excel。
func (b *Book) Close() error {
	if b.ex == nil {
		return nil
	}
	err := b.shutdown(shouldSave(b.save, b.written))
	b.ex = nil
	return err
}
