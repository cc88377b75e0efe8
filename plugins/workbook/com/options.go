// Package com 通过 COM 驱动 Excel（仅 Windows）。
package com

import (
	"regexp"
	"strings"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// Options: Excel 自动化选项。
type Options struct {
	Path string `json:"path"`
	// Visible: 是否显示 Excel 窗口，默认 true（宏可能需要交互）。
	Visible *bool `json:"visible,omitempty"`
	// DisplayAlerts: 默认 false。
	DisplayAlerts bool `json:"display_alerts,omitempty"`
	// LowSecurity: AutomationSecurity=1（允许宏），默认 true。
	LowSecurity *bool `json:"low_security,omitempty"`
	// Unblock: 打开前移除"来自互联网"标记（PowerShell Unblock-File）。
	Unblock bool `json:"unblock,omitempty"`
	// Save: Close 时是否保存；未设置时仅在本次写过单元格后保存。
	Save *bool `json:"save,omitempty"`
	// Quit: Close 时退出 Excel，默认 true。
	Quit *bool `json:"quit,omitempty"`
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// shouldSave: 显式配置优先；否则只有写入过单元格才保存。
func shouldSave(opt *bool, written bool) bool {
	if opt != nil {
		return *opt
	}
	return written
}

// scanModules 依次读取 1..n 号组件并解析其中的过程；读取失败的组件跳过。
func scanModules(n int, read func(i int) (module, code string, err error)) []contract.Macro {
	var out []contract.Macro
	for i := 1; i <= n; i++ {
		module, code, err := read(i)
		if err != nil {
			continue
		}
		out = append(out, ParseProcedures(module, code)...)
	}
	return out
}

var procLine = regexp.MustCompile(`(?i)^\s*(?:(?:public|private|friend)\s+)?(?:static\s+)?(sub|function)\s+([\p{L}_][\p{L}\p{N}_]*)`)

// ParseProcedures 从 VBA 代码模块文本中提取 Sub/Function 声明。
func ParseProcedures(module, code string) []contract.Macro {
	var out []contract.Macro
	for _, line := range strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n") {
		m := procLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		kind := "Sub"
		if strings.EqualFold(m[1], "function") {
			kind = "Function"
		}
		out = append(out, contract.Macro{Module: module, Name: m[2], Kind: kind})
	}
	return out
}
