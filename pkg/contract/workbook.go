package contract

import "context"

// Macro: 工作簿内定义的 VBA 过程。
type Macro struct {
	Module string
	Name   string
	Kind   string // Sub | Function
}

// Qualified 返回 "Module.Name"。
func (m Macro) Qualified() string {
	if m.Module == "" {
		return m.Name
	}
	return m.Module + "." + m.Name
}

// Workbook: 表格自动化边界。核心只依赖以下操作：
// 读值、读背景色代码、写值、按名执行宏、列出宏。
//
// 颜色代码为 Excel 的 BGR 整数（R + G*256 + B*65536），无填充时返回 -1。
// WriteValue 的字符串以 "=" 开头时按公式写入。
// 实现不保证并发安全，调用方串行使用。
type Workbook interface {
	// Name: 工作簿文件名（含扩展名），用于构造宏名候选。
	Name() string
	Sheets(ctx context.Context) ([]string, error)
	ReadValue(ctx context.Context, sheet, cell string) (string, error)
	ReadColor(ctx context.Context, sheet, cell string) (int64, error)
	WriteValue(ctx context.Context, sheet, cell string, v any) error
	RunMacro(ctx context.Context, name string) error
	ListMacros(ctx context.Context) ([]Macro, error)
	Close() error
}
