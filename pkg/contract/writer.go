package contract

import "context"

// ExportRequest: 一次导出的输入。
type ExportRequest struct {
	// TemplatePath: 既有 CSV（表头与非管理列来源）。
	TemplatePath string
	// OutputPath: 目标文件；为空时由实现按时间戳命名。
	OutputPath string
	Records    []TitleRecord
}

// ExportResult: 导出结果摘要。
type ExportResult struct {
	Path     string
	Encoding string
	Rows     int
}

// Exporter: 将 TitleRecord 序列合并进固定列位的 CSV 模板。
// 约束：
//  1. 表头原样复制，仅覆盖管理列；
//  2. 输出编码与模板一致；
//  3. 先写入内存缓冲，任何编码错误都不留下半写文件；
//  4. 错误直接上抛（不做重试）。
type Exporter interface {
	Export(ctx context.Context, req ExportRequest) (ExportResult, error)
}
