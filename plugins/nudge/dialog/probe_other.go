//go:build !windows

package dialog

import "github.com/firstsmile-dev/Excel-AI-project/pkg/contract"

// 非 Windows 平台没有可点击的 Excel 对话框。
func platformProbe(Options) contract.NudgeResult { return contract.NudgeResult{} }
