package contract

import (
	"context"
	"time"
)

// NudgeResult: 一次外部进程"推一下"的诊断结果，仅供日志使用。
type NudgeResult struct {
	Found   bool   // 找到目标窗口
	Clicked bool   // 点击了按钮
	KeySent bool   // 退化为发送按键
	Window  string // 命中的窗口标题
}

// Nudger: 尽力而为地关闭阻塞自动化调用的模态对话框。
// 约定：可能静默失败；最迟在 timeout 或 ctx 结束时返回；
// 主流程不得依赖其结果判断成功与否。
type Nudger interface {
	Nudge(ctx context.Context, timeout time.Duration) NudgeResult
}
