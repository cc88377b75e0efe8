package contract

import "errors"

// 最小错误分类；上层按 errors.Is 判定，不做字符串匹配。
var (
	// ErrConfig: 配置错误（缺少凭据、输入文件不存在、列映射缺失等），启动前即失败。
	ErrConfig = errors.New("configuration invalid")
	// ErrDecode: 候选编码全部无法解码输入。
	ErrDecode = errors.New("decode failed")
	// ErrUnsupported: 当前后端/平台不支持该操作（如 xlsx 后端执行宏）。
	ErrUnsupported = errors.New("unsupported")
	// ErrPathInvalid: 目标路径无效（空、目录、越界）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: 领域不变量违例（通用哨兵）。
	ErrInvariantViolation = errors.New("invariant violation")
)
