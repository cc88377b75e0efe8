package diag

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// Code 是错误分类代码，用于日志与指标汇总，与退出码解耦。
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeConfig    Code = "config"
	CodeDecode    Code = "decode"
	CodeAuth      Code = "auth"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
)

// Classify 将错误归类。只依赖哨兵与标准库错误类型，不做字符串匹配。
// 顺序有意义：auth 先于 network，因为上游 4xx 错误也携带状态信息。
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return CodeCancel
	case errors.Is(err, contract.ErrConfig) || errors.Is(err, contract.ErrUnsupported):
		return CodeConfig
	case errors.Is(err, contract.ErrDecode):
		return CodeDecode
	case errors.Is(err, contract.ErrAuth):
		return CodeAuth
	case errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited):
		return CodeBudget
	case errors.Is(err, contract.ErrResponseInvalid):
		return CodeProtocol
	case errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid):
		return CodeInvariant
	}
	var perr *fs.PathError
	if errors.As(err, &perr) || errors.Is(err, os.ErrNotExist) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// Transient 报告错误是否值得重试：限流或网络类（含上游 5xx/408）。
func Transient(err error) bool {
	switch Classify(err) {
	case CodeNetwork:
		return true
	case CodeBudget:
		return errors.Is(err, contract.ErrRateLimited)
	default:
		return false
	}
}
