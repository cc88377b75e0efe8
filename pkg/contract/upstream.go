package contract

// UpstreamError 承载模型服务 HTTP 错误的最小诊断信息。
// pipeline 用它把状态码与消息片段写入结构化日志。
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}
