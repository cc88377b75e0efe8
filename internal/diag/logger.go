package diag

import (
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 默认日志目录与单文件上限。
const (
	DefaultLogDir   = "logs"
	DefaultLogBytes = 10 * 1024 * 1024
)

// Logger: 结构化事件日志。事件字段：corr_id/comp/stage/code/dur_ms/count + 键值对。
// 底层为 zap；文件写入 RotatingFile，warn 以上同时写 stderr。
type Logger struct {
	z    *zap.Logger
	sink *RotatingFile
}

// ParseLevel 将配置字符串映射为 zap 级别；未知值视为 info。
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.MessageKey = "msg"
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	ec.CallerKey = zapcore.OmitKey
	ec.StacktraceKey = zapcore.OmitKey
	return ec
}

// NewLogger 按级别初始化，写入 dir 下的轮转文件（dir 为空用 logs）。
func NewLogger(corrID, level, dir string) *Logger {
	if dir == "" {
		dir = DefaultLogDir
	}
	sink := NewRotatingFile(dir, DefaultLogBytes, 5)
	lvl := ParseLevel(level)
	enc := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(enc, sink, lvl),
		zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.Lock(os.Stderr), zapcore.WarnLevel),
	)
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID)), sink: sink}
}

// NewLoggerTo 写入任意 WriteSyncer（测试或嵌入使用）。
func NewLoggerTo(corrID, level string, w zapcore.WriteSyncer) *Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), w, ParseLevel(level))
	return &Logger{z: zap.New(core).With(zap.String("corr_id", corrID))}
}

// Nop 返回丢弃一切的日志器。
func Nop() *Logger { return &Logger{z: zap.NewNop()} }

// Zap 暴露底层 zap.Logger。
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.z == nil {
		return zap.NewNop()
	}
	return l.z
}

// Close 刷新并关闭文件 sink。
func (l *Logger) Close() error {
	if l == nil || l.z == nil {
		return nil
	}
	_ = l.z.Sync()
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

func kvFields(kv map[string]string) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.String(k, kv[k]))
	}
	return out
}

func (l *Logger) emit(lv zapcore.Level, comp, stage, msg string, fields ...zap.Field) {
	if l == nil || l.z == nil {
		return
	}
	if ce := l.z.Check(lv, msg); ce != nil {
		ce.Write(append([]zap.Field{zap.String("comp", comp), zap.String("stage", stage)}, fields...)...)
	}
}

// Start 记录 start 事件；返回计时器用于 Finish。
func (l *Logger) Start(comp, msg string) *Timer {
	return l.StartWithKV(comp, msg, nil)
}

// StartWithKV 记录带键值的 start。
func (l *Logger) StartWithKV(comp, msg string, kv map[string]string) *Timer {
	l.emit(zapcore.InfoLevel, comp, "start", msg, kvFields(kv)...)
	return &Timer{l: l, comp: comp, kv: kv, t0: time.Now()}
}

// Info 记录一条 info 事件。
func (l *Logger) Info(comp, msg string, kv map[string]string) {
	l.emit(zapcore.InfoLevel, comp, "info", msg, kvFields(kv)...)
}

// Warn 记录一条 warn 事件。
func (l *Logger) Warn(comp, msg string, kv map[string]string) {
	l.emit(zapcore.WarnLevel, comp, "warn", msg, kvFields(kv)...)
}

// Debug 仅在 level=debug 时输出。
func (l *Logger) Debug(comp, msg string, kv map[string]string) {
	l.emit(zapcore.DebugLevel, comp, "debug", msg, kvFields(kv)...)
}

// Error 记录 error 事件；durSince 非空时附带耗时。
func (l *Logger) Error(comp string, code Code, msg string, durSince *time.Time) {
	l.ErrorWithKV(comp, code, msg, durSince, nil)
}

// ErrorWithKV 附带键值对（例如 HTTP 状态码、行号）。
func (l *Logger) ErrorWithKV(comp string, code Code, msg string, durSince *time.Time, kv map[string]string) {
	fields := []zap.Field{zap.String("code", string(code))}
	if durSince != nil {
		fields = append(fields, zap.Int64("dur_ms", time.Since(*durSince).Milliseconds()))
	}
	IncError(comp, string(code))
	l.emit(zapcore.ErrorLevel, comp, "error", msg, append(fields, kvFields(kv)...)...)
}

// Timer 用于 start→finish 计时。
type Timer struct {
	l    *Logger
	comp string
	kv   map[string]string
	t0   time.Time
}

// Since 返回起点，供 Error 计算耗时。
func (t *Timer) Since() *time.Time {
	if t == nil {
		return nil
	}
	return &t.t0
}

// Finish 记录 finish 与计数，并累计成功指标。
func (t *Timer) Finish(msg string, count int64) {
	if t == nil || t.l == nil {
		return
	}
	dur := time.Since(t.t0).Milliseconds()
	IncOp(t.comp, "finish", "success")
	ObserveDuration(t.comp, "finish", dur)
	fields := append([]zap.Field{zap.Int64("dur_ms", dur), zap.Int64("count", count)}, kvFields(t.kv)...)
	t.l.emit(zapcore.InfoLevel, t.comp, "finish", msg, fields...)
}

// Fail 记录 error 并累计失败指标。
func (t *Timer) Fail(err error, kv map[string]string) {
	if t == nil || t.l == nil || err == nil {
		return
	}
	IncOp(t.comp, "finish", "error")
	merged := make(map[string]string, len(t.kv)+len(kv))
	for k, v := range t.kv {
		merged[k] = v
	}
	for k, v := range kv {
		merged[k] = v
	}
	t.l.ErrorWithKV(t.comp, Classify(err), err.Error(), &t.t0, merged)
}
