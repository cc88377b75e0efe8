package diag

import (
	"sort"
	"strings"
	"sync"
)

// 进程内计数器：
// - op_total{comp,stage,result}
// - error_total{comp,code}
// - op_duration_ms{comp,stage}（累计）
var (
	metricsMu sync.Mutex
	counters  = map[string]int64{}
)

func bump(key string, by int64) {
	metricsMu.Lock()
	counters[key] += by
	metricsMu.Unlock()
}

// IncOp 累加操作计数（result=success|error）。
func IncOp(comp, stage, result string) {
	bump("op_total{"+comp+","+stage+","+result+"}", 1)
}

// IncError 按分类累加错误计数。
func IncError(comp, code string) {
	bump("error_total{"+comp+","+code+"}", 1)
}

// ObserveDuration 累计阶段耗时（毫秒）。
func ObserveDuration(comp, stage string, durMS int64) {
	bump("op_duration_ms{"+comp+","+stage+"}", durMS)
}

// Metric 为快照中的一项。
type Metric struct {
	Name  string
	Value int64
}

// Snapshot 返回按名称排序的计数器副本。
func Snapshot() []Metric {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	out := make([]Metric, 0, len(counters))
	for k, v := range counters {
		out = append(out, Metric{Name: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SnapshotPrefix 只返回名称以 prefix 开头的项。
func SnapshotPrefix(prefix string) []Metric {
	all := Snapshot()
	out := all[:0]
	for _, m := range all {
		if strings.HasPrefix(m.Name, prefix) {
			out = append(out, m)
		}
	}
	return out
}

// ResetMetrics 清空计数器（测试用）。
func ResetMetrics() {
	metricsMu.Lock()
	counters = map[string]int64{}
	metricsMu.Unlock()
}
