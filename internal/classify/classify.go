// Package classify 判定表格行是否需要重新处理（"脏行"）。纯函数，无副作用。
package classify

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/width"
)

// DefaultSentinelColor: 源表格用于标记"需复核"的背景色（Excel BGR 代码，RGB #64FF96）。
const DefaultSentinelColor int64 = 9895780

// DefaultVolume: 卷号缺失或无法解析时的归一值。
const DefaultVolume = 1

// Reason 标识触发脏标记的条件。
type Reason string

const (
	ReasonTitleEmpty         Reason = "title_empty"
	ReasonSentinelColor      Reason = "sentinel_color"
	ReasonVolumeUnparsed     Reason = "volume_unparsed"
	ReasonBaselineMismatch   Reason = "baseline_mismatch"
	ReasonBaselineTitleEmpty Reason = "baseline_title_empty"
)

// Rules: 分类器参数。
type Rules struct {
	SentinelColor int64
	// RequireBaselineTitle: 基线标题列存在且为空时也标脏。
	RequireBaselineTitle bool
}

// DefaultRules 返回默认规则。
func DefaultRules() Rules { return Rules{SentinelColor: DefaultSentinelColor} }

// Input: 一行的原始单元值。
type Input struct {
	TitleColor  int64
	TitleValue  string
	VolumeValue string

	// 基线列：Has* 为 false 表示未配置该列。
	HasBaselineTitle  bool
	BaselineTitle     string
	HasBaselineVolume bool
	BaselineVolume    string
}

// Verdict: 分类结果。
type Verdict struct {
	Dirty bool
	// Volume: 归一卷号；缺失/无法解析时为 DefaultVolume。
	Volume int
	// Parsed: VolumeValue 是否解析成功。
	Parsed  bool
	Reasons []Reason
}

// Classify 判定一行。各条件相互独立，任一成立即为脏。
func Classify(in Input, r Rules) Verdict {
	var v Verdict
	mark := func(rs Reason) {
		v.Dirty = true
		v.Reasons = append(v.Reasons, rs)
	}
	if strings.TrimSpace(in.TitleValue) == "" {
		mark(ReasonTitleEmpty)
	}
	if in.TitleColor == r.SentinelColor {
		mark(ReasonSentinelColor)
	}
	vol, ok := ParseVolume(in.VolumeValue)
	v.Parsed = ok
	if ok {
		v.Volume = vol
	} else {
		v.Volume = DefaultVolume
		mark(ReasonVolumeUnparsed)
	}
	if in.HasBaselineVolume {
		base, bok := ParseVolume(in.BaselineVolume)
		if !bok || base != v.Volume {
			mark(ReasonBaselineMismatch)
		}
	}
	if r.RequireBaselineTitle && in.HasBaselineTitle && strings.TrimSpace(in.BaselineTitle) == "" {
		mark(ReasonBaselineTitleEmpty)
	}
	return v
}

// ParseVolume 解析卷号：整数文本或整数值的小数文本（COM 以 double 返回数值），
// 全角数字按半角处理。空串与其他内容返回 false。
func ParseVolume(s string) (int, bool) {
	s = strings.TrimSpace(width.Narrow.String(s))
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// IsEndOfData: 所有映射列均为空时视为数据结束（非数据行）。
func IsEndOfData(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ReasonStrings 转换为字符串切片（用于 JSON 记录）。
func ReasonStrings(rs []Reason) []string {
	if len(rs) == 0 {
		return nil
	}
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = string(r)
	}
	return out
}
