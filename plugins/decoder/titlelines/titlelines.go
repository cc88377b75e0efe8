package titlelines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/width"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// Options 预留；当前无配置项。
type Options struct{}

type decoder struct{}

// New 创建逐行解码器；选项严格解码，未知字段或非法 JSON 报配置错误。
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("%w: titlelines options: %w", contract.ErrConfig, err)
		}
	}
	return decoder{}, nil
}

// Decode: 响应按行切分，去空白并丢弃空行。
//   - 第 1 行为标题；无任何行时保留原标题；
//   - 少于 2 行或第 2 行为 "0" 时不附带卷号；
//   - 第 2 行非整数时同样不附带卷号（降级，不报错）。
func (decoder) Decode(ctx context.Context, src string, raw contract.Raw) (contract.Normalization, error) {
	select {
	case <-ctx.Done():
		return contract.Normalization{}, ctx.Err()
	default:
	}
	lines := Lines(raw.Text)
	if len(lines) == 0 {
		return contract.Normalization{Title: src}, nil
	}
	out := contract.Normalization{Title: lines[0]}
	if len(lines) < 2 || lines[1] == "0" {
		return out, nil
	}
	n, err := strconv.Atoi(width.Narrow.String(lines[1]))
	if err != nil || n == 0 {
		return out, nil
	}
	out.Volume = &n
	return out, nil
}

// Lines 返回去空白后的非空行。
func Lines(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	parts := strings.Split(s, "\n")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
