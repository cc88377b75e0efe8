package csvfile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/firstsmile-dev/Excel-AI-project/internal/textenc"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 默认装订列与允许值。
const DefaultBindingColumn = "装丁、製本"

var DefaultAllowedBindings = []string{"Kindle版", "コミック", "雑誌", "大型本", "単行本", "ソフトカバー"}

// Options: 登记表读取选项。
type Options struct {
	// Encodings: 候选编码，按序尝试；为空使用 textenc.DefaultCandidates。
	Encodings []string `json:"encodings"`
	// Comma: 分隔符（单字符），默认 ","。
	Comma string `json:"comma"`
	// MaxBytes: 输入大小上限，<=0 表示 64 MiB。
	MaxBytes int64 `json:"max_bytes"`
}

// Reader 实现 contract.RegistryReader。
type Reader struct {
	encodings []string
	comma     rune
	maxBytes  int64
}

// New 创建登记表 Reader。
func New(opts *Options) (*Reader, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	comma := ','
	if o.Comma != "" {
		rs := []rune(o.Comma)
		if len(rs) != 1 {
			return nil, fmt.Errorf("%w: comma must be a single character", contract.ErrConfig)
		}
		comma = rs[0]
	}
	for _, e := range o.Encodings {
		if _, err := textenc.Lookup(e); err != nil {
			return nil, err
		}
	}
	mb := o.MaxBytes
	if mb <= 0 {
		mb = 64 << 20
	}
	return &Reader{encodings: o.Encodings, comma: comma, maxBytes: mb}, nil
}

var _ contract.RegistryReader = (*Reader)(nil)

// Read 解码并解析 CSV。表头为首行；短行补空、长行多余单元忽略。
func (r *Reader) Read(ctx context.Context, path string) (contract.Table, error) {
	select {
	case <-ctx.Done():
		return contract.Table{}, ctx.Err()
	default:
	}
	if strings.TrimSpace(path) == "" {
		return contract.Table{}, fmt.Errorf("%w: registry path empty", contract.ErrConfig)
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return contract.Table{}, fmt.Errorf("%w: registry %s: %w", contract.ErrConfig, path, err)
		}
		return contract.Table{}, fmt.Errorf("registry open %s: %w", path, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, r.maxBytes+1))
	if err != nil {
		return contract.Table{}, fmt.Errorf("registry read %s: %w", path, err)
	}
	if int64(len(raw)) > r.maxBytes {
		return contract.Table{}, fmt.Errorf("registry %s: %w: larger than %d bytes", path, contract.ErrBudgetExceeded, r.maxBytes)
	}
	text, enc, err := textenc.Decode(raw, r.encodings)
	if err != nil {
		return contract.Table{}, fmt.Errorf("registry %s: %w", path, err)
	}

	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = r.comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	tbl := contract.Table{Path: path, Encoding: enc.Name}
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return contract.Table{}, fmt.Errorf("registry %s: %w: %v", path, contract.ErrInvalidInput, err)
		}
		line++
		if tbl.Header == nil {
			tbl.Header = append([]string(nil), rec...)
			continue
		}
		row := make(contract.RegistryRow, len(tbl.Header))
		for i, name := range tbl.Header {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			row[i] = contract.Field{Name: name, Value: v}
		}
		tbl.Rows = append(tbl.Rows, row)
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return contract.Table{}, err
			}
		}
	}
	return tbl, nil
}

// Filter 保留装订列值（去首尾空白）在允许集合中的行，顺序不变。
// 表头缺少装订列时返回配置错误。
func Filter(tbl contract.Table, column string, allowed []string) ([]contract.RegistryRow, error) {
	if column == "" {
		column = DefaultBindingColumn
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedBindings
	}
	found := false
	for _, h := range tbl.Header {
		if h == column {
			found = true
			break
		}
	}
	if !found && len(tbl.Rows) > 0 {
		return nil, fmt.Errorf("%w: registry %s has no column %q", contract.ErrConfig, tbl.Path, column)
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[strings.TrimSpace(a)] = struct{}{}
	}
	out := make([]contract.RegistryRow, 0, len(tbl.Rows))
	for _, row := range tbl.Rows {
		v, _ := row.Get(column)
		if _, ok := set[strings.TrimSpace(v)]; ok {
			out = append(out, row)
		}
	}
	return out, nil
}
