package csvexport

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/firstsmile-dev/Excel-AI-project/internal/atomicfile"
	"github.com/firstsmile-dev/Excel-AI-project/internal/textenc"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 管理列（0 基）。
const (
	DefaultTitleColumn  = 2
	DefaultVolumeColumn = 6
	DefaultASINColumn   = 14
)

// DefaultKeyColumn: 模板中与记录 ASIN 对应的列名。
const DefaultKeyColumn = "先祖-ASIN"

// Options: 导出选项。
type Options struct {
	// Encodings: 读取模板时的候选编码；为空使用 textenc.DefaultCandidates。
	Encodings []string `json:"encodings"`
	// OutputDir: 未指定 OutputPath 时的输出目录；为空则与模板同目录。
	OutputDir    string `json:"output_dir"`
	TitleColumn  *int   `json:"title_column,omitempty"`
	VolumeColumn *int   `json:"volume_column,omitempty"`
	ASINColumn   *int   `json:"asin_column,omitempty"`
	// KeyColumn: 按表头列名匹配模板行；为空使用 DefaultKeyColumn。
	// 表头中不存在该列时改用 ASIN 列位置。
	KeyColumn string `json:"key_column,omitempty"`
}

// Writer 实现 contract.Exporter。
type Writer struct {
	encodings []string
	outDir    string
	titleCol  int
	volCol    int
	asinCol   int
	keyName   string
	width     int
	now       func() time.Time
}

// New 创建导出器。
func New(opts *Options) (*Writer, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	for _, e := range o.Encodings {
		if _, err := textenc.Lookup(e); err != nil {
			return nil, err
		}
	}
	pick := func(p *int, def int) (int, error) {
		if p == nil {
			return def, nil
		}
		if *p < 0 {
			return 0, fmt.Errorf("%w: negative export column %d", contract.ErrConfig, *p)
		}
		return *p, nil
	}
	w := &Writer{encodings: o.Encodings, outDir: o.OutputDir, keyName: strings.TrimSpace(o.KeyColumn), now: time.Now}
	if w.keyName == "" {
		w.keyName = DefaultKeyColumn
	}
	var err error
	if w.titleCol, err = pick(o.TitleColumn, DefaultTitleColumn); err != nil {
		return nil, err
	}
	if w.volCol, err = pick(o.VolumeColumn, DefaultVolumeColumn); err != nil {
		return nil, err
	}
	if w.asinCol, err = pick(o.ASINColumn, DefaultASINColumn); err != nil {
		return nil, err
	}
	if w.titleCol == w.volCol || w.titleCol == w.asinCol || w.volCol == w.asinCol {
		return nil, fmt.Errorf("%w: export columns must differ", contract.ErrConfig)
	}
	w.width = max(w.titleCol, w.volCol, w.asinCol) + 1
	return w, nil
}

var _ contract.Exporter = (*Writer)(nil)

// OutputName 返回带时间戳的默认输出文件名。
func OutputName(t time.Time) string {
	return "結果CSV_" + t.Format("20060102_150405") + ".csv"
}

// Export 读模板 → 按 ASIN 匹配模板行并覆盖管理列 → 整体编码到内存 → 原子写出。
// 输出数据行数恰为 len(Records)，顺序同 Records；无匹配行的记录以空行为底。
func (w *Writer) Export(ctx context.Context, req contract.ExportRequest) (contract.ExportResult, error) {
	if err := ctx.Err(); err != nil {
		return contract.ExportResult{}, err
	}
	if strings.TrimSpace(req.TemplatePath) == "" {
		return contract.ExportResult{}, fmt.Errorf("%w: export template path empty", contract.ErrConfig)
	}
	raw, err := os.ReadFile(req.TemplatePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return contract.ExportResult{}, fmt.Errorf("%w: export template %s: %w", contract.ErrConfig, req.TemplatePath, err)
		}
		return contract.ExportResult{}, fmt.Errorf("export template %s: %w", req.TemplatePath, err)
	}
	text, enc, err := textenc.Decode(raw, w.encodings)
	if err != nil {
		return contract.ExportResult{}, fmt.Errorf("export template %s: %w", req.TemplatePath, err)
	}
	header, names, rows, err := parseTemplate(text)
	if err != nil {
		return contract.ExportResult{}, fmt.Errorf("export template %s: %w", req.TemplatePath, err)
	}

	var body bytes.Buffer
	body.WriteString(header)
	body.WriteString("\r\n")
	cw := csv.NewWriter(&body)
	cw.UseCRLF = true
	idx := w.index(names, rows)
	for _, rec := range req.Records {
		base := make([]string, len(names))
		k := strings.TrimSpace(rec.ASIN)
		if q := idx[k]; k != "" && len(q) > 0 {
			base, idx[k] = q[0], q[1:]
		}
		if err := cw.Write(w.merge(base, rec)); err != nil {
			return contract.ExportResult{}, fmt.Errorf("export row %d: %w", rec.Row, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return contract.ExportResult{}, fmt.Errorf("export: %w", err)
	}
	out, err := textenc.Encode(body.String(), enc)
	if err != nil {
		return contract.ExportResult{}, fmt.Errorf("export %s: %w: %w", enc.Name, contract.ErrInvalidInput, err)
	}

	dest := req.OutputPath
	if dest == "" {
		dir := w.outDir
		if dir == "" {
			dir = filepath.Dir(req.TemplatePath)
		}
		dest = filepath.Join(dir, OutputName(w.now()))
	}
	if err := atomicfile.WriteFile(ctx, dest, out, 0o644); err != nil {
		return contract.ExportResult{}, fmt.Errorf("export write %s: %w", dest, err)
	}
	return contract.ExportResult{Path: dest, Encoding: enc.Name, Rows: len(req.Records)}, nil
}

// index 按键列值分组模板行（保持原顺序）；同键多行依次分配给同 ASIN 的记录。
func (w *Writer) index(names []string, rows [][]string) map[string][][]string {
	col := w.asinCol
	for i, n := range names {
		if strings.TrimSpace(n) == w.keyName {
			col = i
			break
		}
	}
	idx := make(map[string][][]string)
	for _, r := range rows {
		if col >= len(r) {
			continue
		}
		k := strings.TrimSpace(r[col])
		if k == "" {
			continue
		}
		idx[k] = append(idx[k], r)
	}
	return idx
}

// merge 以模板行为底：补齐宽度后写入标题、卷号、ASIN；缺失值写空串。
func (w *Writer) merge(base []string, rec contract.TitleRecord) []string {
	n := max(len(base), w.width)
	row := make([]string, n)
	copy(row, base)
	row[w.titleCol] = rec.Title
	row[w.volCol] = ""
	if rec.Volume != nil {
		row[w.volCol] = strconv.Itoa(*rec.Volume)
	}
	row[w.asinCol] = rec.ASIN
	return row
}

// parseTemplate 返回原样表头行文本（不含换行）、表头列名与其余数据行。
func parseTemplate(text string) (string, []string, [][]string, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	names, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return "", nil, nil, fmt.Errorf("%w: template has no header row", contract.ErrConfig)
		}
		return "", nil, nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
	}
	if len(names) > 0 {
		names[0] = strings.TrimPrefix(names[0], "\uFEFF")
	}
	header := strings.TrimRight(text[:cr.InputOffset()], "\r\n")
	var rows [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
		}
		rows = append(rows, rec)
	}
	return header, names, rows, nil
}
