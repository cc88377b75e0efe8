// Package xlsx 以 excelize 读写工作簿文件，供非 Windows 或离线场景使用。
// 不能执行宏；颜色取单元格样式的纯色填充。
package xlsx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// Options: 文件后端选项。
type Options struct {
	Path string `json:"path"`
	// Save: Close 时若有修改则保存，默认 true。
	Save *bool `json:"save,omitempty"`
	// SaveAs: 非空时另存为该路径而非覆盖原文件。
	SaveAs string `json:"save_as,omitempty"`
	// CalcFormulas: 读取公式单元格时尝试用 excelize 计算；失败回退缓存值。
	CalcFormulas bool `json:"calc_formulas,omitempty"`
	// Create: 文件不存在时新建空工作簿。
	Create bool `json:"create,omitempty"`
}

// Book 实现 contract.Workbook。
type Book struct {
	f        *excelize.File
	path     string
	saveAs   string
	save     bool
	calc     bool
	modified bool
}

// New 从原样 JSON 打开工作簿。
func New(raw json.RawMessage) (contract.Workbook, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("xlsx options: %w", err)
		}
	}
	return Open(o)
}

// Open 打开或（Create 时）新建工作簿。
func Open(o Options) (*Book, error) {
	if strings.TrimSpace(o.Path) == "" {
		return nil, fmt.Errorf("%w: workbook path empty", contract.ErrConfig)
	}
	b := &Book{path: o.Path, saveAs: o.SaveAs, save: o.Save == nil || *o.Save, calc: o.CalcFormulas}
	f, err := excelize.OpenFile(o.Path)
	switch {
	case err == nil:
		b.f = f
	case errors.Is(err, os.ErrNotExist) && o.Create:
		b.f = excelize.NewFile()
		b.modified = true
	case errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("%w: workbook %s: %w", contract.ErrConfig, o.Path, err)
	default:
		return nil, fmt.Errorf("open workbook %s: %w", o.Path, err)
	}
	return b, nil
}

var _ contract.Workbook = (*Book)(nil)

func (b *Book) Name() string { return filepath.Base(b.path) }

func (b *Book) Sheets(ctx context.Context) ([]string, error) {
	return b.f.GetSheetList(), ctx.Err()
}

func (b *Book) sheetExists(sheet string) error {
	if idx, err := b.f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return fmt.Errorf("%w: sheet %q not found in %s", contract.ErrConfig, sheet, b.Name())
	}
	return nil
}

func (b *Book) ReadValue(ctx context.Context, sheet, cell string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := b.sheetExists(sheet); err != nil {
		return "", err
	}
	if b.calc {
		if formula, err := b.f.GetCellFormula(sheet, cell); err == nil && formula != "" {
			if v, err := b.f.CalcCellValue(sheet, cell); err == nil {
				return v, nil
			}
		}
	}
	v, err := b.f.GetCellValue(sheet, cell)
	if err != nil {
		return "", fmt.Errorf("read %s!%s: %w", sheet, cell, err)
	}
	return v, nil
}

// ReadColor 返回纯色填充的 BGR 代码；无填充或主题色返回 -1。
func (b *Book) ReadColor(ctx context.Context, sheet, cell string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if err := b.sheetExists(sheet); err != nil {
		return -1, err
	}
	id, err := b.f.GetCellStyle(sheet, cell)
	if err != nil {
		return -1, fmt.Errorf("style %s!%s: %w", sheet, cell, err)
	}
	if id == 0 {
		return -1, nil
	}
	st, err := b.f.GetStyle(id)
	if err != nil || st == nil {
		return -1, nil
	}
	if st.Fill.Type != "pattern" || st.Fill.Pattern == 0 || len(st.Fill.Color) == 0 {
		return -1, nil
	}
	return HexToBGR(st.Fill.Color[0])
}

// HexToBGR 把 "RRGGBB"（可带 # 或 ARGB 前缀）转换为 Excel 颜色代码 R + G*256 + B*65536。
func HexToBGR(hex string) (int64, error) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 8 {
		h = h[2:]
	}
	if len(h) != 6 {
		return -1, fmt.Errorf("%w: color %q", contract.ErrInvalidInput, hex)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return -1, fmt.Errorf("%w: color %q", contract.ErrInvalidInput, hex)
	}
	r, g, bl := int64(v>>16&0xFF), int64(v>>8&0xFF), int64(v&0xFF)
	return r + g*256 + bl*65536, nil
}

// BGRToHex 为 HexToBGR 的逆运算。
func BGRToHex(code int64) string {
	r, g, bl := code&0xFF, code>>8&0xFF, code>>16&0xFF
	return fmt.Sprintf("%02X%02X%02X", r, g, bl)
}

// WriteValue: "=" 开头的字符串写为公式，其余按值写入。
func (b *Book) WriteValue(ctx context.Context, sheet, cell string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.sheetExists(sheet); err != nil {
		return err
	}
	var err error
	if s, ok := v.(string); ok && strings.HasPrefix(s, "=") {
		err = b.f.SetCellFormula(sheet, cell, strings.TrimPrefix(s, "="))
	} else {
		err = b.f.SetCellValue(sheet, cell, v)
	}
	if err != nil {
		return fmt.Errorf("write %s!%s: %w", sheet, cell, err)
	}
	b.modified = true
	return nil
}

// RunMacro 文件后端无法执行 VBA。
func (b *Book) RunMacro(ctx context.Context, name string) error {
	return fmt.Errorf("xlsx backend cannot run macro %q: %w", name, contract.ErrUnsupported)
}

// ListMacros 文件后端不解析 vbaProject.bin，返回空。
func (b *Book) ListMacros(ctx context.Context) ([]contract.Macro, error) {
	return nil, ctx.Err()
}

// AddSheet 新建工作表（已存在时忽略），用于准备空工作簿。
func (b *Book) AddSheet(name string) error {
	if idx, err := b.f.GetSheetIndex(name); err == nil && idx >= 0 {
		return nil
	}
	if _, err := b.f.NewSheet(name); err != nil {
		return fmt.Errorf("new sheet %q: %w", name, err)
	}
	b.modified = true
	return nil
}

// Close 有修改且允许保存时写回文件，然后释放资源。
func (b *Book) Close() error {
	if b.f == nil {
		return nil
	}
	var saveErr error
	if b.modified && b.save {
		if b.saveAs != "" {
			saveErr = b.f.SaveAs(b.saveAs)
		} else {
			saveErr = b.f.SaveAs(b.path)
		}
		if saveErr != nil {
			saveErr = fmt.Errorf("save workbook %s: %w", b.Name(), saveErr)
		}
	}
	closeErr := b.f.Close()
	b.f = nil
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}
