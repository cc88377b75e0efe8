package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firstsmile-dev/Excel-AI-project/internal/classify"
	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 暂存时在数据行之后额外清空的行数。
const clearSlack = 50

// 抽取扫描上限（Excel 最大行数）。
const maxSheetRows = 1 << 20

// runWorkbook: 打开工作簿 → （可选）暂存输入行 → （可选）运行宏 → 抽取并分类 → 写入中间输出 JSON。
func runWorkbook(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (n int, path string, err error) {
	if comp.Workbook == nil {
		return 0, "", fmt.Errorf("%w: workbook backend not configured", contract.ErrConfig)
	}
	var rows []contract.RegistryRow
	if set.Stage {
		if rows, err = comp.Store.LoadRows(); err != nil {
			return 0, comp.Store.Path(comp.Store.Input), err
		}
	}
	wb, err := comp.Workbook(ctx)
	if err != nil {
		return 0, "", err
	}
	defer func() { err = closeWorkbook(wb, err) }()

	sheet, err := PickSheet(ctx, wb, set.Sheets)
	if err != nil {
		return 0, wb.Name(), err
	}
	if set.Stage {
		staged, err := Stage(ctx, wb, sheet, rows, set)
		if err != nil {
			return 0, wb.Name(), err
		}
		logger.Info("workbook", "staged", map[string]string{"sheet": sheet, "rows": strconv.Itoa(staged)})
	}
	if strings.TrimSpace(set.Macro) != "" {
		if err := RunMacro(ctx, wb, comp.Nudger, set, logger); err != nil {
			return 0, wb.Name(), err
		}
	}
	recs, err := Extract(ctx, wb, sheet, set)
	if err != nil {
		return 0, wb.Name(), err
	}
	dirty := 0
	for _, r := range recs {
		if r.Dirty {
			dirty++
		}
	}
	logger.Info("workbook", "extracted", map[string]string{
		"sheet": sheet, "dirty": strconv.Itoa(dirty), "kept": strconv.Itoa(len(recs)),
	})
	p, err := comp.Store.SaveOutput(ctx, recs)
	if err != nil {
		return 0, p, err
	}
	return len(recs), p, nil
}

// PickSheet 返回候选名中第一个存在的工作表。
func PickSheet(ctx context.Context, wb contract.Workbook, candidates []string) (string, error) {
	sheets, err := wb.Sheets(ctx)
	if err != nil {
		return "", err
	}
	for _, c := range candidates {
		if slices.Contains(sheets, c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %s: no sheet named %s", contract.ErrConfig, wb.Name(), strings.Join(candidates, " or "))
}

func cell(col string, row int) string { return col + strconv.Itoa(row) }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// expandFormula 替换 {row}/{next} 占位符。
func expandFormula(tpl string, row int) string {
	r := strings.NewReplacer("{row}", strconv.Itoa(row), "{next}", strconv.Itoa(row+1))
	return r.Replace(tpl)
}

// Stage 清空暂存区后写入输入行：映射列、序号列、公式列。返回写入行数（受 MaxRecords 限制）。
func Stage(ctx context.Context, wb contract.Workbook, sheet string, rows []contract.RegistryRow, set Settings) (int, error) {
	if set.MaxRecords > 0 && len(rows) > set.MaxRecords {
		rows = rows[:set.MaxRecords]
	}
	keys := sortedKeys(set.InputMapping)
	fcols := sortedKeys(set.Formulas)
	cols := make([]string, 0, len(keys)+len(fcols)+1)
	for _, k := range keys {
		cols = append(cols, set.InputMapping[k])
	}
	if set.SeqColumn != "" {
		cols = append(cols, set.SeqColumn)
	}
	cols = append(cols, fcols...)

	for r := set.StartRow; r < set.StartRow+len(rows)+clearSlack; r++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for _, c := range cols {
			if err := wb.WriteValue(ctx, sheet, cell(c, r), ""); err != nil {
				return 0, fmt.Errorf("clear %s: %w", cell(c, r), err)
			}
		}
	}
	for i, row := range rows {
		r := set.StartRow + i
		for _, k := range keys {
			v, ok := row.Get(k)
			if !ok {
				continue
			}
			if err := wb.WriteValue(ctx, sheet, cell(set.InputMapping[k], r), v); err != nil {
				return i, fmt.Errorf("row %d: write %s: %w", r, k, err)
			}
		}
		if set.SeqColumn != "" {
			if err := wb.WriteValue(ctx, sheet, cell(set.SeqColumn, r), i+1); err != nil {
				return i, fmt.Errorf("row %d: write sequence: %w", r, err)
			}
		}
		for _, c := range fcols {
			if err := wb.WriteValue(ctx, sheet, cell(c, r), expandFormula(set.Formulas[c], r)); err != nil {
				return i, fmt.Errorf("row %d: write formula %s: %w", r, c, err)
			}
		}
	}
	return len(rows), nil
}

// MacroCandidates 生成宏名候选（去重、保序）：
// 名称互相包含（不区分大小写）的已发现过程按发现的逆序在前，各给出 'wb'!Module.Name 与 Module.Name；
// 之后依次为 X、wb!X、'wb'!X、'base'!X（base 为去掉扩展名的文件名）。
func MacroCandidates(macro, wbName string, found []contract.Macro) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	lm := strings.ToLower(macro)
	for i := len(found) - 1; i >= 0; i-- {
		m := found[i]
		ln := strings.ToLower(m.Name)
		if ln == "" || !(strings.Contains(ln, lm) || strings.Contains(lm, ln)) {
			continue
		}
		add("'" + wbName + "'!" + m.Qualified())
		add(m.Qualified())
	}
	base := strings.TrimSuffix(wbName, extOf(wbName))
	add(macro)
	add(wbName + "!" + macro)
	add("'" + wbName + "'!" + macro)
	add("'" + base + "'!" + macro)
	return out
}

func extOf(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

// RunMacro 在对话框处理器运行期间依次尝试候选名，直到一个成功。
// 后端不支持宏（xlsx）时记录警告并跳过。
func RunMacro(ctx context.Context, wb contract.Workbook, nudger contract.Nudger, set Settings, logger *diag.Logger) error {
	found, err := wb.ListMacros(ctx)
	if err != nil {
		logger.Warn("macro", "list failed", map[string]string{"err": err.Error()})
	}
	for _, m := range found {
		logger.Debug("macro", "found", map[string]string{"name": m.Qualified(), "kind": m.Kind})
	}
	cands := MacroCandidates(set.Macro, wb.Name(), found)

	nctx, ncancel := context.WithCancel(ctx)
	defer ncancel()
	done := make(chan contract.NudgeResult, 1)
	if nudger != nil {
		go func() { done <- nudger.Nudge(nctx, set.NudgeTimeout) }()
	} else {
		done <- contract.NudgeResult{}
	}

	ran := ""
	var errs []error
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := wb.RunMacro(ctx, c)
		if err == nil {
			ran = c
			break
		}
		if errors.Is(err, contract.ErrUnsupported) {
			ncancel()
			<-done
			logger.Warn("macro", "backend cannot run macros; skipped", map[string]string{"macro": set.Macro})
			return nil
		}
		logger.Debug("macro", "candidate failed", map[string]string{"name": c, "err": err.Error()})
		errs = append(errs, fmt.Errorf("%s: %w", c, err))
	}
	if ran == "" {
		ncancel()
		<-done
		return fmt.Errorf("macro %q: no candidate succeeded: %w", set.Macro, errors.Join(errs...))
	}

	var res contract.NudgeResult
	select {
	case res = <-done:
	case <-time.After(set.MacroWait):
		ncancel()
		res = <-done
	}
	logger.Info("macro", "ran", map[string]string{
		"name":    ran,
		"dialog":  strconv.FormatBool(res.Found),
		"clicked": strconv.FormatBool(res.Clicked),
		"key":     strconv.FormatBool(res.KeySent),
	})
	return nil
}

// Extract 从 StartRow 起逐行读取映射列，遇到全空行停止；每行分类，保留脏行（KeepClean 时保留全部）。
func Extract(ctx context.Context, wb contract.Workbook, sheet string, set Settings) ([]contract.TitleRecord, error) {
	c := set.Columns
	read := func(col string, row int) (string, bool, error) {
		if col == "" {
			return "", false, nil
		}
		v, err := wb.ReadValue(ctx, sheet, cell(col, row))
		if err != nil {
			return "", false, fmt.Errorf("row %d: read %s: %w", row, cell(col, row), err)
		}
		return v, true, nil
	}
	out := []contract.TitleRecord{}
	for row := set.StartRow; row <= maxSheetRows; row++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		title, _, err := read(c.Title, row)
		if err != nil {
			return nil, err
		}
		vol, _, err := read(c.Volume, row)
		if err != nil {
			return nil, err
		}
		asin, _, err := read(c.ASIN, row)
		if err != nil {
			return nil, err
		}
		src, _, err := read(c.SourceTitle, row)
		if err != nil {
			return nil, err
		}
		bt, hasBT, err := read(c.BaselineTitle, row)
		if err != nil {
			return nil, err
		}
		bv, hasBV, err := read(c.BaselineVolume, row)
		if err != nil {
			return nil, err
		}
		if classify.IsEndOfData(title, vol, asin, src, bt, bv) {
			break
		}
		color, err := wb.ReadColor(ctx, sheet, cell(c.Title, row))
		if err != nil {
			return nil, fmt.Errorf("row %d: read color %s: %w", row, cell(c.Title, row), err)
		}
		v := classify.Classify(classify.Input{
			TitleColor:        color,
			TitleValue:        title,
			VolumeValue:       vol,
			HasBaselineTitle:  hasBT,
			BaselineTitle:     bt,
			HasBaselineVolume: hasBV,
			BaselineVolume:    bv,
		}, set.Rules)
		if !v.Dirty && !set.KeepClean {
			continue
		}
		out = append(out, contract.TitleRecord{
			Row:            row,
			Title:          strings.TrimSpace(title),
			Volume:         contract.IntPtr(v.Volume),
			ASIN:           strings.TrimSpace(asin),
			SourceTitle:    src,
			BaselineTitle:  bt,
			BaselineVolume: bv,
			Color:          color == set.Rules.SentinelColor,
			Dirty:          v.Dirty,
			Reasons:        classify.ReasonStrings(v.Reasons),
		})
	}
	return out, nil
}
