package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
	"github.com/firstsmile-dev/Excel-AI-project/plugins/reader/csvfile"
)

// runRegistry: 读取登记表 → 装订过滤 → 预览 → 写入中间输入 JSON。
func runRegistry(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (int, string, error) {
	if comp.Registry == nil {
		return 0, "", fmt.Errorf("%w: registry reader not configured", contract.ErrConfig)
	}
	tbl, err := comp.Registry.Read(ctx, set.RegistryPath)
	if err != nil {
		return 0, set.RegistryPath, err
	}
	rows, err := csvfile.Filter(tbl, set.BindingColumn, set.AllowedBindings)
	if err != nil {
		return 0, set.RegistryPath, err
	}
	logger.Info("registry", "loaded", map[string]string{
		"path":     tbl.Path,
		"encoding": tbl.Encoding,
		"rows":     strconv.Itoa(len(tbl.Rows)),
		"filtered": strconv.Itoa(len(rows)),
	})
	Preview(logger, rows, set.Preview)
	p, err := comp.Store.SaveRows(ctx, rows)
	if err != nil {
		return 0, p, err
	}
	return len(rows), p, nil
}

// Preview 将前 n 行以 JSON 写入日志。
func Preview(logger *diag.Logger, rows []contract.RegistryRow, n int) {
	if n > len(rows) {
		n = len(rows)
	}
	for i := 0; i < n; i++ {
		b, err := json.Marshal(rows[i])
		if err != nil {
			continue
		}
		logger.Info("registry", "preview", map[string]string{"n": strconv.Itoa(i + 1), "row": string(b)})
	}
}
