package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firstsmile-dev/Excel-AI-project/internal/classify"
	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/interim"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// - 步骤串行：Registry → Workbook → Normalize → Export，步骤之间只经中间 JSON 交换数据。
// - 每个步骤可单独运行（读取上一步的中间文件）。
// - 并发只存在于 Normalizer 内部（模型调用扇出）与宏运行期间的对话框处理。
// - 任一步骤失败即停止，错误带步骤名与路径/行号上下文。

// Step 标识流水线步骤。
type Step string

const (
	StepRegistry  Step = "registry"
	StepWorkbook  Step = "workbook"
	StepNormalize Step = "normalize"
	StepExport    Step = "export"
	// StepAll 依次执行全部步骤。
	StepAll Step = "run"
)

// Steps: 完整运行时的步骤顺序。
var Steps = []Step{StepRegistry, StepWorkbook, StepNormalize, StepExport}

// Normalizer: 脏行整形（internal/normalize.Normalizer 满足此接口）。
type Normalizer interface {
	Apply(ctx context.Context, recs []contract.TitleRecord) ([]contract.TitleRecord, error)
}

// OpenWorkbook 延迟打开工作簿，由步骤负责关闭。
type OpenWorkbook func(ctx context.Context) (contract.Workbook, error)

// Components 聚合运行所需的组件；单步运行时只需填充该步用到的字段。
type Components struct {
	Registry   contract.RegistryReader
	Workbook   OpenWorkbook
	Nudger     contract.Nudger
	Normalizer Normalizer
	Exporter   contract.Exporter
	Store      interim.Store
}

// Columns: 抽取时读取的列字母；Baseline* 为空表示不使用。
type Columns struct {
	Title          string
	Volume         string
	ASIN           string
	SourceTitle    string
	BaselineTitle  string
	BaselineVolume string
}

// Settings 运行期配置。
type Settings struct {
	RegistryPath    string
	BindingColumn   string
	AllowedBindings []string
	Preview         int

	Sheets       []string
	StartRow     int
	Stage        bool
	MaxRecords   int
	InputMapping map[string]string
	SeqColumn    string
	Formulas     map[string]string
	Macro        string
	// MacroWait: 宏返回后等待对话框处理器收尾的上限。
	MacroWait    time.Duration
	NudgeTimeout time.Duration
	Columns      Columns
	KeepClean    bool
	Rules        classify.Rules

	ExportTemplate string
	ExportOutput   string

	// 仅用于终端提示。
	LLM         string
	Concurrency int
}

// StepReport: 单步结果。
type StepReport struct {
	Step     Step
	Count    int
	Path     string
	Duration time.Duration
	OK       bool
}

// Report: 一次运行的汇总。
type Report struct {
	Steps    []StepReport
	Output   string
	Duration time.Duration
	OK       bool
	Metrics  []diag.Metric
}

// Count 返回某步骤的条数（未执行为 0）。
func (r Report) Count(s Step) int {
	for _, sr := range r.Steps {
		if sr.Step == s {
			return sr.Count
		}
	}
	return 0
}

// Run 依次执行全部步骤；首个失败的步骤终止运行。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (Report, error) {
	start := time.Now()
	term := diag.GetTerminal()
	term.RunStart(set.LLM, set.Concurrency)
	timer := logger.StartWithKV("pipeline", "run", map[string]string{"llm": set.LLM})

	var rep Report
	var runErr error
	for _, s := range Steps {
		sr, err := RunStep(ctx, s, comp, set, logger)
		rep.Steps = append(rep.Steps, sr)
		if s == StepExport {
			rep.Output = sr.Path
		}
		if err != nil {
			runErr = err
			break
		}
	}
	rep.Duration = time.Since(start)
	rep.OK = runErr == nil
	rep.Metrics = diag.Snapshot()
	if runErr != nil {
		timer.Fail(runErr, nil)
	} else {
		timer.Finish("run", int64(rep.Count(StepExport)))
	}
	term.RunFinish(rep.OK, rep.Duration, rep.Output)
	return rep, runErr
}

// RunStep 执行单个步骤。
func RunStep(ctx context.Context, s Step, comp Components, set Settings, logger *diag.Logger) (StepReport, error) {
	sr := StepReport{Step: s}
	if err := ctx.Err(); err != nil {
		return sr, fmt.Errorf("%s: %w", s, err)
	}
	term := diag.GetTerminal()
	term.StepStart(string(s), 0)
	timer := logger.Start(string(s), "step")
	t0 := time.Now()

	var err error
	switch s {
	case StepRegistry:
		sr.Count, sr.Path, err = runRegistry(ctx, comp, set, logger)
	case StepWorkbook:
		sr.Count, sr.Path, err = runWorkbook(ctx, comp, set, logger)
	case StepNormalize:
		sr.Count, sr.Path, err = runNormalize(ctx, comp)
	case StepExport:
		sr.Count, sr.Path, err = runExport(ctx, comp, set, logger)
	default:
		err = fmt.Errorf("%w: unknown step %q", contract.ErrConfig, s)
	}
	sr.Duration = time.Since(t0)
	sr.OK = err == nil
	term.StepFinish(sr.OK, sr.Count, sr.Duration)
	if err != nil {
		timer.Fail(err, map[string]string{"path": sr.Path})
		return sr, fmt.Errorf("%s: %w", s, err)
	}
	timer.Finish("step", int64(sr.Count))
	return sr, nil
}

func runNormalize(ctx context.Context, comp Components) (int, string, error) {
	if comp.Normalizer == nil {
		return 0, "", fmt.Errorf("%w: normalizer not configured", contract.ErrConfig)
	}
	recs, err := comp.Store.LoadOutput()
	if err != nil {
		return 0, comp.Store.Path(comp.Store.Output), err
	}
	out, err := comp.Normalizer.Apply(ctx, recs)
	if err != nil {
		return 0, comp.Store.Path(comp.Store.Output), err
	}
	if len(out) != len(recs) {
		return 0, "", fmt.Errorf("%w: normalizer returned %d records for %d", contract.ErrInvariantViolation, len(out), len(recs))
	}
	p, err := comp.Store.SaveNormalized(ctx, out)
	return len(out), p, err
}

func runExport(ctx context.Context, comp Components, set Settings, logger *diag.Logger) (int, string, error) {
	if comp.Exporter == nil {
		return 0, "", fmt.Errorf("%w: exporter not configured", contract.ErrConfig)
	}
	recs, err := comp.Store.LoadNormalized()
	if err != nil {
		return 0, comp.Store.Path(comp.Store.Normalized), err
	}
	res, err := comp.Exporter.Export(ctx, contract.ExportRequest{
		TemplatePath: set.ExportTemplate,
		OutputPath:   set.ExportOutput,
		Records:      recs,
	})
	if err != nil {
		return 0, set.ExportOutput, err
	}
	logger.Info("export", "written", map[string]string{"path": res.Path, "encoding": res.Encoding})
	return res.Rows, res.Path, nil
}

// closeWorkbook 关闭工作簿并与已有错误合并。
func closeWorkbook(wb contract.Workbook, err error) error {
	if cerr := wb.Close(); cerr != nil {
		return errors.Join(err, fmt.Errorf("workbook close: %w", cerr))
	}
	return err
}
