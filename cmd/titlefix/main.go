package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "github.com/firstsmile-dev/Excel-AI-project/internal/config"
	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/pipeline"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// 通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

// 测试替换点。
var (
	pipelineRun  = pipeline.Run
	pipelineStep = pipeline.RunStep
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func configFail(err error) error  { return &exitError{code: exitConfig, err: err} }
func runtimeFail(err error) error { return &exitError{code: exitRuntime, err: err} }

type cliFlags struct {
	config      string
	llm         string
	logLevel    string
	concurrency int
	maxRetries  int
	status      bool
}

// overlay 把显式给出的旗标转成配置覆盖层。
func (f *cliFlags) overlay() cfgpkg.Config {
	over := cfgpkg.Unset()
	over.LLM = strings.TrimSpace(f.llm)
	if f.concurrency > 0 {
		over.Concurrency = f.concurrency
	}
	if f.maxRetries >= 0 {
		over.MaxRetries = f.maxRetries
	}
	over.Logging.Level = strings.ToLower(strings.TrimSpace(f.logLevel))
	return over
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute 运行命令树并映射退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if !errors.Is(err, context.Canceled) {
		_, _ = fmt.Fprintf(stderr, "错误: %v\n", err)
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra 的参数/旗标错误
	return exitConfig
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	f := &cliFlags{}
	root := &cobra.Command{
		Use:           "titlefix",
		Short:         "登记表 → 工作簿宏 → LLM 标题整形 → CSV 导出",
		Long:          "读取工程登记表，经工作簿宏抽取并分类标题，用 LLM 整形脏行后合并导出为 CSV。\n不带子命令时等同于 run。",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAll(cmd.Context(), f, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "配置文件路径（JSON）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&f.llm, "llm", "", "provider 名称（覆盖配置）")
	pf.IntVar(&f.concurrency, "concurrency", 0, "模型调用并发度（覆盖配置）")
	// 允许显式 0；-1 表示未覆盖。
	pf.IntVar(&f.maxRetries, "max-retries", -1, "模型调用最大重试次数（覆盖配置；0 表示不重试）")
	pf.StringVar(&f.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&f.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "依次执行全部步骤",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runAll(cmd.Context(), f, stderr)
			},
		},
		stepCmd(f, stderr, pipeline.StepRegistry, "读取并过滤登记表，写出宏输入 JSON"),
		stepCmd(f, stderr, pipeline.StepWorkbook, "写入工作簿、执行宏并抽取脏行"),
		stepCmd(f, stderr, pipeline.StepNormalize, "调用 LLM 整形脏行标题与巻数"),
		stepCmd(f, stderr, pipeline.StepExport, "合并整形结果并导出 CSV"),
		macrosCmd(f, stdout),
		initConfigCmd(stdout),
		&cobra.Command{
			Use:   "version",
			Short: "打印版本",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, _ []string) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "titlefix", version)
			},
		},
	)
	return root
}

func stepCmd(f *cliFlags, stderr io.Writer, step pipeline.Step, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(step),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOne(cmd.Context(), f, stderr, step)
		},
	}
}

func macrosCmd(f *cliFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "macros",
		Short: "列出工作簿中的 VBA 过程（用于确认宏名）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(f)
			if err != nil {
				return err
			}
			if err := cfgpkg.Validate(cfg, pipeline.StepWorkbook); err != nil {
				return configFail(err)
			}
			open, err := cfgpkg.WorkbookOpener(cfg)
			if err != nil {
				return configFail(err)
			}
			wb, err := open(cmd.Context())
			if errors.Is(err, contract.ErrConfig) {
				return configFail(err)
			}
			if err != nil {
				return runtimeFail(err)
			}
			defer wb.Close()
			ms, err := wb.ListMacros(cmd.Context())
			if err != nil {
				return runtimeFail(err)
			}
			for _, m := range ms {
				_, _ = fmt.Fprintf(stdout, "%s\t%s\n", m.Qualified(), m.Kind)
			}
			return nil
		},
	}
}

func initConfigCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在指定目录生成 config.json 与 .env 模板（已存在则跳过，不覆盖）；缺省当前目录",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			written, err := cfgpkg.WriteTemplate(dir)
			if err != nil {
				return configFail(fmt.Errorf("生成默认配置失败: %w", err))
			}
			if len(written) == 0 {
				_, _ = fmt.Fprintln(stdout, "模板已存在，未写入任何文件")
			}
			for _, p := range written {
				_, _ = fmt.Fprintln(stdout, "已生成", p)
			}
			return nil
		},
	}
}

// loadConfig: .env → JSON < ENV < CLI。
func loadConfig(f *cliFlags) (cfgpkg.Config, error) {
	if err := cfgpkg.LoadDotEnv(".env"); err != nil {
		return cfgpkg.Config{}, configFail(fmt.Errorf(".env: %w", err))
	}
	cfg, err := cfgpkg.Load(f.config, os.Environ(), f.overlay())
	if err != nil {
		return cfgpkg.Config{}, configFail(err)
	}
	return cfg, nil
}

type session struct {
	comp   pipeline.Components
	set    pipeline.Settings
	logger *diag.Logger
	term   *diag.Terminal
	start  time.Time
}

func (s *session) close() {
	diag.SetTerminal(nil)
	_ = s.logger.Close()
}

// prepare 加载配置、校验、预检并装配步骤所需的组件。
func prepare(f *cliFlags, stderr io.Writer, step pipeline.Step) (*session, error) {
	start := time.Now()
	cfg, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	if err := cfgpkg.Validate(cfg, step); err != nil {
		dumpConfig(stderr, cfg)
		return nil, configFail(fmt.Errorf("配置校验失败: %w", err))
	}
	if step == pipeline.StepExport || step == pipeline.StepAll {
		if err := preflightCheckOutputDir(exportDir(cfg)); err != nil {
			return nil, configFail(fmt.Errorf("输出目录不可写或无法创建: %w", err))
		}
	}
	logger := diag.NewLogger(genCorrID(), cfg.Logging.Level, cfg.Logging.Dir)
	comp, set, err := cfgpkg.Assemble(cfg, step, logger)
	if err != nil {
		logger.Error("cli", diag.Classify(err), "assemble failed", &start)
		_ = logger.Close()
		return nil, configFail(fmt.Errorf("装配失败: %w", err))
	}
	logEffective(logger, cfg)
	term := diag.NewTerminal(stderr, f.status)
	diag.SetTerminal(term)
	return &session{comp: comp, set: set, logger: logger, term: term, start: start}, nil
}

func runAll(ctx context.Context, f *cliFlags, stderr io.Writer) error {
	s, err := prepare(f, stderr, pipeline.StepAll)
	if err != nil {
		return err
	}
	defer s.close()
	rep, err := pipelineRun(ctx, s.comp, s.set, s.logger)
	if err != nil {
		return s.fail(err)
	}
	diag.IncOp("cli", "finish", "success")
	diag.ObserveDuration("cli", "finish", time.Since(s.start).Milliseconds())
	s.logger.Info("cli", "finished", map[string]string{
		"output":    rep.Output,
		"extracted": fmt.Sprint(rep.Count(pipeline.StepWorkbook)),
		"exported":  fmt.Sprint(rep.Count(pipeline.StepExport)),
	})
	return nil
}

func runOne(ctx context.Context, f *cliFlags, stderr io.Writer, step pipeline.Step) error {
	s, err := prepare(f, stderr, step)
	if err != nil {
		return err
	}
	defer s.close()
	s.term.RunStart(s.set.LLM, s.set.Concurrency)
	sr, err := pipelineStep(ctx, step, s.comp, s.set, s.logger)
	s.term.RunFinish(err == nil, time.Since(s.start), sr.Path)
	if err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *session) fail(err error) error {
	s.logger.Error("cli", diag.Classify(err), "first error", &s.start)
	diag.IncOp("cli", "error", "error")
	return runtimeFail(err)
}

func genCorrID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// logEffective 以 debug 级别记录生效配置（不含密钥）。
func logEffective(logger *diag.Logger, cfg cfgpkg.Config) {
	kv := map[string]string{
		"registry":    cfg.Registry.Path,
		"workbook":    cfg.Workbook.Path,
		"backend":     cfg.Workbook.Backend,
		"macro":       cfg.Workbook.Macro,
		"llm":         cfg.LLM,
		"concurrency": fmt.Sprint(cfg.Concurrency),
		"max_retries": fmt.Sprint(cfg.MaxRetries),
		"interim_dir": cfg.InterimDir,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var small struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &small)
		if small.BaseURL != "" {
			kv["base_url"] = small.BaseURL
		}
		if small.Model != "" {
			kv["model"] = small.Model
		}
	}
	logger.Debug("config", "effective", kv)
}

// dumpConfig 打印有效配置（provider options 含密钥，不输出）。
func dumpConfig(w io.Writer, c cfgpkg.Config) {
	redacted := make(map[string]cfgpkg.Provider, len(c.Provider))
	for k, p := range c.Provider {
		p.Options = nil
		redacted[k] = p
	}
	c.Provider = redacted
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "有效配置:\n%s\n", b)
}

// exportDir 推导导出文件所在目录：显式输出路径 > output_dir 选项 > 模板目录。
func exportDir(cfg cfgpkg.Config) string {
	if p := strings.TrimSpace(cfg.Export.Output); p != "" {
		return filepath.Dir(p)
	}
	var opts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Export.Options) > 0 {
		_ = json.Unmarshal(cfg.Export.Options, &opts)
	}
	if d := strings.TrimSpace(opts.OutputDir); d != "" {
		return d
	}
	if t := strings.TrimSpace(cfg.Export.Template); t != "" {
		return filepath.Dir(t)
	}
	return ""
}

// preflightCheckOutputDir 检查导出目录可写：
// 目录存在时尝试创建并删除临时文件；不存在时检查父目录可写。
func preflightCheckOutputDir(dir string) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("not a directory: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("cannot resolve parent of %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("parent is not a directory: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
