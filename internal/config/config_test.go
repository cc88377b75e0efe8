package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/pipeline"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 解析完整 config.json：缺省键保持默认，出现的键覆盖默认。
func TestLoadJSON(t *testing.T) {
	cfg, err := LoadJSON("../../testdata/config/basic.json", nil)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM)
	assert.Equal(t, []string{"cp932", "utf-8"}, cfg.Registry.Encodings)
	assert.Equal(t, "xlsx", cfg.Workbook.Backend)
	assert.Equal(t, 3, cfg.Workbook.StartRow)
	assert.False(t, cfg.Workbook.Stage, "显式 false 覆盖默认 true")
	assert.Equal(t, DefaultInputMapping(), cfg.Workbook.InputMapping, "缺省映射保持默认")
	assert.Equal(t, "K", cfg.Workbook.Columns.BaselineVolume)
	assert.Equal(t, "D", cfg.Workbook.Columns.SourceTitle, "结构体按键叠加")
	assert.EqualValues(t, 255, cfg.Classify.SentinelColor)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, 3, cfg.Preview)
	assert.Equal(t, "debug", cfg.Logging.Level)
	require.NoError(t, Validate(cfg, pipeline.StepAll))
}

func TestLoadJSONUnknownField(t *testing.T) {
	_, err := LoadJSON("", []byte(`{"unknown":1}`))
	require.ErrorIs(t, err, contract.ErrConfig)
	_, err = LoadJSON("", []byte(`{"workbook":{"colour":"I"}}`))
	require.ErrorIs(t, err, contract.ErrConfig)
}

func TestLoadJSONMissingFile(t *testing.T) {
	_, err := LoadJSON(filepath.Join(t.TempDir(), "none.json"), nil)
	require.ErrorIs(t, err, contract.ErrConfig)
	_, err = LoadJSON("", nil)
	require.ErrorIs(t, err, contract.ErrConfig)
}

func TestLoadJSONReplacesMappings(t *testing.T) {
	cfg, err := LoadJSON("", []byte(`{"workbook":{"input_mapping":{"ID":"A"},"formulas":{}}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"ID": "A"}, cfg.Workbook.InputMapping)
	assert.Empty(t, cfg.Workbook.Formulas, "显式空对象表示不写公式")
}

func TestEnvOverlay(t *testing.T) {
	env := []string{
		"TITLEFIX_REGISTRY_PATH=in/reg.csv",
		"TITLEFIX_ALLOWED_BINDINGS=コミック, 雑誌 ,",
		"TITLEFIX_CONCURRENCY=3",
		"TITLEFIX_MAX_RETRIES=0",
		"TITLEFIX_LLM=openai",
		"TITLEFIX_SENTINEL_COLOR=123",
		"TITLEFIX_LOG_LEVEL=WARN",
		"TITLEFIX_PROVIDER__openai__CLIENT=openai",
		"TITLEFIX_PROVIDER__openai__LIMITS_RPM=10",
		`TITLEFIX_PROVIDER__openai__OPTIONS_JSON={"api_key":"k"}`,
		"TITLEFIX_EXPORT_OUTPUT=",
		"OTHER_VAR=1",
	}
	over, err := EnvOverlay(env)
	require.NoError(t, err)
	assert.Equal(t, "in/reg.csv", over.Registry.Path)
	assert.Equal(t, []string{"コミック", "雑誌"}, over.Registry.AllowedBindings)
	assert.Equal(t, 3, over.Concurrency)
	assert.Equal(t, 0, over.MaxRetries)
	assert.Equal(t, "openai", over.LLM)
	assert.EqualValues(t, 123, over.Classify.SentinelColor)
	assert.Equal(t, "warn", over.Logging.Level)
	assert.Equal(t, "", over.Export.Output)
	p := over.Provider["openai"]
	assert.Equal(t, "openai", p.Client)
	assert.Equal(t, 10, p.Limits.RPM)
	assert.JSONEq(t, `{"api_key":"k"}`, string(p.Options))
}

func TestEnvOverlayRejectsBadValues(t *testing.T) {
	_, err := EnvOverlay([]string{"TITLEFIX_CONCURRENCY=many"})
	require.ErrorIs(t, err, contract.ErrConfig)
	_, err = EnvOverlay([]string{"TITLEFIX_PROVIDER__x__OPTIONS_JSON={bad"})
	require.ErrorIs(t, err, contract.ErrConfig)

	over, err := EnvOverlay(nil)
	require.NoError(t, err)
	assert.Equal(t, -1, over.MaxRetries, "未设置时保持 -1")
}

// 优先级：JSON < ENV < CLI。
func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"concurrency":2,"max_retries":4,"llm":"a","preview":7}`), 0o644))

	env := []string{"TITLEFIX_CONCURRENCY=5", "TITLEFIX_LLM=b"}
	cli := Unset()
	cli.LLM = "c"
	cli.MaxRetries = 0

	cfg, err := Load(path, env, cli)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Concurrency, "ENV 覆盖 JSON")
	assert.Equal(t, "c", cfg.LLM, "CLI 覆盖 ENV")
	assert.Equal(t, 0, cfg.MaxRetries, "CLI 显式 0 覆盖 JSON")
	assert.Equal(t, 7, cfg.Preview, "仅 JSON 设置的键保留")
	assert.Equal(t, DefaultMacro, cfg.Workbook.Macro)
}

func TestLoadConfigSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alt.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"preview":9}`), 0o644))

	cfg, err := Load("", []string{"TITLEFIX_CONFIG_FILE=" + path}, Unset())
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Preview)

	cfg, err = Load("", []string{`TITLEFIX_CONFIG_JSON={"preview":11}`, "TITLEFIX_CONFIG_FILE=" + path}, Unset())
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Preview, "CONFIG_JSON 优先于 CONFIG_FILE")

	t.Chdir(dir)
	cfg, err = Load("", nil, Unset())
	require.NoError(t, err)
	assert.Equal(t, Defaults().Preview, cfg.Preview, "无配置文件时使用默认值")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("TITLEFIX_TEST_A=from_file\nTITLEFIX_TEST_B=\"quoted value\"\n"), 0o644))
	t.Setenv("TITLEFIX_TEST_A", "from_env")
	t.Setenv("TITLEFIX_TEST_B", "")
	os.Unsetenv("TITLEFIX_TEST_B")

	require.NoError(t, LoadDotEnv(p, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from_env", os.Getenv("TITLEFIX_TEST_A"))
	assert.Equal(t, "quoted value", os.Getenv("TITLEFIX_TEST_B"))
}

func TestMergeKeepsBaseProviders(t *testing.T) {
	base := DefaultTemplateConfig()
	over := Unset()
	over.Provider = map[string]Provider{"openai": {Client: "openai", Options: json.RawMessage(`{"api_key":"x"}`)}}
	out := Merge(base, over)
	assert.Contains(t, out.Provider, "mock")
	assert.JSONEq(t, `{"api_key":"x"}`, string(out.Provider["openai"].Options))
	assert.NotContains(t, string(base.Provider["openai"].Options), `"x"`, "base 不被修改")
	assert.Equal(t, base.MaxRetries, out.MaxRetries, "-1 不覆盖")
}

func TestValidatePerStep(t *testing.T) {
	cfg := DefaultTemplateConfig()
	require.NoError(t, Validate(cfg, pipeline.StepAll))

	// registry 步骤不关心 LLM
	noLLM := cfg
	noLLM.LLM = ""
	require.NoError(t, Validate(noLLM, pipeline.StepRegistry))
	require.ErrorIs(t, Validate(noLLM, pipeline.StepNormalize), contract.ErrConfig)

	bad := cfg
	bad.Workbook.Columns.Title = "i9"
	err := Validate(bad, pipeline.StepWorkbook)
	require.ErrorIs(t, err, contract.ErrConfig)
	assert.Contains(t, err.Error(), "column")
	require.NoError(t, Validate(bad, pipeline.StepExport))

	bad = cfg
	bad.Workbook.Backend = "numbers"
	require.ErrorIs(t, Validate(bad, pipeline.StepWorkbook), contract.ErrConfig)

	bad = cfg
	bad.Workbook.InputMapping = map[string]string{"ID": "1"}
	require.ErrorIs(t, Validate(bad, pipeline.StepWorkbook), contract.ErrConfig)

	bad = cfg
	bad.Concurrency = 0
	require.ErrorIs(t, Validate(bad, pipeline.StepRegistry), contract.ErrConfig)

	bad = cfg
	bad.LLM = "nope"
	require.ErrorIs(t, Validate(bad, pipeline.StepAll), contract.ErrConfig)

	bad = cfg
	bad.Provider = map[string]Provider{"mock": {Client: "unknown"}}
	require.ErrorIs(t, Validate(bad, pipeline.StepNormalize), contract.ErrConfig)

	bad = cfg
	bad.Export.Template = ""
	require.ErrorIs(t, Validate(bad, pipeline.StepExport), contract.ErrConfig)

	require.ErrorIs(t, Validate(cfg, pipeline.Step("x")), contract.ErrConfig)
}

func TestAssembleByStep(t *testing.T) {
	cfg := DefaultTemplateConfig()
	comp, set, err := Assemble(cfg, pipeline.StepRegistry, diag.Nop())
	require.NoError(t, err)
	assert.NotNil(t, comp.Registry)
	assert.Nil(t, comp.Normalizer)
	assert.Nil(t, comp.Exporter)
	assert.Equal(t, DefaultRegistryPath, set.RegistryPath)
	assert.EqualValues(t, 9895780, set.Rules.SentinelColor)

	comp, _, err = Assemble(cfg, pipeline.StepNormalize, diag.Nop())
	require.NoError(t, err)
	assert.NotNil(t, comp.Normalizer)
	assert.Nil(t, comp.Registry)

	comp, set, err = Assemble(cfg, pipeline.StepExport, nil)
	require.NoError(t, err)
	assert.NotNil(t, comp.Exporter)
	assert.Equal(t, DefaultRegistryPath, set.ExportTemplate)
}

func TestAssembleMissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := DefaultTemplateConfig()
	cfg.LLM = "openai"
	_, _, err := Assemble(cfg, pipeline.StepNormalize, diag.Nop())
	require.ErrorIs(t, err, contract.ErrConfig)

	// 不需要模型的步骤不受影响
	_, _, err = Assemble(cfg, pipeline.StepExport, diag.Nop())
	require.NoError(t, err)
}

func TestWorkbookOpenerInjectsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	cfg := DefaultTemplateConfig()
	cfg.Workbook.Backend = "xlsx"
	cfg.Workbook.Path = path
	cfg.Workbook.Options = json.RawMessage(`{"path":"ignored.xlsx","save":false}`)
	open, err := WorkbookOpener(cfg)
	require.NoError(t, err)
	wb, err := open(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "book.xlsx", wb.Name())
	require.NoError(t, wb.Close())
}

func TestSettingsMapping(t *testing.T) {
	cfg := DefaultTemplateConfig()
	cfg.Workbook.MacroWaitSeconds = 2
	cfg.Nudge.TimeoutSeconds = 7
	set := Settings(cfg)
	assert.Equal(t, "I", set.Columns.Title)
	assert.Equal(t, "E", set.SeqColumn)
	assert.Equal(t, "=getvol(D{next})", set.Formulas["G"])
	assert.Equal(t, "2s", set.MacroWait.String())
	assert.Equal(t, "7s", set.NudgeTimeout.String())
	assert.Equal(t, []string{"タイトル", "Title"}, set.Sheets)

	set.InputMapping["ID"] = "Z"
	assert.Equal(t, "A", cfg.Workbook.InputMapping["ID"], "设置与配置互不共享映射")
}

func TestWriteTemplate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "init")
	written, err := WriteTemplate(dir)
	require.NoError(t, err)
	require.Len(t, written, 2)

	cfg, err := LoadJSON(filepath.Join(dir, "config.json"), nil)
	require.NoError(t, err, "生成的模板必须能被严格解析")
	assert.Equal(t, "mock", cfg.LLM)
	require.NoError(t, Validate(cfg, pipeline.StepAll))

	env, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "TITLEFIX_REGISTRY_PATH=")
	assert.Contains(t, string(env), "TITLEFIX_PROVIDER__openai__OPTIONS_JSON=")
	assert.True(t, strings.HasPrefix(string(env), "#"))

	written, err = WriteTemplate(dir)
	require.NoError(t, err)
	assert.Empty(t, written, "已存在的文件不覆盖")
}

func TestSplitCommaAtoi(t *testing.T) {
	parts := splitComma("a, b , ,c")
	assert.Equal(t, []string{"a", "b", "c"}, parts)
	v, err := atoi(" 10 ")
	require.NoError(t, err)
	assert.Equal(t, 10, v)
	_, err = atoi("x")
	require.Error(t, err)
}

func TestCloneRawIsCopy(t *testing.T) {
	src := []byte("abc")
	dst := cloneRaw(src)
	src[0] = 'x'
	assert.Equal(t, "abc", string(dst))
	assert.Nil(t, cloneRaw(nil))
}
