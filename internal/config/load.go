package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// EnvPrefix: 环境变量前缀。
const EnvPrefix = "TITLEFIX_"

// 默认路径（相对当前目录）。
const (
	DefaultRegistryPath = "public/工程.csv"
	DefaultWorkbookPath = "public/runMacro.xlsm"
	DefaultMacro        = "Trimming"
)

// DefaultSheets: 工作表名候选。
var DefaultSheets = []string{"タイトル", "Title"}

// DefaultInputMapping: 登记表列名 → 暂存列。
func DefaultInputMapping() map[string]string {
	return map[string]string{
		"ID":           "A",
		"先祖ID":         "B",
		"管理タイトル":       "C",
		"Amazonタイトル":   "D",
		"先祖-ASIN":      "F",
	}
}

// DefaultFormulas: 暂存时写入的公式列。
func DefaultFormulas() map[string]string {
	return map[string]string{
		"G": "=getvol(D{next})",
		"H": "=GetPureTitle(D{row})",
	}
}

// DefaultBackend: Windows 使用 COM，其余平台使用 xlsx 文件后端。
func DefaultBackend() string {
	if runtime.GOOS == "windows" {
		return "com"
	}
	return "xlsx"
}

// Defaults 返回带有安全默认值的 Config 雏形。
// 注意：LLM 不设默认（必须由 JSON/ENV/CLI 提供）。
func Defaults() Config {
	return Config{
		Registry: Registry{Path: DefaultRegistryPath},
		Workbook: Workbook{
			Backend:          DefaultBackend(),
			Path:             DefaultWorkbookPath,
			Sheets:           append([]string(nil), DefaultSheets...),
			StartRow:         2,
			Stage:            true,
			InputMapping:     DefaultInputMapping(),
			SeqColumn:        "E",
			Formulas:         DefaultFormulas(),
			Macro:            DefaultMacro,
			MacroWaitSeconds: 3,
			Columns:          Columns{Title: "I", Volume: "G", ASIN: "F", SourceTitle: "D"},
		},
		Classify:    Classify{SentinelColor: 9895780},
		Export:      Export{Template: DefaultRegistryPath},
		Concurrency: 1,
		MaxRetries:  2,
		Preview:     3,
		Logging:     Logging{Level: "info", Dir: "logs"},
		Nudge:       Nudge{Name: "dialog", TimeoutSeconds: 15},
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
// 解码叠加在 Defaults 之上：缺省键保持默认值；映射类字段出现即整体替换。
func LoadJSON(path string, raw []byte) (Config, error) {
	cfg := Defaults()
	var r io.Reader
	switch {
	case len(raw) > 0:
		r = bytes.NewReader(raw)
	case path != "":
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("%w: config file %s: %w", contract.ErrConfig, path, err)
			}
			return cfg, err
		}
		defer f.Close()
		r = f
	default:
		return cfg, fmt.Errorf("%w: no config source provided", contract.ErrConfig)
	}
	mapping, formulas := cfg.Workbook.InputMapping, cfg.Workbook.Formulas
	cfg.Workbook.InputMapping, cfg.Workbook.Formulas = nil, nil
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: %s: %w", contract.ErrConfig, sourceName(path, raw), err)
	}
	if cfg.Workbook.InputMapping == nil {
		cfg.Workbook.InputMapping = mapping
	}
	if cfg.Workbook.Formulas == nil {
		cfg.Workbook.Formulas = formulas
	}
	return cfg, nil
}

func sourceName(path string, raw []byte) string {
	if len(raw) > 0 {
		return "inline config"
	}
	return path
}

// LoadDotEnv 读取 .env 到进程环境（已存在的变量不覆盖）。文件不存在不是错误。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("%w: env file %s: %w", contract.ErrConfig, p, err)
		}
	}
	return nil
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为"替换"；不做深度合并。零值视为未覆盖。
func Merge(base, over Config) Config {
	out := base
	setStr(&out.Registry.Path, over.Registry.Path)
	setStr(&out.Registry.Comma, over.Registry.Comma)
	setStr(&out.Registry.BindingColumn, over.Registry.BindingColumn)
	if len(over.Registry.Encodings) > 0 {
		out.Registry.Encodings = cloneStrings(over.Registry.Encodings)
	}
	if len(over.Registry.AllowedBindings) > 0 {
		out.Registry.AllowedBindings = cloneStrings(over.Registry.AllowedBindings)
	}

	setStr(&out.Workbook.Backend, over.Workbook.Backend)
	setStr(&out.Workbook.Path, over.Workbook.Path)
	setStr(&out.Workbook.Macro, over.Workbook.Macro)
	setStr(&out.Workbook.SeqColumn, over.Workbook.SeqColumn)
	if len(over.Workbook.Sheets) > 0 {
		out.Workbook.Sheets = cloneStrings(over.Workbook.Sheets)
	}
	setInt(&out.Workbook.StartRow, over.Workbook.StartRow)
	setInt(&out.Workbook.MaxRecords, over.Workbook.MaxRecords)
	setInt(&out.Workbook.MacroWaitSeconds, over.Workbook.MacroWaitSeconds)
	if len(over.Workbook.InputMapping) > 0 {
		out.Workbook.InputMapping = cloneMap(over.Workbook.InputMapping)
	}
	if len(over.Workbook.Formulas) > 0 {
		out.Workbook.Formulas = cloneMap(over.Workbook.Formulas)
	}
	if over.Workbook.Stage {
		out.Workbook.Stage = true
	}
	if over.Workbook.KeepClean {
		out.Workbook.KeepClean = true
	}
	if len(over.Workbook.Options) > 0 {
		out.Workbook.Options = cloneRaw(over.Workbook.Options)
	}

	if over.Classify.SentinelColor != 0 {
		out.Classify.SentinelColor = over.Classify.SentinelColor
	}
	if over.Classify.RequireBaselineTitle {
		out.Classify.RequireBaselineTitle = true
	}

	setStr(&out.Export.Template, over.Export.Template)
	setStr(&out.Export.Output, over.Export.Output)
	if len(over.Export.Options) > 0 {
		out.Export.Options = cloneRaw(over.Export.Options)
	}
	setStr(&out.InterimDir, over.InterimDir)

	setInt(&out.Concurrency, over.Concurrency)
	// 特殊：MaxRetries 的 0 具有语义（禁用重试），需要显式可覆盖。
	// 约定：over.MaxRetries >= 0 视为"存在"，-1 视为未覆盖。
	if over.MaxRetries >= 0 {
		out.MaxRetries = over.MaxRetries
	}
	setInt(&out.Preview, over.Preview)
	setStr(&out.Logging.Level, over.Logging.Level)
	setStr(&out.Logging.Dir, over.Logging.Dir)

	if len(over.Provider) > 0 {
		prov := make(map[string]Provider, len(out.Provider)+len(over.Provider))
		for k, v := range out.Provider {
			prov[k] = v
		}
		for k, v := range over.Provider {
			prov[k] = v
		}
		out.Provider = prov
	}
	setStr(&out.LLM, over.LLM)
	if len(over.Prompt) > 0 {
		out.Prompt = cloneRaw(over.Prompt)
	}

	setStr(&out.Nudge.Name, over.Nudge.Name)
	setInt(&out.Nudge.TimeoutSeconds, over.Nudge.TimeoutSeconds)
	if len(over.Nudge.Options) > 0 {
		out.Nudge.Options = cloneRaw(over.Nudge.Options)
	}
	return out
}

// Unset 返回"全部未设置"的覆盖层（MaxRetries=-1），CLI/ENV 覆盖以此为起点。
func Unset() Config { return Config{MaxRetries: -1} }

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 规则：前缀 TITLEFIX_；集合之外的键忽略；数值解析失败返回配置错误。
// 另支持 PROVIDER__<name>__CLIENT / PROVIDER__<name>__LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / PROVIDER__<name>__OPTIONS_JSON。
// CONFIG_FILE 与 CONFIG_JSON 由调用方（Load）处理。
func EnvOverlay(environ []string) (Config, error) {
	over := Unset()
	prov := map[string]Provider{}
	num := func(key, val string, dst *int) error {
		v, err := atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", contract.ErrConfig, EnvPrefix, key, val)
		}
		*dst = v
		return nil
	}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		nk := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		var err error
		switch nk {
		case "REGISTRY_PATH":
			over.Registry.Path = val
		case "ALLOWED_BINDINGS":
			over.Registry.AllowedBindings = splitComma(val)
		case "ENCODINGS":
			over.Registry.Encodings = splitComma(val)
		case "WORKBOOK_PATH":
			over.Workbook.Path = val
		case "WORKBOOK_BACKEND":
			over.Workbook.Backend = val
		case "SHEETS":
			over.Workbook.Sheets = splitComma(val)
		case "MACRO":
			over.Workbook.Macro = val
		case "MAX_RECORDS":
			err = num(nk, val, &over.Workbook.MaxRecords)
		case "SENTINEL_COLOR":
			var v int
			if err = num(nk, val, &v); err == nil {
				over.Classify.SentinelColor = int64(v)
			}
		case "EXPORT_TEMPLATE":
			over.Export.Template = val
		case "EXPORT_OUTPUT":
			over.Export.Output = val
		case "INTERIM_DIR":
			over.InterimDir = val
		case "CONCURRENCY":
			err = num(nk, val, &over.Concurrency)
		case "MAX_RETRIES":
			err = num(nk, val, &over.MaxRetries)
		case "PREVIEW":
			err = num(nk, val, &over.Preview)
		case "LLM":
			over.LLM = val
		case "LOG_LEVEL":
			over.Logging.Level = strings.ToLower(val)
		case "LOG_DIR":
			over.Logging.Dir = val
		case "NUDGE":
			over.Nudge.Name = val
		default:
			// provider.* 路径：PROVIDER__name__FOO
			if strings.HasPrefix(nk, "PROVIDER__") {
				err = envProvider(prov, nk, val)
			}
		}
		if err != nil {
			return Unset(), err
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

func envProvider(prov map[string]Provider, nk, val string) error {
	parts := strings.Split(nk, "__")
	if len(parts) < 3 || strings.TrimSpace(parts[1]) == "" {
		return nil
	}
	name := strings.TrimSpace(parts[1])
	field := strings.Join(parts[2:], "__")
	p := prov[name]
	var dst *int
	switch field {
	case "CLIENT":
		p.Client = val
	case "LIMITS_RPM":
		dst = &p.Limits.RPM
	case "LIMITS_TPM":
		dst = &p.Limits.TPM
	case "LIMITS_MAX_TOKENS_PER_REQ":
		dst = &p.Limits.MaxTokensPerReq
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return fmt.Errorf("%w: %sPROVIDER__%s__OPTIONS_JSON is not valid json", contract.ErrConfig, EnvPrefix, name)
		}
		p.Options = json.RawMessage(val)
	default:
		return nil
	}
	if dst != nil {
		v, err := atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q is not an integer", contract.ErrConfig, EnvPrefix, nk, val)
		}
		*dst = v
	}
	prov[name] = p
	return nil
}

// Load 按 JSON < .env/ENV < CLI 的优先级得到最终配置。
// path 为空时依次尝试 TITLEFIX_CONFIG_JSON、TITLEFIX_CONFIG_FILE、./config.json；都没有则使用 Defaults。
func Load(path string, environ []string, cli Config) (Config, error) {
	env := envMap(environ)
	var (
		cfg Config
		err error
	)
	switch {
	case path != "":
		cfg, err = LoadJSON(path, nil)
	case env["CONFIG_JSON"] != "":
		cfg, err = LoadJSON("", []byte(env["CONFIG_JSON"]))
	case env["CONFIG_FILE"] != "":
		cfg, err = LoadJSON(env["CONFIG_FILE"], nil)
	default:
		if _, serr := os.Stat("config.json"); serr == nil {
			cfg, err = LoadJSON("config.json", nil)
		} else {
			cfg = Defaults()
		}
	}
	if err != nil {
		return Config{}, err
	}
	over, err := EnvOverlay(environ)
	if err != nil {
		return Config{}, err
	}
	cfg = Merge(cfg, over)
	return Merge(cfg, cli), nil
}

func envMap(environ []string) map[string]string {
	out := map[string]string{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		if k, v, ok := strings.Cut(kv[len(EnvPrefix):], "="); ok {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func setStr(dst *string, v string) {
	if t := strings.TrimSpace(v); t != "" {
		*dst = t
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func splitComma(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
