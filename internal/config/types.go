package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（一次解析，运行期不变）。
// JSON 使用 snake_case；未知字段在解析期失败。
type Config struct {
	Registry Registry `json:"registry"`
	Workbook Workbook `json:"workbook"`
	Classify Classify `json:"classify"`
	Export   Export   `json:"export"`
	// InterimDir: 中间 JSON 所在目录；空为当前目录。
	InterimDir string `json:"interim_dir"`

	Concurrency int `json:"concurrency" validate:"gte=1"`
	// MaxRetries: 模型调用最大重试次数（>=0）。0 表示不重试。
	MaxRetries int `json:"max_retries" validate:"gte=0"`
	// Preview: Registry 步骤在日志中预览的行数。
	Preview int     `json:"preview" validate:"gte=0"`
	Logging Logging `json:"logging"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// Prompt: prompt builder 的原样 Options。
	Prompt json.RawMessage `json:"prompt"`
	Nudge  Nudge           `json:"nudge"`
}

// Logging: 日志等级与目录（轮转策略固定）。
type Logging struct {
	Level string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `json:"dir"`
}

// Registry: 登记表 CSV 的读取与过滤。
type Registry struct {
	Path            string   `json:"path" validate:"required"`
	Encodings       []string `json:"encodings"`
	Comma           string   `json:"comma" validate:"omitempty,len=1"`
	BindingColumn   string   `json:"binding_column"`
	AllowedBindings []string `json:"allowed_bindings"`
}

// Workbook: 表格自动化（暂存、宏、抽取）。
type Workbook struct {
	Backend string `json:"backend" validate:"required,oneof=xlsx com"`
	Path    string `json:"path" validate:"required"`
	// Sheets: 候选工作表名，按序取第一个存在的。
	Sheets   []string `json:"sheets" validate:"min=1,dive,required"`
	StartRow int      `json:"start_row" validate:"gte=1"`

	Stage        bool              `json:"stage"`
	MaxRecords   int               `json:"max_records" validate:"gte=0"`
	InputMapping map[string]string `json:"input_mapping" validate:"dive,keys,required,endkeys,column"`
	SeqColumn    string            `json:"seq_column" validate:"omitempty,column"`
	// Formulas: 列 → 公式模板；{row} 为当前行号，{next} 为下一行号。
	Formulas map[string]string `json:"formulas" validate:"dive,keys,column,endkeys,required"`

	Macro string `json:"macro"`
	// MacroWaitSeconds: 宏返回后等待对话框处理的时长。
	MacroWaitSeconds int     `json:"macro_wait_seconds" validate:"gte=0"`
	Columns          Columns `json:"columns"`
	// KeepClean: 抽取时保留非脏行。
	KeepClean bool `json:"keep_clean"`

	// Options: 后端专属原样 Options（path 由上方字段注入）。
	Options json.RawMessage `json:"options"`
}

// Columns: 抽取时读取的列字母；Baseline* 为空表示不使用基线列。
type Columns struct {
	Title          string `json:"title" validate:"required,column"`
	Volume         string `json:"volume" validate:"required,column"`
	ASIN           string `json:"asin" validate:"required,column"`
	SourceTitle    string `json:"source_title" validate:"omitempty,column"`
	BaselineTitle  string `json:"baseline_title" validate:"omitempty,column"`
	BaselineVolume string `json:"baseline_volume" validate:"omitempty,column"`
}

// Classify: 脏行判定规则。
type Classify struct {
	SentinelColor        int64 `json:"sentinel_color"`
	RequireBaselineTitle bool  `json:"require_baseline_title"`
}

// Export: 结果 CSV。
type Export struct {
	Template string `json:"template" validate:"required"`
	// Output: 输出路径；空则按时间戳命名。
	Output  string          `json:"output"`
	Options json.RawMessage `json:"options"`
}

// Nudge: 宏运行期间的对话框处理器。
type Nudge struct {
	Name           string          `json:"name" validate:"omitempty,oneof=dialog none"`
	TimeoutSeconds int             `json:"timeout_seconds" validate:"gte=0"`
	Options        json.RawMessage `json:"options"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client" validate:"required"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm" validate:"gte=0"`
	TPM             int `json:"tpm" validate:"gte=0"`
	MaxTokensPerReq int `json:"max_tokens_per_req" validate:"gte=0"`
}
