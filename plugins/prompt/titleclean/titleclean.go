package titleclean

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

//go:embed default_system.txt
var defaultSystem string

// DefaultSystemEnv: 覆盖 instruction 的环境变量名。
const DefaultSystemEnv = "SYSTEM_PROMPT"

// Options: instruction 来源（优先级 inline > path > env > 内置）。
type Options struct {
	InlineSystem string `json:"inline_system"`
	SystemPath   string `json:"system_path"`
	// SystemEnv: 读取 instruction 的环境变量名；为空使用 SYSTEM_PROMPT，"-" 表示不读取。
	SystemEnv string `json:"system_env"`
}

// Builder: instruction（system）+ 标题（user）。instruction 在构造期确定，运行期不做 I/O。
type Builder struct {
	system string
}

// New 创建标题整形 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	sys := ""
	switch {
	case strings.TrimSpace(o.InlineSystem) != "":
		sys = o.InlineSystem
	case o.SystemPath != "":
		b, err := os.ReadFile(o.SystemPath)
		if err != nil {
			return nil, fmt.Errorf("%w: system prompt read: %w", contract.ErrConfig, err)
		}
		sys = string(b)
	default:
		env := o.SystemEnv
		if env == "" {
			env = DefaultSystemEnv
		}
		if env != "-" {
			sys = os.Getenv(env)
		}
	}
	if strings.TrimSpace(sys) == "" {
		sys = defaultSystem
	}
	return &Builder{system: strings.TrimSpace(sys)}, nil
}

var _ contract.PromptBuilder = (*Builder)(nil)

// Build 构造 ChatPrompt；空标题不应进入此处。
func (b *Builder) Build(ctx context.Context, title string) (contract.Prompt, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("prompt: %w: empty title", contract.ErrInvalidInput)
	}
	return contract.ChatPrompt{
		{Role: "system", Content: b.system},
		{Role: "user", Content: title},
	}, nil
}

// EstimateOverheadTokens: 仅 instruction 部分。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	return estimate(b.system)
}

// System 返回生效的 instruction（诊断用）。
func (b *Builder) System() string { return b.system }
