package config

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/firstsmile-dev/Excel-AI-project/internal/classify"
	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/interim"
	"github.com/firstsmile-dev/Excel-AI-project/internal/normalize"
	"github.com/firstsmile-dev/Excel-AI-project/internal/pipeline"
	"github.com/firstsmile-dev/Excel-AI-project/internal/rate"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/registry"
)

// 内置组件名。
const (
	ReaderName  = "csv"
	WriterName  = "csv"
	PromptName  = "titleclean"
	DecoderName = "titlelines"
)

var columnPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)

// newValidator 注册自定义校验：column（Excel 列字母）。
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("column", func(fl validator.FieldLevel) bool {
		return columnPattern.MatchString(fl.Field().String())
	})
	return v
}

// needs 返回步骤依赖的配置块。
func needs(step pipeline.Step) (reg, wb, llm, exp bool) {
	switch step {
	case pipeline.StepRegistry:
		return true, false, false, false
	case pipeline.StepWorkbook:
		return false, true, false, false
	case pipeline.StepNormalize:
		return false, false, true, false
	case pipeline.StepExport:
		return false, false, false, true
	default:
		return true, true, true, true
	}
}

// Validate 对指定步骤用到的配置做静态校验（结构标签 + 交叉检查）。
func Validate(cfg Config, step pipeline.Step) error {
	v := newValidator()
	check := func(name string, s any) error {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("%w: %s: %w", contract.ErrConfig, name, err)
		}
		return nil
	}
	switch step {
	case pipeline.StepRegistry, pipeline.StepWorkbook, pipeline.StepNormalize, pipeline.StepExport, pipeline.StepAll:
	default:
		return fmt.Errorf("%w: unknown step %q", contract.ErrConfig, step)
	}
	if err := v.StructPartial(cfg, "Concurrency", "MaxRetries", "Preview"); err != nil {
		return fmt.Errorf("%w: %w", contract.ErrConfig, err)
	}
	if err := check("logging", cfg.Logging); err != nil {
		return err
	}
	reg, wb, llm, exp := needs(step)
	if reg {
		if err := check("registry", cfg.Registry); err != nil {
			return err
		}
	}
	if wb {
		if err := check("workbook", cfg.Workbook); err != nil {
			return err
		}
		if err := check("nudge", cfg.Nudge); err != nil {
			return err
		}
		if registry.Workbook[cfg.Workbook.Backend] == nil {
			return fmt.Errorf("%w: workbook backend %q not registered", contract.ErrConfig, cfg.Workbook.Backend)
		}
	}
	if llm {
		if strings.TrimSpace(cfg.LLM) == "" {
			return fmt.Errorf("%w: llm not set", contract.ErrConfig)
		}
		prov, ok := cfg.Provider[cfg.LLM]
		if !ok {
			return fmt.Errorf("%w: provider %q not found", contract.ErrConfig, cfg.LLM)
		}
		if err := check("provider "+cfg.LLM, prov); err != nil {
			return err
		}
		if registry.LLMClient[prov.Client] == nil {
			return fmt.Errorf("%w: llm client %q not registered", contract.ErrConfig, prov.Client)
		}
	}
	if exp {
		if err := check("export", cfg.Export); err != nil {
			return err
		}
	}
	return nil
}

// Assemble 按步骤构造组件与运行设置。严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// 只构造步骤需要的组件：例如单跑 registry 步骤时不要求 API Key。
func Assemble(cfg Config, step pipeline.Step, logger *diag.Logger) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg, step); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	set := Settings(cfg)
	comp := pipeline.Components{Store: interim.NewStore(cfg.InterimDir)}
	reg, wb, llm, exp := needs(step)

	if reg {
		raw, err := withKeys(nil, map[string]any{"encodings": cfg.Registry.Encodings, "comma": cfg.Registry.Comma})
		if err != nil {
			return comp, set, err
		}
		if comp.Registry, err = registry.RegistryReader[ReaderName](raw); err != nil {
			return comp, set, err
		}
	}
	if wb {
		open, err := WorkbookOpener(cfg)
		if err != nil {
			return comp, set, err
		}
		comp.Workbook = open
		name := cfg.Nudge.Name
		if name == "" {
			name = "dialog"
		}
		if comp.Nudger, err = registry.Nudger[name](cfg.Nudge.Options); err != nil {
			return comp, set, err
		}
	}
	if llm {
		n, err := buildNormalizer(cfg, logger)
		if err != nil {
			return comp, set, err
		}
		comp.Normalizer = n
	}
	if exp {
		var err error
		if comp.Exporter, err = registry.Exporter[WriterName](cfg.Export.Options); err != nil {
			return comp, set, err
		}
	}
	return comp, set, nil
}

// Settings 将配置映射为流水线运行设置。
func Settings(cfg Config) pipeline.Settings {
	w := cfg.Workbook
	return pipeline.Settings{
		RegistryPath:    cfg.Registry.Path,
		BindingColumn:   cfg.Registry.BindingColumn,
		AllowedBindings: cloneStrings(cfg.Registry.AllowedBindings),
		Preview:         cfg.Preview,
		Sheets:          cloneStrings(w.Sheets),
		StartRow:        w.StartRow,
		Stage:           w.Stage,
		MaxRecords:      w.MaxRecords,
		InputMapping:    cloneMap(w.InputMapping),
		SeqColumn:       w.SeqColumn,
		Formulas:        cloneMap(w.Formulas),
		Macro:           w.Macro,
		MacroWait:       time.Duration(w.MacroWaitSeconds) * time.Second,
		NudgeTimeout:    time.Duration(cfg.Nudge.TimeoutSeconds) * time.Second,
		Columns: pipeline.Columns{
			Title:          w.Columns.Title,
			Volume:         w.Columns.Volume,
			ASIN:           w.Columns.ASIN,
			SourceTitle:    w.Columns.SourceTitle,
			BaselineTitle:  w.Columns.BaselineTitle,
			BaselineVolume: w.Columns.BaselineVolume,
		},
		KeepClean: w.KeepClean,
		Rules: classify.Rules{
			SentinelColor:        cfg.Classify.SentinelColor,
			RequireBaselineTitle: cfg.Classify.RequireBaselineTitle,
		},
		ExportTemplate: cfg.Export.Template,
		ExportOutput:   cfg.Export.Output,
		LLM:            cfg.LLM,
		Concurrency:    cfg.Concurrency,
	}
}

// WorkbookOpener 返回延迟打开工作簿的函数（path 注入后端 Options）。
func WorkbookOpener(cfg Config) (pipeline.OpenWorkbook, error) {
	newWB := registry.Workbook[cfg.Workbook.Backend]
	if newWB == nil {
		return nil, fmt.Errorf("%w: workbook backend %q not registered", contract.ErrConfig, cfg.Workbook.Backend)
	}
	raw, err := withKeys(cfg.Workbook.Options, map[string]any{"path": cfg.Workbook.Path})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (contract.Workbook, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return newWB(raw)
	}, nil
}

// buildNormalizer: prompt + provider client + decoder + 限流 Gate。
func buildNormalizer(cfg Config, logger *diag.Logger) (*normalize.Normalizer, error) {
	pb, err := registry.PromptBuilder[PromptName](cfg.Prompt)
	if err != nil {
		return nil, err
	}
	dec, err := registry.Decoder[DecoderName](nil)
	if err != nil {
		return nil, err
	}
	prov := cfg.Provider[cfg.LLM]
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	if err != nil {
		return nil, err
	}
	// 默认使用 API Key 派生分组键（更稳定）；若失败则退化为 provider 名称。
	key, derr := rate.DeriveKey(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.New(map[rate.LimitKey]rate.Limits{key: {
		RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq,
	}}, nil)
	return normalize.New(pb, llm, dec, logger, normalize.Options{
		Concurrency: cfg.Concurrency,
		MaxRetries:  cfg.MaxRetries,
		Gate:        gate,
		Key:         key,
		Progress: func(done, total int) {
			diag.GetTerminal().StepProgress(done, total, 0)
		},
	})
}

// withKeys 把非零键写入原样 JSON 对象（已有同名键被覆盖）。
func withKeys(raw json.RawMessage, kv map[string]any) (json.RawMessage, error) {
	m := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("%w: options: %w", contract.ErrConfig, err)
		}
		if m == nil {
			m = map[string]any{}
		}
	}
	for k, v := range kv {
		switch x := v.(type) {
		case string:
			if x == "" {
				continue
			}
		case []string:
			if len(x) == 0 {
				continue
			}
		}
		m[k] = v
	}
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
