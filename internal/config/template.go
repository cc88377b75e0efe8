package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultTemplateConfig 返回一个"可运行"的默认配置模板：
// - 使用 mock LLM（离线调试友好），openai/gemini 定义齐全但需填写 Key；
// - 路径沿用 Defaults（public/ 目录下的登记表与工作簿）；
// - 选项给出安全中性默认值。
func DefaultTemplateConfig() Config {
	cfg := Defaults()
	cfg.LLM = "mock"
	cfg.Registry.Encodings = []string{"utf-8-sig", "utf-8", "cp932", "euc-jp"}
	cfg.Provider = map[string]Provider{
		"mock": {
			Client:  "mock",
			Options: json.RawMessage(`{"mode":"extract","delay_ms":0}`),
			Limits:  Limits{RPM: 600, TPM: 100000, MaxTokensPerReq: 4096},
		},
		"openai": {
			Client: "openai",
			// 覆盖全部 OpenAI 选项键，值可为空/默认
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "gpt-4.1-mini",
  "api": "responses",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {}
}`),
			Limits: Limits{RPM: 60, TPM: 60000, MaxTokensPerReq: 0},
		},
		"gemini": {
			Client: "gemini",
			Options: json.RawMessage(`{
  "base_url": "",
  "model": "gemini-2.5-flash",
  "api_key_env": "GEMINI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "temperature": null
}`),
			Limits: Limits{RPM: 60, TPM: 60000, MaxTokensPerReq: 0},
		},
	}
	cfg.Prompt = json.RawMessage(`{
  "inline_system": "",
  "system_path": "",
  "system_env": "SYSTEM_PROMPT"
}`)
	cfg.Workbook.Options = json.RawMessage(`{}`)
	cfg.Export.Options = json.RawMessage(`{
  "encodings": [],
  "output_dir": "",
  "title_column": 2,
  "volume_column": 6,
  "asin_column": 14,
  "key_column": "先祖-ASIN"
}`)
	cfg.Nudge.Options = json.RawMessage(`{
  "keywords": ["マクロ実行確認", "マクロ", "実行確認"],
  "buttons": ["はい", "Yes", "OK"],
  "key": "Y",
  "poll_ms": 200
}`)
	return cfg
}

// WriteTemplate 在 dir 下生成 config.json 与 .env 模板；已存在的文件跳过，不覆盖。
// 返回实际写入的文件路径。
func WriteTemplate(dir string) ([]string, error) {
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var written []string
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, err
	}
	cfgPath := filepath.Join(dir, "config.json")
	ok, err := createExclusive(cfgPath, append(b, '\n'))
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", cfgPath, err)
	}
	if ok {
		written = append(written, cfgPath)
	}
	envPath := filepath.Join(dir, ".env")
	ok, err = createExclusive(envPath, []byte(DotEnvTemplate()))
	if err != nil {
		return written, fmt.Errorf("write %s: %w", envPath, err)
	}
	if ok {
		written = append(written, envPath)
	}
	return written, nil
}

// createExclusive 仅在文件不存在时创建；已存在返回 false。
func createExclusive(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}

// DotEnvTemplate 返回 .env 模板内容（支持的覆盖项与常见 Provider 密钥）。
func DotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# titlefix .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > JSON\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	b.WriteString(EnvPrefix + "CONFIG_FILE=\n")
	b.WriteString(EnvPrefix + "CONFIG_JSON=\n\n")

	b.WriteString("# 路径\n")
	for _, k := range []string{"REGISTRY_PATH", "WORKBOOK_PATH", "WORKBOOK_BACKEND", "SHEETS", "EXPORT_TEMPLATE", "EXPORT_OUTPUT", "INTERIM_DIR"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	b.WriteString("\n# 运行参数覆盖\n")
	for _, k := range []string{"MACRO", "MAX_RECORDS", "ALLOWED_BINDINGS", "ENCODINGS", "SENTINEL_COLOR", "CONCURRENCY", "MAX_RETRIES", "PREVIEW", "LLM", "LOG_LEVEL", "LOG_DIR", "NUDGE"} {
		b.WriteString(EnvPrefix + k + "=\n")
	}
	for _, p := range []string{"openai", "gemini"} {
		b.WriteString("\n# Provider 覆盖（" + p + "）\n")
		for _, f := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			b.WriteString(EnvPrefix + "PROVIDER__" + p + "__" + f + "=\n")
		}
	}
	b.WriteString("\n# 供应商 API Key（由客户端直接读取，不带前缀）\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GEMINI_API_KEY=\n")
	b.WriteString("\n# 覆盖内置 instruction\n")
	b.WriteString("SYSTEM_PROMPT=\n")
	return b.String()
}
