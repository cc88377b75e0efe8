package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
	tln "github.com/firstsmile-dev/Excel-AI-project/plugins/decoder/titlelines"
	flaky "github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/flaky"
	gmi "github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/gemini"
	mock "github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/mock"
	oai "github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/openai"
	dlg "github.com/firstsmile-dev/Excel-AI-project/plugins/nudge/dialog"
	ptc "github.com/firstsmile-dev/Excel-AI-project/plugins/prompt/titleclean"
	rcsv "github.com/firstsmile-dev/Excel-AI-project/plugins/reader/csvfile"
	wcom "github.com/firstsmile-dev/Excel-AI-project/plugins/workbook/com"
	wxl "github.com/firstsmile-dev/Excel-AI-project/plugins/workbook/xlsx"
	wcsv "github.com/firstsmile-dev/Excel-AI-project/plugins/writer/csvexport"
)

// strictUnmarshal: 使用 DisallowUnknownFields 严格解码，拒绝未知字段。
func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		// 保持零值（默认选项）
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: options: %w", contract.ErrConfig, err)
	}
	return nil
}

// NewRegistryReader 工厂签名：接收原样 JSON Options。
type NewRegistryReader func(raw json.RawMessage) (contract.RegistryReader, error)

// NewExporter 工厂签名：接收原样 JSON Options。
type NewExporter func(raw json.RawMessage) (contract.Exporter, error)

// NewPromptBuilder 工厂签名：接收原样 JSON Options。
type NewPromptBuilder func(raw json.RawMessage) (contract.PromptBuilder, error)

// NewLLMClient 工厂签名：接收原样 JSON Options。
type NewLLMClient func(raw json.RawMessage) (contract.LLMClient, error)

// NewDecoder 工厂签名：接收原样 JSON Options。
type NewDecoder func(raw json.RawMessage) (contract.Decoder, error)

// NewWorkbook 工厂签名：打开工作簿（Options 内含 path）。
type NewWorkbook func(raw json.RawMessage) (contract.Workbook, error)

// NewNudger 工厂签名：接收原样 JSON Options。
type NewNudger func(raw json.RawMessage) (contract.Nudger, error)

// RegistryReader 工厂注册表（显式、零反射）。
var RegistryReader = map[string]NewRegistryReader{
	// csv: 多编码回退的登记表 CSV
	"csv": func(raw json.RawMessage) (contract.RegistryReader, error) {
		var opts rcsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return rcsv.New(&opts)
	},
}

// Exporter 工厂注册表。
var Exporter = map[string]NewExporter{
	// csv: 模板 CSV 固定列覆盖写出
	"csv": func(raw json.RawMessage) (contract.Exporter, error) {
		var opts wcsv.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return wcsv.New(&opts)
	},
}

// PromptBuilder 工厂注册表。
var PromptBuilder = map[string]NewPromptBuilder{
	// titleclean: instruction + 标题
	"titleclean": func(raw json.RawMessage) (contract.PromptBuilder, error) {
		var opts ptc.Options
		if err := strictUnmarshal(raw, &opts); err != nil {
			return nil, err
		}
		return ptc.New(&opts)
	},
}

// LLMClient 工厂注册表。
var LLMClient = map[string]NewLLMClient{
	"openai": oai.New,
	"gemini": gmi.New,
	"mock":   mock.New,
	"flaky":  flaky.New,
}

// Decoder 工厂注册表。
var Decoder = map[string]NewDecoder{
	// titlelines: 第 1 行标题、第 2 行卷号（"0" 表示无）
	"titlelines": tln.New,
}

// Workbook 工厂注册表。
var Workbook = map[string]NewWorkbook{
	// xlsx: excelize 文件后端（不执行宏）
	"xlsx": wxl.New,
	// com: Excel COM 自动化（仅 Windows）
	"com": wcom.New,
}

// Nudger 工厂注册表。
var Nudger = map[string]NewNudger{
	"dialog": dlg.New,
	"none":   dlg.NewNone,
}
