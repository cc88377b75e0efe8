package contract

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Field: 登记表单元（列名 + 文本值）。
type Field struct {
	Name  string
	Value string
}

// RegistryRow: 源 CSV 的一行，按表头顺序保存列。只读。
// JSON 编码为保持列顺序的对象。
type RegistryRow []Field

// Get 返回列值；同名列取最后一个（与按表头建字典的语义一致）。
func (r RegistryRow) Get(name string) (string, bool) {
	v, ok := "", false
	for _, f := range r {
		if f.Name == name {
			v, ok = f.Value, true
		}
	}
	return v, ok
}

// MarshalJSON 按列顺序输出对象，不转义非 ASCII。
// HTML 字符是否转义由外层编码器决定（json.Marshal 会转义）。
func (r RegistryRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, f.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := writeJSONString(&buf, f.Value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON 按出现顺序还原列；非字符串值以其 JSON 文本保存（null 记为空串）。
func (r *RegistryRow) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("registry row: expect object, got %v", tok)
	}
	var out RegistryRow
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		val := ""
		switch {
		case len(raw) == 0 || string(raw) == "null":
		case raw[0] == '"':
			if err := json.Unmarshal(raw, &val); err != nil {
				return err
			}
		default:
			val = string(raw)
		}
		out = append(out, Field{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode 追加换行
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Table: 一次登记表读取的结果。
type Table struct {
	Path     string
	Encoding string // 实际生效的编码名
	Header   []string
	Rows     []RegistryRow
}

// TitleRecord: 由行分类器从表格行构造的记录。
// JSON 键与表格列语义一致；巻数 缺失时为 null。
type TitleRecord struct {
	Row            int      `json:"row"`
	Title          string   `json:"タイトル"`
	Volume         *int     `json:"巻数"`
	ASIN           string   `json:"ASIN"`
	SourceTitle    string   `json:"Amazonタイトル,omitempty"`
	BaselineTitle  string   `json:"b_タイトル,omitempty"`
	BaselineVolume string   `json:"b_巻数,omitempty"`
	Color          bool     `json:"color"`
	Dirty          bool     `json:"dirty"`
	Reasons        []string `json:"reasons,omitempty"`
}

// Normalization: 模型输出解析结果。Volume 为 nil 表示无卷号（模型输出 "0" 或无第二行）。
type Normalization struct {
	Title  string
	Volume *int
}

// IntPtr 返回 v 的指针。
func IntPtr(v int) *int { return &v }
