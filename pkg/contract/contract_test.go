package contract

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 登记行：JSON 保持列顺序且不转义日文
func TestRegistryRowJSONOrder(t *testing.T) {
	row := RegistryRow{
		{Name: "ID", Value: "10"},
		{Name: "装丁、製本", Value: "コミック"},
		{Name: "Amazonタイトル", Value: "A&B <1>"},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	require.NoError(t, enc.Encode(row))
	assert.Equal(t, `{"ID":"10","装丁、製本":"コミック","Amazonタイトル":"A&B <1>"}`+"\n", buf.String())

	// json.Marshal 会重新转义 HTML 字符，但值不变。
	b, err := json.Marshal(row)
	require.NoError(t, err)
	assert.Equal(t, `{"ID":"10","装丁、製本":"コミック","Amazonタイトル":"A\u0026B \u003c1\u003e"}`, string(b))

	var back RegistryRow
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, row, back, "往返后列顺序与值应一致")
}

func TestRegistryRowUnmarshalScalars(t *testing.T) {
	var row RegistryRow
	require.NoError(t, json.Unmarshal([]byte(`{"b":null,"a":12,"c":true,"d":"x"}`), &row))
	require.Len(t, row, 4)
	assert.Equal(t, "b", row[0].Name)
	assert.Equal(t, "", row[0].Value)
	assert.Equal(t, "12", row[1].Value)
	assert.Equal(t, "true", row[2].Value)
	assert.Equal(t, "x", row[3].Value)

	require.Error(t, json.Unmarshal([]byte(`[1,2]`), &row), "非对象应失败")
}

func TestRegistryRowGetLastWins(t *testing.T) {
	row := RegistryRow{{Name: "k", Value: "1"}, {Name: "k", Value: "2"}}
	v, ok := row.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	_, ok = row.Get("missing")
	assert.False(t, ok)
}

func TestTitleRecordJSONKeys(t *testing.T) {
	rec := TitleRecord{Row: 3, Title: "ハボウの轍", Volume: IntPtr(4), ASIN: "B0TEST", Color: true, Dirty: true}
	b, err := json.Marshal(rec)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "ハボウの轍", m["タイトル"])
	assert.EqualValues(t, 4, m["巻数"])
	assert.Equal(t, true, m["color"])

	rec.Volume = nil
	b, err = json.Marshal(rec)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"巻数":null`)
}

func TestChatPromptParts(t *testing.T) {
	p := ChatPrompt{{Role: "system", Content: "rules"}, {Role: "user", Content: "a"}, {Role: "user", Content: "b"}}
	assert.Equal(t, "rules", p.Instruction())
	assert.Equal(t, "a\nb", p.UserContent())
	assert.Equal(t, "", ChatPrompt{}.Instruction())
}

func TestMacroQualified(t *testing.T) {
	assert.Equal(t, "Module1.Trimming", Macro{Module: "Module1", Name: "Trimming"}.Qualified())
	assert.Equal(t, "Trimming", Macro{Name: "Trimming"}.Qualified())
}
