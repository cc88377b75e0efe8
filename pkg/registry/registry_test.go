package registry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// TestStrictUnmarshal 验证严格解码逻辑。
func TestStrictUnmarshal(t *testing.T) {
	type opt struct {
		A int `json:"a"`
	}
	var o opt
	require.NoError(t, strictUnmarshal(nil, &o))
	assert.Equal(t, 0, o.A)
	require.NoError(t, strictUnmarshal(json.RawMessage(`{"a":1}`), &o))
	assert.Equal(t, 1, o.A)
	err := strictUnmarshal(json.RawMessage(`{"a":1,"b":2}`), &o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrConfig))
}

// TestFactories 遍历注册表入口。
func TestFactories(t *testing.T) {
	t.Run("registry_reader", func(t *testing.T) {
		_, err := RegistryReader["csv"](json.RawMessage(`{"encodings":["cp932"]}`))
		require.NoError(t, err)
		_, err = RegistryReader["csv"](json.RawMessage(`{"x":1}`))
		require.Error(t, err, "未知字段应报错")
	})
	t.Run("exporter", func(t *testing.T) {
		_, err := Exporter["csv"](json.RawMessage(`{"title_column":3}`))
		require.NoError(t, err)
		_, err = Exporter["csv"](json.RawMessage(`{"x":1}`))
		require.Error(t, err)
	})
	t.Run("prompt", func(t *testing.T) {
		pb, err := PromptBuilder["titleclean"](json.RawMessage(`{"inline_system":"rules"}`))
		require.NoError(t, err)
		p, err := pb.Build(t.Context(), "タイトル")
		require.NoError(t, err)
		assert.Equal(t, "rules", p.(contract.ChatPrompt).Instruction())
		_, err = PromptBuilder["titleclean"](json.RawMessage(`{"x":1}`))
		require.Error(t, err)
	})
	t.Run("decoder", func(t *testing.T) {
		dec, err := Decoder["titlelines"](nil)
		require.NoError(t, err)
		n, err := dec.Decode(t.Context(), "src", contract.Raw{Text: "整形\n3"})
		require.NoError(t, err)
		assert.Equal(t, "整形", n.Title)
		require.NotNil(t, n.Volume)
		assert.Equal(t, 3, *n.Volume)
	})
	t.Run("llm", func(t *testing.T) {
		for _, name := range []string{"mock", "flaky"} {
			_, err := LLMClient[name](nil)
			require.NoError(t, err, name)
		}
		_, err := LLMClient["openai"](json.RawMessage(`{"api_key":"k"}`))
		require.NoError(t, err)
		_, err = LLMClient["gemini"](json.RawMessage(`{"api_key":"k"}`))
		require.NoError(t, err)
	})
	t.Run("nudger", func(t *testing.T) {
		for _, name := range []string{"dialog", "none"} {
			n, err := Nudger[name](nil)
			require.NoError(t, err, name)
			assert.NotNil(t, n)
		}
	})
	t.Run("workbook_xlsx", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "book.xlsx")
		f := excelize.NewFile()
		require.NoError(t, f.SaveAs(path))
		require.NoError(t, f.Close())

		raw, _ := json.Marshal(map[string]any{"path": path})
		wb, err := Workbook["xlsx"](raw)
		require.NoError(t, err)
		assert.Equal(t, "book.xlsx", wb.Name())
		require.NoError(t, wb.Close())

		_, err = Workbook["xlsx"](json.RawMessage(`{"path":"` + filepath.ToSlash(filepath.Join(t.TempDir(), "missing.xlsx")) + `"}`))
		require.ErrorIs(t, err, contract.ErrConfig)
	})
	t.Run("workbook_com", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("需要 Excel")
		}
		_, err := Workbook["com"](json.RawMessage(`{"path":"x.xlsm"}`))
		require.ErrorIs(t, err, contract.ErrUnsupported)
	})
}

func TestMain(m *testing.M) {
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("GEMINI_API_KEY")
	os.Exit(m.Run())
}
