package interim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func TestRowsKeepOrderAndNonASCII(t *testing.T) {
	s := NewStore(t.TempDir())
	rows := []contract.RegistryRow{{
		{Name: "ID", Value: "1"},
		{Name: "Amazonタイトル", Value: "進撃の巨人 <限定版> & 特典"},
		{Name: "装丁、製本", Value: "コミック"},
	}}
	p, err := s.SaveRows(context.Background(), rows)
	require.NoError(t, err)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	text := string(b)
	assert.Contains(t, text, "進撃の巨人 <限定版> & 特典", "非 ASCII 与 HTML 字符不应转义")
	assert.Contains(t, text, "\n    \"ID\": \"1\"", "缩进 2")
	assert.Less(t, indexOf(text, "ID"), indexOf(text, "装丁、製本"), "键顺序与表头一致")

	got, err := s.LoadRows()
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestRecordsRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	recs := []contract.TitleRecord{
		{Row: 2, Title: "", Volume: contract.IntPtr(1), Dirty: true, Reasons: []string{"title_empty"}},
		{Row: 3, Title: "ハボウの轍", ASIN: "B0X", Color: true, Dirty: true},
	}
	_, err := s.SaveOutput(context.Background(), recs)
	require.NoError(t, err)
	got, err := s.LoadOutput()
	require.NoError(t, err)
	assert.Equal(t, recs, got)

	p, err := s.SaveNormalized(context.Background(), nil)
	require.NoError(t, err)
	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(b))
}

func TestReadErrors(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	_, err := s.LoadNormalized()
	assert.ErrorIs(t, err, contract.ErrConfig)

	require.NoError(t, os.WriteFile(filepath.Join(dir, OutputFile), []byte("{bad"), 0o644))
	_, err = s.LoadOutput()
	assert.ErrorIs(t, err, contract.ErrDecode)

	abs := filepath.Join(dir, "x.json")
	assert.Equal(t, abs, s.Path(abs))
}
