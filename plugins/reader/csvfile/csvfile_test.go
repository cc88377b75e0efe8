package csvfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

const sample = "ID,Amazonタイトル,装丁、製本\n1,ハボウの轍 4,コミック\n2,写真集,DVD\n3,雑誌A, 雑誌 \n4\n"

func writeFile(t *testing.T, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func TestReadShiftJIS(t *testing.T) {
	b, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(sample))
	require.NoError(t, err)
	p := writeFile(t, "reg.csv", b)

	r, err := New(nil)
	require.NoError(t, err)
	tbl, err := r.Read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "cp932", tbl.Encoding)
	assert.Equal(t, []string{"ID", "Amazonタイトル", "装丁、製本"}, tbl.Header)
	require.Len(t, tbl.Rows, 4)
	v, _ := tbl.Rows[0].Get("Amazonタイトル")
	assert.Equal(t, "ハボウの轍 4", v)
	// 短行补空
	v, ok := tbl.Rows[3].Get("装丁、製本")
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestReadBOM(t *testing.T) {
	p := writeFile(t, "bom.csv", append([]byte{0xEF, 0xBB, 0xBF}, sample...))
	r, err := New(nil)
	require.NoError(t, err)
	tbl, err := r.Read(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "utf-8-sig", tbl.Encoding)
	assert.Equal(t, "ID", tbl.Header[0], "BOM 不应残留在首列名中")
}

func TestReadMissingFileIsConfigError(t *testing.T) {
	r, err := New(nil)
	require.NoError(t, err)
	_, err = r.Read(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, contract.ErrConfig)
}

func TestReadDecodeFailure(t *testing.T) {
	p := writeFile(t, "bad.csv", []byte{0x81, 0xFF, ',', 'a'})
	r, err := New(&Options{Encodings: []string{"utf-8", "cp932"}})
	require.NoError(t, err)
	_, err = r.Read(context.Background(), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, contract.ErrDecode)
	assert.Contains(t, err.Error(), p, "错误信息应包含文件路径")
}

func TestNewRejectsUnknownEncoding(t *testing.T) {
	_, err := New(&Options{Encodings: []string{"klingon"}})
	assert.ErrorIs(t, err, contract.ErrConfig)
	_, err = New(&Options{Comma: ";;"})
	assert.ErrorIs(t, err, contract.ErrConfig)
}

func TestFilter(t *testing.T) {
	p := writeFile(t, "reg.csv", []byte(sample))
	r, err := New(nil)
	require.NoError(t, err)
	tbl, err := r.Read(context.Background(), p)
	require.NoError(t, err)

	rows, err := Filter(tbl, "", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	id, _ := rows[0].Get("ID")
	assert.Equal(t, "1", id)
	id, _ = rows[1].Get("ID")
	assert.Equal(t, "3", id, "允许值比较应忽略首尾空白")

	_, err = Filter(tbl, "製本", nil)
	assert.ErrorIs(t, err, contract.ErrConfig)
}
