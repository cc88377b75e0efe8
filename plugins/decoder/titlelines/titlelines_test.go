package titlelines

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func decode(t *testing.T, src, text string) contract.Normalization {
	t.Helper()
	d, err := New(nil)
	require.NoError(t, err)
	n, err := d.Decode(context.Background(), src, contract.Raw{Text: text})
	require.NoError(t, err)
	return n
}

func TestDecodeTwoLines(t *testing.T) {
	n := decode(t, "ハボウの轍 4 ~公安調査庁調査官・土師空也~", "ハボウの轍～公安調査庁調査官・土師空也～\n4\n")
	assert.Equal(t, "ハボウの轍～公安調査庁調査官・土師空也～", n.Title)
	require.NotNil(t, n.Volume)
	assert.Equal(t, 4, *n.Volume)
}

func TestDecodeZeroMeansNoVolume(t *testing.T) {
	n := decode(t, "x", "ラーメン大好き小泉さん\r\n0")
	assert.Equal(t, "ラーメン大好き小泉さん", n.Title)
	assert.Nil(t, n.Volume)
}

func TestDecodeSingleLine(t *testing.T) {
	n := decode(t, "raw", "  \n  綺麗なタイトル  \n\n")
	assert.Equal(t, "綺麗なタイトル", n.Title)
	assert.Nil(t, n.Volume)
}

func TestDecodeDegrades(t *testing.T) {
	n := decode(t, "raw title", "   \n")
	assert.Equal(t, "raw title", n.Title, "空响应保留原标题")
	assert.Nil(t, n.Volume)

	n = decode(t, "raw", "タイトル\n上巻")
	assert.Equal(t, "タイトル", n.Title)
	assert.Nil(t, n.Volume, "非整数第二行不附带卷号")

	n = decode(t, "raw", "タイトル\n１２\n余計な行")
	require.NotNil(t, n.Volume)
	assert.Equal(t, 12, *n.Volume)
}

func TestDecodeCanceled(t *testing.T) {
	d, err := New(nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Decode(ctx, "x", contract.Raw{Text: "y"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = New(json.RawMessage(`{"mode":"json"}`))
	assert.ErrorIs(t, err, contract.ErrConfig, "未知字段")
	_, err = New(json.RawMessage(`{`))
	assert.ErrorIs(t, err, contract.ErrConfig, "非法 JSON")
}
