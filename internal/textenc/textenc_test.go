package textenc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func sjis(t *testing.T, s string) []byte {
	t.Helper()
	b, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte(s))
	require.NoError(t, err)
	return b
}

func TestDecodeOrder(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want string
		enc  string
	}{
		{"带 BOM 的 UTF-8", append([]byte{0xEF, 0xBB, 0xBF}, "タイトル"...), "タイトル", "utf-8-sig"},
		{"无 BOM 的 UTF-8", []byte("タイトル"), "タイトル", "utf-8"},
		{"Shift_JIS", sjis(t, "装丁、製本,コミック"), "装丁、製本,コミック", "cp932"},
		{"纯 ASCII", []byte("a,b"), "a,b", "utf-8"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, enc, err := Decode(tc.in, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.enc, enc.Name)
		})
	}
}

func TestDecodeAllFail(t *testing.T) {
	// 0x81 0xFF 在 UTF-8 与 Shift_JIS 中均非法
	_, _, err := Decode([]byte{0x81, 0xFF}, []string{"utf-8", "cp932"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, contract.ErrDecode))
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	assert.Len(t, de.Attempts, 2)
	assert.Contains(t, err.Error(), "cp932")
}

func TestLookup(t *testing.T) {
	for _, n := range []string{"Shift_JIS", "sjis", "CP932", "windows-31j"} {
		e, err := Lookup(n)
		require.NoError(t, err, n)
		assert.Equal(t, "cp932", e.Name)
	}
	e, err := Lookup("windows-1252")
	require.NoError(t, err)
	assert.NotEmpty(t, e.Name)

	_, err = Lookup("no-such-encoding")
	assert.ErrorIs(t, err, contract.ErrConfig)
}

func TestEncodeRoundTrip(t *testing.T) {
	enc, err := Lookup("cp932")
	require.NoError(t, err)
	b, err := Encode("ハボウの轍・公安調査庁調査官", enc)
	require.NoError(t, err)
	back, got, err := Decode(b, []string{"utf-8", "cp932"})
	require.NoError(t, err)
	assert.Equal(t, "cp932", got.Name)
	assert.Equal(t, "ハボウの轍・公安調査庁調査官", back)
}

func TestEncodeUnrepresentable(t *testing.T) {
	enc, err := Lookup("cp932")
	require.NoError(t, err)
	_, err = Encode("emoji 😀", enc)
	assert.Error(t, err, "Shift_JIS 无法表示的字符应报错")
}

func TestEncodeBOM(t *testing.T) {
	enc, err := Lookup("utf-8-sig")
	require.NoError(t, err)
	b, err := Encode("a", enc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xEF, 0xBB, 0xBF, 'a'}, b)
}
