package atomicfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileReplaces(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sub", "out.csv")
	require.NoError(t, WriteFile(context.Background(), p, []byte("one"), 0o644))
	require.NoError(t, WriteFile(context.Background(), p, []byte("two"), 0o644))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "two", string(b))

	ents, err := os.ReadDir(filepath.Dir(p))
	require.NoError(t, err)
	assert.Len(t, ents, 1, "不应残留临时文件")
}

func TestWriteFileCanceled(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out.csv")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, WriteFile(ctx, p, []byte("x"), 0o644), context.Canceled)
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}
