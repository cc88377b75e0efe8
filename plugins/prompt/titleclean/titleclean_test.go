package titleclean

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func TestBuildChat(t *testing.T) {
	b, err := New(&Options{InlineSystem: "rules", SystemEnv: "-"})
	require.NoError(t, err)
	p, err := b.Build(context.Background(), "進撃の巨人 3")
	require.NoError(t, err)
	cp, ok := p.(contract.ChatPrompt)
	require.True(t, ok)
	assert.Equal(t, "rules", cp.Instruction())
	assert.Equal(t, "進撃の巨人 3", cp.UserContent())
}

func TestBuildEmptyTitle(t *testing.T) {
	b, err := New(nil)
	require.NoError(t, err)
	_, err = b.Build(context.Background(), "  ")
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestSystemSources(t *testing.T) {
	t.Setenv("TITLEFIX_TEST_PROMPT", "from env")
	b, err := New(&Options{SystemEnv: "TITLEFIX_TEST_PROMPT"})
	require.NoError(t, err)
	assert.Equal(t, "from env", b.System())

	p := filepath.Join(t.TempDir(), "sys.txt")
	require.NoError(t, os.WriteFile(p, []byte("from file\n"), 0o644))
	b, err = New(&Options{SystemPath: p, SystemEnv: "TITLEFIX_TEST_PROMPT"})
	require.NoError(t, err)
	assert.Equal(t, "from file", b.System(), "path 优先于 env")

	_, err = New(&Options{SystemPath: filepath.Join(t.TempDir(), "missing.txt")})
	assert.ErrorIs(t, err, contract.ErrConfig)

	b, err = New(&Options{SystemEnv: "-"})
	require.NoError(t, err)
	assert.Contains(t, b.System(), "# Output", "缺省使用内置 instruction")
}

func TestEstimateOverhead(t *testing.T) {
	b, err := New(&Options{InlineSystem: "12345678"})
	require.NoError(t, err)
	n := b.EstimateOverheadTokens(func(s string) int { return len(s) / 4 })
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, b.EstimateOverheadTokens(nil))
}
