package flaky

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func TestFailThenDelegate(t *testing.T) {
	c, err := New(json.RawMessage(`{"failures":2}`))
	require.NoError(t, err)
	ctx := context.Background()
	p := contract.TextPrompt("タイトル 5")

	for i := 0; i < 2; i++ {
		_, err = c.Invoke(ctx, p)
		assert.ErrorIs(t, err, contract.ErrRateLimited)
	}
	raw, err := c.Invoke(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, "タイトル\n5", raw.Text)
}

func TestBadOptions(t *testing.T) {
	_, err := New(json.RawMessage(`{"mock":{"mode":"nope"}}`))
	assert.ErrorIs(t, err, contract.ErrConfig)
}
