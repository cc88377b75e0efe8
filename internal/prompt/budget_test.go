package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

func TestMakeEstimator(t *testing.T) {
	est := MakeEstimator(0)
	assert.Equal(t, 2, est("abcdef"), "6 字节 -> 2 token")
	assert.Equal(t, 0, est(""))
	assert.Equal(t, 3, MakeEstimator(1)("進"), "UTF-8 按字节计")
}

func TestPromptTokens(t *testing.T) {
	est := MakeEstimator(4)
	assert.Equal(t, 1, PromptTokens(contract.TextPrompt("abcd"), est))
	chat := contract.ChatPrompt{{Role: "system", Content: "abcdefgh"}, {Role: "user", Content: "ab"}}
	assert.Equal(t, 3, PromptTokens(chat, est))
	assert.Equal(t, 0, PromptTokens(42, est))
	assert.Equal(t, 67, RequestTokens(chat, nil, 64))
	assert.Equal(t, 3, RequestTokens(chat, est, -1))
}
