package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

var chat = contract.ChatPrompt{{Role: "system", Content: "rules"}, {Role: "user", Content: "進撃の巨人 3"}}

func newClient(t *testing.T, url, api string) contract.LLMClient {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"base_url": url, "api_key": "k", "api": api, "timeout_seconds": 5})
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

func TestResponsesAPI(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"output":[{"type":"reasoning"},{"type":"message","content":[{"type":"output_text","text":"進撃の巨人\n3"}]}]}`)
	}))
	defer srv.Close()

	raw, err := newClient(t, srv.URL, "").Invoke(context.Background(), chat)
	require.NoError(t, err)
	assert.Equal(t, "進撃の巨人\n3", raw.Text)
	assert.Equal(t, "rules", got["instructions"])
	assert.Equal(t, "gpt-4.1-mini", got["model"])
}

func TestChatAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"タイトル\n0"}}]}`)
	}))
	defer srv.Close()

	raw, err := newClient(t, srv.URL, APIChat).Invoke(context.Background(), chat)
	require.NoError(t, err)
	assert.Equal(t, "タイトル\n0", raw.Text)
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{401, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrAuth) }},
		{403, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrAuth) }},
		{429, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrRateLimited) }},
		{400, func(t *testing.T, err error) { assert.ErrorIs(t, err, contract.ErrInvalidInput) }},
		{503, func(t *testing.T, err error) {
			var ne net.Error
			assert.True(t, errors.As(err, &ne), "5xx 应为网络类错误")
		}},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = io.WriteString(w, `{"error":{"message":"boom"}}`)
		}))
		_, err := newClient(t, srv.URL, "").Invoke(context.Background(), chat)
		srv.Close()
		require.Error(t, err, "status %d", tc.status)
		tc.check(t, err)
		var ue contract.UpstreamError
		require.True(t, errors.As(err, &ue))
		assert.Equal(t, tc.status, ue.UpstreamStatus())
		assert.Contains(t, ue.UpstreamMessage(), "boom")
	}
}

func TestInvalidBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":[]}`)
	}))
	defer srv.Close()
	_, err := newClient(t, srv.URL, "").Invoke(context.Background(), chat)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestMissingKey(t *testing.T) {
	t.Setenv("TITLEFIX_NO_KEY", "")
	_, err := New(json.RawMessage(`{"api_key_env":"TITLEFIX_NO_KEY"}`))
	assert.ErrorIs(t, err, contract.ErrConfig)
	_, err = New(json.RawMessage(`{"api_key":"k","api":"completions"}`))
	assert.ErrorIs(t, err, contract.ErrConfig)
}
