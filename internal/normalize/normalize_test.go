package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstsmile-dev/Excel-AI-project/internal/rate"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
	"github.com/firstsmile-dev/Excel-AI-project/plugins/decoder/titlelines"
	"github.com/firstsmile-dev/Excel-AI-project/plugins/llmclient/mock"
	"github.com/firstsmile-dev/Excel-AI-project/plugins/prompt/titleclean"
)

// stubLLM 按标题查表回复；errs 依次消费，为空后走查表。
type stubLLM struct {
	mu      sync.Mutex
	replies map[string]string
	errs    []error
	calls   atomic.Int64
	seen    []string
}

func (s *stubLLM) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	s.calls.Add(1)
	title := p.(contract.ChatPrompt).UserContent()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, title)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return contract.Raw{}, err
	}
	if r, ok := s.replies[title]; ok {
		return contract.Raw{Text: r}, nil
	}
	return contract.Raw{Text: title}, nil
}

func newNormalizer(t *testing.T, llm contract.LLMClient, opts Options) *Normalizer {
	t.Helper()
	pb, err := titleclean.New(&titleclean.Options{InlineSystem: "rules"})
	require.NoError(t, err)
	dec, err := titlelines.New(nil)
	require.NoError(t, err)
	if opts.RetryBase == 0 {
		opts.RetryBase = time.Millisecond
	}
	n, err := New(pb, llm, dec, nil, opts)
	require.NoError(t, err)
	return n
}

const (
	dirtyTitle = "ハボウの轍 4 ~公安調査庁調査官・土師空也~"
	cleanTitle = "ハボウの轍～公安調査庁調査官・土師空也～"
)

func TestApplyTwoLineReply(t *testing.T) {
	llm := &stubLLM{replies: map[string]string{dirtyTitle: cleanTitle + "\n4"}}
	n := newNormalizer(t, llm, Options{})
	recs := []contract.TitleRecord{{Row: 2, Title: dirtyTitle, Volume: contract.IntPtr(1), Color: true, Dirty: true}}

	out, err := n.Apply(context.Background(), recs)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, cleanTitle, out[0].Title)
	require.NotNil(t, out[0].Volume)
	assert.Equal(t, 4, *out[0].Volume)
	assert.Equal(t, dirtyTitle, recs[0].Title, "输入切片不应被修改")
}

func TestApplySingleLineKeepsVolume(t *testing.T) {
	llm := &stubLLM{replies: map[string]string{"raw": "cleaned"}}
	n := newNormalizer(t, llm, Options{})
	out, err := n.Apply(context.Background(), []contract.TitleRecord{{Row: 2, Title: "raw", Volume: contract.IntPtr(7), Dirty: true}})
	require.NoError(t, err)
	assert.Equal(t, "cleaned", out[0].Title)
	require.NotNil(t, out[0].Volume)
	assert.Equal(t, 7, *out[0].Volume, "单行回复不应覆盖卷号")

	out, err = n.Apply(context.Background(), []contract.TitleRecord{{Row: 3, Title: "raw2", Dirty: true}})
	require.NoError(t, err)
	assert.Nil(t, out[0].Volume)
}

func TestApplyEmptyTitleSkipsCall(t *testing.T) {
	llm := &stubLLM{}
	n := newNormalizer(t, llm, Options{})
	recs := []contract.TitleRecord{
		{Row: 2, Title: "", Volume: contract.IntPtr(1), Dirty: true},
		{Row: 3, Title: "   ", Volume: contract.IntPtr(1), Dirty: true},
	}
	out, err := n.Apply(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, recs, out)
	assert.EqualValues(t, 0, llm.calls.Load())

	res, err := n.Normalize(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "", res.Title)
	assert.EqualValues(t, 0, llm.calls.Load())
}

func TestApplyCleanRecordsUntouched(t *testing.T) {
	llm := &stubLLM{replies: map[string]string{"b 2": "b\n2"}}
	n := newNormalizer(t, llm, Options{Concurrency: 3})
	recs := []contract.TitleRecord{
		{Row: 2, Title: "a", Volume: contract.IntPtr(1)},
		{Row: 3, Title: "b 2", Volume: contract.IntPtr(1), Dirty: true},
		{Row: 4, Title: "c", Volume: contract.IntPtr(5)},
	}
	out, err := n.Apply(context.Background(), recs)
	require.NoError(t, err)
	assert.Equal(t, recs[0], out[0])
	assert.Equal(t, recs[2], out[2])
	assert.Equal(t, "b", out[1].Title)
	assert.Equal(t, 2, *out[1].Volume)
	assert.Equal(t, []string{"b 2"}, llm.seen)
}

func TestIdempotentWithEchoingModel(t *testing.T) {
	m, err := mock.NewClient(json.RawMessage(`{"mode":"extract"}`))
	require.NoError(t, err)
	n := newNormalizer(t, m, Options{CacheSize: -1})
	ctx := context.Background()

	first, err := n.Normalize(ctx, "ハボウの轍・公安調査庁調査官 3")
	require.NoError(t, err)
	second, err := n.Normalize(ctx, first.Title)
	require.NoError(t, err)
	assert.Equal(t, first.Title, second.Title)
	assert.Nil(t, second.Volume)
}

func TestAuthErrorAbortsWithoutRetry(t *testing.T) {
	llm := &stubLLM{errs: []error{contract.ErrAuth}}
	n := newNormalizer(t, llm, Options{MaxRetries: 3})
	recs := []contract.TitleRecord{
		{Row: 5, Title: "x", Dirty: true},
		{Row: 6, Title: "y", Dirty: true},
	}
	out, err := n.Apply(context.Background(), recs)
	require.Error(t, err)
	assert.Nil(t, out, "失败时不返回部分结果")
	assert.ErrorIs(t, err, contract.ErrAuth)
	assert.Contains(t, err.Error(), "row 5")
	assert.Contains(t, err.Error(), `"x"`)
	assert.EqualValues(t, 1, llm.calls.Load(), "认证错误不应重试，后续行不应再调用")
}

type netErr struct{}

func (netErr) Error() string   { return "connection reset" }
func (netErr) Timeout() bool   { return false }
func (netErr) Temporary() bool { return true }

func TestTransientErrorsRetried(t *testing.T) {
	llm := &stubLLM{
		errs:    []error{contract.ErrRateLimited, netErr{}},
		replies: map[string]string{"x": "X\n2"},
	}
	n := newNormalizer(t, llm, Options{MaxRetries: 2})
	res, err := n.Normalize(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "X", res.Title)
	assert.EqualValues(t, 3, llm.calls.Load())
}

func TestRetriesExhausted(t *testing.T) {
	llm := &stubLLM{errs: []error{contract.ErrRateLimited, contract.ErrRateLimited}}
	n := newNormalizer(t, llm, Options{MaxRetries: 1})
	_, err := n.Normalize(context.Background(), "x")
	assert.ErrorIs(t, err, contract.ErrRateLimited)
	assert.EqualValues(t, 2, llm.calls.Load())
}

func TestCacheDedupes(t *testing.T) {
	llm := &stubLLM{replies: map[string]string{"dup 1": "dup\n1"}}
	var progress []int
	var mu sync.Mutex
	n := newNormalizer(t, llm, Options{Progress: func(done, total int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
	}})
	recs := []contract.TitleRecord{
		{Row: 2, Title: "dup 1", Dirty: true},
		{Row: 3, Title: "dup 1", Dirty: true},
		{Row: 4, Title: "dup 1", Dirty: true},
	}
	out, err := n.Apply(context.Background(), recs)
	require.NoError(t, err)
	assert.EqualValues(t, 1, llm.calls.Load())
	for _, r := range out {
		assert.Equal(t, "dup", r.Title)
		assert.Equal(t, 1, *r.Volume)
	}
	*out[0].Volume = 99
	assert.Equal(t, 1, *out[1].Volume, "缓存结果不应共享指针")
	assert.Equal(t, []int{1, 2, 3}, progress)
}

func TestGateBudgetError(t *testing.T) {
	g := rate.New(map[rate.LimitKey]rate.Limits{"k": {MaxTokensPerReq: 1}}, nil)
	llm := &stubLLM{}
	n := newNormalizer(t, llm, Options{Gate: g, Key: "k", MaxRetries: 3})
	_, err := n.Normalize(context.Background(), "title")
	assert.ErrorIs(t, err, contract.ErrBudgetExceeded)
	assert.EqualValues(t, 0, llm.calls.Load())
}

func TestNewRequiresComponents(t *testing.T) {
	_, err := New(nil, nil, nil, nil, Options{})
	assert.True(t, errors.Is(err, contract.ErrConfig))
}
