// Package normalize 将脏标题送入模型并解码为规范标题与卷号。
package normalize

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/firstsmile-dev/Excel-AI-project/internal/diag"
	"github.com/firstsmile-dev/Excel-AI-project/internal/prompt"
	"github.com/firstsmile-dev/Excel-AI-project/internal/rate"
	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// 默认值。
const (
	DefaultCacheSize     = 1024
	DefaultRetryBase     = 500 * time.Millisecond
	DefaultRetryMax      = 10 * time.Second
	DefaultReserveOutput = 64
)

// Options: 运行参数。零值可用。
type Options struct {
	Concurrency int // 并发上限，<=0 视为 1
	MaxRetries  int // 瞬时错误的最大重试次数
	RetryBase   time.Duration
	RetryMax    time.Duration
	CacheSize   int // 0 用默认；<0 关闭缓存
	// Gate/Key: 每次调用前的限流；Gate 为空则不限流。
	Gate *rate.Gate
	Key  rate.LimitKey
	// ReserveOutput: 限流申请时为输出预留的 token 数。
	ReserveOutput int
	BytesPerToken int
	// Progress: 每完成一条记录回调一次（done,total），可为空。
	Progress func(done, total int)
}

// Normalizer: PromptBuilder + LLMClient + Decoder 的组合。并发安全。
type Normalizer struct {
	pb    contract.PromptBuilder
	llm   contract.LLMClient
	dec   contract.Decoder
	log   *diag.Logger
	opts  Options
	est   contract.TokenEstimator
	cache *lru.Cache[string, contract.Normalization]
	sf    singleflight.Group
}

// New 组装 Normalizer。log 为空时使用 diag.Nop()。
func New(pb contract.PromptBuilder, llm contract.LLMClient, dec contract.Decoder, log *diag.Logger, opts Options) (*Normalizer, error) {
	if pb == nil || llm == nil || dec == nil {
		return nil, fmt.Errorf("normalize: %w: prompt builder, llm client and decoder are required", contract.ErrConfig)
	}
	if log == nil {
		log = diag.Nop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = DefaultRetryBase
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = DefaultRetryMax
	}
	if opts.ReserveOutput <= 0 {
		opts.ReserveOutput = DefaultReserveOutput
	}
	n := &Normalizer{pb: pb, llm: llm, dec: dec, log: log, opts: opts, est: prompt.MakeEstimator(opts.BytesPerToken)}
	if opts.CacheSize >= 0 {
		size := opts.CacheSize
		if size == 0 {
			size = DefaultCacheSize
		}
		c, err := lru.New[string, contract.Normalization](size)
		if err != nil {
			return nil, fmt.Errorf("normalize: cache: %w", err)
		}
		n.cache = c
	}
	return n, nil
}

// Normalize 规范化单个标题。空标题不调用模型，原样返回。
// 同一标题在一次运行内只调用一次模型（缓存 + 并发合并）。
func (n *Normalizer) Normalize(ctx context.Context, title string) (contract.Normalization, error) {
	if strings.TrimSpace(title) == "" {
		return contract.Normalization{Title: title}, nil
	}
	if n.cache != nil {
		if v, ok := n.cache.Get(title); ok {
			diag.IncOp("normalize", "cache", "hit")
			return copyNorm(v), nil
		}
	}
	v, err, _ := n.sf.Do(title, func() (any, error) {
		res, err := n.call(ctx, title)
		if err != nil {
			return contract.Normalization{}, err
		}
		if n.cache != nil {
			n.cache.Add(title, res)
		}
		return res, nil
	})
	if err != nil {
		return contract.Normalization{}, err
	}
	return copyNorm(v.(contract.Normalization)), nil
}

func copyNorm(v contract.Normalization) contract.Normalization {
	if v.Volume != nil {
		v.Volume = contract.IntPtr(*v.Volume)
	}
	return v
}

// call: 构造 prompt → 限流 → 调用（瞬时错误指数退避重试）→ 解码。
func (n *Normalizer) call(ctx context.Context, title string) (contract.Normalization, error) {
	p, err := n.pb.Build(ctx, title)
	if err != nil {
		return contract.Normalization{}, fmt.Errorf("build prompt: %w", err)
	}
	tokens := prompt.RequestTokens(p, n.est, n.opts.ReserveOutput)

	b := retry.NewExponential(n.opts.RetryBase)
	b = retry.WithCappedDuration(n.opts.RetryMax, b)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(n.opts.MaxRetries), b)

	attempt := 0
	var raw contract.Raw
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if n.opts.Gate != nil {
			if err := n.opts.Gate.Wait(ctx, rate.Ask{Key: n.opts.Key, Tokens: tokens}); err != nil {
				n.log.Error("gate", diag.Classify(err), "wait failed", nil)
				return err
			}
		}
		tm := n.log.StartWithKV("llm_client", "invoke", map[string]string{
			"attempt": strconv.Itoa(attempt),
			"tokens":  strconv.Itoa(tokens),
		})
		r, err := n.llm.Invoke(ctx, p)
		if err != nil {
			kv := map[string]string{}
			var ue contract.UpstreamError
			if errors.As(err, &ue) {
				kv["status"] = strconv.Itoa(ue.UpstreamStatus())
				kv["upstream"] = snippet(ue.UpstreamMessage(), 256)
			}
			tm.Fail(err, kv)
			if diag.Transient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		tm.Finish("invoke", int64(tokens))
		raw = r
		return nil
	})
	if err != nil {
		return contract.Normalization{}, err
	}
	res, err := n.dec.Decode(ctx, title, raw)
	if err != nil {
		return contract.Normalization{}, fmt.Errorf("decode: %w", err)
	}
	return res, nil
}

// Apply 对脏记录逐条规范化；干净记录与空标题原样保留，输出顺序与输入一致。
// 任一远端错误终止整批，返回带行号与标题的错误，不返回部分结果。
func (n *Normalizer) Apply(ctx context.Context, recs []contract.TitleRecord) ([]contract.TitleRecord, error) {
	out := make([]contract.TitleRecord, len(recs))
	copy(out, recs)

	var todo []int
	for i, r := range recs {
		if r.Dirty && strings.TrimSpace(r.Title) != "" {
			todo = append(todo, i)
		}
	}
	tm := n.log.StartWithKV("normalize", "apply", map[string]string{
		"records": strconv.Itoa(len(recs)),
		"dirty":   strconv.Itoa(len(todo)),
	})
	if len(todo) == 0 {
		tm.Finish("nothing to do", 0)
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.opts.Concurrency)
	var done atomic.Int64
	for _, i := range todo {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := recs[i]
			res, err := n.Normalize(gctx, rec.Title)
			if err != nil {
				return fmt.Errorf("normalize row %d (%q): %w", rec.Row, rec.Title, err)
			}
			if strings.TrimSpace(res.Title) != "" {
				out[i].Title = res.Title
			}
			if res.Volume != nil {
				out[i].Volume = contract.IntPtr(*res.Volume)
			}
			d := done.Add(1)
			if n.opts.Progress != nil {
				n.opts.Progress(int(d), len(todo))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		tm.Fail(err, nil)
		return nil, err
	}
	tm.Finish("applied", int64(len(todo)))
	return out, nil
}

func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && (s[cut]&0xC0) == 0x80 {
		cut--
	}
	return s[:cut] + "…"
}
