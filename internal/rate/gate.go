package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// LimitKey: 限流分组键（client + sha256(api key)）。
type LimitKey string

// Limits: 每分组的限额。0 表示该维度不启用。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}

// Ask: 一次模型请求的放行申请；每次固定消耗 1 个请求额度。
type Ask struct {
	Key    LimitKey
	Tokens int
}

// Gate: 按分组的 RPM/TPM 闸门，并发安全。未配置的分组不限额。
type Gate struct {
	clk    func() time.Time
	limits map[LimitKey]Limits

	mu sync.Mutex
	m  map[LimitKey]*pair
}

type pair struct {
	mu  sync.Mutex
	lim Limits
	req *rate.Limiter
	tok *rate.Limiter
}

// New 从静态配置构造闸门；clk 为空则使用 time.Now。
func New(m map[LimitKey]Limits, clk func() time.Time) *Gate {
	if clk == nil {
		clk = time.Now
	}
	limits := make(map[LimitKey]Limits, len(m))
	for k, v := range m {
		limits[k] = v
	}
	return &Gate{clk: clk, limits: limits, m: make(map[LimitKey]*pair)}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

func (g *Gate) get(key LimitKey) *pair {
	g.mu.Lock()
	defer g.mu.Unlock()
	p := g.m[key]
	if p == nil {
		lim := g.limits[key]
		p = &pair{lim: lim, req: perMinute(lim.RPM), tok: perMinute(lim.TPM)}
		g.m[key] = p
	}
	return p
}

func (p *pair) check(a Ask) error {
	if a.Tokens < 0 {
		return fmt.Errorf("rate: %w: negative tokens", contract.ErrInvalidInput)
	}
	if p.lim.MaxTokensPerReq > 0 && a.Tokens > p.lim.MaxTokensPerReq {
		return fmt.Errorf("rate: %w: %d tokens exceeds per-request cap %d", contract.ErrBudgetExceeded, a.Tokens, p.lim.MaxTokensPerReq)
	}
	if p.tok != nil && a.Tokens > p.lim.TPM {
		return fmt.Errorf("rate: %w: %d tokens exceeds tpm %d", contract.ErrBudgetExceeded, a.Tokens, p.lim.TPM)
	}
	return nil
}

// Try: 非阻塞尝试；额度不足时不消耗并返回 false。
func (g *Gate) Try(a Ask) bool {
	p := g.get(a.Key)
	if p.check(a) != nil {
		return false
	}
	now := g.clk()
	p.mu.Lock()
	defer p.mu.Unlock()
	var rr, rt *rate.Reservation
	if p.req != nil {
		rr = p.req.ReserveN(now, 1)
	}
	if p.tok != nil && a.Tokens > 0 {
		rt = p.tok.ReserveN(now, a.Tokens)
	}
	if delayOf(rr, now) > 0 || delayOf(rt, now) > 0 {
		cancelAt(rr, now)
		cancelAt(rt, now)
		return false
	}
	return true
}

// Wait 阻塞直到两个维度均可放行或 ctx 取消。超出单请求上限时快速失败。
func (g *Gate) Wait(ctx context.Context, a Ask) error {
	p := g.get(a.Key)
	if err := p.check(a); err != nil {
		return err
	}
	if p.req == nil && p.tok == nil {
		return ctx.Err()
	}
	now := g.clk()
	p.mu.Lock()
	var rr, rt *rate.Reservation
	if p.req != nil {
		rr = p.req.ReserveN(now, 1)
	}
	if p.tok != nil && a.Tokens > 0 {
		rt = p.tok.ReserveN(now, a.Tokens)
	}
	p.mu.Unlock()

	d := delayOf(rr, now)
	if dt := delayOf(rt, now); dt > d {
		d = dt
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		at := g.clk()
		p.mu.Lock()
		cancelAt(rr, at)
		cancelAt(rt, at)
		p.mu.Unlock()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 当前可用请求/令牌的向下取整估值，仅诊断用。
func (g *Gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	p := g.get(key)
	now := g.clk()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.req != nil {
		rpmAvail = clampFloor(p.req.TokensAt(now))
	}
	if p.tok != nil {
		tpmAvail = clampFloor(p.tok.TokensAt(now))
	}
	return rpmAvail, tpmAvail
}

func delayOf(r *rate.Reservation, now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	if !r.OK() {
		return rate.InfDuration
	}
	return r.DelayFrom(now)
}

func cancelAt(r *rate.Reservation, at time.Time) {
	if r != nil && r.OK() {
		r.CancelAt(at)
	}
}

func clampFloor(v float64) int {
	if v < 0 {
		return 0
	}
	return int(v)
}
