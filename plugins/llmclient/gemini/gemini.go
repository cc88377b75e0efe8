package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// Options: Gemini Developer API 最小必需。
type Options struct {
	BaseURL        string   `json:"base_url"`    // 为空使用 SDK 默认
	Model          string   `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv      string   `json:"api_key_env"` // 默认 GEMINI_API_KEY
	APIKey         string   `json:"api_key"`
	TimeoutSeconds int      `json:"timeout_seconds,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GEMINI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client 基于 genai SDK。
type Client struct {
	gc      *genai.Client
	model   string
	timeout time.Duration
	temp    *float32
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key (%s)", contract.ErrConfig, opts.APIKeyEnv)
	}
	cc := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	gc, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w: %v", contract.ErrConfig, err)
	}
	c := &Client{gc: gc, model: opts.Model, timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		c.temp = &t
	}
	return c, nil
}

// upstreamError: 5xx/408，实现 net.Error 以归入网络类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return true }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

type statusError struct {
	status int
	msg    string
	kind   error
}

func (e statusError) Error() string {
	return fmt.Sprintf("gemini upstream %d: %v: %s", e.status, e.kind, e.msg)
}
func (e statusError) Unwrap() error           { return e.kind }
func (e statusError) UpstreamStatus() int     { return e.status }
func (e statusError) UpstreamMessage() string { return e.msg }

// Invoke: ChatPrompt 的 system 消息走 SystemInstruction，user 消息作为内容。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	var sys, user string
	switch v := p.(type) {
	case contract.TextPrompt:
		user = string(v)
	case contract.ChatPrompt:
		sys, user = v.Instruction(), v.UserContent()
	default:
		return contract.Raw{}, fmt.Errorf("gemini: %w: prompt type %T", contract.ErrInvalidInput, p)
	}
	cfg := &genai.GenerateContentConfig{Temperature: c.temp}
	if sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	cctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	resp, err := c.gc.Models.GenerateContent(cctx, c.model, []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return contract.Raw{}, upstreamError{status: http.StatusRequestTimeout, msg: err.Error()}
		}
		return contract.Raw{}, mapError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return contract.Raw{}, fmt.Errorf("gemini: no candidates: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: resp.Text()}, nil
}

func mapError(err error) error {
	var code int
	var msg string
	var ae genai.APIError
	var pae *genai.APIError
	switch {
	case errors.As(err, &ae):
		code, msg = ae.Code, ae.Message
	case errors.As(err, &pae) && pae != nil:
		code, msg = pae.Code, pae.Message
	default:
		return err
	}
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return statusError{status: code, msg: msg, kind: contract.ErrAuth}
	case code == http.StatusTooManyRequests:
		return statusError{status: code, msg: msg, kind: contract.ErrRateLimited}
	case code == http.StatusRequestTimeout || code/100 == 5:
		return upstreamError{status: code, msg: msg}
	default:
		return statusError{status: code, msg: msg, kind: contract.ErrInvalidInput}
	}
}

var _ contract.LLMClient = (*Client)(nil)
