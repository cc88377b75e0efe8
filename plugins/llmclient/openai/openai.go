package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/firstsmile-dev/Excel-AI-project/pkg/contract"
)

// API 形态。
const (
	APIResponses = "responses"
	APIChat      = "chat"
)

// Options: 最小必需配置。
type Options struct {
	BaseURL        string   `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string   `json:"model"`           // 为空则使用默认
	APIKeyEnv      string   `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string   `json:"api_key"`         // 明文传入（仅测试用）
	TimeoutSeconds int      `json:"timeout_seconds"` // 单请求超时（秒）
	Temperature    *float64 `json:"temperature,omitempty"`
	// API: "responses"（默认，instructions + input）或 "chat"（/chat/completions）。
	API string `json:"api"`
	// EndpointPath 覆盖默认路径；可为完整 URL。
	EndpointPath       string            `json:"endpoint_path"`
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.API == "" {
		o.API = APIResponses
	}
	if o.EndpointPath == "" {
		if o.API == APIChat {
			o.EndpointPath = "/chat/completions"
		} else {
			o.EndpointPath = "/responses"
		}
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client: OpenAI 兼容客户端。
type Client struct {
	rc    *resty.Client
	url   string
	api   string
	model string
	temp  *float64
}

// New 从原样 JSON 选项构造客户端。缺少 API key 视为配置错误。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	if opts.API != APIResponses && opts.API != APIChat {
		return nil, fmt.Errorf("openai: %w: unknown api %q", contract.ErrConfig, opts.API)
	}
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key (%s)", contract.ErrConfig, opts.APIKeyEnv)
	}
	fullURL := opts.EndpointPath
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = strings.TrimRight(opts.BaseURL, "/") + "/" + strings.TrimLeft(opts.EndpointPath, "/")
	}
	rc := resty.New().
		SetTimeout(time.Duration(opts.TimeoutSeconds)*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if !opts.DisableDefaultAuth {
		rc.SetAuthToken(key)
	}
	for k, v := range opts.ExtraHeaders {
		if k != "" {
			rc.SetHeader(k, v)
		}
	}
	return &Client{rc: rc, url: fullURL, api: opts.API, model: opts.Model, temp: opts.Temperature}, nil
}

// 请求/响应（最小字段）。
type inputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
type inputMessage struct {
	Role    string      `json:"role"`
	Content []inputPart `json:"content"`
}
type responsesReq struct {
	Model        string         `json:"model"`
	Instructions string         `json:"instructions,omitempty"`
	Input        []inputMessage `json:"input"`
	Temperature  *float64       `json:"temperature,omitempty"`
}
type responsesResp struct {
	OutputText string `json:"output_text"`
	Output     []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
type chatReq struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}
type chatResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// upstreamError 实现 net.Error：5xx/408 归为网络类，允许重试。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// statusError: 其余非 2xx，包裹分类哨兵（ErrAuth/ErrRateLimited/ErrInvalidInput）。
type statusError struct {
	status int
	msg    string
	kind   error
}

func (e statusError) Error() string {
	return fmt.Sprintf("openai upstream %d: %v: %s", e.status, e.kind, e.msg)
}
func (e statusError) Unwrap() error            { return e.kind }
func (e statusError) UpstreamStatus() int      { return e.status }
func (e statusError) UpstreamMessage() string  { return e.msg }

func (c *Client) body(p contract.Prompt) (any, error) {
	var sys, user string
	switch v := p.(type) {
	case contract.TextPrompt:
		user = string(v)
	case contract.ChatPrompt:
		sys, user = v.Instruction(), v.UserContent()
	default:
		return nil, fmt.Errorf("openai: %w: prompt type %T", contract.ErrInvalidInput, p)
	}
	if c.api == APIChat {
		msgs := make([]chatMessage, 0, 2)
		if sys != "" {
			msgs = append(msgs, chatMessage{Role: "system", Content: sys})
		}
		msgs = append(msgs, chatMessage{Role: "user", Content: user})
		return chatReq{Model: c.model, Messages: msgs, Temperature: c.temp}, nil
	}
	return responsesReq{
		Model:        c.model,
		Instructions: sys,
		Input:        []inputMessage{{Role: "user", Content: []inputPart{{Type: "input_text", Text: user}}}},
		Temperature:  c.temp,
	}, nil
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt) (contract.Raw, error) {
	body, err := c.body(p)
	if err != nil {
		return contract.Raw{}, err
	}
	resp, err := c.rc.R().SetContext(ctx).SetBody(body).Post(c.url)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return contract.Raw{}, upstreamError{status: http.StatusRequestTimeout, msg: err.Error()}
		}
		return contract.Raw{}, err
	}
	status := resp.StatusCode()
	if status/100 != 2 {
		msg := strings.TrimSpace(string(resp.Body()))
		if len(msg) > 4<<10 {
			msg = msg[:4<<10]
		}
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return contract.Raw{}, statusError{status: status, msg: msg, kind: contract.ErrAuth}
		case status == http.StatusTooManyRequests:
			return contract.Raw{}, statusError{status: status, msg: msg, kind: contract.ErrRateLimited}
		case status == http.StatusRequestTimeout || status/100 == 5:
			return contract.Raw{}, upstreamError{status: status, msg: msg}
		default:
			return contract.Raw{}, statusError{status: status, msg: msg, kind: contract.ErrInvalidInput}
		}
	}
	text, err := c.extract(resp.Body())
	if err != nil {
		return contract.Raw{}, err
	}
	return contract.Raw{Text: text}, nil
}

func (c *Client) extract(b []byte) (string, error) {
	if c.api == APIChat {
		var cr chatResp
		if err := json.Unmarshal(b, &cr); err != nil {
			return "", fmt.Errorf("openai decode: %w", contract.ErrResponseInvalid)
		}
		if len(cr.Choices) == 0 {
			return "", fmt.Errorf("openai: no choices: %w", contract.ErrResponseInvalid)
		}
		return cr.Choices[0].Message.Content, nil
	}
	var rr responsesResp
	if err := json.Unmarshal(b, &rr); err != nil {
		return "", fmt.Errorf("openai decode: %w", contract.ErrResponseInvalid)
	}
	if rr.OutputText != "" {
		return rr.OutputText, nil
	}
	var sb strings.Builder
	found := false
	for _, o := range rr.Output {
		if o.Type != "message" {
			continue
		}
		for _, part := range o.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
				found = true
			}
		}
	}
	if !found {
		return "", fmt.Errorf("openai: no output_text: %w", contract.ErrResponseInvalid)
	}
	return sb.String(), nil
}

var _ contract.LLMClient = (*Client)(nil)
