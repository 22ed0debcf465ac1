// Package connector 实现编排器调用各专用 agent 的 Tool Connector。
package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"medassist-go/internal/apperr"
	"medassist-go/internal/config"
	"medassist-go/pkg/log"

	"golang.org/x/time/rate"
)

// 已注册的 agent 名称。
const (
	AgentParser    = "parser"
	AgentKnowledge = "knowledge"
	AgentBooking   = "booking"
)

// DefaultAgents 是默认的 agent 路由表。
var DefaultAgents = map[string]string{
	AgentParser:    "/api/v1/agents/parser",
	AgentKnowledge: "/api/v1/agents/knowledge",
	AgentBooking:   "/api/v1/agents/booking",
}

// Connector 以统一的方式调用 agent，并把失败归一化为 apperr 分类。
type Connector interface {
	Invoke(ctx context.Context, agent string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// TokenSource 为每次调用签发服务令牌。
type TokenSource interface {
	GenerateServiceToken(agent string) (string, error)
}

// Options 配置 HTTP connector。
type Options struct {
	BaseURL        string
	Agents         map[string]string
	DefaultTimeout time.Duration
	RatePerSecond  float64
	Burst          int
	Tokens         TokenSource
	HTTPClient     *http.Client
}

// FromConfig 由配置构造 Options，agents 为空时使用默认路由。
func FromConfig(cfg config.ConnectorConfig, tokens TokenSource) Options {
	agents := cfg.Agents
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	return Options{
		BaseURL:        cfg.BaseURL,
		Agents:         agents,
		DefaultTimeout: cfg.Timeout,
		RatePerSecond:  cfg.RatePerSecond,
		Burst:          cfg.Burst,
		Tokens:         tokens,
	}
}

type httpConnector struct {
	opts       Options
	httpClient *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPConnector 创建一个通过 HTTP POST 调用 agent 的 Connector。
func NewHTTPConnector(opts Options) Connector {
	if len(opts.Agents) == 0 {
		opts.Agents = DefaultAgents
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &httpConnector{
		opts:       opts,
		httpClient: client,
		limiters:   make(map[string]*rate.Limiter),
	}
}

// limiter 返回 agent 对应的令牌桶，未配置速率时返回 nil。
func (c *httpConnector) limiter(agent string) *rate.Limiter {
	if c.opts.RatePerSecond <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[agent]
	if !ok {
		burst := c.opts.Burst
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(c.opts.RatePerSecond), burst)
		c.limiters[agent] = l
	}
	return l
}

// Invoke 调用指定 agent。瞬时失败（网络错误、单次调用超时、5xx）自动重试一次，
// 仍失败时返回 DegradedService；4xx 与父 context 结束不重试。
func (c *httpConnector) Invoke(ctx context.Context, agent string, payload interface{}, timeout time.Duration) (json.RawMessage, error) {
	path, ok := c.opts.Agents[agent]
	if !ok {
		return nil, apperr.Validation("unknown agent %q", agent)
	}
	if timeout <= 0 {
		timeout = c.opts.DefaultTimeout
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindValidation, apperr.CodeValidation, "encode payload for %s", agent)
	}
	url := strings.TrimRight(c.opts.BaseURL, "/") + path

	const maxAttempts = 2
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if l := c.limiter(agent); l != nil {
			if err := l.Wait(ctx); err != nil {
				return nil, parentError(ctx, agent, err)
			}
		}

		start := time.Now()
		raw, err := c.do(ctx, agent, url, body, timeout)
		if err == nil {
			log.Infof("[Connector] 调用 %s 成功, attempt: %d, latency: %s", agent, attempt, time.Since(start))
			return raw, nil
		}
		if ctx.Err() != nil {
			return nil, parentError(ctx, agent, ctx.Err())
		}
		if !isTransient(err) {
			log.Warnf("[Connector] 调用 %s 失败 (不重试), code: %s, error: %v", agent, apperr.CodeOf(err), err)
			return nil, err
		}
		lastErr = err
		log.Warnf("[Connector] 调用 %s 出现瞬时错误, attempt: %d/%d, error: %v", agent, attempt, maxAttempts, err)
	}

	return nil, apperr.Wrap(lastErr, apperr.KindUpstream, apperr.CodeDegradedService, "agent %s unavailable after retry", agent)
}

// transientError 标记可以重试的单次调用失败。
type transientError struct {
	err error
}

func (t *transientError) Error() string { return t.err.Error() }
func (t *transientError) Unwrap() error { return t.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}

func (c *httpConnector) do(ctx context.Context, agent, url string, body []byte, timeout time.Duration) (json.RawMessage, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "build request for %s", agent)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.opts.Tokens != nil {
		tok, err := c.opts.Tokens.GenerateServiceToken(agent)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "sign service token")
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, &transientError{apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "agent %s timed out after %s", agent, timeout)}
		}
		return nil, &transientError{apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "agent %s unreachable", agent)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, &transientError{apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "agent %s timed out reading response", agent)}
		}
		return nil, &transientError{apperr.Upstream(apperr.CodeUpstreamUnavailable, err, "read response from %s", agent)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if !json.Valid(data) {
			return nil, apperr.New(apperr.KindUpstream, apperr.CodeUpstreamUnavailable, "agent %s returned invalid JSON", agent)
		}
		return json.RawMessage(data), nil
	}

	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(data, &errBody)
	normalized := apperr.FromHTTP(resp.StatusCode, errBody.Code, errBody.Error)
	switch resp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &transientError{normalized}
	}
	return nil, normalized
}

// parentError 在请求级 context 结束时返回 Timeout 或取消错误，不再重试。
func parentError(ctx context.Context, agent string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.KindTimeout, apperr.CodeTimeout, "request deadline exceeded while calling %s", agent)
	}
	return apperr.Wrap(err, apperr.KindInternal, apperr.CodeInternal, "request cancelled while calling %s", agent)
}

// Describe 返回 connector 的路由表，便于启动日志。
func Describe(opts Options) string {
	parts := make([]string, 0, len(opts.Agents))
	for name, path := range opts.Agents {
		parts = append(parts, fmt.Sprintf("%s=%s", name, path))
	}
	return strings.Join(parts, ", ")
}
