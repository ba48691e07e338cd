// Package supabase はSupabase（GoTrue・PostgREST・Storage）のREST APIを使用した
// backendポートの実装を提供する。
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/templeman/internal/backend"
)

// maxErrorBody はエラーレスポンスとして読み取るボディの上限。
const maxErrorBody = 64 * 1024

// Observer は外部基盤呼び出しの所要時間を記録する。
type Observer interface {
	ObserveBackendCall(operation string, duration time.Duration, err error)
}

// Client はSupabaseのRESTクライアント。
// リクエストにはapikeyヘッダーと、利用者のアクセストークン
// （未ログイン時はanonキー）によるBearer認証を付与する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	anonKey    string
	observer   Observer
}

// Option はClientの任意設定。
type Option func(*Client)

// WithObserver は呼び出し計測用のObserverを設定する。
func WithObserver(o Observer) Option {
	return func(c *Client) {
		c.observer = o
	}
}

// NewClient はClientを生成する。baseURLはプロジェクトURL（例: https://xyz.supabase.co）。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, anonKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request は1回のAPI呼び出しの内容を表す。
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	token       string
	header      http.Header
	body        []byte
	contentType string
	out         any
}

// do はリクエストを送信し、成功時はoutにJSONをデコードする。
// 2xx以外は*backend.Errorを返す。
func (c *Client) do(ctx context.Context, r request) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveBackendCall(r.op, time.Since(start), err)
		}
	}()

	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	token := r.token
	if token == "" {
		token = c.anonKey
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		ct := r.contentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	for k, vs := range r.header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("supabase request failed",
			slog.String("operation", r.op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("supabase %s: %w", r.op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp)
		c.logger.Warn("supabase returned error status",
			slog.String("operation", r.op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("message", apiErr.Message),
		)
		return apiErr
	}

	if r.out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(r.out); err != nil && err != io.EOF {
		return fmt.Errorf("failed to decode %s response: %w", r.op, err)
	}
	return nil
}

// errorBody はGoTrue・PostgREST・Storageのエラー形式を合わせたもの。
type errorBody struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
	ErrorCode        string `json:"error_code"`
	Code             any    `json:"code"`
}

// parseError はエラーレスポンスを*backend.Errorに変換する。
// メッセージは msg, message, error_description, error の順で採用する。
func parseError(resp *http.Response) *backend.Error {
	apiErr := &backend.Error{Status: resp.StatusCode}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err == nil {
		for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
			if m != "" {
				apiErr.Message = m
				break
			}
		}
		switch {
		case eb.ErrorCode != "":
			apiErr.Code = eb.ErrorCode
		case eb.Code != nil:
			apiErr.Code = fmt.Sprint(eb.Code)
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// jsonBody はvをJSONにエンコードする。
func jsonBody(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return b, nil
}

// compile-time interface check
var _ backend.Client = (*Client)(nil)
