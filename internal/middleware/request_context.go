// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー名。
const RequestIDHeader = "X-Request-ID"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// requestInfoContextKey はリクエストコンテキストにrequestInfoを格納するためのキー。
var requestInfoContextKey = contextKey("request_info")

// requestInfo はリクエスト単位の可変情報。
// 内側のハンドラーで判明したユーザーIDを外側のロギングに伝える。
type requestInfo struct {
	requestID string

	mu     sync.Mutex
	userID string
}

// NewRequestIDMiddleware はリクエストIDを採番してコンテキストとレスポンスヘッダーに設定するミドルウェアを返す。
// 信頼できる形式のX-Request-IDが付与されている場合はそれを引き継ぐ。
func NewRequestIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := uuid.Parse(id); err != nil {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			info := &requestInfo{requestID: id}
			ctx := context.WithValue(r.Context(), requestInfoContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func infoFromContext(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*requestInfo)
	return info
}

// RequestIDFromContext はリクエストIDを返す。未設定の場合は空文字。
func RequestIDFromContext(ctx context.Context) string {
	if info := infoFromContext(ctx); info != nil {
		return info.requestID
	}
	return ""
}

// SetUserID は認証済みユーザーIDをリクエスト情報に記録する。
// RequestIDミドルウェアを通過していないコンテキストでは何もしない。
func SetUserID(ctx context.Context, userID string) {
	if info := infoFromContext(ctx); info != nil {
		info.mu.Lock()
		info.userID = userID
		info.mu.Unlock()
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ガードを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	info := infoFromContext(ctx)
	if info == nil {
		return "", fmt.Errorf("user ID not found in context")
	}
	info.mu.Lock()
	defer info.mu.Unlock()
	if info.userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return info.userID, nil
}

// ContextWithUserID はユーザーIDを記録済みのコンテキストを返す。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	info := infoFromContext(ctx)
	if info == nil {
		info = &requestInfo{}
		ctx = context.WithValue(ctx, requestInfoContextKey, info)
	}
	SetUserID(ctx, userID)
	return ctx
}
