// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は認証済みの利用者（ログイン中のユーザー）を表す。
// ログイン・登録の成功時に生成され、ログアウトで破棄される。
// 1つのセッションにつき常に1つだけ存在する。
type Identity struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Phone   string `json:"phone,omitempty"`
	IsAdmin bool   `json:"isAdmin,omitempty"`
}

// Session はBFFが管理するブラウザセッションを表す。
// 外部認証基盤のトークンを保持し、CookieにはセッションIDのみを載せる。
type Session struct {
	ID     string
	UserID string
	// Identity はログイン時点のIdentityのスナップショット。
	Identity Identity
	// AccessToken は外部認証基盤が発行したアクセストークン。管理者セッションでは空。
	AccessToken  string
	RefreshToken string
	// TokenExpiresAt はAccessTokenの有効期限。
	TokenExpiresAt time.Time
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// HasToken はセッションが外部認証基盤のトークンを保持しているかを返す。
func (s *Session) HasToken() bool {
	return s.AccessToken != ""
}

// TokenExpired はアクセストークンが期限切れかどうかを返す。
// 時計のずれを考慮して30秒早めに期限切れとみなす。
func (s *Session) TokenExpired(now time.Time) bool {
	if s.TokenExpiresAt.IsZero() {
		return false
	}
	return !now.Add(30 * time.Second).Before(s.TokenExpiresAt)
}
