package supabase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/model"
)

// userResponse はGoTrueのユーザーオブジェクト。
type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

func (u *userResponse) identity() model.Identity {
	return model.Identity{ID: u.ID, Email: u.Email, Phone: u.Phone}
}

// tokenResponse はGoTrueのトークン発行レスポンス。
type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	User         *userResponse `json:"user"`
}

// session はトークンレスポンスをbackend.AuthSessionに変換する。
func (t *tokenResponse) session(now time.Time) *backend.AuthSession {
	s := &backend.AuthSession{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	switch {
	case t.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(t.ExpiresAt, 0)
	case t.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(t.ExpiresIn) * time.Second)
	}
	if t.User != nil {
		s.User = t.User.identity()
	}
	return s
}

// signUpResponse は登録レスポンス。自動確認時はトークンを含み、
// 確認待ちの場合はユーザーオブジェクトそのものが返る。
type signUpResponse struct {
	tokenResponse
	ID    string `json:"id"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// SignInWithPassword はメールアドレスとパスワードでログインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.AuthSession, error) {
	body, err := jsonBody(map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := c.do(ctx, request{
		op:     "auth.sign_in",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   body,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	return out.session(time.Now()), nil
}

// SignUp は新規登録を行う。
func (c *Client) SignUp(ctx context.Context, email, phone, password, redirectTo string) (*backend.SignUpResult, error) {
	body, err := jsonBody(map[string]string{"email": email, "phone": phone, "password": password})
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}

	var out signUpResponse
	if err := c.do(ctx, request{
		op:     "auth.sign_up",
		method: http.MethodPost,
		path:   "/auth/v1/signup",
		query:  q,
		body:   body,
		out:    &out,
	}); err != nil {
		return nil, err
	}

	if out.AccessToken != "" && out.User != nil {
		s := out.session(time.Now())
		return &backend.SignUpResult{User: s.User, Session: s}, nil
	}
	if out.ID == "" {
		return nil, fmt.Errorf("sign up response did not include a user")
	}
	return &backend.SignUpResult{
		User: model.Identity{ID: out.ID, Email: out.Email, Phone: out.Phone},
	}, nil
}

// VerifyOTP はSMS認証コードを検証する。
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*backend.AuthSession, error) {
	body, err := jsonBody(map[string]string{"type": "sms", "phone": phone, "token": code})
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := c.do(ctx, request{
		op:     "auth.verify_otp",
		method: http.MethodPost,
		path:   "/auth/v1/verify",
		body:   body,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	return out.session(time.Now()), nil
}

// ResendOTP はSMS認証コードを再送する。
func (c *Client) ResendOTP(ctx context.Context, phone string) error {
	body, err := jsonBody(map[string]string{"type": "sms", "phone": phone})
	if err != nil {
		return err
	}
	return c.do(ctx, request{
		op:     "auth.resend_otp",
		method: http.MethodPost,
		path:   "/auth/v1/resend",
		body:   body,
	})
}

// ResetPasswordForEmail はパスワード再設定メールを送信する。
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	body, err := jsonBody(map[string]string{"email": email})
	if err != nil {
		return err
	}

	q := url.Values{}
	if redirectTo != "" {
		q.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, request{
		op:     "auth.recover",
		method: http.MethodPost,
		path:   "/auth/v1/recover",
		query:  q,
		body:   body,
	})
}

// RefreshSession はリフレッシュトークンでセッションを更新する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*backend.AuthSession, error) {
	body, err := jsonBody(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, err
	}

	var out tokenResponse
	if err := c.do(ctx, request{
		op:     "auth.refresh",
		method: http.MethodPost,
		path:   "/auth/v1/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   body,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	return out.session(time.Now()), nil
}

// GetUser はアクセストークンに対応する利用者を取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	var out userResponse
	if err := c.do(ctx, request{
		op:     "auth.get_user",
		method: http.MethodGet,
		path:   "/auth/v1/user",
		token:  accessToken,
		out:    &out,
	}); err != nil {
		return nil, err
	}
	id := out.identity()
	return &id, nil
}

// SignOut はアクセストークンを無効化する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{
		op:     "auth.sign_out",
		method: http.MethodPost,
		path:   "/auth/v1/logout",
		token:  accessToken,
	})
}
