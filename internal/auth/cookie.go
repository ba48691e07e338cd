package auth

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"
)

const (
	// SessionCookieName はBFFセッションIDを載せるCookie名。
	SessionCookieName = "session_id"
	// PendingSignupCookieName はSMS認証待ちの登録情報を載せるCookie名。
	PendingSignupCookieName = "pending_signup"

	pendingSignupMaxAge = 10 * 60
)

// ErrNoCookie はCookieが存在しないか、署名検証に失敗したことを表す。
var ErrNoCookie = errors.New("cookie not present or invalid")

// CookieConfig はCookieの発行設定。
type CookieConfig struct {
	Secret string
	Secure bool
	Domain string
	// MaxAge はセッションCookieの有効期間（秒）。
	MaxAge int
}

// Cookies は署名・暗号化されたCookieの読み書きを行う。
type Cookies struct {
	config  CookieConfig
	session *securecookie.SecureCookie
	pending *securecookie.SecureCookie
}

// NewCookies はSESSION_SECRETから署名鍵と暗号鍵を導出してCookiesを生成する。
func NewCookies(config CookieConfig) (*Cookies, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("cookie secret is required")
	}

	hashKey, err := deriveKey(config.Secret, "templeman cookie hash", 64)
	if err != nil {
		return nil, err
	}
	blockKey, err := deriveKey(config.Secret, "templeman cookie block", 32)
	if err != nil {
		return nil, err
	}

	newCodec := func(maxAge int) *securecookie.SecureCookie {
		c := securecookie.New(hashKey, blockKey)
		c.SetSerializer(securecookie.JSONEncoder{})
		c.MaxAge(maxAge)
		return c
	}

	return &Cookies{
		config:  config,
		session: newCodec(config.MaxAge),
		pending: newCodec(pendingSignupMaxAge),
	}, nil
}

// deriveKey はHKDF-SHA256で用途別の鍵を導出する。
func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive cookie key: %w", err)
	}
	return key, nil
}

// SetSession はセッションIDをCookieに書き込む。
func (c *Cookies) SetSession(w http.ResponseWriter, sessionID string) error {
	encoded, err := c.session.Encode(SessionCookieName, sessionID)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}
	http.SetCookie(w, c.cookie(SessionCookieName, encoded, c.config.MaxAge))
	return nil
}

// SessionID はCookieからセッションIDを取り出す。
func (c *Cookies) SessionID(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", ErrNoCookie
	}
	var id string
	if err := c.session.Decode(SessionCookieName, cookie.Value, &id); err != nil || id == "" {
		return "", ErrNoCookie
	}
	return id, nil
}

// ClearSession はセッションCookieを削除する。
func (c *Cookies) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(SessionCookieName, "", -1))
}

// SetPendingSignup はSMS認証待ちの登録情報をCookieに書き込む。
func (c *Cookies) SetPendingSignup(w http.ResponseWriter, p PendingSignup) error {
	encoded, err := c.pending.Encode(PendingSignupCookieName, p)
	if err != nil {
		return fmt.Errorf("failed to encode pending signup cookie: %w", err)
	}
	http.SetCookie(w, c.cookie(PendingSignupCookieName, encoded, pendingSignupMaxAge))
	return nil
}

// PendingSignup はCookieからSMS認証待ちの登録情報を取り出す。
func (c *Cookies) PendingSignup(r *http.Request) (*PendingSignup, error) {
	cookie, err := r.Cookie(PendingSignupCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrNoCookie
	}
	var p PendingSignup
	if err := c.pending.Decode(PendingSignupCookieName, cookie.Value, &p); err != nil || p.Phone == "" {
		return nil, ErrNoCookie
	}
	return &p, nil
}

// ClearPendingSignup はSMS認証待ちCookieを削除する。
func (c *Cookies) ClearPendingSignup(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(PendingSignupCookieName, "", -1))
}

func (c *Cookies) cookie(name, value string, maxAge int) *http.Cookie {
	ck := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.config.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.config.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if maxAge > 0 {
		ck.Expires = time.Now().Add(time.Duration(maxAge) * time.Second)
	}
	return ck
}
