package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/templeman/internal/auth"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/validation"
)

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
type AuthService interface {
	Login(ctx context.Context, email, password string) (*model.Session, error)
	Register(ctx context.Context, email, phone, password string) (*auth.RegisterResult, error)
	VerifyOTP(ctx context.Context, pending auth.PendingSignup, code string) (*model.Session, error)
	ResendOTP(ctx context.Context, pending auth.PendingSignup) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	AdminLogin(ctx context.Context, email, password string) (*model.Session, error)
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

// SessionCookies はセッションCookieとSMS認証待ちCookieの読み書きを行う。
// auth.Cookiesが実装する。
type SessionCookies interface {
	SetSession(w http.ResponseWriter, sessionID string) error
	SessionID(r *http.Request) (string, error)
	ClearSession(w http.ResponseWriter)
	SetPendingSignup(w http.ResponseWriter, p auth.PendingSignup) error
	PendingSignup(r *http.Request) (*auth.PendingSignup, error)
	ClearPendingSignup(w http.ResponseWriter)
}

// AuthObserver は認証操作の結果を記録する。
type AuthObserver interface {
	ObserveAuth(action string, err error)
}

// AuthHandler はログイン・新規登録・SMS認証・パスワード再設定・ログアウトのハンドラー。
type AuthHandler struct {
	service  AuthService
	cookies  SessionCookies
	observer AuthObserver
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。observerはnilでもよい。
func NewAuthHandler(service AuthService, cookies SessionCookies, observer AuthObserver, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service:  service,
		cookies:  cookies,
		observer: observer,
		logger:   logger,
	}
}

type authPageBody struct {
	View       string `json:"view"`
	OTPPending bool   `json:"otpPending"`
}

// Page はログイン画面を返す。ログイン済みの場合は/homeへ遷移する。
// GET /auth
func (h *AuthHandler) Page(w http.ResponseWriter, r *http.Request) {
	if id, err := h.cookies.SessionID(r); err == nil {
		if _, err := h.service.CurrentSession(r.Context(), id); err == nil {
			middleware.WriteRedirect(w, homePath, nil)
			return
		}
	}

	_, err := h.cookies.PendingSignup(r)
	middleware.WriteJSON(w, authPageBody{View: "auth", OTPPending: err == nil})
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}
	in, err := validation.Login(validation.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	sess, err := h.service.Login(r.Context(), in.Email, in.Password)
	h.observe("login", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Login failed")
		return
	}

	if !h.startSession(w, sess) {
		return
	}
	middleware.WriteRedirect(w, homePath, model.NewNotice("Welcome back!", "You have successfully logged in."))
}

// AdminLogin は設定された管理者資格情報でログインする。
// POST /auth/admin/login
func (h *AuthHandler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	sess, err := h.service.AdminLogin(r.Context(), req.Email, req.Password)
	h.observe("admin_login", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Login failed")
		return
	}

	if !h.startSession(w, sess) {
		return
	}
	middleware.WriteRedirect(w, homePath, model.NewNotice("Welcome back!", "You have successfully logged in."))
}

// Register は新規登録を行う。SMS認証が必要な場合は認証待ちCookieを発行する。
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req validation.RegistrationInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}
	in, err := validation.Registration(req)
	if err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}

	res, err := h.service.Register(r.Context(), in.Email, in.Phone, in.Password)
	h.observe("register", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Registration failed")
		return
	}

	if res.Session != nil {
		if !h.startSession(w, res.Session) {
			return
		}
		middleware.WriteRedirect(w, homePath, model.NewNotice("Welcome!", "Your account has been created successfully."))
		return
	}

	if err := h.cookies.SetPendingSignup(w, *res.Pending); err != nil {
		h.logger.Error("failed to set pending signup cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteJSON(w, noticeBody{
		Notice:     model.NewNotice("Verification code sent!", "Please check your phone for the OTP code."),
		OTPPending: true,
	})
}

type otpRequest struct {
	Code string `json:"code"`
}

// VerifyOTP はSMS認証コードを検証し、成功時にログインさせる。
// POST /auth/verify-otp
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	pending, err := h.cookies.PendingSignup(r)
	if err != nil {
		writeFailure(w, h.logger, model.NewNoPendingSignupError(), "Verification failed")
		return
	}

	var req otpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}
	code, err := validation.OTP(req.Code)
	if err != nil {
		writeFailure(w, h.logger, err, "Invalid OTP")
		return
	}

	sess, err := h.service.VerifyOTP(r.Context(), *pending, code)
	h.observe("verify_otp", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Verification failed")
		return
	}

	h.cookies.ClearPendingSignup(w)
	if !h.startSession(w, sess) {
		return
	}
	middleware.WriteRedirect(w, homePath, model.NewNotice("Phone verified!", "Your account has been created successfully."))
}

// ResendOTP はSMS認証コードを再送する。
// POST /auth/resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	pending, err := h.cookies.PendingSignup(r)
	if err != nil {
		writeFailure(w, h.logger, model.NewNoPendingSignupError(), "Resend failed")
		return
	}

	err = h.service.ResendOTP(r.Context(), *pending)
	h.observe("resend_otp", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Resend failed")
		return
	}
	middleware.WriteJSON(w, noticeBody{
		Notice:     model.NewNotice("Code resent!", "Please check your phone for the new OTP code."),
		OTPPending: true,
	})
}

type resetRequest struct {
	Email string `json:"email"`
}

// ResetPassword はパスワード再設定メールを送信する。
// POST /auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, h.logger, err, "")
		return
	}
	email, err := validation.ResetEmail(req.Email)
	if err != nil {
		writeFailure(w, h.logger, err, "Invalid Email")
		return
	}

	err = h.service.ResetPasswordForEmail(r.Context(), email)
	h.observe("reset_password", err)
	if err != nil {
		writeFailure(w, h.logger, err, "Reset Failed")
		return
	}
	middleware.WriteJSON(w, noticeBody{
		Notice: model.NewNotice("Reset Link Sent", "Please check your email for the password reset link."),
	})
}

// Logout はセッションを破棄してランディング画面へ遷移する。
// Cookieが無効でもCookieの削除と遷移は行う。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, err := h.cookies.SessionID(r); err == nil {
		err := h.service.Logout(r.Context(), id)
		h.observe("logout", err)
		if err != nil {
			h.logger.Error("logout failed", slog.String("error", err.Error()))
		}
	}

	h.cookies.ClearSession(w)
	h.cookies.ClearPendingSignup(w)
	middleware.WriteRedirect(w, landingPath, model.NewNotice("Logged out successfully", "See you soon!"))
}

// startSession はセッションCookieを設定する。失敗時はレスポンスを書き込みfalseを返す。
func (h *AuthHandler) startSession(w http.ResponseWriter, sess *model.Session) bool {
	if err := h.cookies.SetSession(w, sess.ID); err != nil {
		h.logger.Error("failed to set session cookie", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return false
	}
	return true
}

func (h *AuthHandler) observe(action string, err error) {
	if h.observer != nil {
		h.observer.ObserveAuth(action, err)
	}
}
