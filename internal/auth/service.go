// Package auth はログイン・新規登録・SMS認証・パスワード再設定と、
// BFFセッションの発行・解決・破棄を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/repository"
	"github.com/hitoshi/templeman/internal/session"
)

// AdminUserID は管理者セッションのIdentityに付与する固定ID。
const AdminUserID = "admin"

// PendingSignup はSMS認証待ちの新規登録を表す。
type PendingSignup struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

// RegisterResult は新規登録の結果を表す。
// 外部基盤がSMS認証を要求した場合はPendingのみ、即時確定した場合はSessionのみが設定される。
type RegisterResult struct {
	Pending *PendingSignup
	Session *model.Session
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	BaseURL       string
	// JWTSecret が設定されている場合、アクセストークンをローカルで検証する。
	JWTSecret         string
	AdminEmail        string
	AdminPasswordHash string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	auth        backend.Auth
	sessionRepo repository.SessionRepository
	stores      *session.Manager
	config      ServiceConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	auth backend.Auth,
	sessionRepo repository.SessionRepository,
	stores *session.Manager,
	config ServiceConfig,
	logger *slog.Logger,
) *Service {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Service{
		auth:        auth,
		sessionRepo: sessionRepo,
		stores:      stores,
		config:      config,
		logger:      logger,
		now:         time.Now,
	}
}

// Login はメールアドレスとパスワードでログインし、セッションを発行する。
// 失敗時は外部基盤のメッセージを持つAuthErrorを返す。
func (s *Service) Login(ctx context.Context, email, password string) (*model.Session, error) {
	as, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", slog.String("error", err.Error()))
		return nil, model.NewAuthError(backend.Message(err, ""))
	}
	return s.startSession(ctx, as.User, as)
}

// Register は新規登録を行う。SMS認証が必要な場合はPendingを返す。
func (s *Service) Register(ctx context.Context, email, phone, password string) (*RegisterResult, error) {
	res, err := s.auth.SignUp(ctx, email, phone, password, s.config.BaseURL+"/home")
	if err != nil {
		s.logger.Info("registration failed", slog.String("error", err.Error()))
		return nil, model.NewAuthError(backend.Message(err, "Registration failed. Please try again."))
	}

	if res.Session != nil {
		sess, err := s.startSession(ctx, res.Session.User, res.Session)
		if err != nil {
			return nil, err
		}
		return &RegisterResult{Session: sess}, nil
	}

	s.logger.Info("registration pending otp", slog.String("user_id", res.User.ID))
	return &RegisterResult{Pending: &PendingSignup{
		UserID: res.User.ID,
		Email:  email,
		Phone:  phone,
	}}, nil
}

// VerifyOTP はSMS認証コードを検証し、成功時にセッションを発行する。
func (s *Service) VerifyOTP(ctx context.Context, pending PendingSignup, code string) (*model.Session, error) {
	as, err := s.auth.VerifyOTP(ctx, pending.Phone, code)
	if err != nil {
		s.logger.Info("otp verification failed", slog.String("error", err.Error()))
		return nil, model.NewAuthError(backend.Message(err, "Invalid verification code."))
	}

	ident := as.User
	if ident.Email == "" {
		ident.Email = pending.Email
	}
	if ident.Phone == "" {
		ident.Phone = pending.Phone
	}
	return s.startSession(ctx, ident, as)
}

// ResendOTP はSMS認証コードを再送する。
func (s *Service) ResendOTP(ctx context.Context, pending PendingSignup) error {
	if err := s.auth.ResendOTP(ctx, pending.Phone); err != nil {
		return model.NewAuthError(backend.Message(err, "Failed to resend code."))
	}
	return nil
}

// ResetPasswordForEmail はパスワード再設定メールを送信する。
func (s *Service) ResetPasswordForEmail(ctx context.Context, email string) error {
	if err := s.auth.ResetPasswordForEmail(ctx, email, s.config.BaseURL+"/auth"); err != nil {
		return model.NewAuthError(backend.Message(err, "Failed to send reset link."))
	}
	return nil
}

// AdminLogin は設定された管理者資格情報と一致する場合のみ管理者セッションを発行する。
// 外部基盤には問い合わせない。
func (s *Service) AdminLogin(ctx context.Context, email, password string) (*model.Session, error) {
	if s.config.AdminEmail == "" || s.config.AdminPasswordHash == "" {
		return nil, model.NewAuthError("Invalid admin credentials")
	}

	emailOK := subtle.ConstantTimeCompare(
		[]byte(strings.ToLower(email)),
		[]byte(strings.ToLower(s.config.AdminEmail)),
	) == 1
	pwErr := bcrypt.CompareHashAndPassword([]byte(s.config.AdminPasswordHash), []byte(password))
	if !emailOK || pwErr != nil {
		s.logger.Warn("admin login failed")
		return nil, model.NewAuthError("Invalid admin credentials")
	}

	ident := model.Identity{ID: AdminUserID, Email: s.config.AdminEmail, IsAdmin: true}
	return s.startSession(ctx, ident, nil)
}

// CurrentSession はセッションIDから有効なセッションを解決する。
// アクセストークンが期限切れの場合はリフレッシュする。
// セッションが存在しないか無効な場合はUnauthorizedエラーを返す。
func (s *Service) CurrentSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if sess == nil {
		return nil, model.NewUnauthorizedError()
	}

	if !sess.HasToken() {
		if sess.Identity.IsAdmin {
			return sess, nil
		}
		return nil, model.NewUnauthorizedError()
	}

	if s.config.JWTSecret != "" {
		err := s.verifyAccessToken(sess.AccessToken, sess.UserID)
		switch {
		case err == nil:
			return sess, nil
		case errors.Is(err, jwt.ErrTokenExpired):
			return s.refresh(ctx, sess)
		default:
			s.logger.Info("access token rejected", slog.String("error", err.Error()))
			return nil, model.NewUnauthorizedError()
		}
	}

	if sess.TokenExpired(s.now()) {
		return s.refresh(ctx, sess)
	}

	ident, err := s.auth.GetUser(ctx, sess.AccessToken)
	if err != nil {
		if backend.IsStatus(err, http.StatusUnauthorized) {
			return s.refresh(ctx, sess)
		}
		return nil, fmt.Errorf("failed to verify access token: %w", err)
	}
	if ident.ID != sess.UserID {
		return nil, model.NewUnauthorizedError()
	}
	return sess, nil
}

// verifyAccessToken は外部基盤が発行したHS256トークンの署名・有効期限・subjectを検証する。
func (s *Service) verifyAccessToken(token, userID string) error {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.config.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return err
	}
	if claims.Subject != userID {
		return fmt.Errorf("token subject mismatch")
	}
	return nil
}

// refresh はリフレッシュトークンでアクセストークンを更新する。
func (s *Service) refresh(ctx context.Context, sess *model.Session) (*model.Session, error) {
	if sess.RefreshToken == "" {
		return nil, model.NewUnauthorizedError()
	}

	as, err := s.auth.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		s.logger.Info("token refresh failed",
			slog.String("user_id", sess.UserID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewUnauthorizedError()
	}

	if err := s.sessionRepo.UpdateTokens(ctx, sess.ID, as.AccessToken, as.RefreshToken, as.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to update session tokens: %w", err)
	}

	refreshed := *sess
	refreshed.AccessToken = as.AccessToken
	refreshed.RefreshToken = as.RefreshToken
	refreshed.TokenExpiresAt = as.ExpiresAt
	return &refreshed, nil
}

// Logout はセッション状態を破棄する。
// 外部基盤のトークン無効化は失敗してもログアウトを継続する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	sess, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if sess != nil && sess.HasToken() {
		if err := s.auth.SignOut(ctx, sess.AccessToken); err != nil {
			s.logger.Warn("backend sign out failed", slog.String("error", err.Error()))
		}
	}

	if err := s.stores.Open(ctx, sessionID).Logout(ctx); err != nil {
		s.logger.Warn("failed to clear session state", slog.String("error", err.Error()))
	}

	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	if sess != nil {
		s.logger.Info("user logged out", slog.String("user_id", sess.UserID))
	}
	return nil
}

// startSession はBFFセッションを作成し、Identityをセッション状態に保存する。
func (s *Service) startSession(ctx context.Context, ident model.Identity, as *backend.AuthSession) (*model.Session, error) {
	sess, err := s.createSession(ctx, ident, as)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.stores.Attach(sess.ID).SetIdentity(ctx, ident); err != nil {
		return nil, fmt.Errorf("failed to store identity: %w", err)
	}

	s.logger.Info("session started",
		slog.String("user_id", ident.ID),
		slog.Bool("admin", ident.IsAdmin),
	)
	return sess, nil
}

// createSession はセッションを作成し永続化する。
func (s *Service) createSession(ctx context.Context, ident model.Identity, as *backend.AuthSession) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	sess := &model.Session{
		ID:        sessionID,
		UserID:    ident.ID,
		Identity:  ident,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if as != nil {
		sess.AccessToken = as.AccessToken
		sess.RefreshToken = as.RefreshToken
		sess.TokenExpiresAt = as.ExpiresAt
	}

	if err := s.sessionRepo.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	return sess, nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
