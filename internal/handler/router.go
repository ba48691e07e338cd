package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/templeman/internal/guard"
	"github.com/hitoshi/templeman/internal/middleware"
)

// ViewGuard は依存データを指定して画面ガードのミドルウェアを返す。
// guard.Guardが実装する。
type ViewGuard interface {
	Require(dep guard.Dependency) func(next http.Handler) http.Handler
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	StatusObserver    middleware.StatusObserver
	Guard             ViewGuard

	// 認証
	AuthService  AuthService
	Cookies      SessionCookies
	AuthObserver AuthObserver

	// 画面
	ProfileService    ProfileService
	MembershipService MembershipService
	Events            EventLister
	Sanitizer         Sanitizer

	// 運用
	HealthChecker  Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → SecurityHeaders → CORS → RateLimit(General) → CSRF
//
// 認証操作（POST /auth/*）には認証専用のレート制限を追加で適用し、
// 保護された画面にはそれぞれ必要な依存データを指定したガードを適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.StatusObserver))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(deps.RateLimiter.GeneralMiddleware())
	r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	authHandler := NewAuthHandler(deps.AuthService, deps.Cookies, deps.AuthObserver, deps.Logger)
	profileHandler := NewProfileHandler(deps.ProfileService, deps.Logger)
	membershipHandler := NewMembershipHandler(deps.MembershipService, deps.Logger)
	publicHandler := NewPublicHandler(deps.Events, deps.Sanitizer, deps.HealthChecker, deps.Logger)

	// --- 運用エンドポイント ---
	r.Get("/health", publicHandler.Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証不要の画面 ---
	r.Get("/", publicHandler.Landing)
	r.Get("/events", publicHandler.Events)
	r.Get("/donate", publicHandler.DonateForm)
	r.Post("/donate", publicHandler.Donate)

	// --- 認証 ---
	r.Route("/auth", func(r chi.Router) {
		r.Get("/", authHandler.Page)

		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/login", authHandler.Login)
			r.Post("/register", authHandler.Register)
			r.Post("/verify-otp", authHandler.VerifyOTP)
			r.Post("/resend-otp", authHandler.ResendOTP)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/admin/login", authHandler.AdminLogin)
		})

		r.Post("/logout", authHandler.Logout)
	})

	// --- 認証が必要な画面 ---
	r.With(deps.Guard.Require(guard.OptionalProfile)).Get("/home", Home)
	r.With(deps.Guard.Require(guard.OptionalProfile)).Get("/profile", Profile)

	r.Route("/create-profile", func(r chi.Router) {
		r.Use(deps.Guard.Require(guard.OptionalProfile))
		r.Get("/", profileHandler.Form)
		r.Post("/", profileHandler.Save)
	})

	r.Route("/membership", func(r chi.Router) {
		r.Use(deps.Guard.Require(guard.Profile))
		r.Get("/", membershipHandler.Plans)
		r.Post("/select", membershipHandler.Select)
	})

	r.Route("/payment", func(r chi.Router) {
		r.Use(deps.Guard.Require(guard.Profile))
		r.Get("/", membershipHandler.Payment)
		r.Post("/", membershipHandler.Submit)
	})

	r.With(deps.Guard.Require(guard.Applications)).Get("/status", Status)

	return r
}
