// Package guard は認証が必要な画面の前段で動作する共通ガードを提供する。
//
// ガードはセッションを解決し、未認証であれば/authへ遷移させる。
// 認証済みであればIdentityをリクエストに設定し、画面が必要とする
// 依存データ（プロフィールや申込一覧）をタイムアウト付きで取得してから画面を呼び出す。
package guard

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/templeman/internal/backend"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
	"github.com/hitoshi/templeman/internal/session"
)

// Dependency は画面が必要とする依存データの種類。
type Dependency int

const (
	// None は依存データなし。
	None Dependency = iota
	// OptionalProfile はプロフィールがあれば取得する。
	OptionalProfile
	// Profile はプロフィールが必須。未作成なら/create-profileへ遷移する。
	Profile
	// Applications は申込一覧を取得する。
	Applications
)

// String はメトリクスとログ用の名前を返す。
func (d Dependency) String() string {
	switch d {
	case OptionalProfile:
		return "optional_profile"
	case Profile:
		return "profile"
	case Applications:
		return "applications"
	default:
		return "none"
	}
}

// 遷移先
const (
	AuthPath          = "/auth"
	CreateProfilePath = "/create-profile"
)

// DefaultTimeout は依存データ取得のデフォルトのタイムアウト。
const DefaultTimeout = 10 * time.Second

// SessionResolver はセッションIDから有効なセッションを解決する。
// auth.Serviceが実装する。
type SessionResolver interface {
	CurrentSession(ctx context.Context, sessionID string) (*model.Session, error)
}

// SessionCookieReader はリクエストからセッションIDを読み取る。
// auth.Cookiesが実装する。
type SessionCookieReader interface {
	SessionID(r *http.Request) (string, error)
}

// Observer はガードの結果を記録する。
type Observer interface {
	ObserveGuard(outcome string)
}

// View はガードを通過した画面に渡される情報。
type View struct {
	Session      *model.Session
	Store        *session.Store
	Identity     model.Identity
	Profile      *model.Profile
	Applications []*model.Application
}

type contextKey struct{}

// FromContext はガードが設定したViewを返す。
func FromContext(ctx context.Context) (*View, bool) {
	v, ok := ctx.Value(contextKey{}).(*View)
	return v, ok
}

// WithView はViewを設定したコンテキストを返す。
func WithView(ctx context.Context, v *View) context.Context {
	return context.WithValue(ctx, contextKey{}, v)
}

// Guard は認証ガード。
type Guard struct {
	cookies      SessionCookieReader
	sessions     SessionResolver
	stores       *session.Manager
	profiles     backend.Profiles
	applications backend.Applications
	timeout      time.Duration
	observer     Observer
	logger       *slog.Logger
}

// Option はGuardのオプション。
type Option func(*Guard)

// WithTimeout は依存データ取得のタイムアウトを設定する。
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithObserver はガード結果の記録先を設定する。
func WithObserver(o Observer) Option {
	return func(g *Guard) { g.observer = o }
}

// New はGuardを生成する。
func New(
	cookies SessionCookieReader,
	sessions SessionResolver,
	stores *session.Manager,
	profiles backend.Profiles,
	applications backend.Applications,
	logger *slog.Logger,
	opts ...Option,
) *Guard {
	g := &Guard{
		cookies:      cookies,
		sessions:     sessions,
		stores:       stores,
		profiles:     profiles,
		applications: applications,
		timeout:      DefaultTimeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Require は依存データdepを必要とする画面のミドルウェアを返す。
func (g *Guard) Require(dep Dependency) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// 1. セッションの解決
			sessionID, err := g.cookies.SessionID(r)
			if err != nil {
				g.redirect(w, AuthPath, nil, "no_session")
				return
			}
			sess, err := g.sessions.CurrentSession(ctx, sessionID)
			if err != nil {
				if !model.IsCode(err, model.ErrCodeUnauthorized) {
					g.logger.Warn("session check failed", slog.String("error", err.Error()))
				}
				g.redirect(w, AuthPath, nil, "invalid_session")
				return
			}

			// 2. Identityの設定
			store := g.stores.Open(ctx, sess.ID)
			ident := sess.Identity
			if stored := store.Identity(); stored != nil && stored.ID == sess.UserID {
				ident = *stored
			}
			middleware.SetUserID(ctx, ident.ID)

			view := &View{
				Session:  sess,
				Store:    store,
				Identity: ident,
			}

			// 3. 依存データの取得
			if err := g.load(ctx, dep, view); err != nil {
				g.writeLoadError(w, dep, err)
				return
			}

			if dep == Profile && view.Profile == nil {
				g.redirect(w, CreateProfilePath,
					model.NewErrorNotice("Profile Required", "Please create your profile first."),
					"profile_required",
				)
				return
			}

			// 4. 画面の呼び出し
			g.observe("allowed")
			next.ServeHTTP(w, r.WithContext(WithView(ctx, view)))
		})
	}
}

// load は依存データをタイムアウト付きで取得する。
func (g *Guard) load(ctx context.Context, dep Dependency, view *View) error {
	if dep == None {
		return nil
	}
	// 管理者セッションは外部基盤のトークンを持たない
	if view.Identity.IsAdmin {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	switch dep {
	case OptionalProfile, Profile:
		p, err := g.profiles.GetProfile(ctx, view.Session.AccessToken, view.Identity.ID)
		if err != nil {
			return err
		}
		view.Store.CacheProfile(p)
		view.Profile = p
	case Applications:
		apps, err := g.applications.ListApplications(ctx, view.Session.AccessToken, view.Identity.ID)
		if err != nil {
			return err
		}
		view.Applications = apps
	}
	return nil
}

func (g *Guard) writeLoadError(w http.ResponseWriter, dep Dependency, err error) {
	g.logger.Warn("failed to load view dependency",
		slog.String("dependency", dep.String()),
		slog.String("error", err.Error()),
	)
	g.observe("dependency_failed")

	if errors.Is(err, context.DeadlineExceeded) {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewUnavailableError())
		return
	}
	middleware.WriteErrorResponse(w, http.StatusServiceUnavailable,
		model.NewPersistenceError(backend.Message(err, "Failed to load data. Please try again.")))
}

func (g *Guard) redirect(w http.ResponseWriter, target string, notice *model.Notice, outcome string) {
	g.observe(outcome)
	middleware.WriteRedirect(w, target, notice)
}

func (g *Guard) observe(outcome string) {
	if g.observer != nil {
		g.observer.ObserveGuard(outcome)
	}
}
