package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/templeman/internal/auth"
	"github.com/hitoshi/templeman/internal/backend/supabase"
	"github.com/hitoshi/templeman/internal/config"
	"github.com/hitoshi/templeman/internal/database"
	"github.com/hitoshi/templeman/internal/events"
	"github.com/hitoshi/templeman/internal/guard"
	"github.com/hitoshi/templeman/internal/handler"
	"github.com/hitoshi/templeman/internal/logger"
	"github.com/hitoshi/templeman/internal/membership"
	"github.com/hitoshi/templeman/internal/metrics"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/notify"
	"github.com/hitoshi/templeman/internal/profile"
	"github.com/hitoshi/templeman/internal/repository"
	"github.com/hitoshi/templeman/internal/security"
	"github.com/hitoshi/templeman/internal/session"
	"github.com/hitoshi/templeman/internal/worker"
	"github.com/hitoshi/templeman/internal/worker/cleanup"
)

// ジョブ名
const (
	jobEventsImport = "events_import"
	jobCleanup      = "cleanup"
)

const (
	shutdownTimeout    = 30 * time.Second
	dbPingTimeout      = 5 * time.Second
	ephemeralSweepTick = time.Minute
)

// dbPool はserve/workerで共通のコネクションプール設定。
var dbPool = database.PoolConfig{
	MaxOpenConns:    25,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		fmt.Fprint(w, Usage)
		return err
	}

	switch cmd {
	case CommandHelp:
		fmt.Fprint(w, Usage)
		return nil
	case CommandHealthcheck:
		// フル初期化は不要
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, dbPool)
	if err != nil {
		return nil, err
	}
	if err := database.Ping(ctx, db, dbPingTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)
	return db, nil
}

// server はserveモードで起動する構成要素をまとめたもの。
type server struct {
	handler   http.Handler
	scheduler *worker.Scheduler
	close     func()
}

// newServer は全依存関係をワイヤリングし、ルーターとスケジューラを構築する。
// closeはバックグラウンドのクリーンアップゴルーチンを停止する。
func newServer(cfg *config.Config, db *sql.DB, reg *prometheus.Registry, log *slog.Logger) (*server, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリ
	sessionRepo := repository.NewPostgresSessionRepo(db)
	stateRepo := repository.NewPostgresClientStateRepo(db)
	eventRepo := repository.NewPostgresTempleEventRepo(db)

	// 2. 外部基盤
	client := supabase.NewClient(
		&http.Client{Timeout: cfg.SupabaseTimeout},
		log, cfg.SupabaseURL, cfg.SupabaseAnonKey,
		supabase.WithObserver(collector),
	)

	// 3. セッション状態
	ephemeral := session.NewMemoryStore(cfg.HandoffTTL, ephemeralSweepTick)
	stores := session.NewManager(stateRepo, ephemeral, log)

	// 4. 認証
	authService := auth.NewService(client, sessionRepo, stores, auth.ServiceConfig{
		SessionMaxAge:     cfg.SessionMaxAge,
		BaseURL:           cfg.BaseURL,
		JWTSecret:         cfg.SupabaseJWTSecret,
		AdminEmail:        cfg.AdminEmail,
		AdminPasswordHash: cfg.AdminPasswordHash,
	}, log)
	cookies, err := auth.NewCookies(auth.CookieConfig{
		Secret: cfg.SessionSecret,
		Secure: cfg.CookieSecure,
		Domain: cfg.CookieDomain,
		MaxAge: cfg.SessionMaxAge,
	})
	if err != nil {
		ephemeral.Stop()
		return nil, fmt.Errorf("failed to initialize cookies: %w", err)
	}
	viewGuard := guard.New(cookies, authService, stores, client, client, log,
		guard.WithTimeout(cfg.GuardTimeout),
		guard.WithObserver(collector),
	)

	// 5. ドメインサービス
	text := security.NewTextSanitizer()
	profileService := profile.NewService(client, client, text, collector, profile.Config{
		Bucket:  cfg.DocumentBucket,
		MaxSize: cfg.DocumentMaxSize,
	}, log)
	membershipService := membership.NewService(
		membership.DefaultCatalog(), client, newNotifier(cfg, log), collector, log,
	)
	eventService := events.NewService(events.DefaultCatalog(), eventRepo, log)

	// 6. 行事フィードの定期取り込み
	scheduler := worker.NewScheduler(log, worker.WithObserver(collector))
	if cfg.EventsFeedURL != "" {
		importer := events.NewImporter(cfg.EventsFeedURL, eventRepo, text, security.NewEventHTMLSanitizer(), log)
		if err := scheduler.Add(jobEventsImport, cfg.EventsRefreshSchedule, importer); err != nil {
			ephemeral.Stop()
			return nil, err
		}
	}

	// 7. ルーター
	limiter := middleware.NewRateLimiter(
		middleware.PerMinuteRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth), log,
	)
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:    limiter,
		StatusObserver: collector,
		Guard:          viewGuard,

		AuthService:  authService,
		Cookies:      cookies,
		AuthObserver: collector,

		ProfileService:    profileService,
		MembershipService: membershipService,
		Events:            eventService,
		Sanitizer:         text,

		HealthChecker:  db,
		MetricsHandler: metrics.Handler(reg),
	})

	return &server{
		handler:   router,
		scheduler: scheduler,
		close: func() {
			limiter.Stop()
			ephemeral.Stop()
		},
	}, nil
}

// newNotifier はSENDGRID_API_KEYが設定されていればメール通知、なければログ出力の通知を返す。
func newNotifier(cfg *config.Config, log *slog.Logger) membership.Notifier {
	if cfg.SendGridAPIKey == "" {
		return notify.NewLogNotifier(log)
	}
	return notify.NewMailNotifier(cfg.SendGridAPIKey, cfg.MailFrom, log)
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーと行事取り込みを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv, err := newServer(cfg, db, reg, slog.Default())
	if err != nil {
		return err
	}
	defer srv.close()

	// 起動直後に1回取り込み、以降はスケジュールに従う
	jobsDone := make(chan struct{})
	go func() {
		defer close(jobsDone)
		for _, name := range srv.scheduler.Jobs() {
			if err := srv.scheduler.RunOnce(ctx, name); err != nil {
				slog.Warn("initial job run failed", slog.String("job", name), slog.String("error", err.Error()))
			}
		}
		srv.scheduler.Start(ctx)
	}()

	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-jobsDone

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションと古い行事の削除をCLEANUP_SCHEDULEに従って実行する。
// ctxがキャンセルされると実行中のジョブの完了を待って終了する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	scheduler, err := newWorkerScheduler(cfg, db, slog.Default())
	if err != nil {
		return err
	}

	slog.Info("worker starting", slog.String("cleanup_schedule", cfg.CleanupSchedule))

	// 起動直後に1回実行
	if err := scheduler.RunOnce(ctx, jobCleanup); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	scheduler.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerScheduler はクリーンアップジョブを登録したスケジューラを返す。
func newWorkerScheduler(cfg *config.Config, db *sql.DB, log *slog.Logger) (*worker.Scheduler, error) {
	job := cleanup.NewJob(repository.NewPostgresSessionRepo(db), db, log)

	scheduler := worker.NewScheduler(log)
	if err := scheduler.Add(jobCleanup, cfg.CleanupSchedule, job); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
