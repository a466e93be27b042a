package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/hitoshi/timecard/internal/analytics"
	"github.com/hitoshi/timecard/internal/attendance"
	"github.com/hitoshi/timecard/internal/auth"
	"github.com/hitoshi/timecard/internal/cache"
	"github.com/hitoshi/timecard/internal/config"
	"github.com/hitoshi/timecard/internal/database"
	"github.com/hitoshi/timecard/internal/handler"
	"github.com/hitoshi/timecard/internal/logger"
	"github.com/hitoshi/timecard/internal/metrics"
	"github.com/hitoshi/timecard/internal/middleware"
	"github.com/hitoshi/timecard/internal/profile"
	"github.com/hitoshi/timecard/internal/repository"
	"github.com/hitoshi/timecard/internal/repository/memstore"
	"github.com/hitoshi/timecard/internal/security"
	"github.com/hitoshi/timecard/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. .envがあれば読み込む（既存の環境変数が優先）
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .envでLOG_LEVELが指定された場合に備えて再設定する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
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
		slog.String("storage", cfg.StorageBackend),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandServe:
		return runServe(ctx, cfg)
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg, args[1:])
	case CommandGrantStaff:
		return runGrantStaff(ctx, cfg, args[1:])
	default:
		return runServe(ctx, cfg)
	}
}

// stores はストレージバックエンドごとのリポジトリ群。
type stores struct {
	users        repository.UserRepository
	authSessions repository.AuthSessionRepository
	profiles     repository.ProfileRepository
	workSessions repository.WorkSessionRepository

	health  handler.HealthChecker // memoryバックエンドではnil
	closers []func() error
}

// Close は開いた接続を逆順に閉じる。
func (s *stores) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("failed to close resource", slog.String("error", err.Error()))
		}
	}
}

// openStores は設定に応じてリポジトリを初期化する。
// REDIS_URLが設定されている場合はログインセッション参照にキャッシュを挟む。
func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	s := &stores{}

	switch cfg.StorageBackend {
	case config.StorageMemory:
		mem := memstore.New()
		s.users = mem.Users()
		s.authSessions = mem.AuthSessions()
		s.profiles = mem.Profiles()
		s.workSessions = mem.WorkSessions()
		slog.Warn("using in-memory storage; data is lost on restart")

	default:
		db, err := database.Connect(ctx, cfg.DatabaseURL, database.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnLifetime,
		})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		slog.Info("database connection established")

		s.users = repository.NewPostgresUserRepo(db)
		s.authSessions = repository.NewPostgresAuthSessionRepo(db)
		s.profiles = repository.NewPostgresProfileRepo(db)
		s.workSessions = repository.NewPostgresWorkSessionRepo(db)
		s.health = db
	}

	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		s.authSessions = cache.NewSessionCache(s.authSessions, client,
			time.Duration(cfg.SessionMaxAge)*time.Second)
		s.health = combinedHealth{primary: s.health, redis: client}
	}

	return s, nil
}

// combinedHealth はデータベースとRedisの両方の疎通を確認する。
type combinedHealth struct {
	primary handler.HealthChecker
	redis   *redis.Client
}

func (h combinedHealth) PingContext(ctx context.Context) error {
	if h.primary != nil {
		if err := h.primary.PingContext(ctx); err != nil {
			return err
		}
	}
	return h.redis.Ping(ctx).Err()
}

// services はドメインサービス群とメトリクス。
type services struct {
	auth       *auth.Service
	profile    *profile.Service
	attendance *attendance.Service
	analytics  *analytics.Service

	registry  *prometheus.Registry
	collector *metrics.Collector

	bootstrap *staffBootstrap
}

// newServices はリポジトリからドメインサービスを組み立てる。
func newServices(cfg *config.Config, st *stores) *services {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	authSvc := auth.NewService(
		st.users, st.authSessions,
		auth.NewTokenIssuer(cfg.SessionSecret, cfg.TokenTTL),
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	profileSvc := profile.NewService(st.profiles, security.NewNameSanitizer(), mc)
	attendanceSvc := attendance.NewService(st.workSessions, st.profiles, mc)
	analyticsSvc := analytics.NewService(attendanceSvc, profileSvc, cfg.Location, cfg.AnalyticsDefaultDays)

	svc := &services{
		auth:       authSvc,
		profile:    profileSvc,
		attendance: attendanceSvc,
		analytics:  analyticsSvc,
		registry:   reg,
		collector:  mc,
	}
	svc.bootstrap = newStaffBootstrap(svc, cfg.BootstrapStaffEmails)
	return svc
}

// rateLimiterConfig は設定のreq/minをリミッターのreq/secに変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rl := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rl.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rl.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitPunch > 0 {
		rl.PunchRate = rate.Limit(float64(cfg.RateLimitPunch) / 60.0)
		rl.PunchBurst = cfg.RateLimitPunch
	}
	return rl
}

// newRouter はサービス群からHTTPルーターを構成する。
func newRouter(cfg *config.Config, svc *services, rl *middleware.RateLimiter, health handler.HealthChecker) http.Handler {
	return handler.NewRouter(&handler.RouterDeps{
		Identity:          svc.auth,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rl,
		AuthRateLimit:     cfg.RateLimitAuth,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		Logger:         slog.Default(),
		StatusRecorder: svc.collector,
		PanicRecorder:  svc.collector,
		HealthChecker:  health,
		MetricsHandler: metrics.Handler(svc.registry),

		AuthService: svc.bootstrap.wrap(handler.NewAuthServiceAdapter(svc.auth)),
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ProfileService:    svc.profile,
		AttendanceService: svc.attendance,
		AnalyticsService:  handler.NewAnalyticsServiceAdapter(svc.analytics),
	})
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
// memoryバックエンドでは別プロセスのワーカーがデータを共有できないため、クリーンアップもこのプロセスで行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := newServices(cfg, st)
	if err := svc.bootstrap.applyExisting(ctx); err != nil {
		return fmt.Errorf("failed to apply bootstrap staff: %w", err)
	}

	rl := middleware.NewRateLimiter(rateLimiterConfig(cfg))
	defer rl.Stop()

	if cfg.StorageBackend == config.StorageMemory {
		job := cleanup.NewCleanupJob(st.authSessions, svc.attendance, svc.collector, slog.Default())
		go job.Start(ctx, cfg.CleanupInterval)
	}

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      newRouter(cfg, svc, rl, st.health),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilDone(ctx, server, "API server")
}

// serveUntilDone はctxがキャンセルされるまでserverを実行し、その後シャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server, name string) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s listen error: %w", name, err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down " + name + "...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れログインセッションの定期削除を行い、メトリクスを別ポートで公開する。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if cfg.StorageBackend == config.StorageMemory {
		return errors.New("worker requires STORAGE_BACKEND=postgres; the memory backend runs cleanup inside serve")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := newServices(cfg, st)
	job := cleanup.NewCleanupJob(st.authSessions, svc.attendance, svc.collector, slog.Default())

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(svc.registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := serveUntilDone(ctx, metricsServer, "worker metrics server"); err != nil {
			slog.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting", slog.Duration("cleanup_interval", cfg.CleanupInterval))

	// クリーンアップをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// "migrate status" の場合は適用せずに現在のバージョンだけを出力する。
func runMigrate(cfg *config.Config, args []string) error {
	if cfg.StorageBackend == config.StorageMemory {
		slog.Info("memory backend has no schema; nothing to migrate")
		return nil
	}

	dbAttr := slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL))

	if len(args) > 0 && args[0] == "status" {
		status, err := database.Status(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to read migration status: %w", err)
		}
		slog.Info("migration status", dbAttr,
			slog.Uint64("version", uint64(status.Version)),
			slog.Bool("dirty", status.Dirty),
		)
		return nil
	}

	slog.Info("running database migrations", dbAttr)

	status, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed at version %d (dirty=%t): %w", status.Version, status.Dirty, err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(status.Version)),
	)
	return nil
}

// runGrantStaff はメールアドレスで指定したユーザーをスタッフとして有効化する。
// プロフィール未作成の場合は表示名（省略時はメールアドレスのローカル部）で作成する。
func runGrantStaff(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return errors.New(Usage(CommandGrantStaff))
	}
	// memoryバックエンドはプロセスごとに空のため、serve中のユーザーを参照できない
	if cfg.StorageBackend == config.StorageMemory {
		return errors.New("grant-staff requires the postgres backend; set BOOTSTRAP_STAFF_EMAILS for the memory backend")
	}
	email := args[0]
	name := strings.Join(args[1:], " ")
	if name == "" {
		name = defaultStaffName(email)
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return grantStaff(ctx, newServices(cfg, st), email, name)
}

func grantStaff(ctx context.Context, svc *services, email, name string) error {
	user, err := svc.auth.FindUserByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to find user %q: %w", email, err)
	}

	p, err := svc.profile.GrantStaff(ctx, user.ID, name)
	if err != nil {
		return fmt.Errorf("failed to grant staff: %w", err)
	}

	slog.Info("staff granted",
		slog.String("email", user.Email),
		slog.String("profile_id", p.ID),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

var _ handler.HealthChecker = (*sql.DB)(nil)
