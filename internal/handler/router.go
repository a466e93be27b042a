package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/hitoshi/timecard/internal/middleware"
	"github.com/hitoshi/timecard/internal/model"
)

// HealthChecker は依存先の疎通確認を行うインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Identity          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	AuthRateLimit     int // /auth/signup, /auth/signin のIPあたり req/min
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger
	StatusRecorder    middleware.StatusRecorder
	PanicRecorder     middleware.PanicRecorder

	// 運用
	HealthChecker  HealthChecker // nilの場合は常に正常
	MetricsHandler http.Handler  // nilの場合は /metrics を公開しない

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	ProfileService    ProfileServiceInterface
	AttendanceService AttendanceServiceInterface
	AnalyticsService  AnalyticsServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → StatusMetrics
//	  → (認証ルート) Identity → RateLimit(General) → CSRF
//
// サインアップ・サインイン（/auth/signup, /auth/signin）はIP単位のレート制限のみ適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger, deps.PanicRecorder))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(middleware.SecurityHeadersConfig{
		HSTS:            deps.AuthConfig.CookieSecure,
		NoStorePrefixes: middleware.DefaultNoStorePrefixes,
	}))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewStatusMetricsMiddleware(deps.StatusRecorder))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	profileHandler := NewProfileHandler(deps.ProfileService)
	attendanceHandler := NewAttendanceHandler(deps.AttendanceService)
	analyticsHandler := NewAnalyticsHandler(deps.AnalyticsService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)

	authLimit := deps.AuthRateLimit
	if authLimit <= 0 {
		authLimit = 10
	}
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(authLimit, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
					writeAPIErrorResponse(w, http.StatusTooManyRequests, model.NewRateLimitExceededError())
				}),
			))
			r.Post("/signup", authHandler.SignUp)
			r.Post("/signin", authHandler.SignIn)
		})
		r.Post("/signout", authHandler.SignOut)

		r.With(middleware.NewIdentityMiddleware(deps.Identity)).Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Identity → RateLimit(General) → CSRF
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewIdentityMiddleware(deps.Identity))
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		// プロフィール
		r.Route("/api/profile", func(r chi.Router) {
			r.Post("/", profileHandler.CreateProfile)
			r.Get("/", profileHandler.GetProfile)
			r.Patch("/", profileHandler.UpdateProfile)
		})

		// ユーザー管理（スタッフ）と勤務履歴
		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", profileHandler.ListUsers)
			r.Post("/{id}/approve", profileHandler.ApproveUser)
			r.Post("/{id}/toggle-status", profileHandler.ToggleUserStatus)
			r.Post("/{id}/promote", profileHandler.PromoteToStaff)
			r.Get("/{id}/sessions", attendanceHandler.ListSessions)
		})

		// 打刻（打刻専用レート制限を追加）
		r.Route("/api/sessions", func(r chi.Router) {
			r.With(deps.RateLimiter.PunchMiddleware()).Post("/check-in", attendanceHandler.CheckIn)
			r.With(deps.RateLimiter.PunchMiddleware()).Post("/check-out", attendanceHandler.CheckOut)
			r.Get("/current", attendanceHandler.CurrentSession)
		})

		// 集計
		r.Route("/api/analytics", func(r chi.Router) {
			r.Get("/users/{userID}", analyticsHandler.UserSummary)
			r.Get("/team", analyticsHandler.TeamSummary)
		})
	})

	return r
}

// healthHandler は /health のハンドラーを返す。
// 依存先への疎通に失敗した場合は503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
