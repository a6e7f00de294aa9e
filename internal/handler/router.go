package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/vidasana/internal/metrics"
	"github.com/hitoshi/vidasana/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	Gatherer          prometheus.Gatherer
	SessionChecker    middleware.SessionChecker
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 識別情報・セッション
	IdentityService IdentityServiceInterface
	Authenticator   Authenticator
	RiskEvaluator   RiskEvaluator
	SessionService  SessionServiceInterface
	SessionWatcher  SessionWatcher

	// 予約・生活習慣
	AppointmentService AppointmentServiceInterface
	HabitService       HabitServiceInterface

	// フォロー関係
	FollowService FollowServiceInterface

	// ヘルスチェック
	Stores map[string]Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → Session → RateLimit
//
// 登録・ログイン・ヘルスチェック・メトリクスはセッション確認の外に配置する。
// 状態を変更するルートはfail-closed、セッション状態の参照のみfail-openとする。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mc := deps.Metrics
	if mc == nil {
		mc = metrics.NopCollector{}
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(mc))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	identityHandler := NewIdentityHandler(deps.IdentityService, deps.RiskEvaluator)
	appointmentHandler := NewAppointmentHandler(deps.AppointmentService, deps.IdentityService)
	habitHandler := NewHabitHandler(deps.HabitService, deps.IdentityService)
	followHandler := NewFollowHandler(deps.FollowService)
	healthHandler := NewHealthHandler(deps.Stores, 0)

	sessionHandler := NewSessionHandler(deps.Authenticator, deps.SessionService)

	// --- 認証不要のルート ---
	r.Get("/health", healthHandler.Health)
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Post("/api/identities", identityHandler.Register)
		r.Post("/api/sessions", sessionHandler.Login)
	})

	// --- セッション状態の参照（fail-open） ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionChecker, middleware.FailOpen))
		r.Get("/api/sessions/me", sessionHandler.Me)
		if deps.SessionWatcher != nil {
			r.Get("/api/sessions/me/watch", NewSessionWatchHandler(deps.SessionWatcher).Watch)
		}
	})

	// --- 認証が必要なルート（fail-closed） ---
	// ミドルウェアスタック: Session → RateLimit
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionChecker, middleware.FailClosed))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Delete("/api/sessions/me", sessionHandler.Logout)

		r.Route("/api/identities/{key}", func(r chi.Router) {
			r.Get("/", identityHandler.GetIdentity)
			r.Post("/history", identityHandler.AppendHistory)
			r.Get("/risk", identityHandler.Risk)
			r.Get("/appointments", appointmentHandler.List)
			r.Get("/reminder", appointmentHandler.Reminder)
			r.Get("/habits", habitHandler.List)
		})

		r.Post("/api/appointments", appointmentHandler.Schedule)
		r.Post("/api/habits", habitHandler.Record)

		r.Route("/api/follows", func(r chi.Router) {
			r.Get("/", followHandler.List)
			r.Post("/", followHandler.Follow)
		})
	})

	return r
}
