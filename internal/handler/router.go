package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Resolver          middleware.IdentityResolver
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	CSRF              middleware.CSRFConfig
	Logger            *slog.Logger

	// メトリクス（Gathererがnilの場合は/metricsを公開しない）
	Metrics         metrics.MetricsCollector
	MetricsGatherer prometheus.Gatherer

	// ヘルスチェック
	DB Pinger

	// サービス
	AuthService AuthServiceInterface
	TodoService TodoServiceInterface
	UserService UserServiceInterface // nilの場合は退会エンドポイントを公開しない

	// Web はWebルート層のハンドラー。/web 配下にマウントする。nilの場合はマウントしない。
	Web http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// 認証ルート（/auth/register, /auth/login）はIP単位のレート制限のみ、
// それ以外のREST APIはBearer認証 → ユーザー単位のレート制限を通す。
// /web 配下はCSRF検証を通した上でWebルート層に委譲する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewMetricsMiddleware(m))

	authHandler := NewAuthHandler(deps.AuthService)
	todoHandler := NewTodoHandler(deps.TodoService)
	bearerAuth := middleware.NewBearerAuthMiddleware(deps.Resolver)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.DB))
	if deps.MetricsGatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(bearerAuth)
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Get("/", authHandler.Me)
			if deps.UserService != nil {
				r.Delete("/", NewUserHandler(deps.UserService).Withdraw)
			}
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: BearerAuth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(bearerAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/todos", func(r chi.Router) {
			r.Get("/", todoHandler.List)
			r.Post("/", todoHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", todoHandler.Get)
				r.Patch("/", todoHandler.Update)
				r.Delete("/", todoHandler.Delete)
			})
		})
	})

	// --- Webルート層 ---
	if deps.Web != nil {
		r.Method(http.MethodGet, "/web/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))
		r.Mount("/web", middleware.NewCSRFMiddleware(deps.CSRF)(deps.Web))
	}

	return r
}
