// Package web はブラウザ向けのWebルート層（セッションCookie認証）を提供する。
// ginエンジンとして構成し、REST APIのchiルーターの /web 配下にマウントする。
package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/middleware"
)

// Config はWebルート層の設定。
type Config struct {
	BaseURL       string // OAuthコールバック後のリダイレクト先
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// Deps はNewEngineに必要な依存関係をまとめた構造体。
type Deps struct {
	Auth        AuthServiceInterface
	Todos       handler.TodoServiceInterface
	Resolver    middleware.IdentityResolver
	RateLimiter *middleware.RateLimiter
	Config      Config
}

// NewEngine はWebルート層のginエンジンを返す。
// ルートは /web プレフィックス付きで登録する（chiのMountはURLパスを書き換えないため）。
func NewEngine(deps Deps) *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "not found"})
	})

	authHandler := newAuthHandler(deps.Auth, deps.Config)
	todoHandler := newTodoHandler(deps.Todos)
	requireAuth := GinRequireAuth(deps.Resolver)

	w := engine.Group("/web")

	a := w.Group("/auth")
	{
		a.GET("/google/login", authHandler.googleLogin)
		a.GET("/google/callback", authHandler.googleCallback)
		a.POST("/credentials", WrapMiddleware(deps.RateLimiter.AuthMiddleware()), authHandler.credentials)
		a.POST("/logout", authHandler.logout)
		a.GET("/session", requireAuth, authHandler.session)
	}

	api := w.Group("/api", requireAuth, WrapMiddleware(deps.RateLimiter.GeneralMiddleware()))
	{
		api.GET("/todos", todoHandler.list)
		api.POST("/todos", todoHandler.create)
		api.GET("/todos/:id", todoHandler.get)
		api.PATCH("/todos/:id", todoHandler.update)
		api.DELETE("/todos/:id", todoHandler.delete)
	}

	return engine
}

// GinRequireAuth はセッションCookieまたはBearerトークンで認証するginミドルウェアを返す。
// 判定はmiddleware.NewSessionAuthMiddlewareに委譲し、未認証の場合は401で中断する。
func GinRequireAuth(resolver middleware.IdentityResolver) gin.HandlerFunc {
	return WrapMiddleware(middleware.NewSessionAuthMiddleware(resolver))
}

// WrapMiddleware はnet/http形式のミドルウェアをginのハンドラーに変換する。
// ミドルウェアが次のハンドラーを呼ばなかった場合、後続のginハンドラーは実行しない。
func WrapMiddleware(mw func(next http.Handler) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		passed := false
		mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			passed = true
			c.Request = r
			c.Next()
		})).ServeHTTP(c.Writer, c.Request)

		if !passed {
			c.Abort()
		}
	}
}
