package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

const (
	oauthStateCookie = "oauth_state"
	oauthStateMaxAge = 600 // 10分
)

// AuthServiceInterface はWeb認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	GetLoginURL(state string) (string, error)
	HandleCallback(ctx context.Context, code string) (*model.Session, error)
	SignInWithCredentials(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
}

type authHandler struct {
	service AuthServiceInterface
	config  Config
}

func newAuthHandler(service AuthServiceInterface, config Config) *authHandler {
	return &authHandler{service: service, config: config}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// googleLogin はGoogle OAuthフローを開始する。
// GET /web/auth/google/login
func (h *authHandler) googleLogin(c *gin.Context) {
	state, err := generateState()
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "failed to generate oauth state", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(c.Writer)
		return
	}

	loginURL, err := h.service.GetLoginURL(state)
	if errors.Is(err, auth.ErrExternalProviderDisabled) {
		c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "google sign-in is not configured"})
		return
	}
	if err != nil {
		middleware.WriteServiceError(c.Writer, c.Request, err)
		return
	}

	// stateをCookieに保存（CSRF対策）
	http.SetCookie(c.Writer, h.stateCookie(state, oauthStateMaxAge))
	c.Redirect(http.StatusTemporaryRedirect, loginURL)
}

// googleCallback はOAuthコールバックを処理する。
// GET /web/auth/google/callback?code=xxx&state=yyy
func (h *authHandler) googleCallback(c *gin.Context) {
	ctx := c.Request.Context()

	// 1. stateの検証（CSRF対策）
	state := c.Query("state")
	stateCookie, err := c.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie != state {
		slog.WarnContext(ctx, "oauth state mismatch")
		middleware.WriteErrorResponse(c.Writer, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}
	http.SetCookie(c.Writer, h.stateCookie("", -1))

	// 2. 認可コードの取得
	code := c.Query("code")
	if code == "" {
		middleware.WriteErrorResponse(c.Writer, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	// 3. 認証処理（アカウント照合とセッション作成）
	session, err := h.service.HandleCallback(ctx, code)
	if err != nil {
		slog.ErrorContext(ctx, "oauth callback failed", slog.String("error", err.Error()))
		middleware.WriteServiceError(c.Writer, c.Request, err)
		return
	}

	// 4. セッションCookieを設定してフロントエンドへ
	http.SetCookie(c.Writer, h.sessionCookie(session.ID, h.config.SessionMaxAge))
	c.Redirect(http.StatusTemporaryRedirect, h.config.BaseURL)
}

// credentials はメールアドレスとパスワードでWebセッションを作成する。
// POST /web/auth/credentials
func (h *authHandler) credentials(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.WriteErrorResponse(c.Writer, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	session, user, err := h.service.SignInWithCredentials(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		middleware.WriteServiceError(c.Writer, c.Request, err)
		return
	}

	http.SetCookie(c.Writer, h.sessionCookie(session.ID, h.config.SessionMaxAge))
	c.JSON(http.StatusOK, gin.H{"user": handler.NewUserResponse(user)})
}

// logout はセッションを破棄する。セッションがなくても成功を返す。
// POST /web/auth/logout
func (h *authHandler) logout(c *gin.Context) {
	if sessionID := middleware.SessionIDFromRequest(c.Request); sessionID != "" {
		if err := h.service.Logout(c.Request.Context(), sessionID); err != nil {
			// 削除に失敗してもCookieはクリアする
			slog.ErrorContext(c.Request.Context(), "failed to logout", slog.String("error", err.Error()))
		}
	}

	http.SetCookie(c.Writer, h.sessionCookie("", -1))
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

// sessionView はGET /web/auth/sessionのレスポンス。
type sessionView struct {
	User      sessionUser `json:"user"`
	Provider  string      `json:"provider,omitempty"`
	ExpiresAt *time.Time  `json:"expiresAt,omitempty"`
}

type sessionUser struct {
	ID string `json:"id"`
}

// session は解決済みのユーザーIDと、Cookieのセッションがあればその情報を返す。
// GET /web/auth/session
func (h *authHandler) session(c *gin.Context) {
	userID, err := middleware.UserIDFromContext(c.Request.Context())
	if err != nil {
		middleware.WriteErrorResponse(c.Writer, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	view := sessionView{User: sessionUser{ID: userID.String()}}
	if sessionID := middleware.SessionIDFromRequest(c.Request); sessionID != "" {
		s, err := h.service.GetSession(c.Request.Context(), sessionID)
		if err != nil {
			slog.WarnContext(c.Request.Context(), "failed to load session", slog.String("error", err.Error()))
		} else if s != nil {
			view.Provider = s.Provider
			expiresAt := s.ExpiresAt
			view.ExpiresAt = &expiresAt
		}
	}

	c.JSON(http.StatusOK, view)
}

func (h *authHandler) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *authHandler) stateCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     oauthStateCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// generateState はCSRF対策用のランダムなstate値を生成する。
func generateState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
