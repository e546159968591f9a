// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/model"
)

// SessionCookieName はWebセッションIDを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// errNoUserID はコンテキストにユーザーIDがないことを表す。
var errNoUserID = errors.New("user ID not found in context")

// IdentityResolver は認証情報から正規ユーザーIDを特定するインターフェース。
type IdentityResolver interface {
	Resolve(ctx context.Context, ev auth.Evidence) auth.Resolution
}

// NewBearerAuthMiddleware はAuthorizationヘッダーのBearerトークンのみで認証するミドルウェアを返す。
// REST APIで使用する。
func NewBearerAuthMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return newAuthGate(resolver, func(r *http.Request) auth.Evidence {
		return auth.Evidence{BearerToken: BearerToken(r)}
	})
}

// NewSessionAuthMiddleware はセッションCookieとBearerトークンで認証するミドルウェアを返す。
// Webルート層で使用する。
func NewSessionAuthMiddleware(resolver IdentityResolver) func(next http.Handler) http.Handler {
	return newAuthGate(resolver, func(r *http.Request) auth.Evidence {
		return auth.Evidence{
			SessionID:   SessionIDFromRequest(r),
			BearerToken: BearerToken(r),
		}
	})
}

func newAuthGate(resolver IdentityResolver, evidence func(r *http.Request) auth.Evidence) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := resolver.Resolve(r.Context(), evidence(r))
			if !res.Resolved() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := ContextWithUserID(r.Context(), res.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。ない場合は空文字を返す。
func BearerToken(r *http.Request) string {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(tok)
}

// SessionIDFromRequest はセッションCookieの値を返す。ない場合は空文字を返す。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserIDFromContext はリクエストコンテキストから正規化済みのユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (model.OwnerID, error) {
	userID, ok := ctx.Value(userIDContextKey).(model.OwnerID)
	if !ok || userID == "" {
		return "", errNoUserID
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID model.OwnerID) context.Context {
	recordUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
