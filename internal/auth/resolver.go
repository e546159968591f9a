package auth

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/token"
)

// 解決元。
const (
	SourceNone         = "none"
	SourceSession      = "session"
	SourceSessionToken = "session_token"
	SourceBearer       = "bearer"
)

// sessionTokenClaimKeys はセッション埋め込みトークンからユーザーIDを探すクレーム名の優先順。
var sessionTokenClaimKeys = []string{"userId", "id", "dbUserId", "sub"}

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// TokenVerifier はBearerトークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

// Evidence はリクエストに含まれる認証情報。
type Evidence struct {
	SessionID   string
	BearerToken string
}

// Resolution は認証情報の解決結果。
type Resolution struct {
	UserID model.OwnerID
	Source string
}

// Resolved はユーザーが特定できたかどうかを返す。
func (r Resolution) Resolved() bool {
	return r.UserID != ""
}

// Resolver はリクエストの認証情報から正規ユーザーIDを1つ特定する。
//
// 以下の順に試し、最初に成功したものを採用する。
//  1. 有効なセッションに照合済みユーザーIDがあればそれを使う
//  2. ユーザーIDのないセッションは埋め込みトークンのクレームを署名検証なしで読む
//  3. Bearerトークンを検証してuserIdクレームを使う
//
// 途中の失敗はログに記録して次の方法に進み、どれも成功しなければ未解決を返す。
type Resolver struct {
	sessions SessionFinder
	tokens   TokenVerifier
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewResolver はResolverを生成する。sessionsがnilの場合はセッションを参照しない。
func NewResolver(sessions SessionFinder, tokens TokenVerifier, m metrics.MetricsCollector) *Resolver {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Resolver{
		sessions: sessions,
		tokens:   tokens,
		metrics:  m,
		now:      time.Now,
	}
}

// Resolve は認証情報を解決する。エラーは返さず、解決できない場合はSourceNoneの結果を返す。
func (r *Resolver) Resolve(ctx context.Context, ev Evidence) Resolution {
	res := r.resolve(ctx, ev)
	r.metrics.RecordAuthResolution(res.Source)
	return res
}

func (r *Resolver) resolve(ctx context.Context, ev Evidence) Resolution {
	if ev.SessionID != "" && r.sessions != nil {
		if res, ok := r.fromSession(ctx, ev.SessionID); ok {
			return res
		}
	}

	if ev.BearerToken != "" && r.tokens != nil {
		claims, err := r.tokens.Verify(ev.BearerToken)
		if err != nil {
			slog.DebugContext(ctx, "bearer token rejected", slog.String("error", err.Error()))
		} else if id, err := model.NewOwnerID(claims.UserID); err == nil {
			return Resolution{UserID: id, Source: SourceBearer}
		}
	}

	return Resolution{Source: SourceNone}
}

func (r *Resolver) fromSession(ctx context.Context, sessionID string) (Resolution, bool) {
	session, err := r.sessions.FindByID(ctx, sessionID)
	if err != nil {
		slog.WarnContext(ctx, "failed to find session", slog.String("error", err.Error()))
		return Resolution{}, false
	}
	if session == nil || session.IsExpired(r.now()) {
		return Resolution{}, false
	}

	if session.UserID != "" {
		if id, err := model.NewOwnerID(session.UserID); err == nil {
			return Resolution{UserID: id, Source: SourceSession}, true
		}
	}

	if session.AccessToken == "" {
		return Resolution{}, false
	}
	claims, err := token.DecodeClaims(session.AccessToken)
	if err != nil {
		slog.DebugContext(ctx, "malformed session token", slog.String("error", err.Error()))
		return Resolution{}, false
	}
	for _, key := range sessionTokenClaimKeys {
		v, ok := claims[key]
		if !ok {
			continue
		}
		if id, err := model.NewOwnerID(v); err == nil {
			return Resolution{UserID: id, Source: SourceSessionToken}, true
		}
	}
	return Resolution{}, false
}
