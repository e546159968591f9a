// Package token はBearerトークン（署名付きJWT）の発行と検証を提供する。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer はトークンのissクレームに設定する値。
const Issuer = "todoman"

// ErrInvalidToken はトークンが利用できない場合の単一のエラー。
// 署名不一致・期限切れ・形式不正を呼び出し元に区別させない。
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims はセッショントークンのクレームを表す。
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// Manager はトークンの発行と検証を行う。
type Manager struct {
	secret   []byte
	lifetime time.Duration
	now      func() time.Time
}

// NewManager は新しいManagerを生成する。
func NewManager(secret string, lifetime time.Duration) *Manager {
	return &Manager{
		secret:   []byte(secret),
		lifetime: lifetime,
		now:      time.Now,
	}
}

// WithClock はテスト用に時刻取得関数を差し替えたManagerを返す。
func (m *Manager) WithClock(now func() time.Time) *Manager {
	cp := *m
	cp.now = now
	return &cp
}

// Lifetime はトークンの有効期間を返す。
func (m *Manager) Lifetime() time.Duration {
	return m.lifetime
}

// Issue はユーザーIDと表示名を含む署名付きトークンを発行する。
func (m *Manager) Issue(userID, name string) (string, error) {
	if userID == "" {
		return "", errors.New("issue token: empty user id")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.lifetime)),
		},
		UserID: userID,
		Name:   name,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify はトークンの署名・アルゴリズム・発行者・有効期限を検証し、クレームを返す。
// いずれの失敗もErrInvalidTokenとして返す。
func (m *Manager) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// DecodeClaims は署名を検証せずにペイロードのクレームを取り出す。
// サーバー側ストレージから読み出したトークンにのみ使用すること。
func DecodeClaims(tokenString string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return claims, nil
}
