// Package model はドメインモデルを定義する。
package model

import "time"

// 認証プロバイダーの種別。
const (
	ProviderLocal  = "local"
	ProviderGoogle = "google"
)

// User はサービス利用ユーザーを表す。
// IDはCredential Storeが払い出す正規ユーザーIDであり、外部サインインで変化しない。
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string // ローカル登録ユーザーのみ。外部サインインのみのユーザーは空
	ExternalID   string // 外部IdPのユーザーID（Googleのsub）。未連携の場合は空
	Provider     string // 最後に使用した認証方式: local, google
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasPassword はローカルパスワードが設定済みかどうかを返す。
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Session はWebルート層のログインセッションを表す。
// Cookieの値はIDのみで、ユーザーの特定はSession Resolverが行う。
type Session struct {
	ID     string
	UserID string // 照合済みの正規ユーザーID。未照合のセッションでは空
	// OwnerUserID はセッションを発行したユーザーのID。退会時の一括削除に使い、Resolverは参照しない。
	OwnerUserID string
	ExternalID  string
	Provider    string
	Email       string
	Name        string
	// AccessToken はセッションに埋め込まれたBearerトークン。
	// UserIDが空の場合、Resolverはこのトークンのクレームからユーザーを特定する。
	AccessToken string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// OwnerKey は一括削除の索引に使うユーザーIDを返す。OwnerUserIDが空の場合はUserIDを使う。
func (s *Session) OwnerKey() string {
	if s.OwnerUserID != "" {
		return s.OwnerUserID
	}
	return s.UserID
}

// IsExpired はセッションが指定時刻の時点で期限切れかどうかを返す。
func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
