// Package user はアカウント管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/todoman/internal/model"
)

// UserStore は退会処理で使うユーザーの永続化インターフェース。
type UserStore interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	DeleteByID(ctx context.Context, id string) error
}

// SessionDeleter はセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はアカウント管理のサービス層。
type Service struct {
	users    UserStore
	sessions SessionDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
// sessionsがnilの場合はセッション削除を行わない。
func NewService(users UserStore, sessions SessionDeleter) *Service {
	return &Service{users: users, sessions: sessions}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: todos）
// Redisのセッションストアには外部キーがないため、セッションは明示的に削除する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.InfoContext(ctx, "退会処理を開始します", slog.String("user_id", userID))

	// 1. セッションを削除
	if s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	// 2. ユーザーを削除
	if err := s.users.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.InfoContext(ctx, "退会処理が完了しました", slog.String("user_id", userID))
	return nil
}
