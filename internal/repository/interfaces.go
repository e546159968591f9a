// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/todoman/internal/model"
)

var (
	// ErrDuplicateEmail はメールアドレスのユニーク制約違反を表す。
	ErrDuplicateEmail = errors.New("email already exists")
	// ErrOwnerNotFound はタスクの所有者となるユーザーが存在しないことを表す。
	ErrOwnerNotFound = errors.New("owner not found")
)

// UserRepository はユーザーデータ（Credential Store）の永続化インターフェース。
type UserRepository interface {
	// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーを作成する。
	// メールアドレスが登録済みの場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// AttachExternalID は外部IdPのIDが未設定のユーザーにのみIDを紐付け、providerを更新する。
	// 更新後（既に紐付け済みの場合は現在）のユーザーを返す。見つからない場合はnilを返す。
	AttachExternalID(ctx context.Context, userID, externalID, provider string) (*model.User, error)

	// DeleteByID はユーザーを削除する。所有するタスクはCASCADE削除される。
	// 存在しない場合もエラーにしない。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はWebセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// TodoRepository はタスクデータ（Task Repository）の永続化インターフェース。
// 全ての操作は正規化済みのOwnerIDでスコープされ、他ユーザーのタスクは存在しないものとして扱う。
type TodoRepository interface {
	// ListByOwner は所有者のタスクを作成日時の降順で返す。
	ListByOwner(ctx context.Context, owner model.OwnerID) ([]*model.Todo, error)

	// Create はタスクを作成する。所有者が存在しない場合はErrOwnerNotFoundを返す。
	Create(ctx context.Context, todo *model.Todo) error

	// FindByIDAndOwner は所有者のタスクを取得する。見つからない場合はnilを返す。
	FindByIDAndOwner(ctx context.Context, id string, owner model.OwnerID) (*model.Todo, error)

	// Update はpatchのnilでないフィールドのみを更新し、更新後のタスクを返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, owner model.OwnerID, patch model.TodoPatch) (*model.Todo, error)

	// DeleteByIDAndOwner は所有者のタスクを削除する。削除した場合はtrueを返す。
	DeleteByIDAndOwner(ctx context.Context, id string, owner model.OwnerID) (bool, error)
}
