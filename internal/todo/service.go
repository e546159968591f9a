// Package todo はタスク管理のドメインロジックを提供する。
package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/security"
)

// 操作名（メトリクスのラベル）。
const (
	OpList   = "list"
	OpCreate = "create"
	OpGet    = "get"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Service はタスク管理のサービス層。
// 全ての操作は認証済みユーザーの所有するタスクに限定され、
// 他ユーザーのタスクは存在しないものとして扱う。
type Service struct {
	repo      repository.TodoRepository
	sanitizer security.TitleSanitizer
	metrics   metrics.MetricsCollector
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.TodoRepository, sanitizer security.TitleSanitizer, m metrics.MetricsCollector) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{repo: repo, sanitizer: sanitizer, metrics: m}
}

// List は所有者のタスクを新しい順に返す。
func (s *Service) List(ctx context.Context, owner model.OwnerID) ([]*model.Todo, error) {
	todos, err := s.repo.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	if todos == nil {
		todos = []*model.Todo{}
	}
	s.metrics.RecordTodoOperation(OpList)
	return todos, nil
}

// Create はタスクを作成する。
func (s *Service) Create(ctx context.Context, owner model.OwnerID, title string, completed bool) (*model.Todo, error) {
	cleaned, apiErr := s.cleanTitle(title)
	if apiErr != nil {
		return nil, apiErr
	}

	todo := &model.Todo{
		Title:     cleaned,
		Completed: completed,
		OwnerID:   owner,
	}
	if err := s.repo.Create(ctx, todo); err != nil {
		// トークンは有効だがユーザーが削除済みの場合
		if errors.Is(err, repository.ErrOwnerNotFound) {
			slog.WarnContext(ctx, "todo owner does not exist", slog.String("user_id", owner.String()))
			return nil, model.NewUnauthorizedError()
		}
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	s.metrics.RecordTodoOperation(OpCreate)
	return todo, nil
}

// Get は所有者のタスクを1件取得する。
func (s *Service) Get(ctx context.Context, owner model.OwnerID, id string) (*model.Todo, error) {
	todo, err := s.repo.FindByIDAndOwner(ctx, id, owner)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}
	if todo == nil {
		return nil, model.NewTodoNotFoundError(id)
	}
	s.metrics.RecordTodoOperation(OpGet)
	return todo, nil
}

// Update はpatchで指定されたフィールドのみを更新する。
// 同じ内容で繰り返し呼んでも結果は変わらない。空のpatchは現在のタスクを返す。
func (s *Service) Update(ctx context.Context, owner model.OwnerID, id string, patch model.TodoPatch) (*model.Todo, error) {
	if patch.Title != nil {
		cleaned, apiErr := s.cleanTitle(*patch.Title)
		if apiErr != nil {
			return nil, apiErr
		}
		patch.Title = &cleaned
	}

	if patch.IsEmpty() {
		return s.Get(ctx, owner, id)
	}

	todo, err := s.repo.Update(ctx, id, owner, patch)
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if todo == nil {
		return nil, model.NewTodoNotFoundError(id)
	}
	s.metrics.RecordTodoOperation(OpUpdate)
	return todo, nil
}

// Delete は所有者のタスクを削除する。
func (s *Service) Delete(ctx context.Context, owner model.OwnerID, id string) error {
	deleted, err := s.repo.DeleteByIDAndOwner(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTodoNotFoundError(id)
	}
	s.metrics.RecordTodoOperation(OpDelete)
	return nil
}

// cleanTitle はタイトルの空白を正規化し、マークアップと長さを検証する。
// タイトルを切り詰めて保存することはしない。
func (s *Service) cleanTitle(title string) (string, *model.APIError) {
	cleaned, err := s.sanitizer.Clean(title)
	if err != nil {
		return "", model.NewValidationError(err.Error())
	}
	if cleaned == "" {
		return "", model.NewValidationError("title is required")
	}
	if utf8.RuneCountInString(cleaned) > model.TodoTitleMaxLength {
		return "", model.NewValidationError(fmt.Sprintf("title must be at most %d characters", model.TodoTitleMaxLength))
	}
	return cleaned, nil
}
