package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// PostgresTodoRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTodoRepo struct {
	db *sql.DB
}

// NewPostgresTodoRepo はPostgresTodoRepoを生成する。
func NewPostgresTodoRepo(db *sql.DB) *PostgresTodoRepo {
	return &PostgresTodoRepo{db: db}
}

const todoColumns = `id, owner_id, title, completed, created_at, updated_at`

func scanTodo(row rowScanner) (*model.Todo, error) {
	todo := &model.Todo{}
	var owner string
	if err := row.Scan(&todo.ID, &owner, &todo.Title, &todo.Completed, &todo.CreatedAt, &todo.UpdatedAt); err != nil {
		return nil, err
	}
	todo.OwnerID = model.OwnerID(owner)
	return todo, nil
}

// validKeys はタスクIDと所有者IDがともにUUIDとして解釈できるかを返す。
// usersとtodosの主キーはUUID型のため、それ以外の値に一致する行は存在しない。
func validKeys(id string, owner model.OwnerID) bool {
	return uuid.Validate(id) == nil && uuid.Validate(owner.String()) == nil
}

// ListByOwner は所有者のタスクを作成日時の降順で返す。
func (r *PostgresTodoRepo) ListByOwner(ctx context.Context, owner model.OwnerID) ([]*model.Todo, error) {
	todos := []*model.Todo{}
	if uuid.Validate(owner.String()) != nil {
		return todos, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+todoColumns+`
		 FROM todos
		 WHERE owner_id = $1
		 ORDER BY created_at DESC, id DESC`,
		owner.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list todos: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		todo, err := scanTodo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan todo: %w", err)
		}
		todos = append(todos, todo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate todos: %w", err)
	}
	return todos, nil
}

// Create はタスクを作成する。IDが空の場合は新しいUUIDを払い出す。
// 所有者が存在しない場合はErrOwnerNotFoundを返す。
func (r *PostgresTodoRepo) Create(ctx context.Context, todo *model.Todo) error {
	if uuid.Validate(todo.OwnerID.String()) != nil {
		return ErrOwnerNotFound
	}
	if todo.ID == "" {
		todo.ID = uuid.NewString()
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO todos (id, owner_id, title, completed)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		todo.ID, todo.OwnerID.String(), todo.Title, todo.Completed,
	).Scan(&todo.CreatedAt, &todo.UpdatedAt)
	if isForeignKeyViolation(err) {
		return ErrOwnerNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to insert todo: %w", err)
	}
	return nil
}

// FindByIDAndOwner は所有者のタスクを取得する。見つからない場合はnilを返す。
func (r *PostgresTodoRepo) FindByIDAndOwner(ctx context.Context, id string, owner model.OwnerID) (*model.Todo, error) {
	if !validKeys(id, owner) {
		return nil, nil
	}

	todo, err := scanTodo(r.db.QueryRowContext(ctx,
		`SELECT `+todoColumns+` FROM todos WHERE id = $1 AND owner_id = $2`,
		id, owner.String(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find todo: %w", err)
	}
	return todo, nil
}

// Update はpatchのnilでないフィールドのみを1文で更新する。
// 見つからない場合はnilを返す。
func (r *PostgresTodoRepo) Update(ctx context.Context, id string, owner model.OwnerID, patch model.TodoPatch) (*model.Todo, error) {
	if !validKeys(id, owner) {
		return nil, nil
	}

	var title sql.NullString
	if patch.Title != nil {
		title = sql.NullString{String: *patch.Title, Valid: true}
	}
	var completed sql.NullBool
	if patch.Completed != nil {
		completed = sql.NullBool{Bool: *patch.Completed, Valid: true}
	}

	todo, err := scanTodo(r.db.QueryRowContext(ctx,
		`UPDATE todos
		 SET title = COALESCE($3, title),
		     completed = COALESCE($4, completed),
		     updated_at = now()
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+todoColumns,
		id, owner.String(), title, completed,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update todo: %w", err)
	}
	return todo, nil
}

// DeleteByIDAndOwner は所有者のタスクを削除する。削除した場合はtrueを返す。
func (r *PostgresTodoRepo) DeleteByIDAndOwner(ctx context.Context, id string, owner model.OwnerID) (bool, error) {
	if !validKeys(id, owner) {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1 AND owner_id = $2`,
		id, owner.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete todo: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ TodoRepository = (*PostgresTodoRepo)(nil)
