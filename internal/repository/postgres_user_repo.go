package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

const userColumns = `id, name, email, password_hash, external_id, provider, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	user := &model.User{}
	var passwordHash, externalID sql.NullString
	if err := row.Scan(
		&user.ID, &user.Name, &user.Email, &passwordHash, &externalID,
		&user.Provider, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return nil, err
	}
	user.PasswordHash = passwordHash.String
	user.ExternalID = externalID.String
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを検索する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`,
		email,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
// UUIDとして解釈できないIDは存在しないものとして扱う。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if uuid.Validate(id) != nil {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
// IDが空の場合は新しいUUIDを払い出す。メールアドレス重複時はErrDuplicateEmailを返す。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Provider == "" {
		user.Provider = model.ProviderLocal
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, external_id, provider)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		user.ID, user.Name, user.Email,
		nullString(user.PasswordHash), nullString(user.ExternalID), user.Provider,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// AttachExternalID は外部IdPのIDが未設定の場合のみ紐付けを行う。
// 既に紐付け済みのユーザーは変更せずにそのまま返し、IDは決して変わらない。
func (r *PostgresUserRepo) AttachExternalID(ctx context.Context, userID, externalID, provider string) (*model.User, error) {
	if uuid.Validate(userID) != nil {
		return nil, nil
	}

	user, err := scanUser(r.db.QueryRowContext(ctx,
		`UPDATE users
		 SET external_id = $2, provider = $3, updated_at = now()
		 WHERE id = $1 AND external_id IS NULL
		 RETURNING `+userColumns,
		userID, externalID, provider,
	))
	if errors.Is(err, sql.ErrNoRows) {
		// 既に紐付け済み、またはユーザーが存在しない
		return r.FindByID(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to attach external ID: %w", err)
	}
	return user, nil
}

// DeleteByID はユーザーを削除する。todosはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return nil
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}

// nullString は空文字列をNULLとして扱う。
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
