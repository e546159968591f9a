package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hitoshi/todoman/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したセッションリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// sessionData はsessions.dataカラム（JSONB）に保存するセッション属性。
type sessionData struct {
	ExternalID  string `json:"externalId,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	AccessToken string `json:"accessToken,omitempty"`
}

func newSessionData(s *model.Session) sessionData {
	return sessionData{
		ExternalID:  s.ExternalID,
		Provider:    s.Provider,
		Email:       s.Email,
		Name:        s.Name,
		AccessToken: s.AccessToken,
	}
}

func (d sessionData) applyTo(s *model.Session) {
	s.ExternalID = d.ExternalID
	s.Provider = d.Provider
	s.Email = d.Email
	s.Name = d.Name
	s.AccessToken = d.AccessToken
}

// Create はセッションを作成する。UserIDが空の場合はNULLとして保存する。
// owner_idには発行ユーザーを保存し、退会時の一括削除に使う。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(newSessionData(session))
	if err != nil {
		return fmt.Errorf("failed to encode session data: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, owner_id, data, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		session.ID, nullString(session.UserID), nullString(session.OwnerKey()), data, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (r *PostgresSessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	session := &model.Session{}
	var userID, ownerID sql.NullString
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, owner_id, data, expires_at, created_at
		 FROM sessions
		 WHERE id = $1 AND expires_at > now()`,
		id,
	).Scan(&session.ID, &userID, &ownerID, &data, &session.ExpiresAt, &session.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var attrs sessionData
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode session data: %w", err)
	}
	attrs.applyTo(session)
	session.UserID = userID.String
	session.OwnerUserID = ownerID.String

	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (r *PostgresSessionRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
// 埋め込みトークンのみを持つセッションもowner_idで対象になる。
func (r *PostgresSessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	if uuid.Validate(userID) != nil {
		return nil
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = $1 OR owner_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
