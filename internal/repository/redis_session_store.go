package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/todoman/internal/model"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore はRedisを使用したセッションリポジトリ。
// セッションは "session:<id>" キーにJSONで保存し、有効期限はキーのTTLで管理する。
// ユーザー単位の一括削除のため "user_sessions:<userID>" セットにセッションIDを記録する。
// 埋め込みトークンのみを持つセッションも発行ユーザーのセットに含める。
type RedisSessionStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedisSessionStore はRedisSessionStoreを生成する。
func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, now: time.Now}
}

// redisSession はRedisに保存するセッションのJSON表現。
type redisSession struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId,omitempty"`
	OwnerID   string      `json:"ownerId,omitempty"`
	Data      sessionData `json:"data"`
	ExpiresAt time.Time   `json:"expiresAt"`
	CreatedAt time.Time   `json:"createdAt"`
}

func sessionKey(id string) string {
	return "session:" + id
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

// Create はセッションを作成する。有効期限が過去のセッションはエラーとする。
func (s *RedisSessionStore) Create(ctx context.Context, session *model.Session) error {
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("failed to create session: expires_at must be in the future")
	}

	data, err := json.Marshal(redisSession{
		ID:        session.ID,
		UserID:    session.UserID,
		OwnerID:   session.OwnerKey(),
		Data:      newSessionData(session),
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, sessionKey(session.ID), data, ttl)
		if owner := session.OwnerKey(); owner != "" {
			idx := userSessionsKey(owner)
			pipe.SAdd(ctx, idx, session.ID)
			// セッションの有効期間は一定のため、最後に作成したセッションに合わせて延長する
			pipe.Expire(ctx, idx, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
func (s *RedisSessionStore) FindByID(ctx context.Context, id string) (*model.Session, error) {
	val, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}

	var stored redisSession
	if err := json.Unmarshal(val, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if !stored.ExpiresAt.After(s.now()) {
		return nil, nil
	}

	session := &model.Session{
		ID:          stored.ID,
		UserID:      stored.UserID,
		OwnerUserID: stored.OwnerID,
		ExpiresAt:   stored.ExpiresAt,
		CreatedAt:   stored.CreatedAt,
	}
	stored.Data.applyTo(session)
	return session, nil
}

// DeleteByID は指定IDのセッションを削除する。
func (s *RedisSessionStore) DeleteByID(ctx context.Context, id string) error {
	session, err := s.FindByID(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, sessionKey(id))
		if session != nil && session.OwnerKey() != "" {
			pipe.SRem(ctx, userSessionsKey(session.OwnerKey()), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (s *RedisSessionStore) DeleteByUserID(ctx context.Context, userID string) error {
	idx := userSessionsKey(userID)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return fmt.Errorf("failed to list user sessions: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, idx)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SessionRepository = (*RedisSessionStore)(nil)
