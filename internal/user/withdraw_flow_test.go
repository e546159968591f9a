package user

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/token"
)

// memUserRepo はテスト用のインメモリUserRepository。
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func (r *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.users[strings.ToLower(id)], nil
}

func (r *memUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
	return nil
}

func (r *memUserRepo) AttachExternalID(_ context.Context, userID, externalID, provider string) (*model.User, error) {
	return nil, nil
}

func (r *memUserRepo) DeleteByID(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, id)
	return nil
}

// TestWithdraw_RevokesCredentialsSession はローカル認証で発行したWebセッションが
// 退会後に解決できなくなることをRedisのセッションストアで検証する。
func TestWithdraw_RevokesCredentialsSession(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := repository.NewRedisSessionStore(client)

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	users := &memUserRepo{users: map[string]*model.User{
		testUserID: {ID: testUserID, Name: "Alice", Email: "alice@example.com", PasswordHash: string(hash)},
	}}

	tokens := token.NewManager("withdraw-test-secret", time.Hour)
	authSvc := auth.NewService(users, sessions, tokens, auth.NewBcryptHasher(bcrypt.MinCost), nil,
		auth.ServiceConfig{SessionMaxAge: 3600})
	resolver := auth.NewResolver(sessions, tokens, nil)

	session, _, err := authSvc.SignInWithCredentials(ctx, "alice@example.com", "secret123")
	if err != nil {
		t.Fatalf("SignInWithCredentials() error = %v", err)
	}
	if res := resolver.Resolve(ctx, auth.Evidence{SessionID: session.ID}); res.UserID.String() != testUserID {
		t.Fatalf("before withdraw: resolved %q via %s", res.UserID, res.Source)
	}

	if err := NewService(users, sessions).Withdraw(ctx, testUserID); err != nil {
		t.Fatalf("Withdraw() error = %v", err)
	}

	got, err := sessions.FindByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if got != nil {
		t.Error("credentials session should be deleted by withdraw")
	}
	if res := resolver.Resolve(ctx, auth.Evidence{SessionID: session.ID}); res.Resolved() {
		t.Errorf("after withdraw: resolved %q via %s, want unresolved", res.UserID, res.Source)
	}
}
