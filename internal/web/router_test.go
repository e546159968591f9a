package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hitoshi/todoman/internal/auth"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

const (
	testUserID    = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testSessionID = "session-abc"
	testTodoID    = "9b2f8c1e-3a4d-4e5f-8a6b-7c8d9e0f1a2b"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// --- モック定義 ---

// mockResolver はセッションIDからユーザーIDを引く。
type mockResolver struct {
	sessions map[string]model.OwnerID
}

func (m *mockResolver) Resolve(_ context.Context, ev auth.Evidence) auth.Resolution {
	if id, ok := m.sessions[ev.SessionID]; ok {
		return auth.Resolution{UserID: id, Source: auth.SourceSession}
	}
	return auth.Resolution{Source: auth.SourceNone}
}

type mockAuthService struct {
	getLoginURLFn    func(state string) (string, error)
	handleCallbackFn func(ctx context.Context, code string) (*model.Session, error)
	signInFn         func(ctx context.Context, email, password string) (*model.Session, *model.User, error)
	getSessionFn     func(ctx context.Context, id string) (*model.Session, error)
	logoutFn         func(ctx context.Context, id string) error
}

func (m *mockAuthService) GetLoginURL(state string) (string, error) {
	if m.getLoginURLFn != nil {
		return m.getLoginURLFn(state)
	}
	return "", auth.ErrExternalProviderDisabled
}

func (m *mockAuthService) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if m.handleCallbackFn != nil {
		return m.handleCallbackFn(ctx, code)
	}
	return nil, auth.ErrExternalProviderDisabled
}

func (m *mockAuthService) SignInWithCredentials(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return nil, nil, model.NewInvalidCredentialsError()
}

func (m *mockAuthService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if m.getSessionFn != nil {
		return m.getSessionFn(ctx, id)
	}
	return nil, nil
}

func (m *mockAuthService) Logout(ctx context.Context, id string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, id)
	}
	return nil
}

// memTodos は所有者ごとにタスクを保持するインメモリのTodoService。
type memTodos struct {
	byOwner map[model.OwnerID][]*model.Todo
}

func (m *memTodos) List(_ context.Context, owner model.OwnerID) ([]*model.Todo, error) {
	return m.byOwner[owner], nil
}

func (m *memTodos) Create(_ context.Context, owner model.OwnerID, title string, completed bool) (*model.Todo, error) {
	if title == "" {
		return nil, model.NewValidationError("title is required")
	}
	t := &model.Todo{ID: testTodoID, Title: title, Completed: completed, OwnerID: owner, CreatedAt: time.Now()}
	m.byOwner[owner] = append(m.byOwner[owner], t)
	return t, nil
}

func (m *memTodos) Get(_ context.Context, owner model.OwnerID, id string) (*model.Todo, error) {
	for _, t := range m.byOwner[owner] {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, model.NewTodoNotFoundError(id)
}

func (m *memTodos) Update(ctx context.Context, owner model.OwnerID, id string, patch model.TodoPatch) (*model.Todo, error) {
	t, err := m.Get(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Completed != nil {
		t.Completed = *patch.Completed
	}
	return t, nil
}

func (m *memTodos) Delete(_ context.Context, owner model.OwnerID, id string) error {
	todos := m.byOwner[owner]
	for i, t := range todos {
		if t.ID == id {
			m.byOwner[owner] = append(todos[:i], todos[i+1:]...)
			return nil
		}
	}
	return model.NewTodoNotFoundError(id)
}

type fixture struct {
	engine *gin.Engine
	todos  *memTodos
}

func newFixture(t *testing.T, svc *mockAuthService) *fixture {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	todos := &memTodos{byOwner: map[model.OwnerID][]*model.Todo{}}
	engine := NewEngine(Deps{
		Auth:        svc,
		Todos:       todos,
		Resolver:    &mockResolver{sessions: map[string]model.OwnerID{testSessionID: testUserID}},
		RateLimiter: rl,
		Config: Config{
			BaseURL:       "http://localhost:3000",
			SessionMaxAge: 3600,
		},
	})
	return &fixture{engine: engine, todos: todos}
}

func (f *fixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func sessionCookie() *http.Cookie {
	return &http.Cookie{Name: middleware.SessionCookieName, Value: testSessionID}
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

// --- テスト ---

func TestGoogleLogin_RedirectsWithStateCookie(t *testing.T) {
	var gotState string
	f := newFixture(t, &mockAuthService{
		getLoginURLFn: func(state string) (string, error) {
			gotState = state
			return "https://accounts.google.com/o/oauth2/auth?state=" + url.QueryEscape(state), nil
		},
	})

	w := f.do(http.MethodGet, "/web/auth/google/login", "")

	if w.Code != http.StatusTemporaryRedirect {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
	}
	if !strings.HasPrefix(w.Header().Get("Location"), "https://accounts.google.com/") {
		t.Errorf("Location = %q", w.Header().Get("Location"))
	}
	c := findCookie(w, oauthStateCookie)
	if c == nil || c.Value != gotState || len(gotState) != 32 {
		t.Errorf("state cookie = %+v, state = %q", c, gotState)
	}
	if !c.HttpOnly {
		t.Error("state cookie must be HttpOnly")
	}
}

func TestGoogleLogin_DisabledIs404(t *testing.T) {
	f := newFixture(t, &mockAuthService{})

	if w := f.do(http.MethodGet, "/web/auth/google/login", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGoogleCallback(t *testing.T) {
	f := newFixture(t, &mockAuthService{
		handleCallbackFn: func(_ context.Context, code string) (*model.Session, error) {
			if code != "good-code" {
				return nil, errors.New("exchange failed")
			}
			return &model.Session{ID: "new-session", UserID: testUserID}, nil
		},
	})
	state := &http.Cookie{Name: oauthStateCookie, Value: "expected-state"}

	t.Run("成功", func(t *testing.T) {
		w := f.do(http.MethodGet, "/web/auth/google/callback?code=good-code&state=expected-state", "", state)

		if w.Code != http.StatusTemporaryRedirect {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusTemporaryRedirect)
		}
		if got := w.Header().Get("Location"); got != "http://localhost:3000" {
			t.Errorf("Location = %q", got)
		}
		if c := findCookie(w, middleware.SessionCookieName); c == nil || c.Value != "new-session" || !c.HttpOnly {
			t.Errorf("session cookie = %+v", c)
		}
		if c := findCookie(w, oauthStateCookie); c == nil || c.MaxAge >= 0 {
			t.Errorf("state cookie should be cleared, got %+v", c)
		}
	})

	t.Run("state不一致", func(t *testing.T) {
		w := f.do(http.MethodGet, "/web/auth/google/callback?code=good-code&state=forged", "", state)
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("stateCookieなし", func(t *testing.T) {
		w := f.do(http.MethodGet, "/web/auth/google/callback?code=good-code&state=expected-state", "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
		}
	})

	t.Run("交換失敗", func(t *testing.T) {
		w := f.do(http.MethodGet, "/web/auth/google/callback?code=bad&state=expected-state", "", state)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
		}
	})
}

func TestCredentials(t *testing.T) {
	f := newFixture(t, &mockAuthService{
		signInFn: func(_ context.Context, email, password string) (*model.Session, *model.User, error) {
			if password != "secret1" {
				return nil, nil, model.NewInvalidCredentialsError()
			}
			return &model.Session{ID: "cred-session"}, &model.User{ID: testUserID, Name: "Alice", Email: email}, nil
		},
	})

	w := f.do(http.MethodPost, "/web/auth/credentials", `{"email":"alice@example.com","password":"secret1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.Value != "cred-session" {
		t.Errorf("session cookie = %+v", c)
	}
	user, _ := decode(t, w)["user"].(map[string]any)
	if user["id"] != testUserID {
		t.Errorf("user = %v", user)
	}

	w = f.do(http.MethodPost, "/web/auth/credentials", `{"email":"alice@example.com","password":"nope"}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if findCookie(w, middleware.SessionCookieName) != nil {
		t.Error("no session cookie should be set on failure")
	}

	w = f.do(http.MethodPost, "/web/auth/credentials", `{`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestLogout(t *testing.T) {
	var deleted string
	f := newFixture(t, &mockAuthService{
		logoutFn: func(_ context.Context, id string) error {
			deleted = id
			return nil
		},
	})

	w := f.do(http.MethodPost, "/web/auth/logout", "", sessionCookie())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if deleted != testSessionID {
		t.Errorf("deleted session = %q, want %q", deleted, testSessionID)
	}
	if c := findCookie(w, middleware.SessionCookieName); c == nil || c.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %+v", c)
	}

	// セッションなしでも成功する
	deleted = ""
	if w := f.do(http.MethodPost, "/web/auth/logout", ""); w.Code != http.StatusOK || deleted != "" {
		t.Errorf("status = %d, deleted = %q", w.Code, deleted)
	}
}

func TestSession(t *testing.T) {
	expires := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	f := newFixture(t, &mockAuthService{
		getSessionFn: func(_ context.Context, id string) (*model.Session, error) {
			return &model.Session{ID: id, Provider: model.ProviderGoogle, ExpiresAt: expires}, nil
		},
	})

	w := f.do(http.MethodGet, "/web/auth/session", "", sessionCookie())
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	user, _ := body["user"].(map[string]any)
	if user["id"] != testUserID || body["provider"] != model.ProviderGoogle {
		t.Errorf("body = %v", body)
	}

	if w := f.do(http.MethodGet, "/web/auth/session", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestTodoRoutes(t *testing.T) {
	f := newFixture(t, &mockAuthService{})

	if w := f.do(http.MethodGet, "/web/api/todos", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous list status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w := f.do(http.MethodPost, "/web/api/todos", `{"title":"書類を出す"}`, sessionCookie())
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = f.do(http.MethodGet, "/web/api/todos", "", sessionCookie())
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("count = %v, want 1", got)
	}

	w = f.do(http.MethodPatch, "/web/api/todos/"+testTodoID, `{"completed":true}`, sessionCookie())
	todo, _ := decode(t, w)["todo"].(map[string]any)
	if todo["completed"] != true || todo["title"] != "書類を出す" {
		t.Errorf("patched todo = %v", todo)
	}

	if w := f.do(http.MethodGet, "/web/api/todos/unknown", "", sessionCookie()); w.Code != http.StatusNotFound {
		t.Errorf("unknown todo status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = f.do(http.MethodDelete, "/web/api/todos/"+testTodoID, "", sessionCookie())
	if w.Code != http.StatusOK || decode(t, w)["message"] != "Todo deleted" {
		t.Errorf("delete status = %d", w.Code)
	}

	if w := f.do(http.MethodPost, "/web/api/todos", `{"title":""}`, sessionCookie()); w.Code != http.StatusBadRequest {
		t.Errorf("empty title status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestWrapMiddleware_AbortsWhenNextIsNotCalled(t *testing.T) {
	engine := gin.New()
	reached := false
	block := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})
	}
	engine.GET("/x", WrapMiddleware(block), func(c *gin.Context) { reached = true })

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	if w.Code != http.StatusTeapot || reached {
		t.Errorf("status = %d, reached = %v", w.Code, reached)
	}
}
