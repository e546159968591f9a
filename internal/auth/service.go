// Package auth はユーザー登録・ログイン・外部IdPサインイン・Webセッション管理と、
// リクエストの認証情報から正規ユーザーIDを特定するSession Resolverを提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/todoman/internal/metrics"
	"github.com/hitoshi/todoman/internal/model"
	"github.com/hitoshi/todoman/internal/repository"
	"github.com/hitoshi/todoman/internal/token"
)

// パスワード長の制約。上限はbcryptが扱えるバイト数。
const (
	minPasswordLength = 6
	maxPasswordBytes  = 72
)

// 認証イベント名（メトリクスのラベル）。
const (
	EventRegister       = "register"
	EventLogin          = "login"
	EventExternalSignIn = "external_sign_in"
	EventLogout         = "logout"
)

// ErrExternalProviderDisabled は外部IdPが設定されていない状態で外部サインインを要求されたことを表す。
var ErrExternalProviderDisabled = errors.New("external provider is not configured")

// ExternalUserInfo は外部IdPから取得したユーザー情報を表す。
type ExternalUserInfo struct {
	ExternalID string
	Email      string
	Name       string
	Provider   string
}

// ExternalProvider は外部IdPによる認証フローのインターフェース。
type ExternalProvider interface {
	// GetLoginURL は認証URLを生成する。
	GetLoginURL(state string) string
	// ExchangeCode は認可コードを交換し、ユーザー情報を取得する。
	ExchangeCode(ctx context.Context, code string) (*ExternalUserInfo, error)
}

// TokenIssuer はBearerトークンの発行と検証のインターフェース。
type TokenIssuer interface {
	Issue(userID, name string) (string, error)
	Verify(tokenString string) (*token.Claims, error)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）
	Metrics       metrics.MetricsCollector
}

// AuthResult は登録・ログインの結果。
type AuthResult struct {
	User  *model.User
	Token string
}

// Service はAccount Reconciliationのビジネスロジックを提供する。
type Service struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   TokenIssuer
	hasher   PasswordHasher
	external ExternalProvider
	config   ServiceConfig
	metrics  metrics.MetricsCollector
	now      func() time.Time

	// dummyHash は未登録メールアドレスのログインでも照合を1回行うためのハッシュ。
	dummyHash func() string
}

// NewService はServiceを生成する。externalがnilの場合は外部サインインを無効とする。
func NewService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens TokenIssuer,
	hasher PasswordHasher,
	external ExternalProvider,
	config ServiceConfig,
) *Service {
	m := config.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	s := &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		external: external,
		config:   config,
		metrics:  m,
		now:      time.Now,
	}
	s.dummyHash = sync.OnceValue(func() string {
		hash, err := hasher.Hash("todoman-dummy-password")
		if err != nil {
			slog.Error("failed to prepare dummy password hash", slog.String("error", err.Error()))
			return ""
		}
		return hash
	})
	return s
}

// ExternalEnabled は外部サインインが利用可能かどうかを返す。
func (s *Service) ExternalEnabled() bool {
	return s.external != nil
}

// Register はローカルユーザーを登録し、トークンを発行する。
func (s *Service) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	result, err := s.register(ctx, name, email, password)
	s.recordEvent(EventRegister, err)
	return result, err
}

func (s *Service) register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	// 1. 入力値を検証
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, model.NewValidationError("name is required")
	}
	normalized, apiErr := normalizeEmail(email)
	if apiErr != nil {
		return nil, apiErr
	}
	if apiErr := validatePassword(password); apiErr != nil {
		return nil, apiErr
	}

	// 2. メールアドレスの重複を確認
	existing, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateEmailError()
	}

	// 3. パスワードをハッシュ化してユーザーを作成
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Name:         name,
		Email:        normalized,
		PasswordHash: hash,
		Provider:     model.ProviderLocal,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	// 4. トークンを発行
	tok, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user registered", slog.String("user_id", user.ID))
	return &AuthResult{User: user, Token: tok}, nil
}

// Login はメールアドレスとパスワードで認証し、トークンを発行する。
// 未登録・パスワード未設定・不一致はいずれもInvalidCredentialsとする。
func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	result, err := s.login(ctx, email, password)
	s.recordEvent(EventLogin, err)
	return result, err
}

func (s *Service) login(ctx context.Context, email, password string) (*AuthResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !user.HasPassword() {
		// 登録済みかどうかを応答時間から判別させない
		_ = s.hasher.Compare(s.dummyHash(), password)
		return nil, model.NewInvalidCredentialsError()
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, ErrPasswordMismatch) {
			return nil, model.NewInvalidCredentialsError()
		}
		return nil, err
	}

	tok, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	return &AuthResult{User: user, Token: tok}, nil
}

// GetUser は指定IDのユーザーを取得する。
func (s *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// ExternalSignIn は外部IdPのユーザー情報を正規ユーザーに照合する。
// メールアドレスが未登録なら新規作成し、登録済みで外部IDが未設定なら紐付ける。
// 既存ユーザーのIDは変更しない。
func (s *Service) ExternalSignIn(ctx context.Context, info *ExternalUserInfo) (*model.User, error) {
	user, err := s.externalSignIn(ctx, info)
	s.recordEvent(EventExternalSignIn, err)
	return user, err
}

func (s *Service) externalSignIn(ctx context.Context, info *ExternalUserInfo) (*model.User, error) {
	if info == nil || info.ExternalID == "" {
		return nil, errors.New("external user info without external id")
	}
	email, apiErr := normalizeEmail(info.Email)
	if apiErr != nil {
		return nil, apiErr
	}

	// 1. メールアドレスで既存ユーザーを検索
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	// 2. 未登録の場合は外部IDを持つユーザーを作成
	if user == nil {
		name := strings.TrimSpace(info.Name)
		if name == "" {
			name, _, _ = strings.Cut(email, "@")
		}
		user = &model.User{
			Name:       name,
			Email:      email,
			ExternalID: info.ExternalID,
			Provider:   info.Provider,
		}
		err := s.users.Create(ctx, user)
		if err == nil {
			slog.Info("user created by external sign-in",
				slog.String("user_id", user.ID),
				slog.String("provider", info.Provider),
			)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		// 同時登録で先に作成された場合は既存ユーザーとして扱う
		user, err = s.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("failed to find user by email: %w", err)
		}
		if user == nil {
			return nil, errors.New("user disappeared after duplicate email")
		}
	}

	// 3. 外部IDが紐付け済みならそのまま返す
	if user.ExternalID != "" {
		return user, nil
	}

	// 4. 未設定の外部IDのみを埋める
	linked, err := s.users.AttachExternalID(ctx, user.ID, info.ExternalID, info.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to attach external id: %w", err)
	}
	if linked == nil {
		return nil, model.NewUserNotFoundError()
	}
	slog.Info("external id attached to existing user",
		slog.String("user_id", linked.ID),
		slog.String("provider", info.Provider),
	)
	return linked, nil
}

// GetLoginURL は外部IdPの認証URLを生成する。
func (s *Service) GetLoginURL(state string) (string, error) {
	if s.external == nil {
		return "", ErrExternalProviderDisabled
	}
	return s.external.GetLoginURL(state), nil
}

// HandleCallback は外部IdPのコールバックを処理し、照合済みユーザーIDを持つセッションを発行する。
func (s *Service) HandleCallback(ctx context.Context, code string) (*model.Session, error) {
	if s.external == nil {
		return nil, ErrExternalProviderDisabled
	}

	// 1. 認可コードを交換し、ユーザー情報を取得
	info, err := s.external.ExchangeCode(ctx, code)
	if err != nil {
		s.recordEvent(EventExternalSignIn, err)
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	// 2. 正規ユーザーに照合
	user, err := s.ExternalSignIn(ctx, info)
	if err != nil {
		return nil, err
	}

	// 3. セッションに埋め込むトークンを発行
	tok, err := s.tokens.Issue(user.ID, user.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	// 4. セッションを発行
	return s.createSession(ctx, &model.Session{
		UserID:      user.ID,
		OwnerUserID: user.ID,
		ExternalID:  info.ExternalID,
		Provider:    info.Provider,
		Email:       user.Email,
		Name:        user.Name,
		AccessToken: tok,
	})
}

// SignInWithCredentials はローカル認証でWebセッションを発行する。
// ユーザーIDはトークンのクレームから解決する。OwnerUserIDは退会時の削除にのみ使う。
func (s *Service) SignInWithCredentials(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	result, err := s.Login(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	session, err := s.createSession(ctx, &model.Session{
		OwnerUserID: result.User.ID,
		Provider:    model.ProviderLocal,
		Email:       result.User.Email,
		Name:        result.User.Name,
		AccessToken: result.Token,
	})
	if err != nil {
		return nil, nil, err
	}
	return session, result.User, nil
}

// GetSession は有効なセッションを取得する。存在しない場合はnilを返す。
func (s *Service) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	if sessionID == "" {
		return nil, nil
	}
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil || session.IsExpired(s.now()) {
		return nil, nil
	}
	return session, nil
}

// Logout はセッションを破棄する。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	if err := s.sessions.DeleteByID(ctx, sessionID); err != nil {
		s.recordEvent(EventLogout, err)
		return fmt.Errorf("failed to delete session: %w", err)
	}

	s.recordEvent(EventLogout, nil)
	slog.Info("user logged out")
	return nil
}

// createSession はセッションIDと有効期限を設定して永続化する。
func (s *Service) createSession(ctx context.Context, session *model.Session) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session.ID = sessionID
	session.CreatedAt = now
	session.ExpiresAt = now.Add(time.Duration(s.config.SessionMaxAge) * time.Second)

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return session, nil
}

func (s *Service) recordEvent(event string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	s.metrics.RecordAuthEvent(event, outcome)
}

// normalizeEmail はメールアドレスを検証し、前後の空白を除いた小文字表記に揃える。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func normalizeEmail(email string) (string, *model.APIError) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", model.NewValidationError("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", model.NewValidationError("email is invalid")
	}
	return strings.ToLower(addr.Address), nil
}

func validatePassword(password string) *model.APIError {
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewValidationError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	if len(password) > maxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes))
	}
	return nil
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
