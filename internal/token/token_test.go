package token

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestIssueAndVerify(t *testing.T) {
	m := NewManager("test-secret", time.Hour)

	tok, err := m.Issue("user-1", "Alice")
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}
	if strings.Count(tok, ".") != 2 {
		t.Fatalf("Issue() returned non-JWT string: %q", tok)
	}

	claims, err := m.Verify(tok)
	if err != nil {
		t.Fatalf("Verify() unexpected error: %v", err)
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.Name != "Alice" {
		t.Errorf("Name = %q, want %q", claims.Name, "Alice")
	}
	if claims.Issuer != Issuer {
		t.Errorf("Issuer = %q, want %q", claims.Issuer, Issuer)
	}
}

func TestIssue_EmptyUserID(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	if _, err := m.Issue("", "Alice"); err == nil {
		t.Error("Issue() expected error for empty user id")
	}
}

func TestVerify_ExpiredToken(t *testing.T) {
	issuedAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewManager("test-secret", 30*24*time.Hour).WithClock(fixedClock(issuedAt))

	tok, err := m.Issue("user-1", "Alice")
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}

	// 有効期限内
	if _, err := m.WithClock(fixedClock(issuedAt.Add(29 * 24 * time.Hour))).Verify(tok); err != nil {
		t.Errorf("Verify() within lifetime: unexpected error: %v", err)
	}

	// 有効期限切れ
	_, err = m.WithClock(fixedClock(issuedAt.Add(31 * 24 * time.Hour))).Verify(tok)
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify() after expiry: expected ErrInvalidToken, got %v", err)
	}
}

func TestVerify_RejectsTamperedAndForeignTokens(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	good, err := m.Issue("user-1", "Alice")
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}
	otherSecret, err := NewManager("other-secret", time.Hour).Issue("user-1", "Alice")
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}

	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-1",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noUserID, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer},
		UserID:           "user-1",
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: "user-1",
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{name: "空文字列", token: ""},
		{name: "JWTではない文字列", token: "not-a-valid-token"},
		{name: "ペイロード改ざん", token: tampered},
		{name: "別の秘密鍵", token: otherSecret},
		{name: "発行者不一致", token: wrongIssuer},
		{name: "userIdなし", token: noUserID},
		{name: "expなし", token: noExpiry},
		{name: "alg=none", token: unsigned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestDecodeClaims(t *testing.T) {
	m := NewManager("test-secret", time.Hour)
	tok, err := m.Issue("user-1", "Alice")
	if err != nil {
		t.Fatalf("Issue() unexpected error: %v", err)
	}

	// 署名を検証しないため、別の秘密鍵で発行されたトークンでも読み出せる
	claims, err := DecodeClaims(tok)
	if err != nil {
		t.Fatalf("DecodeClaims() unexpected error: %v", err)
	}
	if claims["userId"] != "user-1" {
		t.Errorf("userId = %v, want %q", claims["userId"], "user-1")
	}
	if claims["name"] != "Alice" {
		t.Errorf("name = %v, want %q", claims["name"], "Alice")
	}

	if _, err := DecodeClaims("garbage"); err == nil {
		t.Error("DecodeClaims() expected error for malformed token")
	}
}
