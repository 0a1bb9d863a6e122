package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/akazakov/vpnmanager/internal/common"
)

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")

	tok, err := GenerateToken(RoleAdmin, secret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	role, err := RoleFromToken(tok, secret)
	if err != nil {
		t.Fatalf("RoleFromToken error: %v", err)
	}
	if role != RoleAdmin {
		t.Fatalf("role mismatch: got %q want %q", role, RoleAdmin)
	}
}

func TestRoleFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, err := GenerateToken(RoleAdmin, secret, -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = RoleFromToken(tok, secret)
	if err == nil {
		t.Fatalf("expected error for expired token, got nil")
	}
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("expected common.ErrInvalidToken, got %v", err)
	}
}

func TestRoleFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := GenerateToken(RoleAdmin, []byte("right-secret"), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = RoleFromToken(tok, []byte("wrong-secret"))
	if err == nil {
		t.Fatalf("expected error for invalid signature, got nil")
	}
}

func TestRoleFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := RoleFromToken("not.a.jwt", []byte("k"))
	if err == nil {
		t.Fatalf("expected error for malformed token, got nil")
	}
}
