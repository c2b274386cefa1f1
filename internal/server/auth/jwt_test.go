package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const testAddress = "0x2c7536e3605d9c16a7a3d7b1898e529396a65c23"

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	now := time.Now()

	tok, exp, err := GenerateToken(testAddress, secret, now, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("expiry mismatch: got %v", exp)
	}

	got, err := GetAddressFromToken(tok, secret)
	if err != nil {
		t.Fatalf("GetAddressFromToken error: %v", err)
	}
	if got != testAddress {
		t.Fatalf("address mismatch: got %q want %q", got, testAddress)
	}
}

func TestGetAddressFromToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")

	tok, _, err := GenerateToken(testAddress, secret, time.Now(), -1*time.Second)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = GetAddressFromToken(tok, secret)
	if !errors.Is(err, common.ErrExpiredSession) {
		t.Fatalf("expected common.ErrExpiredSession, got %v", err)
	}
}

func TestGetAddressFromToken_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, _, err := GenerateToken(testAddress, []byte("right-secret"), time.Now(), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken error: %v", err)
	}

	_, err = GetAddressFromToken(tok, []byte("wrong-secret"))
	if !errors.Is(err, common.ErrInvalidSession) {
		t.Fatalf("expected common.ErrInvalidSession, got %v", err)
	}
}

func TestGetAddressFromToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := GetAddressFromToken("not.a.jwt", []byte("k"))
	if !errors.Is(err, common.ErrInvalidSession) {
		t.Fatalf("expected common.ErrInvalidSession, got %v", err)
	}
}

func TestGetAddressFromToken_RejectsOtherAlgorithms(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	token := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
		Address:          testAddress,
	})
	s, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := GetAddressFromToken(s, secret); !errors.Is(err, common.ErrInvalidSession) {
		t.Fatalf("expected common.ErrInvalidSession, got %v", err)
	}
}

func TestGetAddressFromToken_RequiresExpiry(t *testing.T) {
	t.Parallel()

	secret := []byte("k")
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Address: testAddress}).SignedString(secret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := GetAddressFromToken(s, secret); !errors.Is(err, common.ErrInvalidSession) {
		t.Fatalf("expected common.ErrInvalidSession, got %v", err)
	}
}
