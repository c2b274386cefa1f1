// Package auth implements wallet-signature login: single-use nonces bound to
// an address, EIP-191 signature verification and stateless session tokens.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/cache"
	"github.com/dmitrijs2005/medvault/internal/timex"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
)

const nonceBytes = 16

// Session is the result of a successful login.
type Session struct {
	Address   string
	Token     string
	ExpiresAt time.Time
}

// Authenticator issues and consumes login nonces and mints session tokens.
type Authenticator struct {
	cache      cache.Cache
	secret     []byte
	sessionTTL time.Duration
	clock      timex.Clock
	logger     logging.Logger
}

func NewAuthenticator(c cache.Cache, secret []byte, sessionTTL time.Duration, logger logging.Logger) *Authenticator {
	return &Authenticator{
		cache:      c,
		secret:     secret,
		sessionTTL: sessionTTL,
		logger:     logger,
	}
}

// WithClock replaces the time source used for token timestamps.
func (a *Authenticator) WithClock(clock timex.Clock) *Authenticator {
	a.clock = clock
	return a
}

func nonceKey(address string) string {
	return common.NonceKeyPrefix + address
}

// IssueNonce stores a fresh nonce for address, replacing any previous one.
func (a *Authenticator) IssueNonce(ctx context.Context, address string) (string, error) {
	addr, err := common.NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	nonce, err := common.MakeRandHexString(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	if err := a.cache.Set(ctx, nonceKey(addr), []byte(nonce), common.NonceTTL); err != nil {
		return "", fmt.Errorf("store nonce: %w", err)
	}

	a.logger.Debug(ctx, "nonce issued", "address", addr)
	return nonce, nil
}

// Verify consumes the nonce for address if signature is a valid signature
// of the login message by that address, and returns a new session.
//
// The nonce is deleted only after the signature checks out, with an atomic
// compare-and-delete; of two concurrent logins with the same nonce exactly
// one succeeds.
func (a *Authenticator) Verify(ctx context.Context, address, signature, nonce string) (Session, error) {
	addr, err := common.NormalizeAddress(address)
	if err != nil {
		return Session{}, err
	}

	stored, err := a.cache.Get(ctx, nonceKey(addr))
	if errors.Is(err, common.ErrNotFound) {
		return Session{}, common.ErrInvalidNonce
	}
	if err != nil {
		return Session{}, fmt.Errorf("load nonce: %w", err)
	}
	if subtle.ConstantTimeCompare(stored, []byte(nonce)) != 1 {
		return Session{}, common.ErrInvalidNonce
	}

	if err := walletsig.Verify(addr, common.AuthMessage(nonce), signature); err != nil {
		a.logger.Info(ctx, "login signature rejected", "address", addr)
		return Session{}, common.ErrInvalidSignature
	}

	consumed, err := a.cache.CompareAndDelete(ctx, nonceKey(addr), []byte(nonce))
	if err != nil {
		return Session{}, fmt.Errorf("consume nonce: %w", err)
	}
	if !consumed {
		return Session{}, common.ErrInvalidNonce
	}

	token, expiresAt, err := GenerateToken(addr, a.secret, a.clock.Now(), a.sessionTTL)
	if err != nil {
		return Session{}, fmt.Errorf("sign session: %w", err)
	}

	a.logger.Info(ctx, "session created", "address", addr)
	return Session{Address: addr, Token: token, ExpiresAt: expiresAt}, nil
}

// ParseSession returns the address bound to token.
func (a *Authenticator) ParseSession(token string) (string, error) {
	return parseToken(token, a.secret, a.clock.Now)
}
