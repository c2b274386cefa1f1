package auth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/medvault/internal/common"
	"github.com/dmitrijs2005/medvault/internal/logging"
	"github.com/dmitrijs2005/medvault/internal/server/cache"
	"github.com/dmitrijs2005/medvault/internal/walletsig"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("session-secret")

func newRedisAuthenticator(t *testing.T) (*Authenticator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewAuthenticator(cache.NewRedisCache(client, time.Second), testSecret, time.Hour, logging.Nop{}), mr
}

func newMemoryAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	c := cache.NewMemoryCache()
	t.Cleanup(c.Close)
	return NewAuthenticator(c, testSecret, time.Hour, logging.Nop{})
}

func newSigner(t *testing.T) *walletsig.Signer {
	t.Helper()
	s, err := walletsig.GenerateSigner()
	require.NoError(t, err)
	return s
}

func TestIssueNonce_FormatAndTTL(t *testing.T) {
	a, mr := newRedisAuthenticator(t)
	s := newSigner(t)

	nonce, err := a.IssueNonce(context.Background(), s.Address())
	require.NoError(t, err)
	assert.Len(t, nonce, 32)

	stored, err := mr.Get(common.NonceKeyPrefix + s.Address())
	require.NoError(t, err)
	assert.Equal(t, nonce, stored)
	assert.Equal(t, common.NonceTTL, mr.TTL(common.NonceKeyPrefix+s.Address()))
}

func TestIssueNonce_InvalidAddress(t *testing.T) {
	a := newMemoryAuthenticator(t)
	_, err := a.IssueNonce(context.Background(), "0x1234")
	require.ErrorIs(t, err, common.ErrInvalidAddress)
}

func TestIssueNonce_KeyIsCaseInsensitive(t *testing.T) {
	a, mr := newRedisAuthenticator(t)
	s := newSigner(t)
	upper := "0x" + strings.ToUpper(s.Address()[2:])

	_, err := a.IssueNonce(context.Background(), upper)
	require.NoError(t, err)
	assert.True(t, mr.Exists(common.NonceKeyPrefix+s.Address()))
}

func TestVerify_Success(t *testing.T) {
	a := newMemoryAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)

	sess, err := a.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(nonce)), nonce)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sess.Address)
	assert.NotEmpty(t, sess.Token)

	addr, err := a.ParseSession(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)
}

func TestVerify_NonceOverwrite(t *testing.T) {
	a := newMemoryAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	first, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	second, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	_, err = a.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(first)), first)
	require.ErrorIs(t, err, common.ErrInvalidNonce)

	_, err = a.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(second)), second)
	require.NoError(t, err)
}

func TestVerify_ReplayRejected(t *testing.T) {
	a, _ := newRedisAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	sig := s.SignMessage(common.AuthMessage(nonce))

	_, err = a.Verify(ctx, s.Address(), sig, nonce)
	require.NoError(t, err)

	_, err = a.Verify(ctx, s.Address(), sig, nonce)
	require.ErrorIs(t, err, common.ErrInvalidNonce)
}

func TestVerify_ExpiredNonce(t *testing.T) {
	a, mr := newRedisAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	mr.FastForward(common.NonceTTL + time.Second)

	_, err = a.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(nonce)), nonce)
	require.ErrorIs(t, err, common.ErrInvalidNonce)
}

func TestVerify_WrongSigner(t *testing.T) {
	a := newMemoryAuthenticator(t)
	owner := newSigner(t)
	attacker := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, owner.Address())
	require.NoError(t, err)

	_, err = a.Verify(ctx, owner.Address(), attacker.SignMessage(common.AuthMessage(nonce)), nonce)
	require.ErrorIs(t, err, common.ErrInvalidSignature)

	// a failed signature does not burn the nonce
	_, err = a.Verify(ctx, owner.Address(), owner.SignMessage(common.AuthMessage(nonce)), nonce)
	require.NoError(t, err)
}

func TestVerify_MalformedSignature(t *testing.T) {
	a := newMemoryAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)

	_, err = a.Verify(ctx, s.Address(), "0xdeadbeef", nonce)
	require.ErrorIs(t, err, common.ErrInvalidSignature)
}

func TestVerify_ConcurrentLoginsSingleWinner(t *testing.T) {
	a, _ := newRedisAuthenticator(t)
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	sig := s.SignMessage(common.AuthMessage(nonce))

	var ok, lost atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Verify(ctx, s.Address(), sig, nonce)
			switch {
			case err == nil:
				ok.Add(1)
			case assert.ErrorIs(t, err, common.ErrInvalidNonce):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(7), lost.Load())
}

func TestParseSession_UsesClock(t *testing.T) {
	now := time.Now()
	a := newMemoryAuthenticator(t).WithClock(func() time.Time { return now })
	s := newSigner(t)
	ctx := context.Background()

	nonce, err := a.IssueNonce(ctx, s.Address())
	require.NoError(t, err)
	sess, err := a.Verify(ctx, s.Address(), s.SignMessage(common.AuthMessage(nonce)), nonce)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour).Unix(), sess.ExpiresAt.Unix())

	now = now.Add(2 * time.Hour)
	_, err = a.ParseSession(sess.Token)
	require.ErrorIs(t, err, common.ErrExpiredSession)
}
