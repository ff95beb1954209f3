package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenService_Lifetimes(t *testing.T) {
	f := newFixture(t, TokenSettings{AccessTTL: "1h", RefreshTTL: "30d"})
	assert.Equal(t, int64(3600), f.svc.AccessTTLSeconds())
	assert.Equal(t, 30*24*time.Hour, f.svc.refreshTTL)

	f = newFixture(t, TokenSettings{AccessTTL: "fifteen", RefreshTTL: ""})
	assert.Equal(t, int64(900), f.svc.AccessTTLSeconds())
	assert.Equal(t, 7*24*time.Hour, f.svc.refreshTTL)

	// too long for time.Duration
	f = newFixture(t, TokenSettings{AccessTTL: "15m", RefreshTTL: "200000d"})
	assert.Equal(t, 7*24*time.Hour, f.svc.refreshTTL)
}

func TestRotate_OversizedLifetimeFallsBack(t *testing.T) {
	f := newFixture(t, TokenSettings{AccessTTL: "300000d", RefreshTTL: "200000d"})
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	recs := f.tokens.forUser("u-1")
	require.Len(t, recs, 1)
	assert.True(t, recs[0].ExpiresAt.After(f.clock.Now()))

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	require.NoError(t, err)
}

func TestIssue_PersistsOneRecord(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(900), pair.ExpiresIn)

	recs := f.tokens.forUser("u-1")
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, pair.RefreshToken, rec.Token)
	assert.True(t, rec.ExpiresAt.Equal(f.clock.Now().Add(7*24*time.Hour)))

	claims, err := f.svc.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, claims.TokenID)
	assert.Equal(t, "u-1", claims.Subject)
	assert.Equal(t, "alice", claims.UserName)

	access, err := f.codec.VerifyAccess(pair.AccessToken, 0)
	require.NoError(t, err)
	assert.Equal(t, "u-1", access.Subject)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensIssued))
}

func TestIssue_DistinctTokenIDs(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	a, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	b, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
	assert.Len(t, f.tokens.forUser("u-1"), 2)
}

func TestIssue_StoreFailure(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.tokens.createErr = errors.New("disk full")

	pair, err := f.svc.Issue(context.Background(), "u-1", "alice")
	assert.Nil(t, pair)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestTokenPair_JSON(t *testing.T) {
	b, err := json.Marshal(&TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresIn: 900})
	require.NoError(t, err)
	assert.JSONEq(t, `{"accessToken":"a","refreshToken":"r","expiresIn":"900"}`, string(b))
}

func TestRotate_Success(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	first, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	oldClaims, err := f.svc.ParseRefresh(first.RefreshToken)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	second, err := f.svc.Rotate(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	recs := f.tokens.forUser("u-1")
	require.Len(t, recs, 1, "old record replaced by the new one")
	assert.NotEqual(t, oldClaims.TokenID, recs[0].ID)
	assert.Equal(t, second.RefreshToken, recs[0].Token)

	newClaims, err := f.svc.ParseRefresh(second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", newClaims.Subject)

	_, err = f.svc.Rotate(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken, "a rotated token is single-use")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensRotated))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshFailures.WithLabelValues("unknown")))
}

func TestRotate_RejectsBadTokens(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	for name, tok := range map[string]string{
		"garbage":      "not-a-token",
		"empty":        "",
		"access token": pair.AccessToken,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Rotate(ctx, tok)
			assert.ErrorIs(t, err, common.ErrInvalidToken)
		})
	}
	assert.Len(t, f.tokens.forUser("u-1"), 1)
}

func TestRotate_TokenPastExpiry(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	f.clock.Advance(8 * 24 * time.Hour)
	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestRotate_RecordExpiredIsDeleted(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	rec := f.tokens.forUser("u-1")[0]
	stale := *rec
	stale.ExpiresAt = f.clock.Now().Add(-time.Second)
	f.tokens.set(&stale)

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrTokenExpired)
	assert.Empty(t, f.tokens.forUser("u-1"), "stale record removed as a side effect")
}

func TestRotate_StoredTokenMismatch(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	rec := f.tokens.forUser("u-1")[0]
	other := *rec
	other.Token = "something-else"
	f.tokens.set(&other)

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Len(t, f.tokens.forUser("u-1"), 1)
}

func TestRotate_OwnerMismatch(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	rec := f.tokens.forUser("u-1")[0]
	moved := *rec
	moved.UserID = "u-2"
	f.tokens.set(&moved)

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRotate_LookupFailure(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	f.tokens.findErr = errors.New("connection reset")
	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestRotate_LosesRaceToConcurrentRotation(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	oldID := f.tokens.forUser("u-1")[0].ID

	// Another rotation removes the old record between lookup and delete.
	f.tokens.beforeDelete = func(id string) {
		if id == oldID {
			f.tokens.mu.Lock()
			delete(f.tokens.recs, id)
			f.tokens.mu.Unlock()
		}
	}

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Empty(t, f.tokens.forUser("u-1"), "the pair minted by the losing rotation is withdrawn")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RefreshFailures.WithLabelValues("reused")))
}

func TestRotate_ConcurrentCallersOnlyOneWins(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	const n = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Rotate(ctx, pair.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, common.ErrInvalidToken)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Len(t, f.tokens.forUser("u-1"), 1)
}

func TestRotate_DeleteFailure(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)

	f.tokens.deleteErr = errors.New("db down")
	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrorInternal)
}

func TestRevokeOne_Idempotent(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	pair, err := f.svc.Issue(ctx, "u-1", "alice")
	require.NoError(t, err)
	claims, err := f.svc.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, f.svc.RevokeOne(ctx, claims.TokenID))
	require.NoError(t, f.svc.RevokeOne(ctx, claims.TokenID))
	require.NoError(t, f.svc.RevokeOne(ctx, "never-existed"))

	_, err = f.svc.Rotate(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensRevoked.WithLabelValues("one")))
}

func TestRevokeOne_StoreFailure(t *testing.T) {
	f := newFixture(t, defaultSettings())
	f.tokens.deleteErr = errors.New("db down")
	assert.ErrorIs(t, f.svc.RevokeOne(context.Background(), "x"), common.ErrorInternal)
}

func TestRevokeAll_Isolation(t *testing.T) {
	f := newFixture(t, defaultSettings())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.Issue(ctx, "u-1", "alice")
		require.NoError(t, err)
	}
	bob, err := f.svc.Issue(ctx, "u-2", "bob")
	require.NoError(t, err)

	n, err := f.svc.RevokeAll(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Empty(t, f.tokens.forUser("u-1"))

	_, err = f.svc.Rotate(ctx, bob.RefreshToken)
	assert.NoError(t, err, "other users keep their sessions")
}

func TestPurgeExpired_StrictlyBeforeNow(t *testing.T) {
	f := newFixture(t, TokenSettings{AccessTTL: "15m", RefreshTTL: "1h"})
	ctx := context.Background()

	_, err := f.svc.Issue(ctx, "u-1", "alice") // expires at T+1h
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	_, err = f.svc.Issue(ctx, "u-2", "bob") // expires at T+1h30m
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute) // now == first expiry
	n, err := f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a record expiring exactly now is kept")

	f.clock.Advance(time.Second)
	n, err = f.svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, f.tokens.forUser("u-1"))
	assert.Len(t, f.tokens.forUser("u-2"), 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.TokensPurged))
}
