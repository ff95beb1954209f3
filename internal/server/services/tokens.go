// Package services contains server-side business logic: the token lifecycle
// (TokenService) and account registration and login (AuthService).
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/dbx"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/auth"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tokenkeeper/internal/timex"
	"github.com/google/uuid"
)

const (
	DefaultAccessTTL  = "15m"
	DefaultRefreshTTL = "7d"

	defaultAccessSeconds  int64 = 15 * 60
	defaultRefreshSeconds int64 = 7 * 24 * 60 * 60
)

// TokenPair is returned by register, login and refresh. ExpiresIn is the
// access token lifetime in seconds and goes over the wire as a string.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn,string"`
}

// TokenSettings holds lifetimes in the compact "15m" / "7d" notation.
type TokenSettings struct {
	AccessTTL  string
	RefreshTTL string
}

// TokenService issues, rotates and revokes token pairs. The refresh token
// store is the authority on whether a refresh token may still be used.
type TokenService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	codec       *auth.Codec
	log         logging.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	accessTTL  time.Duration
	refreshTTL time.Duration
}

type TokenServiceOption func(*TokenService)

// WithClock replaces time.Now for expiry calculations.
func WithClock(now func() time.Time) TokenServiceOption {
	return func(s *TokenService) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) TokenServiceOption {
	return func(s *TokenService) { s.metrics = m }
}

// NewTokenService parses the configured lifetimes, falling back to 15m and 7d
// (with a warning) when either is malformed.
func NewTokenService(db *sql.DB, m repomanager.RepositoryManager, codec *auth.Codec, settings TokenSettings, log logging.Logger, opts ...TokenServiceOption) *TokenService {
	s := &TokenService{
		db:          db,
		repomanager: m,
		codec:       codec,
		log:         log.With("module", "tokens"),
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	ctx := context.Background()
	access, err := timex.SecondsOr(settings.AccessTTL, defaultAccessSeconds)
	if err != nil {
		s.log.Warn(ctx, "invalid access token lifetime, using default", "value", settings.AccessTTL, "default_seconds", access)
	}
	refresh, err := timex.SecondsOr(settings.RefreshTTL, defaultRefreshSeconds)
	if err != nil {
		s.log.Warn(ctx, "invalid refresh token lifetime, using default", "value", settings.RefreshTTL, "default_seconds", refresh)
	}
	s.accessTTL = time.Duration(access) * time.Second
	s.refreshTTL = time.Duration(refresh) * time.Second

	return s
}

// AccessTTLSeconds is the lifetime reported as expiresIn.
func (s *TokenService) AccessTTLSeconds() int64 {
	return int64(s.accessTTL / time.Second)
}

// Issue mints a token pair for the user and persists its refresh record.
func (s *TokenService) Issue(ctx context.Context, userID, userName string) (*TokenPair, error) {
	pair, _, err := s.issue(ctx, s.db, userID, userName)
	return pair, err
}

// IssueTx is Issue inside the caller's transaction.
func (s *TokenService) IssueTx(ctx context.Context, tx dbx.DBTX, userID, userName string) (*TokenPair, error) {
	pair, _, err := s.issue(ctx, tx, userID, userName)
	return pair, err
}

func (s *TokenService) issue(ctx context.Context, db dbx.DBTX, userID, userName string) (*TokenPair, string, error) {
	tokenID := uuid.NewString()

	access, err := s.codec.SignAccess(userID, userName, s.accessTTL)
	if err != nil {
		s.log.Error(ctx, "error signing access token", "user_id", userID, "error", err)
		return nil, "", common.ErrorInternal
	}
	refresh, err := s.codec.SignRefresh(userID, userName, tokenID, s.refreshTTL)
	if err != nil {
		s.log.Error(ctx, "error signing refresh token", "user_id", userID, "error", err)
		return nil, "", common.ErrorInternal
	}

	rec := &models.RefreshToken{
		ID:        tokenID,
		UserID:    userID,
		Token:     refresh,
		ExpiresAt: s.now().Add(s.refreshTTL),
	}
	if err := s.repomanager.RefreshTokens(db).Create(ctx, rec); err != nil {
		s.log.Error(ctx, "error storing refresh token", "user_id", userID, "error", err)
		return nil, "", fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	s.metrics.TokensIssued.Inc()
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.AccessTTLSeconds(),
	}, tokenID, nil
}

// ParseRefresh verifies a refresh token without consulting the store.
func (s *TokenService) ParseRefresh(token string) (*auth.RefreshClaims, error) {
	claims, err := s.codec.VerifyRefresh(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, common.ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) refreshFailed(reason string, err error) error {
	s.metrics.RefreshFailures.WithLabelValues(reason).Inc()
	return err
}

// Rotate exchanges a refresh token for a new pair. The presented token is
// consumed: the new record is written first, then the old one is deleted,
// and if another rotation already deleted it the new pair is withdrawn.
func (s *TokenService) Rotate(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.ParseRefresh(refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) {
			return nil, s.refreshFailed("expired", err)
		}
		return nil, s.refreshFailed("invalid", err)
	}

	repo := s.repomanager.RefreshTokens(s.db)

	rec, err := repo.FindByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.log.Warn(ctx, "refresh token not found, possibly reused or revoked", "user_id", claims.Subject, "token_id", claims.TokenID)
			return nil, s.refreshFailed("unknown", common.ErrInvalidToken)
		}
		s.log.Error(ctx, "error looking up refresh token", "token_id", claims.TokenID, "error", err)
		return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}

	if rec.Expired(s.now()) {
		if _, err := repo.DeleteByID(ctx, rec.ID); err != nil {
			s.log.Warn(ctx, "error deleting expired refresh token", "token_id", rec.ID, "error", err)
		}
		return nil, s.refreshFailed("expired", common.ErrTokenExpired)
	}

	if rec.Token != refreshToken || rec.UserID != claims.Subject {
		s.log.Warn(ctx, "refresh token does not match stored record", "user_id", claims.Subject, "token_id", rec.ID)
		return nil, s.refreshFailed("mismatch", common.ErrInvalidToken)
	}

	pair, newID, err := s.issue(ctx, s.db, rec.UserID, claims.UserName)
	if err != nil {
		return nil, err
	}

	deleted, err := repo.DeleteByID(ctx, rec.ID)
	if err != nil || !deleted {
		if _, rerr := repo.DeleteByID(ctx, newID); rerr != nil {
			s.log.Error(ctx, "error withdrawing refresh token", "token_id", newID, "error", rerr)
		}
		if err != nil {
			s.log.Error(ctx, "error deleting rotated refresh token", "token_id", rec.ID, "error", err)
			return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
		s.log.Warn(ctx, "refresh token consumed concurrently", "user_id", rec.UserID, "token_id", rec.ID)
		return nil, s.refreshFailed("reused", common.ErrInvalidToken)
	}

	s.metrics.TokensRotated.Inc()
	s.log.Info(ctx, "refresh token rotated", "user_id", rec.UserID, "old_token_id", rec.ID, "token_id", newID)
	return pair, nil
}

// RevokeOne deletes a single session. Unknown identifiers are not an error.
func (s *TokenService) RevokeOne(ctx context.Context, tokenID string) error {
	deleted, err := s.repomanager.RefreshTokens(s.db).DeleteByID(ctx, tokenID)
	if err != nil {
		s.log.Error(ctx, "error revoking refresh token", "token_id", tokenID, "error", err)
		return fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	if !deleted {
		s.log.Info(ctx, "refresh token already gone", "token_id", tokenID)
		return nil
	}
	s.metrics.TokensRevoked.WithLabelValues("one").Inc()
	s.log.Info(ctx, "refresh token revoked", "token_id", tokenID)
	return nil
}

// RevokeAll deletes every session of the user and returns how many there were.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteByUser(ctx, userID)
	if err != nil {
		s.log.Error(ctx, "error revoking user refresh tokens", "user_id", userID, "error", err)
		return 0, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	s.metrics.TokensRevoked.WithLabelValues("all").Add(float64(n))
	s.log.Info(ctx, "user refresh tokens revoked", "user_id", userID, "count", n)
	return n, nil
}

// PurgeExpired removes records whose expiry is strictly before now.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).DeleteExpiredBefore(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	s.metrics.TokensPurged.Add(float64(n))
	return n, nil
}
