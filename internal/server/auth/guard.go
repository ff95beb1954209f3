package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
)

// Rejection reasons. They are wrapped together with common.ErrorUnauthorized
// and only ever logged; callers see a uniform unauthorized response.
var (
	ErrMissingHeader    = errors.New("authorization header missing")
	ErrBadScheme        = errors.New("authorization scheme is not Bearer")
	ErrEmptyToken       = errors.New("bearer token is empty")
	ErrVerification     = errors.New("token verification failed")
	ErrIncompleteClaims = errors.New("token lacks subject or user name")
	ErrTokenTooOld      = errors.New("token issued too long ago")
)

const (
	DefaultClockTolerance = 30 * time.Second
	DefaultMaxTokenAge    = 7 * 24 * time.Hour
)

// Identity is what a successfully authenticated request knows about its caller.
type Identity struct {
	UserID    string
	UserName  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type GuardConfig struct {
	ClockTolerance time.Duration
	// MaxTokenAge caps how old iat may be regardless of exp. Zero disables it.
	MaxTokenAge time.Duration
}

// Guard authenticates bearer access tokens.
type Guard struct {
	codec     *Codec
	tolerance time.Duration
	maxAge    time.Duration
}

func NewGuard(codec *Codec, cfg GuardConfig) *Guard {
	return &Guard{codec: codec, tolerance: cfg.ClockTolerance, maxAge: cfg.MaxTokenAge}
}

// RejectionReason gives a short label for a guard error, for metrics.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeader):
		return "missing_header"
	case errors.Is(err, ErrBadScheme):
		return "bad_scheme"
	case errors.Is(err, ErrEmptyToken):
		return "empty_token"
	case errors.Is(err, ErrIncompleteClaims):
		return "incomplete_claims"
	case errors.Is(err, ErrTokenTooOld):
		return "too_old"
	default:
		return "verification"
	}
}

func reject(reason error, cause ...error) error {
	if len(cause) > 0 {
		return fmt.Errorf("%w: %w: %w", common.ErrorUnauthorized, reason, cause[0])
	}
	return fmt.Errorf("%w: %w", common.ErrorUnauthorized, reason)
}

// Authenticate validates the raw Authorization value and returns the caller's
// identity. Every failure matches common.ErrorUnauthorized.
func (g *Guard) Authenticate(ctx context.Context, header string) (*Identity, error) {
	if header == "" {
		return nil, reject(ErrMissingHeader)
	}
	if !strings.HasPrefix(header, common.BearerPrefix) {
		return nil, reject(ErrBadScheme)
	}
	token := strings.TrimSpace(header[len(common.BearerPrefix):])
	if token == "" {
		return nil, reject(ErrEmptyToken)
	}

	claims, err := g.codec.VerifyAccess(token, g.tolerance)
	if err != nil {
		return nil, reject(ErrVerification, err)
	}

	if claims.Subject == "" || claims.UserName == "" {
		return nil, reject(ErrIncompleteClaims)
	}

	id := &Identity{UserID: claims.Subject, UserName: claims.UserName}
	if claims.IssuedAt != nil {
		id.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}

	if g.maxAge > 0 {
		if id.IssuedAt.IsZero() || g.codec.now().Sub(id.IssuedAt) > g.maxAge {
			return nil, reject(ErrTokenTooOld)
		}
	}

	return id, nil
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFromContext returns the identity stored by WithIdentity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok && id != nil
}
