// Package auth signs and verifies the access and refresh tokens handed out
// by the server, and guards protected requests.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// AccessClaims authorize requests. They are never persisted.
type AccessClaims struct {
	UserName  string `json:"userName"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims carry TokenID, the key of the server-side record.
type RefreshClaims struct {
	UserName  string `json:"userName"`
	TokenID   string `json:"tokenId"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type CodecConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Codec signs and verifies HS256 tokens bound to one issuer and audience.
type Codec struct {
	secret   []byte
	issuer   string
	audience string
	now      func() time.Time
}

func NewCodec(cfg CodecConfig) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("%w: token secret is not set", common.ErrConfiguration)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Codec{
		secret:   cfg.Secret,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		now:      now,
	}, nil
}

func (c *Codec) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := c.now()
	rc := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if c.audience != "" {
		rc.Audience = jwt.ClaimStrings{c.audience}
	}
	return rc
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

func (c *Codec) SignAccess(userID, userName string, ttl time.Duration) (string, error) {
	return c.sign(&AccessClaims{
		UserName:         userName,
		TokenType:        TokenTypeAccess,
		RegisteredClaims: c.registered(userID, ttl),
	})
}

func (c *Codec) SignRefresh(userID, userName, tokenID string, ttl time.Duration) (string, error) {
	return c.sign(&RefreshClaims{
		UserName:         userName,
		TokenID:          tokenID,
		TokenType:        TokenTypeRefresh,
		RegisteredClaims: c.registered(userID, ttl),
	})
}

func (c *Codec) parser(leeway time.Duration) *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if leeway > 0 {
		opts = append(opts, jwt.WithLeeway(leeway))
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		opts = append(opts, jwt.WithAudience(c.audience))
	}
	return jwt.NewParser(opts...)
}

func (c *Codec) keyFunc(*jwt.Token) (any, error) {
	return c.secret, nil
}

// verify returns common.ErrTokenExpired for a well-formed but expired token
// and common.ErrInvalidToken for every other failure.
func (c *Codec) verify(token string, claims jwt.Claims, leeway time.Duration) error {
	parsed, err := c.parser(leeway).ParseWithClaims(token, claims, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return common.ErrTokenExpired
		}
		return fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return common.ErrInvalidToken
	}
	return nil
}

// VerifyAccess checks signature, issuer, audience and expiry (with the given
// clock tolerance) and that the token is an access token.
func (c *Codec) VerifyAccess(token string, leeway time.Duration) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.verify(token, claims, leeway); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", common.ErrInvalidToken)
	}
	return claims, nil
}

// VerifyRefresh is VerifyAccess for refresh tokens, without clock tolerance.
func (c *Codec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := c.verify(token, claims, 0); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh || claims.TokenID == "" {
		return nil, fmt.Errorf("%w: not a refresh token", common.ErrInvalidToken)
	}
	return claims, nil
}
