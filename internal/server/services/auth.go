package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/cryptox"
	"github.com/dmitrijs2005/tokenkeeper/internal/dbx"
	"github.com/dmitrijs2005/tokenkeeper/internal/logging"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/repositories/repomanager"
)

// RegisterInput is a new account. Only Email, UserName and Password are required.
type RegisterInput struct {
	Email    string
	UserName string
	Password string

	FirstName   string
	LastName    string
	DateOfBirth *time.Time
	Phone       string
	Street      string
	Number      string
	UnitNumber  string
	PostalCode  string
	City        string
	Newsletter  bool
}

// AuthService handles registration, login and logout on top of TokenService.
type AuthService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      *TokenService
	hasher      cryptox.Hasher
	log         logging.Logger
	metrics     *metrics.Metrics

	// dummyHash is compared against when the user does not exist, so a
	// failed login costs the same either way.
	dummyHash string
}

func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, tokens *TokenService, hasher cryptox.Hasher, log logging.Logger) (*AuthService, error) {
	seed, err := common.MakeRandHexString(16)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(seed)
	if err != nil {
		return nil, fmt.Errorf("error preparing password hasher: %w", err)
	}
	return &AuthService{
		db:          db,
		repomanager: m,
		tokens:      tokens,
		hasher:      hasher,
		log:         log.With("module", "auth"),
		metrics:     tokens.metrics,
		dummyHash:   dummy,
	}, nil
}

// Register creates the account and its first token pair in one transaction.
// A failure to issue tokens rolls back the user.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*TokenPair, error) {
	repo := s.repomanager.Users(s.db)

	if _, err := repo.GetByEmail(ctx, in.Email); err == nil {
		return nil, common.ErrUserAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.log.Error(ctx, "error checking email", "error", err)
		return nil, common.ErrorInternal
	}

	if _, err := repo.GetByUserName(ctx, in.UserName); err == nil {
		return nil, common.ErrUsernameConflict
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.log.Error(ctx, "error checking username", "error", err)
		return nil, common.ErrorInternal
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.log.Error(ctx, "error hashing password", "error", err)
		return nil, common.ErrorInternal
	}

	user := &models.User{
		Email:        in.Email,
		UserName:     in.UserName,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		DateOfBirth:  in.DateOfBirth,
		Phone:        in.Phone,
		Street:       in.Street,
		Number:       in.Number,
		UnitNumber:   in.UnitNumber,
		PostalCode:   in.PostalCode,
		City:         in.City,
		Newsletter:   in.Newsletter,
	}

	var pair *TokenPair
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		u, err := s.repomanager.Users(tx).Create(ctx, user)
		if err != nil {
			return err
		}
		pair, err = s.tokens.IssueTx(ctx, tx, u.ID, u.UserName)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, common.ErrUserAlreadyExists),
			errors.Is(err, common.ErrUsernameConflict),
			errors.Is(err, common.ErrStorageConflict):
			s.log.Warn(ctx, "registration conflict", "user_name", in.UserName, "error", err)
			return nil, err
		case errors.Is(err, common.ErrorInternal):
			return nil, err
		default:
			s.log.Error(ctx, "error registering user", "user_name", in.UserName, "error", err)
			return nil, fmt.Errorf("%w: %v", common.ErrorInternal, err)
		}
	}

	s.log.Info(ctx, "user registered", "user_id", user.ID, "user_name", user.UserName)
	return pair, nil
}

// Login never tells the caller whether the email exists.
func (s *AuthService) Login(ctx context.Context, email, password string) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			_ = s.hasher.Compare(s.dummyHash, password)
			s.metrics.LoginAttempts.WithLabelValues("failure").Inc()
			return nil, common.ErrInvalidCredentials
		}
		s.log.Error(ctx, "error looking up user", "error", err)
		return nil, common.ErrorInternal
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, cryptox.ErrMismatch) {
			s.log.Error(ctx, "stored password hash is unusable", "user_id", user.ID, "error", err)
		}
		s.metrics.LoginAttempts.WithLabelValues("failure").Inc()
		return nil, common.ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(ctx, user.ID, user.UserName)
	if err != nil {
		return nil, err
	}
	s.metrics.LoginAttempts.WithLabelValues("success").Inc()
	return pair, nil
}

// Logout revokes one session when tokenID is known, otherwise all of them.
func (s *AuthService) Logout(ctx context.Context, userID, tokenID string) error {
	if tokenID != "" {
		return s.tokens.RevokeOne(ctx, tokenID)
	}
	_, err := s.tokens.RevokeAll(ctx, userID)
	return err
}
