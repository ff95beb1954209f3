package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tokenkeeper/internal/common"
	"github.com/dmitrijs2005/tokenkeeper/internal/dbx"
	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
)

const (
	emailConstraint    = "users_email_key"
	userNameConstraint = "users_username_key"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// TranslateUniqueViolation maps a PostgreSQL unique violation on the users
// table to the matching sentinel. Any other error is returned unchanged.
func TranslateUniqueViolation(err error) error {
	constraint, ok := dbx.UniqueViolation(err)
	if !ok {
		return err
	}
	switch constraint {
	case emailConstraint:
		return common.ErrUserAlreadyExists
	case userNameConstraint:
		return common.ErrUsernameConflict
	default:
		return fmt.Errorf("%w: %s", common.ErrStorageConflict, constraint)
	}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, username, password_hash, first_name, last_name, date_of_birth,
		                    phone, street, number, unit_number, postal_code, city, newsletter)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at
		 `

	var dob sql.NullTime
	if user.DateOfBirth != nil {
		dob = sql.NullTime{Time: *user.DateOfBirth, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.UserName, user.PasswordHash, user.FirstName, user.LastName, dob,
		user.Phone, user.Street, user.Number, user.UnitNumber, user.PostalCode, user.City, user.Newsletter,
	).Scan(&user.ID, &user.CreatedAt)

	if err != nil {
		if tr := TranslateUniqueViolation(err); tr != err {
			return nil, tr
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "email", email)
}

func (r *PostgresRepository) GetByUserName(ctx context.Context, userName string) (*models.User, error) {
	return r.getOne(ctx, "username", userName)
}

// column is one of the two fixed literals above, never user input.
func (r *PostgresRepository) getOne(ctx context.Context, column, value string) (*models.User, error) {
	query :=
		`SELECT id, email, username, password_hash, first_name, last_name, date_of_birth,
		        phone, street, number, unit_number, postal_code, city, newsletter, created_at
		 FROM users
		 WHERE ` + column + ` = $1
		 `

	user := &models.User{}
	var dob sql.NullTime
	err := r.db.QueryRowContext(ctx, query, value).Scan(
		&user.ID, &user.Email, &user.UserName, &user.PasswordHash, &user.FirstName, &user.LastName, &dob,
		&user.Phone, &user.Street, &user.Number, &user.UnitNumber, &user.PostalCode, &user.City, &user.Newsletter,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if dob.Valid {
		user.DateOfBirth = &dob.Time
	}

	return user, nil
}
