// Package refreshtokens declares the server-side repository contract for
// refresh token records and provides PostgreSQL and Redis implementations.
//
// A record's presence is what makes a refresh token usable: rotation,
// logout and cleanup all work by deleting records.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tokenkeeper/internal/server/models"
)

// Repository defines operations for persisting, looking up and revoking refresh tokens.
type Repository interface {
	// Create stores a new record. A duplicate ID is reported as
	// common.ErrStorageConflict.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByID returns the record with the given token identifier or
	// common.ErrorNotFound. Expired records are returned as they are; the
	// caller decides what to do with them.
	FindByID(ctx context.Context, id string) (*models.RefreshToken, error)

	// DeleteByID removes a record and reports whether it existed. Two callers
	// racing on the same ID see true at most once.
	DeleteByID(ctx context.Context, id string) (bool, error)

	// DeleteByUser removes every record owned by userID and returns how many
	// were removed.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpiredBefore removes records whose expiry is strictly before t.
	DeleteExpiredBefore(ctx context.Context, t time.Time) (int64, error)
}
