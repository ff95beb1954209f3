package models

import "time"

// RefreshToken is the server-side record of an issued refresh token. ID is the
// token identifier embedded in the token's claims. A record exists exactly as
// long as the token is usable.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the record's expiry is strictly before now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
