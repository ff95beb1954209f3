// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account. Email and UserName are each unique; everything below
// PasswordHash is optional profile data captured at registration.
type User struct {
	ID           string
	Email        string
	UserName     string
	PasswordHash string

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

	CreatedAt time.Time
}
