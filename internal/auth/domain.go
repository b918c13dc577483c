// Package auth implements credential checks, session registration and the
// middleware that turns a session into the capability context every core
// operation receives. Role names are free text in the users table; they are
// resolved to a role kind exactly once, here.
package auth

import "time"

// User represents an authenticated user account.
type User struct {
	ID           int64
	Email        string
	FullName     string
	RoleName     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
