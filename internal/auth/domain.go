package auth

import "time"

// Account is a credentialed user record. Unlike the management surface this
// includes super-admin accounts, since they still sign in.
type Account struct {
	ID           int64
	Name         string
	Username     string
	PasswordHash string
	IsSuperAdmin bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
