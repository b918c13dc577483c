// Package users implements account management: creation, role assignment
// and branch assignment. The role is a free-text name; what it permits is
// decided by the resolver in auth, not here.
package users

import "time"

// User represents a user account for management.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	RoleName  string    `json:"role_name"`
	IsActive  bool      `json:"is_active"`
	BranchIDs []int64   `json:"branch_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput describes a new account.
type CreateInput struct {
	Email     string  `json:"email" validate:"required,email"`
	FullName  string  `json:"full_name" validate:"required"`
	RoleName  string  `json:"role_name" validate:"required"`
	Password  string  `json:"password" validate:"required,min=8"`
	BranchIDs []int64 `json:"branch_ids"`
}

// UpdateInput describes an account change. Nil fields stay untouched.
type UpdateInput struct {
	FullName  *string `json:"full_name"`
	RoleName  *string `json:"role_name"`
	Password  *string `json:"password"`
	IsActive  *bool   `json:"is_active"`
	BranchIDs []int64 `json:"branch_ids"`
}
