// Package user defines the user domain model for authentication and authorization.
package user

import (
	"errors"
	"net/mail"
	"time"
)

// Role represents the authorization level of a user.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleGM       Role = "GM"
	RoleVP       Role = "VP"
	RoleAdmin    Role = "ADMIN"
)

// ValidRoles is the set of all valid user roles.
var ValidRoles = map[Role]bool{
	RoleEmployee: true,
	RoleManager:  true,
	RoleGM:       true,
	RoleVP:       true,
	RoleAdmin:    true,
}

// User represents a registered user resolved from proxy headers or an API key.
type User struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	TeamUnitID string    `json:"team_unit_id,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidateEmail checks that the user's email parses as an address.
func (u *User) ValidateEmail() error {
	if u.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(u.Email); err != nil {
		return errors.New("invalid email format")
	}
	return nil
}

// CreateRequest is the input for registering a new user.
type CreateRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	TeamUnitID string `json:"team_unit_id,omitempty"`
}

// Validate checks that the CreateRequest has all required fields.
func (r *CreateRequest) Validate() error {
	if r.Email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		return errors.New("invalid email format")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if !ValidRoles[r.Role] {
		return errors.New("invalid role: must be EMPLOYEE, MANAGER, GM, VP, or ADMIN")
	}
	return nil
}

// UpdateRequest is the input for updating a user's role, team, or active flag.
type UpdateRequest struct {
	Name       string `json:"name,omitempty"`
	Role       Role   `json:"role,omitempty"`
	TeamUnitID string `json:"team_unit_id,omitempty"`
	Active     *bool  `json:"active,omitempty"`
}
