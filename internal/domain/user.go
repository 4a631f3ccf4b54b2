package domain

import "time"

// Role is the authorization role of an account.
type Role string

const (
	RoleUser   Role = "user"
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleMember, RoleAdmin:
		return true
	}
	return false
}

// IsStaff reports whether the role belongs to the support side.
func (r Role) IsStaff() bool {
	return r == RoleMember || r == RoleAdmin
}

// User is an account that files tickets or handles them.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	DOB          *time.Time
	Email        string
	Phone        string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
}
