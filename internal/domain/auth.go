package domain

import "time"

// Identity is the verified caller behind a token.
type Identity struct {
	UserID    string
	Role      Role
	TokenID   string
	ExpiresAt time.Time
}

// Authenticated reports whether the identity carries a subject.
func (i *Identity) Authenticated() bool {
	return i != nil && i.UserID != ""
}
