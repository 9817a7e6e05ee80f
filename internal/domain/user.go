package domain

import "time"

// Role is the capability class of an authenticated identity.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleBanker   Role = "banker"
)

// ParseRole validates a role string coming from a request or a token.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleCustomer, RoleBanker:
		return Role(s), true
	}
	return "", false
}

// User is an identity record. Created once at registration and immutable
// thereafter; the password is stored only as a bcrypt hash.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Age          int
	DOB          time.Time
	Email        string
	PasswordHash []byte
	Role         Role
	CreatedAt    time.Time
}
