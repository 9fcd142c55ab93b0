package domain

import "github.com/google/uuid"

const (
	RoleAdmin    = "admin"
	RoleCustomer = "user"
)

// Identity is the resolved caller of a request.
type Identity struct {
	UserID uuid.UUID
	Role   string
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
