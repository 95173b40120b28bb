package auth

import (
	"context"
	"fmt"
	"strconv"

	"github.com/platinummonkey/fleetauthz/pkg/contextkeys"
)

// Role is the authorization role carried by every user descriptor.
// Roles are not ordered: admin and user hold disjoint capabilities in places.
type Role string

const (
	RoleSuperAdmin Role = "super_admin" // Unrestricted, sees every organization
	RoleAdmin      Role = "admin"       // Manages their own organization and its suppliers
	RoleUser       Role = "user"        // Day-to-day operator inside their organization
)

// AllRoles returns every known role
func AllRoles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleUser}
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleUser:
		return true
	}
	return false
}

// ParseRole converts a string into a Role
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// UserDescriptor is the minimal projection of an authenticated user that
// authorization decisions are made on.
type UserDescriptor struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Role           Role   `json:"role"`
	OrganizationID int64  `json:"organization_id"`
}

// IsSuperAdmin reports whether the user holds the super_admin role
func (u *UserDescriptor) IsSuperAdmin() bool {
	return u != nil && u.Role == RoleSuperAdmin
}

// Validate checks the descriptor is usable for authorization
func (u *UserDescriptor) Validate() error {
	if u == nil {
		return fmt.Errorf("user descriptor is nil")
	}
	if u.ID <= 0 {
		return fmt.Errorf("user id must be positive")
	}
	if !u.Role.Valid() {
		return fmt.Errorf("unknown role %q", u.Role)
	}
	if u.OrganizationID <= 0 {
		return fmt.Errorf("organization id must be positive")
	}
	return nil
}

// WithUser adds the user descriptor to the context
func WithUser(ctx context.Context, user *UserDescriptor) context.Context {
	ctx = context.WithValue(ctx, contextkeys.UserKey, user)
	if user != nil {
		ctx = contextkeys.WithUserID(ctx, strconv.FormatInt(user.ID, 10))
	}
	return ctx
}

// UserFromContext returns the user descriptor stored in ctx, or nil
func UserFromContext(ctx context.Context) *UserDescriptor {
	user, ok := ctx.Value(contextkeys.UserKey).(*UserDescriptor)
	if !ok {
		return nil
	}
	return user
}
