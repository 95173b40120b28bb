// Package auth defines the identity that authorization decisions are made on.
//
// # Overview
//
// Authorization never sees a full user record. Requests carry a UserDescriptor:
//
//	user := &auth.UserDescriptor{
//		ID:             42,
//		Username:       "alice",
//		Role:           auth.RoleAdmin,
//		OrganizationID: 7,
//	}
//
// # Roles
//
//	RoleSuperAdmin - every organization, every action
//	RoleAdmin      - own organization and its suppliers
//	RoleUser       - own organization, self-service actions
//
// # Tokens
//
// TokenManager issues and validates HS256 JWTs whose claims project directly
// into a UserDescriptor:
//
//	tm, err := auth.NewTokenManager(secret, "fleetauthz", 15*time.Minute)
//	token, _, err := tm.IssueToken(user)
//	claims, err := tm.ValidateToken(token)
//	user := claims.Descriptor()
//
// Tokens whose role is unknown are rejected with ErrInvalidToken.
package auth
