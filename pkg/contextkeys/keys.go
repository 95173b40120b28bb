// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that the
// producers and consumers of a value can be found from one place.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/fleetauthz/pkg/contextkeys"
//	ctx = contextkeys.WithRequestID(ctx, id)
//	id := contextkeys.GetRequestID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// UserKey contains *auth.UserDescriptor
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: rbac middleware, authz and audit handlers
	// Type: *auth.UserDescriptor
	UserKey Key = "user_descriptor"

	// OrgKey contains *orgs.Organization resolved from the {org_id} path variable
	// Set by: middleware.OrgContextMiddleware (pkg/middleware/org.go)
	// Type: *orgs.Organization
	OrgKey Key = "organization"

	// RequestIDKey contains request ID string (UUID)
	// Set by: audit.Middleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains user ID string
	// Set by: Auth middleware after token validation
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// RequestInfoKey contains audit.RequestInfo (ip, user agent, endpoint, method)
	// Set by: audit.Middleware (pkg/audit/middleware.go)
	// Used by: audit.Emitter when binding an audit context
	// Type: audit.RequestInfo
	RequestInfoKey Key = "audit_request_info"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}
