// Package middleware provides HTTP middleware for authentication,
// organization context and rate limiting.
//
// # Middleware Components
//
// AuthMiddleware: Bearer session token authentication
//
//	authMW := middleware.NewAuthMiddleware(tokenManager, emitter, false)
//	router.Use(authMW.Handler)
//	// Validates the token and stores the *auth.UserDescriptor in the context.
//	// Rejected tokens are audited as auth.login_failed.
//
// OrgContextMiddleware: resolve {org_id} into an *orgs.Organization
//
//	sub.Use(middleware.OrgContextMiddleware(directory))
//
// RateLimitMiddleware: per-user token buckets, or shared Redis counters
//
//	limiter := middleware.NewRedisRateLimiter(client, middleware.PerUserRateLimitConfig(), "")
//	rl := middleware.NewRateLimitMiddleware(limiter, anonLimiter,
//		middleware.WithRateLimitEmitter(emitter),
//		middleware.WithRateLimitMetrics(metrics),
//	)
//	router.Use(rl.Handler)
//
// # Rate Limiting
//
// Default (Anonymous): 100 req/min, 10 burst
// Per-User: 1000 req/min, 50 burst
//
// # Related Packages
//
//   - pkg/auth: Token validation
//   - pkg/rbac: Per-action authorization
package middleware
