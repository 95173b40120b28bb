// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// This package offers helper functions for JSON encoding/decoding, error responses,
// parameter parsing, validation, and common HTTP middleware patterns.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteSuccess(w, resp)
//	httputil.WriteNoContent(w)
//
// Error responses:
//
//	httputil.WriteBadRequest(w, "invalid input")
//	httputil.WriteUnauthorized(w, "token expired")
//	httputil.WriteInternalError(w, r, err)
//
// WriteInternalError logs the cause with the request logger and answers with a
// generic message.
//
// # Request Parsing
//
// JSON parsing:
//
//	var req rbac.CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// Identifiers are positive int64 values:
//
//	orgID, ok := httputil.ParsePathIDOrError(w, r, "org_id")
//	userID, err := httputil.ParseQueryID(r, "user_id") // nil when absent
//	fields := httputil.SplitList(r.URL.Query().Get("fields"))
//
// # Validation
//
//	httputil.ValidateAll(w,
//		func() (bool, string) { return req.Action != "", "action is required" },
//	)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.CORSMiddleware(cfg.Server.CORSOrigins),
//		httputil.TimeoutMiddleware(30*time.Second),
//		httputil.MaxBytesMiddleware(1<<20),
//		httputil.ContentTypeMiddleware,
//	)
//
// Authorization failures use WriteDenied, which adds a machine-readable code:
//
//	httputil.WriteDenied(w, http.StatusForbidden, "access denied", "organization_forbidden")
//
// # Related Packages
//
//   - pkg/middleware: Authentication, organization context and rate limiting
//   - pkg/rbac: Per-action authorization middleware
package httputil
