// Package audit records authorization and security events and serves them
// back under the same organization isolation rules they document.
//
// # Write path
//
// Components never talk to a Sink directly. They go through an Emitter,
// which never returns an error: failed writes are logged to a logrus process
// logger and counted through an optional FailureHook.
//
//	emitter := audit.NewEmitter(audit.NewMultiLogger(dbLogger, fileLogger),
//		audit.WithAsync(true),
//		audit.WithProcessLogger(logrus.StandardLogger()),
//	)
//	defer emitter.Close()
//
// Middleware binds request metadata (IP, user agent, endpoint, method,
// request id). Handlers then bind the acting user:
//
//	ac := emitter.For(ctx, user)
//	ac.LogAccess("warehouse", "12", "view_warehouse", nil)
//	ac.LogModification("user", "9", "update_user", before, after)
//	ac.WithOrganization(targetOrg).LogSecurityEvent(
//		audit.EventOrgBoundaryViolation, audit.RiskHigh, "outside accessible organizations", nil)
//
// Severity is chosen by the caller. Sinks store what they are given.
//
// # Read path
//
// ScopedStore wraps a Store. Non-super-admin callers only see events whose
// organization is in their accessible set, and events without an
// organization are visible to super_admin only.
//
// # Retention
//
// DBStore.Cleanup deletes events older than the policy. With archiving
// enabled the expiring events are exported as (optionally gzipped) NDJSON
// to an Archiver such as S3Archiver first; if the upload fails nothing is
// deleted.
package audit
