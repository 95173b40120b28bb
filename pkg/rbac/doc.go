// Package rbac decides whether a user may perform a named action.
//
// # Overview
//
// Access is governed by a Matrix of Rules keyed by (role, action). Each rule
// either allows or denies the action, and an allowed rule may carry
// Conditions that must hold for the request at hand. Roles are not ordered:
// there is no inheritance between super_admin, admin and user.
//
// # Decision Order
//
// Engine.CheckAccess evaluates, stopping at the first denial:
//
//  1. No authenticated user: deny
//  2. No rule for (role, action): deny and log reason_code=missing_rule
//  3. Rule with Allowed=false: deny without consulting the isolation layer
//  4. Target organization is BossAqua and the user is not super_admin: deny
//  5. Rule without conditions: allow
//  6. Conditions, in order: scope, types, fields, status, exclusions
//
// Every decision is written to the audit trail (permission_granted at low
// risk, permission_denied at medium) and counted in
// fleetauthz_decisions_total.
//
// # Scopes
//
//	own_only, own_organization   target organization is the user's own
//	own_and_suppliers,
//	own_suppliers                target organization is in the user's
//	                             accessible set (own plus active suppliers)
//	self_only                    target user is the acting user
//	own_orders                   the order was placed by the acting user
//
// A scope whose context key is missing denies with context_incomplete.
//
// # HTTP
//
// Middleware.RequireAction gates a handler:
//
//	mw := rbac.NewMiddleware(engine)
//	router.Handle("/organizations/{org_id}",
//		mw.RequireAction(rbac.ActionViewOrganization, rbac.FromPathVars)(handler))
//
// Denials respond 403 with a generic code ("forbidden" or
// "organization_forbidden"); the detailed reason is only in the audit event.
//
// Handlers expose /authz for callers to inspect their own permissions and
// organization reach. OrganizationHandlers serve /organizations/{org_id} and
// its supplier list, loading the record only after the action is allowed.
package rbac
