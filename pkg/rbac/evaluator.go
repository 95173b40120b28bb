package rbac

import (
	"context"
	"slices"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/isolation"
)

// IsolationGuard is the organization isolation surface the engine relies
// on. *isolation.Resolver implements it.
type IsolationGuard interface {
	ValidateOrganizationAccess(ctx context.Context, user *auth.UserDescriptor, orgID int64) isolation.AccessResult
	IsBossAquaOrganization(ctx context.Context, orgID int64) (bool, error)
	ValidateBossAquaAccess(ctx context.Context, user *auth.UserDescriptor, action string) bool
}

var _ IsolationGuard = (*isolation.Resolver)(nil)

// Evaluator checks a rule's conditions against a request context. Checks
// run in a fixed order and the first failure wins: scope, types, fields,
// status, exclusions.
type Evaluator struct {
	guard   IsolationGuard
	emitter *audit.Emitter
}

// NewEvaluator creates an evaluator. emitter may be nil.
func NewEvaluator(guard IsolationGuard, emitter *audit.Emitter) *Evaluator {
	return &Evaluator{guard: guard, emitter: emitter}
}

// Evaluate returns the decision for user performing action under cond
func (e *Evaluator) Evaluate(ctx context.Context, user *auth.UserDescriptor, action Action, cond *Conditions, rc RequestContext) Decision {
	if cond == nil {
		return allow("rule has no conditions")
	}
	if d, ok := e.checkScope(ctx, user, action, cond.Scope, rc); !ok {
		return d
	}

	if len(cond.Types) > 0 && rc.Type != "" && !slices.Contains(cond.Types, rc.Type) {
		return deny(CodeTypeNotAllowed, "type %q is not allowed for %s", rc.Type, action)
	}

	if len(cond.Fields) > 0 {
		for _, f := range rc.Fields {
			if !slices.Contains(cond.Fields, f) {
				return deny(CodeFieldNotAllowed, "field %q may not be modified by %s", f, action)
			}
		}
	}

	if len(cond.Statuses) > 0 && rc.Status != "" && !slices.Contains(cond.Statuses, rc.Status) {
		return deny(CodeStatusNotAllowed, "status %q does not permit %s", rc.Status, action)
	}

	if cond.Excludes(ExcludeSelf) && rc.TargetUserID != nil && *rc.TargetUserID == user.ID {
		return deny(CodeSelfExcluded, "%s cannot target your own account", action)
	}

	return allow("conditions satisfied")
}

func (e *Evaluator) checkScope(ctx context.Context, user *auth.UserDescriptor, action Action, scope Scope, rc RequestContext) (Decision, bool) {
	switch scope {
	case "":
		return Decision{}, true

	case ScopeOwnOnly, ScopeOwnOrganization:
		if rc.TargetOrganizationID == nil {
			return deny(CodeContextIncomplete, "%s requires a target organization", action), false
		}
		target := *rc.TargetOrganizationID
		if target != user.OrganizationID {
			e.emitter.For(ctx, user).LogSecurityEvent(
				audit.EventOrgBoundaryViolation,
				audit.RiskHigh,
				"action limited to own organization",
				map[string]interface{}{
					"action":                 string(action),
					"scope":                  string(scope),
					"target_organization_id": target,
				},
			)
			return deny(CodeOrganizationForbidden, "%s is limited to your own organization", action), false
		}
		return Decision{}, true

	case ScopeOwnAndSuppliers, ScopeOwnSuppliers:
		if rc.TargetOrganizationID == nil {
			return deny(CodeContextIncomplete, "%s requires a target organization", action), false
		}
		result := e.guard.ValidateOrganizationAccess(ctx, user, *rc.TargetOrganizationID)
		if !result.Allowed {
			return deny(CodeOrganizationForbidden, "%s", result.Reason), false
		}
		return Decision{}, true

	case ScopeSelfOnly:
		if rc.TargetUserID == nil {
			return deny(CodeContextIncomplete, "%s requires a target user", action), false
		}
		if *rc.TargetUserID != user.ID {
			return deny(CodeScopeMismatch, "%s is limited to your own account", action), false
		}
		return Decision{}, true

	case ScopeOwnOrders:
		if rc.OrderOwnerUserID == nil {
			return deny(CodeContextIncomplete, "%s requires the order owner", action), false
		}
		if *rc.OrderOwnerUserID != user.ID {
			return deny(CodeScopeMismatch, "%s is limited to your own orders", action), false
		}
		return Decision{}, true
	}
	return deny(CodeScopeMismatch, "unknown scope %q", scope), false
}
