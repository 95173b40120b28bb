package rbac

import (
	"errors"
	"fmt"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
)

// Scope names the ownership relation a conditional rule requires
type Scope string

const (
	ScopeOwnOnly         Scope = "own_only"          // Target organization is the user's organization
	ScopeOwnOrganization Scope = "own_organization"  // Same as own_only
	ScopeOwnAndSuppliers Scope = "own_and_suppliers" // Target organization is accessible to the user
	ScopeOwnSuppliers    Scope = "own_suppliers"     // Same as own_and_suppliers
	ScopeSelfOnly        Scope = "self_only"         // Target user is the acting user
	ScopeOwnOrders       Scope = "own_orders"        // Order was placed by the acting user
)

// Valid reports whether s is a known scope
func (s Scope) Valid() bool {
	switch s {
	case ScopeOwnOnly, ScopeOwnOrganization, ScopeOwnAndSuppliers, ScopeOwnSuppliers, ScopeSelfOnly, ScopeOwnOrders:
		return true
	}
	return false
}

// Exclusion names a target a rule may never apply to
type Exclusion string

// ExcludeSelf forbids acting on one's own user record
const ExcludeSelf Exclusion = "self"

// Conditions restrict an allowed rule. Empty fields are not evaluated.
type Conditions struct {
	Scope    Scope       `json:"scope,omitempty"`
	Types    []string    `json:"types,omitempty"`
	Fields   []string    `json:"fields,omitempty"`
	Statuses []string    `json:"statuses,omitempty"`
	Exclude  []Exclusion `json:"exclude,omitempty"`
}

// Excludes reports whether x is excluded
func (c *Conditions) Excludes(x Exclusion) bool {
	for _, e := range c.Exclude {
		if e == x {
			return true
		}
	}
	return false
}

// Rule is one cell of the access matrix
type Rule struct {
	Role        auth.Role   `json:"role"`
	Action      Action      `json:"action"`
	Allowed     bool        `json:"allowed"`
	Conditions  *Conditions `json:"conditions,omitempty"`
	Description string      `json:"description,omitempty"`
}

// RequestContext carries what the caller knows about the target of an
// action. Only the keys a rule's conditions name are read.
type RequestContext struct {
	TargetOrganizationID *int64            `json:"organization_id,omitempty"`
	TargetUserID         *int64            `json:"target_user_id,omitempty"`
	Type                 string            `json:"type,omitempty"`
	Fields               []string          `json:"fields,omitempty"`
	Status               string            `json:"status,omitempty"`
	OrderOwnerUserID     *int64            `json:"order_owner_user_id,omitempty"`
	Attributes           map[string]string `json:"attributes,omitempty"`
}

// ForOrganization returns a context targeting orgID
func ForOrganization(orgID int64) RequestContext {
	return RequestContext{TargetOrganizationID: &orgID}
}

// ReasonCode classifies a decision
type ReasonCode string

const (
	CodeGranted               ReasonCode = "granted"
	CodeMissingRule           ReasonCode = "missing_rule"
	CodeRuleDenied            ReasonCode = "rule_denied"
	CodeScopeMismatch         ReasonCode = "scope_mismatch"
	CodeTypeNotAllowed        ReasonCode = "type_not_allowed"
	CodeFieldNotAllowed       ReasonCode = "field_not_allowed"
	CodeStatusNotAllowed      ReasonCode = "status_not_allowed"
	CodeSelfExcluded          ReasonCode = "self_excluded"
	CodeOrganizationForbidden ReasonCode = "organization_forbidden"
	CodeOrganizationNotFound  ReasonCode = "organization_not_found"
	CodeContextIncomplete     ReasonCode = "context_incomplete"
	CodeUnauthenticated       ReasonCode = "unauthenticated"
)

// Public maps a detailed code to the generic code shown to HTTP clients
func (c ReasonCode) Public() string {
	switch c {
	case CodeGranted:
		return "granted"
	case CodeOrganizationForbidden, CodeOrganizationNotFound:
		return "organization_forbidden"
	case CodeUnauthenticated:
		return "unauthenticated"
	default:
		return "forbidden"
	}
}

// Decision is the result of an access check. Denials are values, not errors.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  string     `json:"reason"`
	Code    ReasonCode `json:"code"`
}

func allow(reason string) Decision {
	return Decision{Allowed: true, Reason: reason, Code: CodeGranted}
}

func deny(code ReasonCode, format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...), Code: code}
}

// ErrMissingRule is matched by every MissingRuleError
var ErrMissingRule = errors.New("no access rule")

// MissingRuleError reports a (role, action) pair absent from the matrix
type MissingRuleError struct {
	Role   auth.Role
	Action Action
}

func (e *MissingRuleError) Error() string {
	return fmt.Sprintf("no access rule for role %q and action %q", e.Role, e.Action)
}

func (e *MissingRuleError) Unwrap() error {
	return ErrMissingRule
}
