package rbac

import (
	"errors"
	"fmt"
	"sort"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
)

type ruleKey struct {
	role   auth.Role
	action Action
}

// Matrix is an immutable table of access rules keyed by (role, action).
// It is safe for concurrent use.
type Matrix struct {
	rules map[ruleKey]Rule
}

// NewMatrix validates rules and builds a Matrix. Duplicate keys, unknown
// roles, unknown actions, unknown scopes and conditions on denied rules are
// rejected.
func NewMatrix(rules []Rule) (*Matrix, error) {
	m := &Matrix{rules: make(map[ruleKey]Rule, len(rules))}
	var errs []error
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			errs = append(errs, err)
			continue
		}
		key := ruleKey{role: r.Role, action: r.Action}
		if _, dup := m.rules[key]; dup {
			errs = append(errs, fmt.Errorf("duplicate rule for role %q and action %q", r.Role, r.Action))
			continue
		}
		m.rules[key] = cloneRule(r)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid access matrix: %w", errors.Join(errs...))
	}
	return m, nil
}

// NewDefaultMatrix builds the Matrix from DefaultRules
func NewDefaultMatrix() (*Matrix, error) {
	return NewMatrix(DefaultRules())
}

func validateRule(r Rule) error {
	if !r.Role.Valid() {
		return fmt.Errorf("rule %q: unknown role %q", r.Action, r.Role)
	}
	if !r.Action.Valid() {
		return fmt.Errorf("rule for role %q: unknown action %q", r.Role, r.Action)
	}
	if r.Conditions == nil {
		return nil
	}
	if !r.Allowed {
		return fmt.Errorf("rule %s/%s: conditions on a denied rule", r.Role, r.Action)
	}
	if r.Conditions.Scope != "" && !r.Conditions.Scope.Valid() {
		return fmt.Errorf("rule %s/%s: unknown scope %q", r.Role, r.Action, r.Conditions.Scope)
	}
	for _, x := range r.Conditions.Exclude {
		if x != ExcludeSelf {
			return fmt.Errorf("rule %s/%s: unknown exclusion %q", r.Role, r.Action, x)
		}
	}
	return nil
}

func cloneRule(r Rule) Rule {
	if r.Conditions == nil {
		return r
	}
	c := *r.Conditions
	c.Types = append([]string(nil), c.Types...)
	c.Fields = append([]string(nil), c.Fields...)
	c.Statuses = append([]string(nil), c.Statuses...)
	c.Exclude = append([]Exclusion(nil), c.Exclude...)
	r.Conditions = &c
	return r
}

// Lookup returns the rule for (role, action). A missing rule yields a
// *MissingRuleError.
func (m *Matrix) Lookup(role auth.Role, action Action) (Rule, error) {
	r, ok := m.rules[ruleKey{role: role, action: action}]
	if !ok {
		return Rule{}, &MissingRuleError{Role: role, Action: action}
	}
	return cloneRule(r), nil
}

// AllowedActions returns the sorted actions role may perform under some
// context, conditional rules included
func (m *Matrix) AllowedActions(role auth.Role) []Action {
	var out []Action
	for key, r := range m.rules {
		if key.role == role && r.Allowed {
			out = append(out, key.action)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Summary groups AllowedActions by category
func (m *Matrix) Summary(role auth.Role) ActionSummary {
	return summarize(m.AllowedActions(role))
}

// Rules returns every rule ordered by role then action
func (m *Matrix) Rules() []Rule {
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Role != out[j].Role {
			return out[i].Role < out[j].Role
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// Len returns the number of rules
func (m *Matrix) Len() int {
	return len(m.rules)
}

func grant(role auth.Role, action Action, desc string) Rule {
	return Rule{Role: role, Action: action, Allowed: true, Description: desc}
}

func scoped(role auth.Role, action Action, cond Conditions, desc string) Rule {
	return Rule{Role: role, Action: action, Allowed: true, Conditions: &cond, Description: desc}
}

func forbid(role auth.Role, action Action, desc string) Rule {
	return Rule{Role: role, Action: action, Allowed: false, Description: desc}
}

var (
	ownOrg       = Conditions{Scope: ScopeOwnOrganization}
	ownAndSupp   = Conditions{Scope: ScopeOwnAndSuppliers}
	ownOrgNoSelf = Conditions{Scope: ScopeOwnOrganization, Exclude: []Exclusion{ExcludeSelf}}
)

// DefaultRules returns the access matrix for the fleet. super_admin is
// allowed every action unconditionally; admin and user have an explicit
// rule for every action.
func DefaultRules() []Rule {
	var rules []Rule
	for _, a := range AllActions() {
		rules = append(rules, grant(auth.RoleSuperAdmin, a, "super_admin may perform any action"))
	}
	rules = append(rules, adminRules()...)
	rules = append(rules, userRules()...)
	return rules
}

func adminRules() []Rule {
	r := auth.RoleAdmin
	return []Rule{
		scoped(r, ActionViewOrganization, ownOrg, "view own organization"),
		scoped(r, ActionCreateOrganization, Conditions{Scope: ScopeOwnOrganization, Types: []string{"supplier"}},
			"create suppliers under own organization"),
		scoped(r, ActionUpdateOrganization, Conditions{Scope: ScopeOwnAndSuppliers,
			Fields: []string{"name", "address", "contact_info", "notes", "is_active"}}, "edit own organization and suppliers"),
		forbid(r, ActionDeleteOrganization, "organizations are removed by super_admin only"),
		scoped(r, ActionViewSuppliers, ownOrg, "list own suppliers"),
		scoped(r, ActionManageSuppliers, ownAndSupp, "manage own suppliers"),

		scoped(r, ActionViewUser, ownOrg, "view users of own organization"),
		scoped(r, ActionCreateUser, ownOrg, "create users in own organization"),
		scoped(r, ActionUpdateUser, Conditions{Scope: ScopeOwnOrganization,
			Fields: []string{"name", "email", "phone", "is_active"}}, "edit users of own organization"),
		scoped(r, ActionDeleteUser, ownOrgNoSelf, "delete other users of own organization"),
		scoped(r, ActionInviteUser, ownOrg, "invite users to own organization"),
		scoped(r, ActionManageUserRoles, Conditions{Scope: ScopeOwnOrganization, Types: []string{"admin", "user"},
			Exclude: []Exclusion{ExcludeSelf}}, "assign admin or user roles to others in own organization"),

		scoped(r, ActionViewWarehouse, ownAndSupp, "view warehouses of own organization and suppliers"),
		scoped(r, ActionCreateWarehouse, ownOrg, "create warehouses in own organization"),
		scoped(r, ActionUpdateWarehouse, ownOrg, "edit warehouses of own organization"),
		scoped(r, ActionDeleteWarehouse, ownOrg, "delete warehouses of own organization"),

		scoped(r, ActionViewInventory, ownAndSupp, "view stock of own organization and suppliers"),
		scoped(r, ActionAdjustInventory, ownOrg, "adjust own stock"),
		scoped(r, ActionTransferInventory, ownAndSupp, "move stock within own organization and suppliers"),
		scoped(r, ActionStocktake, ownOrg, "stocktake own warehouses"),

		scoped(r, ActionViewMachine, ownOrg, "view own machines"),
		forbid(r, ActionRegisterMachine, "machines are registered by the distributor"),
		scoped(r, ActionUpdateMachine, Conditions{Scope: ScopeOwnOrganization,
			Fields: []string{"name", "location", "notes"}}, "edit own machine details"),
		forbid(r, ActionDeleteMachine, "machines are removed by the distributor"),
		forbid(r, ActionTransferMachine, "machine transfers are handled by the distributor"),
		scoped(r, ActionRecordMachineHours, ownOrg, "record hours on own machines"),

		grant(r, ActionViewPart, "the parts catalog is shared"),
		forbid(r, ActionCreatePart, "the parts catalog is maintained by the distributor"),
		forbid(r, ActionUpdatePart, "the parts catalog is maintained by the distributor"),
		forbid(r, ActionDeletePart, "the parts catalog is maintained by the distributor"),
		grant(r, ActionUploadPartPhoto, "admins may contribute part photos"),

		scoped(r, ActionViewTransaction, ownAndSupp, "view transactions of own organization and suppliers"),
		scoped(r, ActionCreateTransaction, Conditions{Scope: ScopeOwnOrganization,
			Types: []string{"consumption", "transfer", "adjustment", "return"}}, "record own transactions"),

		scoped(r, ActionViewOrder, ownAndSupp, "view orders of own organization and suppliers"),
		scoped(r, ActionCreateOrder, ownOrg, "place orders for own organization"),
		scoped(r, ActionUpdateOrder, Conditions{Scope: ScopeOwnOrganization, Statuses: []string{"draft", "pending"}},
			"edit own open orders"),
		scoped(r, ActionCancelOrder, Conditions{Scope: ScopeOwnOrganization, Statuses: []string{"draft", "pending"}},
			"cancel own open orders"),
		scoped(r, ActionApproveOrder, Conditions{Scope: ScopeOwnAndSuppliers, Statuses: []string{"pending"}},
			"approve pending orders"),
		scoped(r, ActionFulfillOrder, Conditions{Scope: ScopeOwnAndSuppliers, Statuses: []string{"approved"}},
			"fulfill approved orders"),

		scoped(r, ActionViewReports, ownOrg, "view reports for own organization"),
		scoped(r, ActionExportReports, ownOrg, "export reports for own organization"),

		grant(r, ActionViewAuditLogs, "audit reads are scoped to accessible organizations"),
		forbid(r, ActionManageSystemSettings, "system settings are super_admin only"),
		forbid(r, ActionClearIsolationCache, "cache control is super_admin only"),
	}
}

func userRules() []Rule {
	r := auth.RoleUser
	return []Rule{
		scoped(r, ActionViewOrganization, ownOrg, "view own organization"),
		forbid(r, ActionCreateOrganization, "users cannot create organizations"),
		forbid(r, ActionUpdateOrganization, "users cannot edit organizations"),
		forbid(r, ActionDeleteOrganization, "users cannot delete organizations"),
		scoped(r, ActionViewSuppliers, ownOrg, "list own suppliers"),
		forbid(r, ActionManageSuppliers, "users cannot manage suppliers"),

		scoped(r, ActionViewUser, ownOrg, "view colleagues"),
		forbid(r, ActionCreateUser, "users cannot create accounts"),
		scoped(r, ActionUpdateUser, Conditions{Scope: ScopeSelfOnly,
			Fields: []string{"name", "email", "phone", "password"}}, "edit own profile"),
		forbid(r, ActionDeleteUser, "users cannot delete accounts"),
		forbid(r, ActionInviteUser, "users cannot invite"),
		forbid(r, ActionManageUserRoles, "users cannot change roles"),

		scoped(r, ActionViewWarehouse, ownAndSupp, "view warehouses of own organization and suppliers"),
		forbid(r, ActionCreateWarehouse, "warehouses are managed by admins"),
		forbid(r, ActionUpdateWarehouse, "warehouses are managed by admins"),
		forbid(r, ActionDeleteWarehouse, "warehouses are managed by admins"),

		scoped(r, ActionViewInventory, ownAndSupp, "view stock of own organization and suppliers"),
		scoped(r, ActionAdjustInventory, ownOrg, "adjust own stock"),
		forbid(r, ActionTransferInventory, "stock transfers need an admin"),
		scoped(r, ActionStocktake, ownOrg, "stocktake own warehouses"),

		scoped(r, ActionViewMachine, ownOrg, "view own machines"),
		forbid(r, ActionRegisterMachine, "machines are registered by the distributor"),
		forbid(r, ActionUpdateMachine, "machine details are edited by admins"),
		forbid(r, ActionDeleteMachine, "machines are removed by the distributor"),
		forbid(r, ActionTransferMachine, "machine transfers are handled by the distributor"),
		scoped(r, ActionRecordMachineHours, ownOrg, "record hours on own machines"),

		grant(r, ActionViewPart, "the parts catalog is shared"),
		forbid(r, ActionCreatePart, "the parts catalog is maintained by the distributor"),
		forbid(r, ActionUpdatePart, "the parts catalog is maintained by the distributor"),
		forbid(r, ActionDeletePart, "the parts catalog is maintained by the distributor"),
		forbid(r, ActionUploadPartPhoto, "part photos are contributed by admins"),

		scoped(r, ActionViewTransaction, ownOrg, "view own transactions"),
		scoped(r, ActionCreateTransaction, Conditions{Scope: ScopeOwnOrganization, Types: []string{"consumption"}},
			"record part consumption"),

		scoped(r, ActionViewOrder, Conditions{Scope: ScopeOwnOrders}, "view own orders"),
		scoped(r, ActionCreateOrder, ownOrg, "place orders for own organization"),
		scoped(r, ActionUpdateOrder, Conditions{Scope: ScopeOwnOrders, Statuses: []string{"draft"}}, "edit own draft orders"),
		scoped(r, ActionCancelOrder, Conditions{Scope: ScopeOwnOrders, Statuses: []string{"draft", "pending"}},
			"cancel own open orders"),
		forbid(r, ActionApproveOrder, "approval needs an admin"),
		forbid(r, ActionFulfillOrder, "fulfillment needs an admin"),

		scoped(r, ActionViewReports, ownOrg, "view reports for own organization"),
		forbid(r, ActionExportReports, "exports need an admin"),

		forbid(r, ActionViewAuditLogs, "the audit trail is for admins"),
		forbid(r, ActionManageSystemSettings, "system settings are super_admin only"),
		forbid(r, ActionClearIsolationCache, "cache control is super_admin only"),
	}
}
