package rbac

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
)

func TestDefaultMatrix_EveryRoleHasEveryAction(t *testing.T) {
	m, err := NewDefaultMatrix()
	require.NoError(t, err)

	for _, role := range auth.AllRoles() {
		for _, action := range AllActions() {
			_, err := m.Lookup(role, action)
			assert.NoError(t, err, "%s/%s", role, action)
		}
	}
	assert.Equal(t, len(auth.AllRoles())*len(AllActions()), m.Len())
}

func TestDefaultMatrix_SuperAdminNeverDenied(t *testing.T) {
	m, err := NewDefaultMatrix()
	require.NoError(t, err)

	for _, r := range m.Rules() {
		if r.Role != auth.RoleSuperAdmin {
			continue
		}
		assert.True(t, r.Allowed, r.Action)
		assert.Nil(t, r.Conditions, r.Action)
	}
	assert.Equal(t, AllActions(), sortedCatalog(m.AllowedActions(auth.RoleSuperAdmin)))
}

// sortedCatalog reorders sorted actions back into catalog order
func sortedCatalog(actions []Action) []Action {
	pos := make(map[Action]int)
	for i, a := range AllActions() {
		pos[a] = i
	}
	out := append([]Action(nil), actions...)
	sort.Slice(out, func(i, j int) bool { return pos[out[i]] < pos[out[j]] })
	return out
}

func TestDefaultMatrix_KeyRules(t *testing.T) {
	m, err := NewDefaultMatrix()
	require.NoError(t, err)

	r, err := m.Lookup(auth.RoleAdmin, ActionViewOrganization)
	require.NoError(t, err)
	assert.True(t, r.Allowed)
	require.NotNil(t, r.Conditions)
	assert.Equal(t, ScopeOwnOrganization, r.Conditions.Scope)

	r, err = m.Lookup(auth.RoleAdmin, ActionDeleteUser)
	require.NoError(t, err)
	require.NotNil(t, r.Conditions)
	assert.True(t, r.Conditions.Excludes(ExcludeSelf))

	r, err = m.Lookup(auth.RoleUser, ActionDeleteUser)
	require.NoError(t, err)
	assert.False(t, r.Allowed)
}

func TestNewMatrix_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"duplicate", []Rule{
			grant(auth.RoleAdmin, ActionViewPart, ""),
			forbid(auth.RoleAdmin, ActionViewPart, ""),
		}},
		{"unknown role", []Rule{grant(auth.Role("owner"), ActionViewPart, "")}},
		{"unknown action", []Rule{grant(auth.RoleAdmin, Action("launch_rocket"), "")}},
		{"unknown scope", []Rule{scoped(auth.RoleAdmin, ActionViewPart, Conditions{Scope: "everyone"}, "")}},
		{"unknown exclusion", []Rule{scoped(auth.RoleAdmin, ActionViewPart, Conditions{Exclude: []Exclusion{"others"}}, "")}},
		{"conditions on denied rule", []Rule{{Role: auth.RoleAdmin, Action: ActionViewPart, Conditions: &ownOrg}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewMatrix(tt.rules)
			assert.Error(t, err)
			assert.Nil(t, m)
		})
	}
}

func TestMatrix_Lookup_Missing(t *testing.T) {
	m, err := NewMatrix([]Rule{grant(auth.RoleAdmin, ActionViewPart, "")})
	require.NoError(t, err)

	_, err = m.Lookup(auth.RoleUser, ActionViewPart)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingRule))

	var missing *MissingRuleError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, auth.RoleUser, missing.Role)
	assert.Equal(t, ActionViewPart, missing.Action)
}

func TestMatrix_LookupReturnsCopies(t *testing.T) {
	m, err := NewDefaultMatrix()
	require.NoError(t, err)

	r, err := m.Lookup(auth.RoleAdmin, ActionUpdateOrder)
	require.NoError(t, err)
	r.Conditions.Statuses[0] = "shipped"
	r.Conditions.Scope = ScopeSelfOnly

	again, err := m.Lookup(auth.RoleAdmin, ActionUpdateOrder)
	require.NoError(t, err)
	assert.Equal(t, []string{"draft", "pending"}, again.Conditions.Statuses)
	assert.Equal(t, ScopeOwnOrganization, again.Conditions.Scope)
}

func TestMatrix_AllowedActionsAndSummary(t *testing.T) {
	m, err := NewDefaultMatrix()
	require.NoError(t, err)

	actions := m.AllowedActions(auth.RoleUser)
	assert.True(t, sort.SliceIsSorted(actions, func(i, j int) bool { return actions[i] < actions[j] }))
	assert.Contains(t, actions, ActionViewOrganization)
	assert.NotContains(t, actions, ActionDeleteUser)

	summary := m.Summary(auth.RoleUser)
	assert.Equal(t, []Action{ActionViewPart}, summary[CategoryPart])
	assert.NotContains(t, summary, CategorySystem)
	assert.Len(t, m.Summary(auth.RoleSuperAdmin)[CategorySystem], 3)
	assert.Empty(t, m.AllowedActions(auth.Role("nobody")))
}

func TestActionCatalog(t *testing.T) {
	seen := make(map[Action]bool)
	for _, info := range Catalog() {
		assert.False(t, seen[info.Action], "duplicate %s", info.Action)
		seen[info.Action] = true
		assert.NotEmpty(t, info.Category)
		assert.Equal(t, info.Category, info.Action.Category())
	}

	a, ok := ParseAction("view_order")
	assert.True(t, ok)
	assert.Equal(t, ActionViewOrder, a)
	_, ok = ParseAction("view_everything")
	assert.False(t, ok)
}
