package isolation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func TestValidateOrganizationAccess(t *testing.T) {
	r, _, sink := newTestResolver(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		result  AccessResult
		allowed bool
	}{
		{"own organization", r.ValidateOrganizationAccess(ctx, adminA, 3), true},
		{"active supplier", r.ValidateOrganizationAccess(ctx, userA, 4), true},
		{"inactive supplier", r.ValidateOrganizationAccess(ctx, adminA, 5), false},
		{"other customer", r.ValidateOrganizationAccess(ctx, adminA, 7), false},
		{"other customer's supplier", r.ValidateOrganizationAccess(ctx, adminA, 8), false},
		{"BossAqua", r.ValidateOrganizationAccess(ctx, adminA, 2), false},
		{"super_admin anywhere", r.ValidateOrganizationAccess(ctx, superAdmin, 2), true},
		{"no user", r.ValidateOrganizationAccess(ctx, nil, 3), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.result.Allowed)
			assert.NotEmpty(t, tt.result.Reason)
		})
	}

	violations := sink.OfType(audit.EventOrgBoundaryViolation)
	require.Len(t, violations, 4)
	for _, e := range violations {
		assert.Equal(t, audit.RiskHigh, e.RiskLevel)
		require.NotNil(t, e.UserID)
		assert.Equal(t, adminA.ID, *e.UserID)
	}
	assert.EqualValues(t, 7, violations[1].Details["target_organization_id"])
}

func TestValidateSupplierVisibility(t *testing.T) {
	r, _, sink := newTestResolver(t)
	ctx := context.Background()

	assert.True(t, r.ValidateSupplierVisibility(ctx, adminA, 4), "parent sees its supplier")
	assert.True(t, r.ValidateSupplierVisibility(ctx, userA, 5), "parent sees its inactive supplier")
	assert.True(t, r.ValidateSupplierVisibility(ctx, superAdmin, 8))
	require.Empty(t, sink.Events())

	assert.False(t, r.ValidateSupplierVisibility(ctx, adminB, 4), "non-parent cannot see supplier")
	assert.False(t, r.ValidateSupplierVisibility(ctx, adminA, 7), "a customer is not a supplier")
	assert.False(t, r.ValidateSupplierVisibility(ctx, adminA, 404))
	assert.False(t, r.ValidateSupplierVisibility(ctx, nil, 4))

	denied := sink.OfType(audit.EventSupplierAccessDenied)
	require.Len(t, denied, 2)
	for _, e := range denied {
		assert.Equal(t, audit.RiskMedium, e.RiskLevel)
	}
	assert.Equal(t, string(orgs.TypeCustomer), denied[1].Details["target_type"])
}

func TestValidateBossAquaAccess(t *testing.T) {
	r, _, sink := newTestResolver(t)
	ctx := context.Background()

	assert.True(t, r.ValidateBossAquaAccess(ctx, superAdmin, "view_machine"))
	assert.Empty(t, sink.Events())

	assert.False(t, r.ValidateBossAquaAccess(ctx, adminA, "view_machine"))
	assert.False(t, r.ValidateBossAquaAccess(ctx, bossAdmin, "update_machine"))

	attempts := sink.OfType(audit.EventBossAquaAccessAttempt)
	require.Len(t, attempts, 2)
	assert.Equal(t, audit.RiskHigh, attempts[0].RiskLevel)
	assert.Equal(t, "update_machine", attempts[1].Details["action"])
}

func TestIsBossAquaOrganization(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	is, err := r.IsBossAquaOrganization(ctx, 2)
	require.NoError(t, err)
	assert.True(t, is)

	is, err = r.IsBossAquaOrganization(ctx, 3)
	require.NoError(t, err)
	assert.False(t, is)

	_, err = r.IsBossAquaOrganization(ctx, 404)
	assert.ErrorIs(t, err, orgs.ErrOrganizationNotFound)
}
