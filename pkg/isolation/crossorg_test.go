package isolation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func newTestCrossOrg(t *testing.T) (*CrossOrgValidator, *orgs.MemoryDirectory, *recordingSink) {
	t.Helper()
	r, dir, sink := newTestResolver(t)
	v := NewCrossOrgValidator(r, WithCrossOrgEmitter(audit.NewEmitter(sink)))
	return v, dir, sink
}

func TestValidateOperation(t *testing.T) {
	v, _, _ := newTestCrossOrg(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    *auth.UserDescriptor
		kind    OperationKind
		source  int64
		target  int64
		allowed bool
	}{
		{"customer ships part to own supplier", adminA, OpPartShipment, 3, 4, true},
		{"user orders from own supplier", userA, OpSupplierOrder, 3, 6, true},
		{"supplier returns to parent", adminA, OpSupplierReturn, 4, 3, true},
		{"sibling suppliers transfer", adminA, OpSiblingSupplierTransfer, 4, 6, true},
		{"user may not move stock between siblings", userA, OpSiblingSupplierTransfer, 4, 6, false},
		{"wrong direction for supplier order", adminA, OpSupplierOrder, 4, 3, false},
		{"other customer is out of reach", adminA, OpPartShipment, 3, 7, false},
		{"other customer's supplier", adminA, OpSupplierOrder, 3, 8, false},
		{"inactive supplier", adminA, OpSupplierOrder, 3, 5, false},
		{"BossAqua target", adminA, OpPartShipment, 3, 2, false},
		{"unknown operation", adminA, OperationKind("teleport"), 3, 4, false},
		{"missing organization", adminA, OpPartShipment, 3, 404, false},
		{"same organization", adminA, OpPartShipment, 3, 3, false},
		{"distributor admin cannot reach customers", distAdmin, OpMachineTransfer, 1, 3, false},
		{"machine transfer by super_admin", superAdmin, OpMachineTransfer, 1, 3, true},
		{"super_admin bypasses profiles", superAdmin, OpMachineTransfer, 2, 8, true},
		{"no user", nil, OpPartShipment, 3, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateOperation(ctx, tt.user, tt.kind, tt.source, tt.target)
			assert.Equal(t, tt.allowed, result.Allowed, result.Reason)
			assert.NotEmpty(t, result.Reason)
		})
	}
}

func TestValidateCrossOrganizationalAccess_AnyProfile(t *testing.T) {
	v, _, _ := newTestCrossOrg(t)
	ctx := context.Background()

	assert.True(t, v.ValidateCrossOrganizationalAccess(ctx, adminA, 3, 4))
	assert.True(t, v.ValidateCrossOrganizationalAccess(ctx, superAdmin, 1, 7))
	assert.False(t, v.ValidateCrossOrganizationalAccess(ctx, adminA, 3, 7))
	assert.True(t, v.ValidateCrossOrganizationalAccess(ctx, adminB, 8, 7))
	// supplier_return is the only child to parent profile and needs admin
	assert.False(t, v.ValidateCrossOrganizationalAccess(ctx, userA, 4, 3))
}

func TestValidateOperation_DefaultDeny(t *testing.T) {
	r, _, _ := newTestResolver(t)
	v := NewCrossOrgValidator(r, WithProfiles(nil))

	assert.False(t, v.ValidateCrossOrganizationalAccess(context.Background(), adminA, 3, 4))
	assert.True(t, v.ValidateCrossOrganizationalAccess(context.Background(), superAdmin, 3, 4))
}

func TestValidateOperation_Audit(t *testing.T) {
	v, _, sink := newTestCrossOrg(t)
	ctx := context.Background()

	v.ValidateOperation(ctx, adminA, OpPartShipment, 3, 4)
	v.ValidateOperation(ctx, adminA, OpPartShipment, 3, 7)

	events := sink.OfType(audit.EventCrossOrgAccess)
	require.Len(t, events, 2)
	assert.Equal(t, audit.RiskLow, events[0].RiskLevel)
	assert.Equal(t, string(OpPartShipment), events[0].Action)
	assert.Equal(t, true, events[0].Details["allowed"])
	assert.Equal(t, audit.RiskMedium, events[1].RiskLevel)

	// the inaccessible target is also a boundary violation
	assert.Len(t, sink.OfType(audit.EventOrgBoundaryViolation), 1)
}

func TestValidateOperation_BossAquaAttemptAudited(t *testing.T) {
	v, _, sink := newTestCrossOrg(t)

	v.ValidateOperation(context.Background(), adminA, OpPartShipment, 2, 3)
	attempts := sink.OfType(audit.EventBossAquaAccessAttempt)
	require.Len(t, attempts, 1)
	assert.Equal(t, audit.RiskHigh, attempts[0].RiskLevel)
}

func TestDefaultProfiles_MachineTransferHasNoRoles(t *testing.T) {
	dist := &orgs.Organization{ID: 1, Type: orgs.TypeDistributor}
	cust := &orgs.Organization{ID: 3, Type: orgs.TypeCustomer}
	rels := relationsBetween(dist, cust)
	require.Contains(t, rels, RelationDistributorCustomer)

	for _, p := range DefaultProfiles() {
		if p.Kind != OpMachineTransfer {
			continue
		}
		for _, role := range []auth.Role{auth.RoleAdmin, auth.RoleUser} {
			assert.False(t, p.matches(role, dist, cust, rels), "role %s", role)
		}
		return
	}
	t.Fatal("machine transfer profile missing")
}

func TestRelationsBetween(t *testing.T) {
	dir := fleet()
	get := func(id int64) *orgs.Organization {
		org, err := dir.GetOrganization(context.Background(), id)
		require.NoError(t, err)
		return org
	}

	assert.Equal(t, []Relation{RelationDistributorCustomer}, relationsBetween(get(1), get(3)))
	assert.Equal(t, []Relation{RelationParentChild}, relationsBetween(get(3), get(4)))
	assert.Equal(t, []Relation{RelationChildParent}, relationsBetween(get(4), get(3)))
	assert.Equal(t, []Relation{RelationSiblings}, relationsBetween(get(4), get(6)))
	assert.Empty(t, relationsBetween(get(3), get(7)))
	assert.Empty(t, relationsBetween(get(3), get(3)))
}
