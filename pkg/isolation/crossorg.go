package isolation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// OperationKind names a cross-organization operation
type OperationKind string

const (
	OpMachineTransfer         OperationKind = "machine_transfer"
	OpPartShipment            OperationKind = "part_shipment"
	OpSupplierOrder           OperationKind = "supplier_order"
	OpSupplierReturn          OperationKind = "supplier_return"
	OpSiblingSupplierTransfer OperationKind = "sibling_supplier_transfer"
)

// Relation is the structural link between a source and target organization
type Relation string

const (
	RelationDistributorCustomer Relation = "distributor_customer"
	RelationParentChild         Relation = "parent_child" // target is a child of source
	RelationChildParent         Relation = "child_parent" // target is the parent of source
	RelationSiblings            Relation = "siblings"
)

// OperationProfile declares one permitted cross-organization operation.
// Anything not matched by a profile is denied.
type OperationProfile struct {
	Kind          OperationKind
	RequiredRoles []auth.Role
	SourceTypes   []orgs.OrganizationType
	TargetTypes   []orgs.OrganizationType
	Relations     []Relation
}

// DefaultProfiles returns the operations the fleet backend supports
func DefaultProfiles() []OperationProfile {
	return []OperationProfile{
		// Customers are never in a distributor admin's accessible set, so
		// machine transfers are left to super_admin, who bypasses profiles.
		{
			Kind:          OpMachineTransfer,
			RequiredRoles: nil,
			SourceTypes:   []orgs.OrganizationType{orgs.TypeDistributor},
			TargetTypes:   []orgs.OrganizationType{orgs.TypeCustomer},
			Relations:     []Relation{RelationDistributorCustomer},
		},
		{
			Kind:          OpPartShipment,
			RequiredRoles: []auth.Role{auth.RoleAdmin, auth.RoleUser},
			SourceTypes:   []orgs.OrganizationType{orgs.TypeDistributor, orgs.TypeCustomer},
			TargetTypes:   []orgs.OrganizationType{orgs.TypeCustomer, orgs.TypeSupplier},
			Relations:     []Relation{RelationDistributorCustomer, RelationParentChild},
		},
		{
			Kind:          OpSupplierOrder,
			RequiredRoles: []auth.Role{auth.RoleAdmin, auth.RoleUser},
			SourceTypes:   []orgs.OrganizationType{orgs.TypeCustomer},
			TargetTypes:   []orgs.OrganizationType{orgs.TypeSupplier},
			Relations:     []Relation{RelationParentChild},
		},
		{
			Kind:          OpSupplierReturn,
			RequiredRoles: []auth.Role{auth.RoleAdmin},
			SourceTypes:   []orgs.OrganizationType{orgs.TypeSupplier},
			TargetTypes:   []orgs.OrganizationType{orgs.TypeCustomer},
			Relations:     []Relation{RelationChildParent},
		},
		{
			Kind:          OpSiblingSupplierTransfer,
			RequiredRoles: []auth.Role{auth.RoleAdmin},
			SourceTypes:   []orgs.OrganizationType{orgs.TypeSupplier},
			TargetTypes:   []orgs.OrganizationType{orgs.TypeSupplier},
			Relations:     []Relation{RelationSiblings},
		},
	}
}

func (p OperationProfile) matches(role auth.Role, src, dst *orgs.Organization, rels []Relation) bool {
	return slices.Contains(p.RequiredRoles, role) &&
		slices.Contains(p.SourceTypes, src.Type) &&
		slices.Contains(p.TargetTypes, dst.Type) &&
		overlaps(p.Relations, rels)
}

// CrossOrgResult is the outcome of a cross-organization validation
type CrossOrgResult struct {
	Allowed   bool          `json:"allowed"`
	Reason    string        `json:"reason"`
	Operation OperationKind `json:"operation,omitempty"`
	Relations []Relation    `json:"relations,omitempty"`
}

// CrossOrgValidator decides whether an operation may span two organizations
type CrossOrgValidator struct {
	resolver *Resolver
	profiles []OperationProfile
	emitter  *audit.Emitter
	metrics  *observability.Metrics
}

// CrossOrgOption configures a CrossOrgValidator
type CrossOrgOption func(*CrossOrgValidator)

// WithProfiles replaces the default operation profiles
func WithProfiles(profiles []OperationProfile) CrossOrgOption {
	return func(v *CrossOrgValidator) {
		v.profiles = profiles
	}
}

// WithCrossOrgEmitter sets where cross-organization decisions are audited
func WithCrossOrgEmitter(e *audit.Emitter) CrossOrgOption {
	return func(v *CrossOrgValidator) {
		v.emitter = e
	}
}

// WithCrossOrgMetrics sets the metrics recorder
func WithCrossOrgMetrics(m *observability.Metrics) CrossOrgOption {
	return func(v *CrossOrgValidator) {
		v.metrics = m
	}
}

// NewCrossOrgValidator creates a validator backed by resolver and its
// directory
func NewCrossOrgValidator(resolver *Resolver, opts ...CrossOrgOption) *CrossOrgValidator {
	v := &CrossOrgValidator{
		resolver: resolver,
		profiles: DefaultProfiles(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ValidateCrossOrganizationalAccess reports whether user may run any
// declared operation from sourceOrgID to targetOrgID.
func (v *CrossOrgValidator) ValidateCrossOrganizationalAccess(ctx context.Context, user *auth.UserDescriptor, sourceOrgID, targetOrgID int64) bool {
	return v.ValidateOperation(ctx, user, "", sourceOrgID, targetOrgID).Allowed
}

// ValidateOperation checks one operation kind, or any declared operation
// when kind is empty.
func (v *CrossOrgValidator) ValidateOperation(ctx context.Context, user *auth.UserDescriptor, kind OperationKind, sourceOrgID, targetOrgID int64) CrossOrgResult {
	ctx, span := tracer.Start(ctx, "isolation.cross_org")
	defer span.End()

	result := v.evaluate(ctx, user, kind, sourceOrgID, targetOrgID)
	span.SetAttributes(
		attribute.Int64("source.organization_id", sourceOrgID),
		attribute.Int64("target.organization_id", targetOrgID),
		attribute.String("operation", string(result.Operation)),
		attribute.Bool("allowed", result.Allowed),
	)

	if user != nil {
		v.record(ctx, user, sourceOrgID, targetOrgID, result)
	}
	return result
}

func (v *CrossOrgValidator) evaluate(ctx context.Context, user *auth.UserDescriptor, kind OperationKind, sourceOrgID, targetOrgID int64) CrossOrgResult {
	if user == nil {
		return CrossOrgResult{Reason: "no authenticated user", Operation: kind}
	}
	if user.IsSuperAdmin() {
		return CrossOrgResult{Allowed: true, Reason: "super_admin may operate across all organizations", Operation: kind}
	}
	if kind != "" && v.profile(kind) == nil {
		return CrossOrgResult{Reason: fmt.Sprintf("unknown operation %q", kind), Operation: kind}
	}

	src, dst, err := v.fetchPair(ctx, sourceOrgID, targetOrgID)
	if err != nil {
		if errors.Is(err, orgs.ErrOrganizationNotFound) {
			return CrossOrgResult{Reason: "organization not found", Operation: kind}
		}
		v.resolver.logger.WithError(err).Warn("cross-organization lookup failed")
		return CrossOrgResult{Reason: "organization lookup failed", Operation: kind}
	}

	if src.IsBossAqua() || dst.IsBossAqua() {
		v.resolver.ValidateBossAquaAccess(ctx, user, "cross_org:"+string(kind))
		return CrossOrgResult{Reason: "BossAqua organizations are restricted to super_admin", Operation: kind}
	}

	for _, id := range []int64{sourceOrgID, targetOrgID} {
		if access := v.resolver.ValidateOrganizationAccess(ctx, user, id); !access.Allowed {
			return CrossOrgResult{Reason: access.Reason, Operation: kind}
		}
	}

	rels := relationsBetween(src, dst)
	if len(rels) == 0 {
		return CrossOrgResult{Reason: "organizations are not structurally related", Operation: kind}
	}

	for _, p := range v.profiles {
		if kind != "" && p.Kind != kind {
			continue
		}
		if p.matches(user.Role, src, dst, rels) {
			return CrossOrgResult{
				Allowed:   true,
				Reason:    fmt.Sprintf("%s permitted for %s", p.Kind, user.Role),
				Operation: p.Kind,
				Relations: rels,
			}
		}
	}
	return CrossOrgResult{Reason: "no operation profile permits this transfer", Operation: kind, Relations: rels}
}

func (v *CrossOrgValidator) fetchPair(ctx context.Context, sourceOrgID, targetOrgID int64) (*orgs.Organization, *orgs.Organization, error) {
	var src, dst *orgs.Organization
	directory := v.resolver.Directory()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		org, err := directory.GetOrganization(gctx, sourceOrgID)
		if err != nil {
			return fmt.Errorf("source organization %d: %w", sourceOrgID, err)
		}
		src = org
		return nil
	})
	g.Go(func() error {
		org, err := directory.GetOrganization(gctx, targetOrgID)
		if err != nil {
			return fmt.Errorf("target organization %d: %w", targetOrgID, err)
		}
		dst = org
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

func (v *CrossOrgValidator) profile(kind OperationKind) *OperationProfile {
	for i := range v.profiles {
		if v.profiles[i].Kind == kind {
			return &v.profiles[i]
		}
	}
	return nil
}

func (v *CrossOrgValidator) record(ctx context.Context, user *auth.UserDescriptor, sourceOrgID, targetOrgID int64, result CrossOrgResult) {
	v.metrics.ObserveCrossOrg(string(result.Operation), result.Allowed)

	risk := audit.RiskLow
	if !result.Allowed {
		risk = audit.RiskMedium
	}
	v.emitter.For(ctx, user).Log(&audit.AuditEvent{
		EventType:   audit.EventCrossOrgAccess,
		RiskLevel:   risk,
		Action:      string(result.Operation),
		Description: result.Reason,
		Details: map[string]interface{}{
			"source_organization_id": sourceOrgID,
			"target_organization_id": targetOrgID,
			"allowed":                result.Allowed,
		},
	})
}

// relationsBetween lists every structural relation from src to dst
func relationsBetween(src, dst *orgs.Organization) []Relation {
	if src.ID == dst.ID {
		return nil
	}
	var rels []Relation
	if src.Type == orgs.TypeDistributor && dst.Type == orgs.TypeCustomer {
		rels = append(rels, RelationDistributorCustomer)
	}
	if dst.HasParent(src.ID) {
		rels = append(rels, RelationParentChild)
	}
	if src.HasParent(dst.ID) {
		rels = append(rels, RelationChildParent)
	}
	if src.ParentOrganizationID != nil && dst.HasParent(*src.ParentOrganizationID) {
		rels = append(rels, RelationSiblings)
	}
	return rels
}

func overlaps(want, have []Relation) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}
