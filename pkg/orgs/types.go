package orgs

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// OrganizationType drives the visibility special cases of the isolation layer
type OrganizationType string

const (
	TypeDistributor OrganizationType = "oraseas_ee" // Internal distributor
	TypeBossAqua    OrganizationType = "bossaqua"   // Internal proprietary, super_admin only
	TypeCustomer    OrganizationType = "customer"
	TypeSupplier    OrganizationType = "supplier" // Visible to its parent only
)

// Valid reports whether t is a known organization type
func (t OrganizationType) Valid() bool {
	switch t {
	case TypeDistributor, TypeBossAqua, TypeCustomer, TypeSupplier:
		return true
	}
	return false
}

var (
	// ErrOrganizationNotFound is returned when an organization id does not resolve
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrSupplierWithoutParent marks a supplier record missing its parent organization
	ErrSupplierWithoutParent = errors.New("supplier organization requires a parent organization")
)

// Organization is the authorization view of an organization record
type Organization struct {
	ID                   int64            `json:"id"`
	Name                 string           `json:"name"`
	Type                 OrganizationType `json:"organization_type"`
	ParentOrganizationID *int64           `json:"parent_organization_id,omitempty"`
	IsActive             bool             `json:"is_active"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// Validate checks structural invariants of the record
func (o *Organization) Validate() error {
	if o.Name == "" {
		return fmt.Errorf("organization name is required")
	}
	if !o.Type.Valid() {
		return fmt.Errorf("invalid organization type %q", o.Type)
	}
	if o.Type == TypeSupplier && o.ParentOrganizationID == nil {
		return ErrSupplierWithoutParent
	}
	if o.ParentOrganizationID != nil && o.ID != 0 && *o.ParentOrganizationID == o.ID {
		return fmt.Errorf("organization cannot be its own parent")
	}
	return nil
}

// IsBossAqua reports whether the organization is the proprietary internal type
func (o *Organization) IsBossAqua() bool {
	return o.Type == TypeBossAqua
}

// IsSupplier reports whether the organization is a supplier
func (o *Organization) IsSupplier() bool {
	return o.Type == TypeSupplier
}

// HasParent reports whether parentID is the organization's parent
func (o *Organization) HasParent(parentID int64) bool {
	return o.ParentOrganizationID != nil && *o.ParentOrganizationID == parentID
}

// ListFilter narrows ListOrganizations. Nil fields are not filtered on.
type ListFilter struct {
	Type     *OrganizationType
	ParentID *int64
	IsActive *bool
}

// IDSet is a set of organization ids
type IDSet map[int64]struct{}

// NewIDSet builds a set from ids
func NewIDSet(ids ...int64) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Add inserts id into the set
func (s IDSet) Add(id int64) {
	s[id] = struct{}{}
}

// Remove deletes id from the set
func (s IDSet) Remove(id int64) {
	delete(s, id)
}

// Contains reports membership
func (s IDSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

// Len returns the number of ids
func (s IDSet) Len() int {
	return len(s)
}

// Slice returns the ids in ascending order
func (s IDSet) Slice() []int64 {
	out := make([]int64, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clone returns an independent copy
func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Intersect returns the ids present in both sets
func (s IDSet) Intersect(other IDSet) IDSet {
	out := make(IDSet)
	for id := range s {
		if other.Contains(id) {
			out[id] = struct{}{}
		}
	}
	return out
}
