// Package orgs provides the organization directory used by the isolation layer.
//
// # Overview
//
// Organizations form a shallow hierarchy. Suppliers always hang off a parent
// organization; every other type may optionally have one.
//
//	oraseas_ee  - internal distributor
//	bossaqua    - internal proprietary, visible to super_admin only
//	customer    - a customer organization
//	supplier    - visible to its parent organization (and super_admin)
//
// # Directory
//
// The authorization core reads organizations through the Directory interface:
//
//	org, err := dir.GetOrganization(ctx, id)
//	if errors.Is(err, orgs.ErrOrganizationNotFound) { ... }
//
//	active := true
//	supplier := orgs.TypeSupplier
//	children, err := dir.ListOrganizations(ctx, orgs.ListFilter{
//		Type:     &supplier,
//		ParentID: &parentID,
//		IsActive: &active,
//	})
//
// PostgresDirectory implements it on the organizations table created by
// RunMigrations. Writers register an OnChange hook so hierarchy edits can
// invalidate cached visibility.
package orgs
