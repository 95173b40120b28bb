package orgs

import (
	"context"

	"github.com/platinummonkey/fleetauthz/pkg/contextkeys"
)

// WithOrganization stores the organization a request targets
func WithOrganization(ctx context.Context, org *Organization) context.Context {
	return context.WithValue(ctx, contextkeys.OrgKey, org)
}

// FromContext returns the organization stored in ctx, or nil
func FromContext(ctx context.Context) *Organization {
	org, _ := ctx.Value(contextkeys.OrgKey).(*Organization)
	return org
}
