package rbac

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/isolation"
	"github.com/platinummonkey/fleetauthz/pkg/middleware"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// SupplierVisibility reports whether a supplier organization is visible to
// a user. *isolation.Resolver implements it.
type SupplierVisibility interface {
	ValidateSupplierVisibility(ctx context.Context, user *auth.UserDescriptor, supplierOrgID int64) bool
}

var _ SupplierVisibility = (*isolation.Resolver)(nil)

// OrganizationHandlers serves directory records. Every route is authorized
// before the organization is loaded, so an unknown id and a forbidden one
// look the same to the caller.
type OrganizationHandlers struct {
	guard     *Middleware
	directory orgs.Directory
	suppliers SupplierVisibility
}

// NewOrganizationHandlers creates organization handlers
func NewOrganizationHandlers(engine *Engine, directory orgs.Directory, suppliers SupplierVisibility) *OrganizationHandlers {
	return &OrganizationHandlers{
		guard:     NewMiddleware(engine),
		directory: directory,
		suppliers: suppliers,
	}
}

// RegisterRoutes registers organization routes
func (h *OrganizationHandlers) RegisterRoutes(router *mux.Router) {
	router.Handle("/organizations/{org_id}", h.scoped(ActionViewOrganization, h.getOrganization)).Methods("GET")
	router.Handle("/organizations/{org_id}/suppliers", h.scoped(ActionViewSuppliers, h.listSuppliers)).Methods("GET")
}

func (h *OrganizationHandlers) scoped(action Action, fn http.HandlerFunc) http.Handler {
	loaded := middleware.OrgContextMiddleware(h.directory)(fn)
	return h.guard.RequireAction(action, FromPathVars)(loaded)
}

// getOrganization handles GET /organizations/{org_id}
func (h *OrganizationHandlers) getOrganization(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, orgs.FromContext(r.Context()))
}

// listSuppliers handles GET /organizations/{org_id}/suppliers
func (h *OrganizationHandlers) listSuppliers(w http.ResponseWriter, r *http.Request) {
	org := orgs.FromContext(r.Context())
	user := auth.UserFromContext(r.Context())

	supplierType := orgs.TypeSupplier
	active := true
	children, err := h.directory.ListOrganizations(r.Context(), orgs.ListFilter{
		Type:     &supplierType,
		ParentID: &org.ID,
		IsActive: &active,
	})
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	visible := make([]*orgs.Organization, 0, len(children))
	for _, child := range children {
		if h.suppliers.ValidateSupplierVisibility(r.Context(), user, child.ID) {
			visible = append(visible, child)
		}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"organization_id": org.ID,
		"suppliers":       visible,
		"count":           len(visible),
	})
}
