package rbac

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/isolation"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// OrganizationAccess is the resolver surface the handlers need.
// *isolation.Resolver implements it.
type OrganizationAccess interface {
	AccessibleOrganizationIDs(ctx context.Context, user *auth.UserDescriptor, resourceType string) orgs.IDSet
	ValidateOrganizationAccess(ctx context.Context, user *auth.UserDescriptor, orgID int64) isolation.AccessResult
	ClearCache(ctx context.Context, userID *int64) error
}

// CrossOrgChecker validates operations spanning two organizations.
// *isolation.CrossOrgValidator implements it.
type CrossOrgChecker interface {
	ValidateOperation(ctx context.Context, user *auth.UserDescriptor, kind isolation.OperationKind, sourceOrgID, targetOrgID int64) isolation.CrossOrgResult
}

var (
	_ OrganizationAccess = (*isolation.Resolver)(nil)
	_ CrossOrgChecker    = (*isolation.CrossOrgValidator)(nil)
)

// Handlers serves the /authz API: introspection of the caller's own
// permissions and organization reach, plus cache control for super_admin.
type Handlers struct {
	engine   *Engine
	access   OrganizationAccess
	crossOrg CrossOrgChecker
	emitter  *audit.Emitter
}

// NewHandlers creates authz handlers
func NewHandlers(engine *Engine, access OrganizationAccess, crossOrg CrossOrgChecker, emitter *audit.Emitter) *Handlers {
	return &Handlers{
		engine:   engine,
		access:   access,
		crossOrg: crossOrg,
		emitter:  emitter,
	}
}

// RegisterRoutes registers authz routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/authz/actions", h.listActions).Methods("GET")
	router.HandleFunc("/authz/check", h.check).Methods("POST")
	router.HandleFunc("/authz/organizations", h.listOrganizations).Methods("GET")
	router.HandleFunc("/authz/organizations/{org_id}/access", h.organizationAccess).Methods("GET")
	router.HandleFunc("/authz/cross-org", h.crossOrgCheck).Methods("POST")
	router.HandleFunc("/authz/cache", h.clearCache).Methods("DELETE")
}

// CheckRequest is the body of POST /authz/check
type CheckRequest struct {
	Action  string         `json:"action"`
	Context RequestContext `json:"context"`
}

// CheckResponse reports a decision with its public code only
type CheckResponse struct {
	Action  Action `json:"action"`
	Allowed bool   `json:"allowed"`
	Code    string `json:"code"`
}

// CrossOrgRequest is the body of POST /authz/cross-org. An empty operation
// matches any declared operation.
type CrossOrgRequest struct {
	Operation            string `json:"operation,omitempty"`
	SourceOrganizationID int64  `json:"source_organization_id"`
	TargetOrganizationID int64  `json:"target_organization_id"`
}

func requireUser(w http.ResponseWriter, r *http.Request) *auth.UserDescriptor {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteDenied(w, http.StatusUnauthorized, "authentication required", CodeUnauthenticated.Public())
	}
	return user
}

// listActions handles GET /authz/actions
func (h *Handlers) listActions(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	actions := h.engine.AllowedActions(user)
	httputil.WriteSuccess(w, map[string]interface{}{
		"role":       user.Role,
		"categories": h.engine.Summary(user),
		"total":      len(actions),
	})
}

// check handles POST /authz/check
func (h *Handlers) check(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	action, ok := ParseAction(req.Action)
	if !ok {
		httputil.WriteBadRequest(w, "unknown action")
		return
	}

	d := h.engine.CheckAccess(r.Context(), user, action, req.Context)
	httputil.WriteSuccess(w, CheckResponse{Action: action, Allowed: d.Allowed, Code: d.Code.Public()})
}

// listOrganizations handles GET /authz/organizations
func (h *Handlers) listOrganizations(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	resourceType := httputil.ParseQueryString(r, "resource_type", isolation.ResourceOrganization)
	ids := h.access.AccessibleOrganizationIDs(r.Context(), user, resourceType).Slice()
	httputil.WriteSuccess(w, map[string]interface{}{
		"resource_type":    resourceType,
		"organization_ids": ids,
		"count":            len(ids),
	})
}

// organizationAccess handles GET /authz/organizations/{org_id}/access
func (h *Handlers) organizationAccess(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	orgID, ok := httputil.ParsePathIDOrError(w, r, "org_id")
	if !ok {
		return
	}
	result := h.access.ValidateOrganizationAccess(r.Context(), user, orgID)
	httputil.WriteSuccess(w, map[string]interface{}{
		"organization_id": orgID,
		"allowed":         result.Allowed,
		"reason":          result.Reason,
	})
}

// crossOrgCheck handles POST /authz/cross-org
func (h *Handlers) crossOrgCheck(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}
	var req CrossOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w,
		func() (bool, string) { return req.SourceOrganizationID > 0, "source_organization_id is required" },
		func() (bool, string) { return req.TargetOrganizationID > 0, "target_organization_id is required" },
	) {
		return
	}

	result := h.crossOrg.ValidateOperation(r.Context(), user, isolation.OperationKind(req.Operation),
		req.SourceOrganizationID, req.TargetOrganizationID)
	httputil.WriteSuccess(w, map[string]interface{}{
		"allowed":   result.Allowed,
		"operation": result.Operation,
	})
}

// clearCache handles DELETE /authz/cache. Only roles granted
// clear_isolation_cache may call it.
func (h *Handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	user := requireUser(w, r)
	if user == nil {
		return
	}

	userID, err := httputil.ParseQueryID(r, "user_id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	d := h.engine.CheckAccess(r.Context(), user, ActionClearIsolationCache, RequestContext{TargetUserID: userID})
	if !d.Allowed {
		httputil.WriteDenied(w, http.StatusForbidden, "access denied", d.Code.Public())
		return
	}

	if err := h.access.ClearCache(r.Context(), userID); err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	resourceID := "all"
	if userID != nil {
		resourceID = strconv.FormatInt(*userID, 10)
	}
	h.emitter.For(r.Context(), user).LogModification("isolation_cache", resourceID, string(ActionClearIsolationCache), nil, nil)
	httputil.WriteNoContent(w)
}
