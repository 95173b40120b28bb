package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// ContextExtractor builds the RequestContext for an action from a request
type ContextExtractor func(r *http.Request) (RequestContext, error)

// Middleware gates handlers on engine decisions
type Middleware struct {
	engine *Engine
}

// NewMiddleware creates middleware backed by engine
func NewMiddleware(engine *Engine) *Middleware {
	return &Middleware{engine: engine}
}

// RequireAction allows the request through only when the authenticated user
// may perform action. A nil extractor checks with an empty context.
// Denials carry only a generic code; the detailed reason goes to the audit
// trail.
func (m *Middleware) RequireAction(action Action, extract ContextExtractor) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := auth.UserFromContext(r.Context())
			if user == nil {
				httputil.WriteDenied(w, http.StatusUnauthorized, "authentication required", CodeUnauthenticated.Public())
				return
			}

			var rc RequestContext
			if extract != nil {
				var err error
				if rc, err = extract(r); err != nil {
					httputil.WriteBadRequest(w, err.Error())
					return
				}
			}

			decision := m.engine.CheckAccess(r.Context(), user, action, rc)
			if !decision.Allowed {
				httputil.WriteDenied(w, http.StatusForbidden, "access denied", decision.Code.Public())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FromPathVars reads the target organization from the {org_id} path
// variable (or the organization OrgContextMiddleware stored), the target
// user from {user_id}, and type, status and comma-separated fields from the
// query string.
func FromPathVars(r *http.Request) (RequestContext, error) {
	var rc RequestContext
	vars := mux.Vars(r)

	if raw, ok := vars["org_id"]; ok {
		id, err := httputil.ParseID(raw, "org_id")
		if err != nil {
			return rc, err
		}
		rc.TargetOrganizationID = &id
	} else if org := orgs.FromContext(r.Context()); org != nil {
		id := org.ID
		rc.TargetOrganizationID = &id
	}

	if raw, ok := vars["user_id"]; ok {
		id, err := httputil.ParseID(raw, "user_id")
		if err != nil {
			return rc, err
		}
		rc.TargetUserID = &id
	}

	q := r.URL.Query()
	rc.Type = q.Get("type")
	rc.Status = q.Get("status")
	rc.Fields = httputil.SplitList(q.Get("fields"))
	return rc, nil
}
