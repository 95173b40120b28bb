package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fleetauthz/pkg/httputil"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// OrgContextMiddleware resolves the {org_id} path variable against the
// directory and stores the organization in the request context. Routes
// without {org_id} pass through unchanged.
func OrgContextMiddleware(directory orgs.Directory) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			orgIDStr, ok := mux.Vars(r)["org_id"]
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			orgID, err := httputil.ParseID(orgIDStr, "organization id")
			if err != nil {
				httputil.WriteBadRequest(w, err.Error())
				return
			}

			org, err := directory.GetOrganization(r.Context(), orgID)
			if errors.Is(err, orgs.ErrOrganizationNotFound) {
				httputil.WriteNotFoundError(w, "organization not found")
				return
			}
			if err != nil {
				httputil.WriteInternalError(w, r, fmt.Errorf("organization lookup failed: %w", err))
				return
			}

			next.ServeHTTP(w, r.WithContext(orgs.WithOrganization(r.Context(), org)))
		})
	}
}
