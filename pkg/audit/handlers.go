package audit

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/httputil"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// Handlers provides HTTP handlers for audit log API. Every query runs
// through the ScopedStore, so callers only ever see their own organizations.
type Handlers struct {
	store   *ScopedStore
	emitter *Emitter
}

// NewHandlers creates new audit handlers
func NewHandlers(store *ScopedStore, emitter *Emitter) *Handlers {
	return &Handlers{
		store:   store,
		emitter: emitter,
	}
}

// RegisterRoutes registers audit log routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.listEvents).Methods("GET")
	router.HandleFunc("/audit/events/{id}", h.getEvent).Methods("GET")
	router.HandleFunc("/audit/export", h.exportEvents).Methods("GET")
	router.HandleFunc("/audit/stats", h.getStats).Methods("GET")
}

// listEvents handles GET /audit/events
func (h *Handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	events, err := h.store.Search(r.Context(), user, filter)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	h.emitter.For(r.Context(), user).LogAccess(AuditLogResource, "", "search", map[string]interface{}{
		"count": len(events),
	})

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// getEvent handles GET /audit/events/{id}
func (h *Handlers) getEvent(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	id, ok := httputil.ParsePathIDOrError(w, r, "id")
	if !ok {
		return
	}

	event, err := h.store.Get(r.Context(), user, id)
	if errors.Is(err, ErrEventNotFound) {
		httputil.WriteNotFoundError(w, "event not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	h.emitter.For(r.Context(), user).LogAccess(AuditLogResource, strconv.FormatInt(id, 10), "get", nil)
	httputil.WriteSuccess(w, event)
}

// exportEvents handles GET /audit/export
func (h *Handlers) exportEvents(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	// exports are not paginated unless asked to be
	if r.URL.Query().Get("limit") == "" {
		filter.Limit = 0
	}

	format := ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = ExportFormatJSON
	}
	if format != ExportFormatJSON && format != ExportFormatCSV && format != ExportFormatNDJSON {
		httputil.WriteBadRequest(w, "unsupported export format")
		return
	}

	data, err := h.store.Export(r.Context(), user, filter, format)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	h.emitter.For(r.Context(), user).LogAccess(AuditLogResource, "", "export", map[string]interface{}{
		"format": string(format),
		"bytes":  len(data),
	})

	switch format {
	case ExportFormatCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.csv")
	case ExportFormatNDJSON:
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.ndjson")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=audit-events.json")
	}

	w.Write(data)
}

// getStats handles GET /audit/stats
func (h *Handlers) getStats(w http.ResponseWriter, r *http.Request) {
	user := auth.UserFromContext(r.Context())
	if user == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	stats, err := h.store.GetStats(r.Context(), user, filter)
	if err != nil {
		httputil.WriteInternalError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, stats)
}

// parseFilter parses search filter from query parameters
func parseFilter(r *http.Request) (SearchFilter, error) {
	query := r.URL.Query()
	filter := SearchFilter{
		Limit:     defaultPageSize,
		SortBy:    query.Get("sort_by"),
		SortOrder: query.Get("sort_order"),
	}

	if s := query.Get("start_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, errors.New("start_time must be RFC3339")
		}
		filter.StartTime = &t
	}

	if s := query.Get("end_time"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return filter, errors.New("end_time must be RFC3339")
		}
		filter.EndTime = &t
	}

	if s := query.Get("user_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return filter, errors.New("user_id must be an integer")
		}
		filter.UserID = &id
	}

	if s := query.Get("organization_ids"); s != "" {
		for _, part := range httputil.SplitList(s) {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return filter, errors.New("organization_ids must be integers")
			}
			filter.OrganizationIDs = append(filter.OrganizationIDs, id)
		}
	}

	for _, et := range httputil.SplitList(query.Get("event_types")) {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}

	for _, lvl := range httputil.SplitList(query.Get("risk_levels")) {
		level := RiskLevel(lvl)
		if !level.Valid() {
			return filter, errors.New("unknown risk level " + lvl)
		}
		filter.RiskLevels = append(filter.RiskLevels, level)
	}

	filter.ResourceType = query.Get("resource_type")
	filter.ResourceID = query.Get("resource_id")
	filter.Action = query.Get("action")
	filter.IPAddress = query.Get("ip_address")

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			return filter, errors.New("limit must be a non-negative integer")
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		filter.Limit = limit
	}

	if s := query.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = offset
	}

	return filter, nil
}

