package audit

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventLoginSuccess EventType = "auth.login_success"
	EventLoginFailed  EventType = "auth.login_failed"

	// Authorization decisions
	EventPermissionGranted EventType = "authz.permission_granted"
	EventPermissionDenied  EventType = "authz.permission_denied"

	// Data events
	EventDataAccess       EventType = "data.access"
	EventDataModification EventType = "data.modification"
	EventDataDeletion     EventType = "data.deletion"

	// Security events
	EventCrossOrgAccess        EventType = "security.cross_org_access"
	EventOrgBoundaryViolation  EventType = "security.org_boundary_violation"
	EventSupplierAccessDenied  EventType = "security.supplier_access_denied"
	EventBossAquaAccessAttempt EventType = "security.bossaqua_access_attempt"
	EventAccountLocked         EventType = "security.account_locked"
	EventRateLimitExceeded     EventType = "security.rate_limit_exceeded"
	EventSecurityViolation     EventType = "security.violation"
	EventIsolationFallback     EventType = "security.isolation_fallback"
)

// RiskLevel is the severity assigned by the component emitting an event
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid reports whether r is a known risk level
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	}
	return false
}

var (
	// ErrEventNotFound is returned when an event id does not resolve or is out of scope
	ErrEventNotFound = errors.New("audit event not found")

	// ErrNoUser is returned by the scoped read side when no caller is known
	ErrNoUser = errors.New("audit query requires an authenticated user")
)

// AuditEvent represents a single audit log entry. Events are append-only.
type AuditEvent struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	EventType EventType `json:"event_type"`
	RiskLevel RiskLevel `json:"risk_level"`

	// Actor information. UserID is nil for pre-auth events.
	UserID         *int64 `json:"user_id,omitempty"`
	Username       string `json:"username,omitempty"`
	OrganizationID *int64 `json:"organization_id,omitempty"`

	// Resource information
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`

	Description string                 `json:"description,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Changes     *ChangeDetails         `json:"changes,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	Method    string `json:"method,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an audit event from JSON
func FromJSON(data []byte) (*AuditEvent, error) {
	var event AuditEvent
	err := json.Unmarshal(data, &event)
	return &event, err
}

// SearchFilter represents filters for searching audit logs.
//
// OrganizationIDs distinguishes nil (no organization filter) from an empty
// slice (matches nothing). Events without an organization never match a
// non-nil OrganizationIDs.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	UserID          *int64
	OrganizationIDs []int64

	EventTypes []EventType
	RiskLevels []RiskLevel

	ResourceType string
	ResourceID   string
	Action       string
	IPAddress    string

	Limit  int
	Offset int

	SortBy    string // one of the sortable columns, defaults to timestamp
	SortOrder string // "asc" or "desc"
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// AuditStats represents statistics about audit logs
type AuditStats struct {
	TotalEvents          int64               `json:"total_events"`
	EventsByType         map[EventType]int64 `json:"events_by_type"`
	EventsByRiskLevel    map[RiskLevel]int64 `json:"events_by_risk_level"`
	EventsByOrganization map[int64]int64     `json:"events_by_organization"`
	UniqueUsers          int64               `json:"unique_users"`
	UniqueIPs            int64               `json:"unique_ips"`
	FailedLogins         int64               `json:"failed_logins"`
	PermissionDenials    int64               `json:"permission_denials"`
	HighRiskEvents       int64               `json:"high_risk_events"`
	TimeRange            *TimeRange          `json:"time_range,omitempty"`
}

// TimeRange represents a time range for statistics
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RetentionPolicy defines how long audit logs should be kept
type RetentionPolicy struct {
	// RetentionDays is the number of days to keep audit logs
	RetentionDays int

	// ArchiveEnabled exports expiring events to the archiver before they are deleted
	ArchiveEnabled bool

	// ArchivePrefix is the object key prefix for archives
	ArchivePrefix string

	// CompressArchive gzips the NDJSON archive
	CompressArchive bool
}

// DefaultRetentionPolicy returns a default retention policy (90 days, no archive)
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays:   90,
		ArchivePrefix:   "audit-archive",
		CompressArchive: true,
	}
}
