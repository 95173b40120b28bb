package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

// AuditLogResource is the resource type audit reads are scoped under
const AuditLogResource = "audit_log"

// Store provides methods for querying and managing audit logs
type Store interface {
	// Search searches audit logs based on filters
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)

	// Get retrieves a specific audit event by ID, or ErrEventNotFound
	Get(ctx context.Context, id int64) (*AuditEvent, error)

	// GetStats retrieves statistics over the events matching filter
	GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error)

	// Export exports audit logs in the specified format
	Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error)

	// Cleanup removes audit logs older than the retention period
	Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error)
}

// DBStore implements Store interface using PostgreSQL
type DBStore struct {
	logger   *DBLogger
	archiver Archiver
	now      func() time.Time
}

// StoreOption configures a DBStore
type StoreOption func(*DBStore)

// WithArchiver sets the archive target used by Cleanup
func WithArchiver(a Archiver) StoreOption {
	return func(s *DBStore) {
		s.archiver = a
	}
}

// NewDBStore creates a new database-backed audit store
func NewDBStore(logger *DBLogger, opts ...StoreOption) *DBStore {
	s := &DBStore{
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search searches audit logs based on filters
func (s *DBStore) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	return s.logger.Search(ctx, filter)
}

// Get retrieves a specific audit event by ID
func (s *DBStore) Get(ctx context.Context, id int64) (*AuditEvent, error) {
	return s.logger.Get(ctx, id)
}

// GetStats retrieves audit log statistics
func (s *DBStore) GetStats(ctx context.Context, filter SearchFilter) (*AuditStats, error) {
	return s.logger.GetStats(ctx, filter)
}

// Export exports audit logs in the specified format
func (s *DBStore) Export(ctx context.Context, filter SearchFilter, format ExportFormat) ([]byte, error) {
	events, err := s.logger.Search(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Encode(events, format)
}

// Cleanup removes audit logs older than the retention period. With
// archiving enabled the expiring events are uploaded first, and nothing is
// deleted if the upload fails.
func (s *DBStore) Cleanup(ctx context.Context, policy RetentionPolicy) (int64, error) {
	if policy.RetentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", policy.RetentionDays)
	}

	now := s.now().UTC()
	cutoff := now.AddDate(0, 0, -policy.RetentionDays)

	if policy.ArchiveEnabled {
		if s.archiver == nil {
			return 0, fmt.Errorf("archiving enabled but no archiver configured")
		}
		if err := s.archive(ctx, policy, cutoff, now); err != nil {
			return 0, err
		}
	}

	return s.logger.DeleteBefore(ctx, cutoff)
}

func (s *DBStore) archive(ctx context.Context, policy RetentionPolicy, cutoff, now time.Time) error {
	events, err := s.logger.Search(ctx, SearchFilter{EndTime: &cutoff, SortBy: "id", SortOrder: "asc"})
	if err != nil {
		return fmt.Errorf("failed to load events for archive: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	body, err := exportNDJSON(events)
	if err != nil {
		return err
	}

	key := path.Join(policy.ArchivePrefix, fmt.Sprintf("audit-%s.ndjson", now.Format("20060102T150405Z")))
	contentType := "application/x-ndjson"

	if policy.CompressArchive {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress archive: %w", err)
		}
		body = buf.Bytes()
		key += ".gz"
		contentType = "application/gzip"
	}

	if err := s.archiver.Archive(ctx, key, body, contentType); err != nil {
		return fmt.Errorf("archive failed, retaining events: %w", err)
	}
	return nil
}

// OrgScoper resolves the organizations a user may see
type OrgScoper interface {
	AccessibleOrganizationIDs(ctx context.Context, user *auth.UserDescriptor, resourceType string) orgs.IDSet
}

// ScopedStore is the read side handed to callers. Non-super-admins only see
// events attributed to organizations they can access; events without an
// organization are visible to super_admin only.
type ScopedStore struct {
	store  Store
	scoper OrgScoper
}

// NewScopedStore creates a new ScopedStore
func NewScopedStore(store Store, scoper OrgScoper) *ScopedStore {
	return &ScopedStore{store: store, scoper: scoper}
}

// scope narrows filter to user's accessible organizations
func (s *ScopedStore) scope(ctx context.Context, user *auth.UserDescriptor, filter SearchFilter) (SearchFilter, error) {
	if user == nil {
		return filter, ErrNoUser
	}
	if user.IsSuperAdmin() {
		return filter, nil
	}

	accessible := s.scoper.AccessibleOrganizationIDs(ctx, user, AuditLogResource)
	if filter.OrganizationIDs != nil {
		accessible = accessible.Intersect(orgs.NewIDSet(filter.OrganizationIDs...))
	}
	filter.OrganizationIDs = accessible.Slice()
	return filter, nil
}

// Search returns the events matching filter that user may see
func (s *ScopedStore) Search(ctx context.Context, user *auth.UserDescriptor, filter SearchFilter) ([]*AuditEvent, error) {
	filter, err := s.scope(ctx, user, filter)
	if err != nil {
		return nil, err
	}
	return s.store.Search(ctx, filter)
}

// Get returns the event, or ErrEventNotFound when it is out of user's scope
func (s *ScopedStore) Get(ctx context.Context, user *auth.UserDescriptor, id int64) (*AuditEvent, error) {
	if user == nil {
		return nil, ErrNoUser
	}

	event, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.IsSuperAdmin() {
		return event, nil
	}

	if event.OrganizationID == nil {
		return nil, ErrEventNotFound
	}
	if !s.scoper.AccessibleOrganizationIDs(ctx, user, AuditLogResource).Contains(*event.OrganizationID) {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// GetStats aggregates over the events user may see
func (s *ScopedStore) GetStats(ctx context.Context, user *auth.UserDescriptor, filter SearchFilter) (*AuditStats, error) {
	filter, err := s.scope(ctx, user, filter)
	if err != nil {
		return nil, err
	}
	return s.store.GetStats(ctx, filter)
}

// Export encodes the events user may see
func (s *ScopedStore) Export(ctx context.Context, user *auth.UserDescriptor, filter SearchFilter, format ExportFormat) ([]byte, error) {
	filter, err := s.scope(ctx, user, filter)
	if err != nil {
		return nil, err
	}
	return s.store.Export(ctx, filter, format)
}
