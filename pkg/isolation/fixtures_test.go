package isolation

import (
	"context"
	"sync"
	"testing"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func parent(id int64) *int64 { return &id }

// fleet returns a directory with two customers, their suppliers, the
// distributor and BossAqua:
//
//	1 Oraseas EE (distributor)
//	  9 Tooling Co (supplier, active)
//	2 BossAqua
//	3 Customer A
//	  4 Supplier A1 (active)
//	  5 Supplier A2 (inactive)
//	  6 Supplier A3 (active)
//	7 Customer B
//	  8 Supplier B1 (active)
func fleet() *orgs.MemoryDirectory {
	return orgs.NewMemoryDirectory(
		&orgs.Organization{ID: 1, Name: "Oraseas EE", Type: orgs.TypeDistributor, IsActive: true},
		&orgs.Organization{ID: 2, Name: "BossAqua", Type: orgs.TypeBossAqua, IsActive: true},
		&orgs.Organization{ID: 3, Name: "Customer A", Type: orgs.TypeCustomer, IsActive: true},
		&orgs.Organization{ID: 4, Name: "Supplier A1", Type: orgs.TypeSupplier, ParentOrganizationID: parent(3), IsActive: true},
		&orgs.Organization{ID: 5, Name: "Supplier A2", Type: orgs.TypeSupplier, ParentOrganizationID: parent(3), IsActive: false},
		&orgs.Organization{ID: 6, Name: "Supplier A3", Type: orgs.TypeSupplier, ParentOrganizationID: parent(3), IsActive: true},
		&orgs.Organization{ID: 7, Name: "Customer B", Type: orgs.TypeCustomer, IsActive: true},
		&orgs.Organization{ID: 8, Name: "Supplier B1", Type: orgs.TypeSupplier, ParentOrganizationID: parent(7), IsActive: true},
		&orgs.Organization{ID: 9, Name: "Tooling Co", Type: orgs.TypeSupplier, ParentOrganizationID: parent(1), IsActive: true},
	)
}

var (
	superAdmin = &auth.UserDescriptor{ID: 1, Username: "root", Role: auth.RoleSuperAdmin, OrganizationID: 1}
	adminA     = &auth.UserDescriptor{ID: 10, Username: "anna", Role: auth.RoleAdmin, OrganizationID: 3}
	userA      = &auth.UserDescriptor{ID: 11, Username: "arno", Role: auth.RoleUser, OrganizationID: 3}
	adminB     = &auth.UserDescriptor{ID: 20, Username: "bea", Role: auth.RoleAdmin, OrganizationID: 7}
	bossAdmin  = &auth.UserDescriptor{ID: 30, Username: "boris", Role: auth.RoleAdmin, OrganizationID: 2}
	distAdmin  = &auth.UserDescriptor{ID: 40, Username: "dora", Role: auth.RoleAdmin, OrganizationID: 1}
)

// recordingSink keeps every event it is given
type recordingSink struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (s *recordingSink) Log(ctx context.Context, event *audit.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) Events() []*audit.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.AuditEvent(nil), s.events...)
}

func (s *recordingSink) OfType(t audit.EventType) []*audit.AuditEvent {
	var out []*audit.AuditEvent
	for _, e := range s.Events() {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestResolver(t *testing.T, opts ...Option) (*Resolver, *orgs.MemoryDirectory, *recordingSink) {
	t.Helper()
	dir := fleet()
	sink := &recordingSink{}
	opts = append([]Option{WithEmitter(audit.NewEmitter(sink))}, opts...)
	return NewResolver(dir, opts...), dir, sink
}
