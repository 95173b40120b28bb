package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/isolation"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func int64p(v int64) *int64 { return &v }

// fleet seeds:
//
//	1 Oraseas EE (distributor)
//	2 BossAqua
//	3 Customer C1
//	  4 Supplier S1
//	7 Customer C2
func fleet() *orgs.MemoryDirectory {
	return orgs.NewMemoryDirectory(
		&orgs.Organization{ID: 1, Name: "Oraseas EE", Type: orgs.TypeDistributor, IsActive: true},
		&orgs.Organization{ID: 2, Name: "BossAqua", Type: orgs.TypeBossAqua, IsActive: true},
		&orgs.Organization{ID: 3, Name: "Customer C1", Type: orgs.TypeCustomer, IsActive: true},
		&orgs.Organization{ID: 4, Name: "Supplier S1", Type: orgs.TypeSupplier, ParentOrganizationID: int64p(3), IsActive: true},
		&orgs.Organization{ID: 7, Name: "Customer C2", Type: orgs.TypeCustomer, IsActive: true},
	)
}

var (
	superAdmin = &auth.UserDescriptor{ID: 1, Username: "root", Role: auth.RoleSuperAdmin, OrganizationID: 1}
	adminC1    = &auth.UserDescriptor{ID: 10, Username: "anna", Role: auth.RoleAdmin, OrganizationID: 3}
	userC1     = &auth.UserDescriptor{ID: 11, Username: "arno", Role: auth.RoleUser, OrganizationID: 3}
)

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

func (s *recordingSink) OfType(t audit.EventType) []*audit.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.AuditEvent
	for _, e := range s.events {
		if e.EventType == t {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	resolver *isolation.Resolver
	dir      *orgs.MemoryDirectory
	sink     *recordingSink
	emitter  *audit.Emitter
}

func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()
	matrix, err := NewDefaultMatrix()
	if err != nil {
		t.Fatalf("default matrix: %v", err)
	}
	return newTestEnvWithMatrix(t, matrix, opts...)
}

func newTestEnvWithMatrix(t *testing.T, matrix *Matrix, opts ...EngineOption) *testEnv {
	t.Helper()
	sink := &recordingSink{}
	emitter := audit.NewEmitter(sink)
	dir := fleet()
	resolver := isolation.NewResolver(dir, isolation.WithEmitter(emitter))
	opts = append([]EngineOption{WithAuditEmitter(emitter)}, opts...)
	return &testEnv{
		engine:   NewEngine(matrix, resolver, opts...),
		resolver: resolver,
		dir:      dir,
		sink:     sink,
		emitter:  emitter,
	}
}
