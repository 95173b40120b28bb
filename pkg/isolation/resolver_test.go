package isolation

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

func TestAccessibleOrganizationIDs_SuperAdminSeesAllActive(t *testing.T) {
	r, _, _ := newTestResolver(t)

	ids := r.AccessibleOrganizationIDs(context.Background(), superAdmin, "warehouse")
	assert.Equal(t, []int64{1, 2, 3, 4, 6, 7, 8, 9}, ids.Slice())
}

func TestAccessibleOrganizationIDs_OwnAndActiveSuppliers(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())
	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(ctx, userA, "warehouse").Slice())
	assert.Equal(t, []int64{7, 8}, r.AccessibleOrganizationIDs(ctx, adminB, "warehouse").Slice())
	assert.Equal(t, []int64{1, 9}, r.AccessibleOrganizationIDs(ctx, distAdmin, "warehouse").Slice())
}

func TestAccessibleOrganizationIDs_Soundness(t *testing.T) {
	r, dir, _ := newTestResolver(t)
	ctx := context.Background()

	for _, user := range []*auth.UserDescriptor{adminA, userA, adminB, bossAdmin, distAdmin} {
		for _, id := range r.AccessibleOrganizationIDs(ctx, user, "part").Slice() {
			org, err := dir.GetOrganization(ctx, id)
			require.NoError(t, err)

			assert.False(t, org.IsBossAqua(), "user %d sees BossAqua org %d", user.ID, id)
			if id == user.OrganizationID {
				continue
			}
			assert.True(t, org.IsSupplier() && org.HasParent(user.OrganizationID) && org.IsActive,
				"user %d sees org %d which is neither own nor an active supplier", user.ID, id)
		}
	}
}

func TestAccessibleOrganizationIDs_BossAquaExclusive(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	// even members of BossAqua do not see it unless they are super_admin
	assert.Empty(t, r.AccessibleOrganizationIDs(ctx, bossAdmin, "machine").Slice())
	assert.True(t, r.AccessibleOrganizationIDs(ctx, superAdmin, "machine").Contains(2))
}

func TestAccessibleOrganizationIDs_NilUser(t *testing.T) {
	r, dir, _ := newTestResolver(t)

	assert.Equal(t, 0, r.AccessibleOrganizationIDs(context.Background(), nil, "part").Len())
	assert.Equal(t, 0, dir.TotalCalls())
}

func TestAccessibleOrganizationIDs_CacheHitSkipsDirectory(t *testing.T) {
	r, dir, _ := newTestResolver(t)
	ctx := context.Background()

	first := r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	calls := dir.TotalCalls()
	require.Greater(t, calls, 0)

	second := r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	assert.Equal(t, first.Slice(), second.Slice())
	assert.Equal(t, calls, dir.TotalCalls(), "cache hit must not query the directory")

	// resource type is part of the key
	r.AccessibleOrganizationIDs(ctx, adminA, "machine")
	assert.Greater(t, dir.TotalCalls(), calls)
	calls = dir.TotalCalls()

	require.NoError(t, r.ClearCache(ctx, &adminA.ID))
	r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	assert.Greater(t, dir.TotalCalls(), calls, "cleared entry must be re-queried")
}

func TestAccessibleOrganizationIDs_ClearOneUserKeepsOthers(t *testing.T) {
	r, dir, _ := newTestResolver(t)
	ctx := context.Background()

	r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	r.AccessibleOrganizationIDs(ctx, adminB, "warehouse")
	require.NoError(t, r.ClearCache(ctx, &adminA.ID))

	calls := dir.TotalCalls()
	r.AccessibleOrganizationIDs(ctx, adminB, "warehouse")
	assert.Equal(t, calls, dir.TotalCalls())
}

func TestAccessibleOrganizationIDs_ReturnedSetIsIndependent(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	ids := r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	ids.Add(7)

	assert.False(t, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Contains(7))
}

func TestAccessibleOrganizationIDs_FallbackNotCached(t *testing.T) {
	r, dir, sink := newTestResolver(t)
	ctx := context.Background()

	dir.FailWith(errors.New("connection reset"))
	ids := r.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	assert.Equal(t, []int64{3}, ids.Slice(), "fallback is the user's own organization")

	events := sink.OfType(audit.EventIsolationFallback)
	require.Len(t, events, 1)
	assert.Equal(t, audit.RiskMedium, events[0].RiskLevel)
	assert.Equal(t, "warehouse", events[0].Details["resource_type"])

	dir.FailWith(nil)
	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())
}

func TestAccessibleOrganizationIDs_MissingOwnOrganizationFallsBack(t *testing.T) {
	r, _, _ := newTestResolver(t)

	orphan := &auth.UserDescriptor{ID: 99, Username: "ghost", Role: auth.RoleUser, OrganizationID: 404}
	assert.Equal(t, []int64{404}, r.AccessibleOrganizationIDs(context.Background(), orphan, "part").Slice())
}

func TestAccessibleOrganizationIDs_Concurrent(t *testing.T) {
	r, _, _ := newTestResolver(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := adminA
			if i%2 == 0 {
				user = adminB
			}
			ids := r.AccessibleOrganizationIDs(ctx, user, "warehouse")
			assert.True(t, ids.Contains(user.OrganizationID))
			if i%10 == 0 {
				assert.NoError(t, r.ClearCache(ctx, nil))
			}
		}(i)
	}
	wg.Wait()
}

func TestOrganizationChanged_ClearsEverything(t *testing.T) {
	r, dir, _ := newTestResolver(t)
	ctx := context.Background()

	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())

	// supplier 8 moves from Customer B to Customer A
	dir.Put(&orgs.Organization{ID: 8, Name: "Supplier B1", Type: orgs.TypeSupplier, ParentOrganizationID: parent(3), IsActive: true})
	r.OrganizationChanged(ctx, 8)

	assert.Equal(t, []int64{3, 4, 6, 8}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())
	assert.Equal(t, []int64{7}, r.AccessibleOrganizationIDs(ctx, adminB, "warehouse").Slice())
}

// blockingDirectory holds the first ListOrganizations call, after it has
// read the directory, until release is closed.
type blockingDirectory struct {
	orgs.Directory
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func newBlockingDirectory(dir orgs.Directory) *blockingDirectory {
	return &blockingDirectory{Directory: dir, started: make(chan struct{}), release: make(chan struct{})}
}

func (d *blockingDirectory) ListOrganizations(ctx context.Context, filter orgs.ListFilter) ([]*orgs.Organization, error) {
	out, err := d.Directory.ListOrganizations(ctx, filter)
	d.once.Do(func() {
		close(d.started)
		<-d.release
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return out, err
}

func TestAccessibleOrganizationIDs_ClearDuringLookupNotCached(t *testing.T) {
	dir := fleet()
	blocking := newBlockingDirectory(dir)
	r := NewResolver(blocking)
	ctx := context.Background()

	done := make(chan orgs.IDSet, 1)
	go func() { done <- r.AccessibleOrganizationIDs(ctx, adminA, "warehouse") }()
	<-blocking.started

	// supplier 4 is deactivated while the lookup holds the old answer
	dir.Put(&orgs.Organization{ID: 4, Name: "Supplier A1", Type: orgs.TypeSupplier, ParentOrganizationID: parent(3), IsActive: false})
	r.OrganizationChanged(ctx, 4)
	close(blocking.release)

	assert.True(t, (<-done).Contains(4), "the caller that started the lookup keeps its answer")
	assert.Equal(t, []int64{3, 6}, r.AccessibleOrganizationIDs(ctx, adminA, "warehouse").Slice())
}

func TestAccessibleOrganizationIDs_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	dir := fleet()
	blocking := newBlockingDirectory(dir)
	sink := &recordingSink{}
	r := NewResolver(blocking, WithEmitter(audit.NewEmitter(sink)))

	leaderCtx, cancel := context.WithCancel(context.Background())
	done := make(chan orgs.IDSet, 1)
	go func() { done <- r.AccessibleOrganizationIDs(leaderCtx, adminA, "warehouse") }()
	<-blocking.started

	cancel()
	close(blocking.release)

	assert.Equal(t, []int64{3, 4, 6}, (<-done).Slice())
	assert.Empty(t, sink.OfType(audit.EventIsolationFallback))

	calls := dir.TotalCalls()
	assert.Equal(t, []int64{3, 4, 6}, r.AccessibleOrganizationIDs(context.Background(), adminA, "warehouse").Slice())
	assert.Equal(t, calls, dir.TotalCalls(), "the shared result was cached")
}

func TestResolver_WithSharedCache(t *testing.T) {
	shared := NewLRUCache(10, DefaultCacheTTL)
	dir := fleet()
	first := NewResolver(dir, WithCache(shared))
	second := NewResolver(dir, WithCache(shared))
	ctx := context.Background()

	first.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	calls := dir.TotalCalls()
	second.AccessibleOrganizationIDs(ctx, adminA, "warehouse")
	assert.Equal(t, calls, dir.TotalCalls())
}
