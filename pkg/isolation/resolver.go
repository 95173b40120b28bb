package isolation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/fleetauthz/pkg/audit"
	"github.com/platinummonkey/fleetauthz/pkg/auth"
	"github.com/platinummonkey/fleetauthz/pkg/observability"
	"github.com/platinummonkey/fleetauthz/pkg/orgs"
)

var tracer = otel.Tracer("github.com/platinummonkey/fleetauthz/pkg/isolation")

// ErrResolution wraps any failure to compute an accessible-organization set
var ErrResolution = errors.New("isolation resolution failed")

// Resolver computes which organizations a user may see and caches the
// answer per (user, resource type).
type Resolver struct {
	directory orgs.Directory
	cache     Cache
	emitter   *audit.Emitter
	logger    *observability.Logger
	metrics   *observability.Metrics
	group     singleflight.Group

	// generation advances on every clear. A lookup started under an older
	// generation returns its result without caching it.
	mu         sync.RWMutex
	generation uint64
}

// Option configures a Resolver
type Option func(*Resolver)

// WithCache replaces the default local LRU cache
func WithCache(c Cache) Option {
	return func(r *Resolver) {
		if c != nil {
			r.cache = c
		}
	}
}

// WithEmitter sets where security events are written
func WithEmitter(e *audit.Emitter) Option {
	return func(r *Resolver) {
		r.emitter = e
	}
}

// WithLogger sets the process logger
func WithLogger(l *observability.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver creates a resolver over directory
func NewResolver(directory orgs.Directory, opts ...Option) *Resolver {
	r := &Resolver{
		directory: directory,
		cache:     NewLRUCache(DefaultCacheSize, DefaultCacheTTL),
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Directory returns the organization directory the resolver reads
func (r *Resolver) Directory() orgs.Directory {
	return r.directory
}

// AccessibleOrganizationIDs returns the organizations user may see for
// resourceType. super_admin sees every active organization. Everyone else
// sees their own organization plus its active suppliers, never a BossAqua
// organization.
//
// Resolution failures are not returned. The caller gets the user's own
// organization and the failure is logged and audited at medium severity.
func (r *Resolver) AccessibleOrganizationIDs(ctx context.Context, user *auth.UserDescriptor, resourceType string) orgs.IDSet {
	if user == nil {
		return orgs.NewIDSet()
	}

	key := CacheKey{UserID: user.ID, ResourceType: resourceType}
	ids, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.WithError(err).WithField("backend", r.cache.Backend()).Warn("isolation cache read failed")
	}
	if ok {
		r.metrics.ObserveCacheLookup(r.cache.Backend(), true)
		return ids
	}
	r.metrics.ObserveCacheLookup(r.cache.Backend(), false)

	// Concurrent misses for the same key share one directory round trip.
	// The generation is part of the flight key so callers arriving after a
	// clear never join a lookup that started before it.
	gen := r.currentGeneration()
	flightKey := strconv.FormatUint(gen, 10) + ":" + strconv.FormatInt(user.ID, 10) + ":" + resourceType
	// The lookup is shared, so one caller's cancellation must not fail it
	// for the rest.
	v, err, _ := r.group.Do(flightKey, func() (interface{}, error) {
		shared := context.WithoutCancel(ctx)
		resolved, err := r.resolve(shared, user, resourceType)
		if err != nil {
			return nil, err
		}
		r.store(shared, gen, key, resolved)
		return resolved, nil
	})
	if err != nil {
		return r.fallback(ctx, user, resourceType, err)
	}
	return v.(orgs.IDSet).Clone()
}

func (r *Resolver) currentGeneration() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// store caches ids unless a clear happened after the lookup began
func (r *Resolver) store(ctx context.Context, gen uint64, key CacheKey, ids orgs.IDSet) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.generation != gen {
		return
	}
	if err := r.cache.Set(ctx, key, ids); err != nil {
		r.logger.WithError(err).WithField("backend", r.cache.Backend()).Warn("isolation cache write failed")
	}
}

func (r *Resolver) resolve(ctx context.Context, user *auth.UserDescriptor, resourceType string) (ids orgs.IDSet, err error) {
	ctx, span := tracer.Start(ctx, "isolation.resolve", trace.WithAttributes(
		attribute.Int64("user.id", user.ID),
		attribute.String("user.role", string(user.Role)),
		attribute.String("resource.type", resourceType),
	))
	start := time.Now()
	defer func() {
		r.metrics.ObserveResolve(time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("organizations.count", ids.Len()))
		}
		span.End()
	}()

	active := true
	if user.IsSuperAdmin() {
		all, err := r.directory.ListOrganizations(ctx, orgs.ListFilter{IsActive: &active})
		if err != nil {
			return nil, fmt.Errorf("%w: list organizations: %v", ErrResolution, err)
		}
		ids = orgs.NewIDSet()
		for _, org := range all {
			ids.Add(org.ID)
		}
		return ids, nil
	}

	own, err := r.directory.GetOrganization(ctx, user.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("%w: organization %d: %v", ErrResolution, user.OrganizationID, err)
	}

	ids = orgs.NewIDSet()
	if !own.IsBossAqua() {
		ids.Add(own.ID)
	}

	supplier := orgs.TypeSupplier
	suppliers, err := r.directory.ListOrganizations(ctx, orgs.ListFilter{
		Type:     &supplier,
		ParentID: &own.ID,
		IsActive: &active,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: suppliers of %d: %v", ErrResolution, own.ID, err)
	}
	for _, org := range suppliers {
		if !org.IsBossAqua() {
			ids.Add(org.ID)
		}
	}
	return ids, nil
}

// fallback is never cached, so the next call retries the directory.
func (r *Resolver) fallback(ctx context.Context, user *auth.UserDescriptor, resourceType string, cause error) orgs.IDSet {
	r.metrics.ObserveFallback()
	r.logger.WithError(cause).WithFields(map[string]interface{}{
		"severity":        "medium",
		"user_id":         user.ID,
		"organization_id": user.OrganizationID,
		"resource_type":   resourceType,
	}).Warn("isolation resolution failed, falling back to own organization")

	r.emitter.For(ctx, user).LogSecurityEvent(
		audit.EventIsolationFallback,
		audit.RiskMedium,
		"accessible organizations could not be resolved, restricted to own organization",
		map[string]interface{}{
			"resource_type": resourceType,
			"error":         cause.Error(),
		},
	)

	return orgs.NewIDSet(user.OrganizationID)
}

// ClearCache drops cached resolutions for one user, or for everyone when
// userID is nil.
func (r *Resolver) ClearCache(ctx context.Context, userID *int64) error {
	r.mu.Lock()
	r.generation++
	err := r.cache.Clear(ctx, userID)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear isolation cache: %w", err)
	}
	if userID == nil {
		r.logger.Info("isolation cache cleared")
	} else {
		r.logger.WithField("user_id", *userID).Info("isolation cache cleared for user")
	}
	return nil
}

// OrganizationChanged invalidates every cached resolution. A hierarchy
// change can move suppliers between parents, so per-user invalidation is
// not enough. It matches orgs.ChangeHook.
func (r *Resolver) OrganizationChanged(ctx context.Context, orgID int64) {
	if err := r.ClearCache(ctx, nil); err != nil {
		r.logger.WithError(err).WithField("organization_id", orgID).Error("failed to invalidate isolation cache after organization change")
	}
}
