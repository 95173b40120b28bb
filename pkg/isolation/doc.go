// Package isolation decides which organizations a user may see and act on.
//
// The Resolver computes accessible-organization sets from an orgs.Directory:
//
//   - super_admin sees every active organization
//   - everyone else sees their own organization plus its active suppliers
//   - BossAqua organizations are only ever visible to super_admin
//
// Sets are cached per (user, resource type) in a Cache: LRUCache for a single
// replica, RedisCache when replicas share invalidation. A failed resolution
// falls back to the user's own organization and is not cached.
//
//	resolver := isolation.NewResolver(directory,
//		isolation.WithCache(isolation.NewRedisCache(client, cfg.Isolation.CacheTTL)),
//		isolation.WithEmitter(emitter),
//	)
//	directory.OnChange(resolver.OrganizationChanged)
//
// CrossOrgValidator checks operations that span two organizations against a
// fixed list of OperationProfiles. Anything not declared is denied.
package isolation
