package orgs

import (
	"context"
	"sort"
	"sync"
)

// MemoryDirectory is an in-process Directory. It counts lookups so callers can
// observe how often the directory was consulted.
type MemoryDirectory struct {
	mu       sync.RWMutex
	orgs     map[int64]*Organization
	failWith error

	getCalls  int
	listCalls int
}

// NewMemoryDirectory creates a directory seeded with organizations
func NewMemoryDirectory(seed ...*Organization) *MemoryDirectory {
	d := &MemoryDirectory{orgs: make(map[int64]*Organization)}
	for _, org := range seed {
		d.Put(org)
	}
	return d
}

// Put stores a copy of org
func (d *MemoryDirectory) Put(org *Organization) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *org
	d.orgs[org.ID] = &cp
}

// FailWith makes every subsequent lookup return err. Pass nil to recover.
func (d *MemoryDirectory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

// Calls returns the number of GetOrganization and ListOrganizations calls
func (d *MemoryDirectory) Calls() (get, list int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.getCalls, d.listCalls
}

// TotalCalls returns the combined number of lookups
func (d *MemoryDirectory) TotalCalls() int {
	get, list := d.Calls()
	return get + list
}

// GetOrganization implements Directory
func (d *MemoryDirectory) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getCalls++

	if d.failWith != nil {
		return nil, d.failWith
	}
	org, ok := d.orgs[id]
	if !ok {
		return nil, ErrOrganizationNotFound
	}
	cp := *org
	return &cp, nil
}

// ListOrganizations implements Directory
func (d *MemoryDirectory) ListOrganizations(ctx context.Context, filter ListFilter) ([]*Organization, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listCalls++

	if d.failWith != nil {
		return nil, d.failWith
	}

	var out []*Organization
	for _, org := range d.orgs {
		if filter.Type != nil && org.Type != *filter.Type {
			continue
		}
		if filter.ParentID != nil && !org.HasParent(*filter.ParentID) {
			continue
		}
		if filter.IsActive != nil && org.IsActive != *filter.IsActive {
			continue
		}
		cp := *org
		out = append(out, &cp)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
