package hub

import (
	"github.com/samskara-labs/chitragupta"
)

// RegionWatcher observes writes to a shared region.
type RegionWatcher func(key string, value any, version int64)

// region is a named shared-memory area with a monotone version counter.
type region struct {
	name     string
	owner    string
	access   map[string]bool // empty means open access
	data     map[string]any
	version  int64
	watchers map[string]RegionWatcher
}

func (r *region) allows(agent string) bool {
	if agent == r.owner || len(r.access) == 0 {
		return true
	}
	return r.access[agent]
}

// CreateRegion allocates a shared memory region. An empty access list means
// any agent may read and write; the owner is always allowed.
func (h *Hub) CreateRegion(name, owner string, accessList []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	if _, ok := h.regions[name]; ok {
		return ErrRegionExists
	}
	access := make(map[string]bool, len(accessList))
	for _, a := range accessList {
		access[a] = true
	}
	h.regions[name] = &region{
		name:     name,
		owner:    owner,
		access:   access,
		data:     make(map[string]any),
		watchers: make(map[string]RegionWatcher),
	}
	return nil
}

// WriteRegion sets a key and returns the region's new version. Every write
// bumps the version exactly once and notifies all watchers.
func (h *Hub) WriteRegion(name, agent, key string, value any) (int64, error) {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return 0, ErrHubDestroyed
	}
	r, ok := h.regions[name]
	if !ok {
		h.mu.Unlock()
		return 0, ErrRegionNotFound
	}
	if !r.allows(agent) {
		h.mu.Unlock()
		return 0, ErrRegionDenied
	}
	r.version++
	version := r.version
	r.data[key] = value
	watchers := make([]RegionWatcher, 0, len(r.watchers))
	for _, w := range r.watchers {
		watchers = append(watchers, w)
	}
	h.mu.Unlock()

	for _, w := range watchers {
		w(key, value, version)
	}
	return version, nil
}

// ReadRegion returns the value stored under key, reporting presence.
func (h *Hub) ReadRegion(name, agent, key string) (any, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, false, ErrHubDestroyed
	}
	r, ok := h.regions[name]
	if !ok {
		return nil, false, ErrRegionNotFound
	}
	if !r.allows(agent) {
		return nil, false, ErrRegionDenied
	}
	v, present := r.data[key]
	return v, present, nil
}

// RegionVersion reports the region's current version counter.
func (h *Hub) RegionVersion(name string) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return 0, ErrHubDestroyed
	}
	r, ok := h.regions[name]
	if !ok {
		return 0, ErrRegionNotFound
	}
	return r.version, nil
}

// WatchRegion registers a watcher for every subsequent write and returns
// an unwatch function.
func (h *Hub) WatchRegion(name string, w RegionWatcher) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return nil, ErrHubDestroyed
	}
	r, ok := h.regions[name]
	if !ok {
		return nil, ErrRegionNotFound
	}
	id := chitragupta.NewID()
	r.watchers[id] = w
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if reg, ok := h.regions[name]; ok {
			delete(reg.watchers, id)
		}
	}, nil
}

// DeleteRegion removes a region. Only the owner may delete.
func (h *Hub) DeleteRegion(name, agent string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.destroyed {
		return ErrHubDestroyed
	}
	r, ok := h.regions[name]
	if !ok {
		return ErrRegionNotFound
	}
	if r.owner != agent {
		return ErrRegionDenied
	}
	delete(h.regions, name)
	return nil
}
