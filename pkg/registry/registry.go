// Package registry tracks which rendering surfaces currently display which volumes.
// A Registry is owned by a rendering session; there is no package-level instance.
package registry

import (
	"sort"
	"sync"
)

// Binding identifies one surface, and the display group it renders in,
// that is showing a volume.
type Binding struct {
	SurfaceID string
	GroupID   string
}

// VolumeBinding is a (volume, surface, group) triple as reported by a
// rendering engine during a resync.
type VolumeBinding struct {
	VolumeID  string
	SurfaceID string
	GroupID   string
}

// BindingLister is implemented by rendering layers that can enumerate
// everything they currently display.
type BindingLister interface {
	ListVolumeBindings() []VolumeBinding
}

// Registry maps a volume id to the set of surfaces displaying it.
// Sets are never left empty: removing the last binding drops the entry.
type Registry struct {
	mu      sync.RWMutex
	volumes map[string]map[Binding]struct{}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{volumes: make(map[string]map[Binding]struct{})}
}

// Register records that surfaceID in groupID displays volumeID.
// Registering the same triple twice has no further effect.
func (r *Registry) Register(volumeID, surfaceID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.volumes[volumeID]
	if !ok {
		set = make(map[Binding]struct{})
		r.volumes[volumeID] = set
	}
	set[Binding{SurfaceID: surfaceID, GroupID: groupID}] = struct{}{}
}

// Unregister removes a binding. Unknown triples are ignored.
func (r *Registry) Unregister(volumeID, surfaceID, groupID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.volumes[volumeID]
	if !ok {
		return
	}
	delete(set, Binding{SurfaceID: surfaceID, GroupID: groupID})
	if len(set) == 0 {
		delete(r.volumes, volumeID)
	}
}

// UnregisterSurface removes a destroyed surface from every volume
func (r *Registry) UnregisterSurface(surfaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for volumeID, set := range r.volumes {
		for b := range set {
			if b.SurfaceID == surfaceID {
				delete(set, b)
			}
		}
		if len(set) == 0 {
			delete(r.volumes, volumeID)
		}
	}
}

// DropVolume forgets every binding of an evicted volume
func (r *Registry) DropVolume(volumeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.volumes, volumeID)
}

// SurfacesFor returns a copy of the bindings of volumeID. The result is
// empty, never an error, for volumes nobody displays. Order is unspecified.
func (r *Registry) SurfacesFor(volumeID string) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.volumes[volumeID]
	out := make([]Binding, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	return out
}

// Volumes returns the ids of all displayed volumes, sorted
func (r *Registry) Volumes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.volumes))
	for id := range r.volumes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of bindings
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, set := range r.volumes {
		n += len(set)
	}
	return n
}

// Resync replaces the registry contents with the bindings the given
// listers report. Listing happens before the lock is taken so listers may
// call back into the registry.
func (r *Registry) Resync(listers ...BindingLister) {
	fresh := make(map[string]map[Binding]struct{})
	for _, l := range listers {
		for _, vb := range l.ListVolumeBindings() {
			set, ok := fresh[vb.VolumeID]
			if !ok {
				set = make(map[Binding]struct{})
				fresh[vb.VolumeID] = set
			}
			set[Binding{SurfaceID: vb.SurfaceID, GroupID: vb.GroupID}] = struct{}{}
		}
	}

	r.mu.Lock()
	r.volumes = fresh
	r.mu.Unlock()
}
