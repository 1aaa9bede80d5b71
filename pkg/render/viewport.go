package render

import (
	"fmt"
	"sort"
	"sync"
)

// Viewport is a rendering surface inside a display group
type Viewport struct {
	id    string
	group *DisplayGroup

	mu       sync.Mutex
	volumes  map[string]VolumeRenderable
	surfaces map[string]SurfaceRenderable
	frames   int
}

// ID returns the viewport id
func (vp *Viewport) ID() string { return vp.id }

// GroupID returns the id of the owning display group
func (vp *Viewport) GroupID() string { return vp.group.id }

// AddActor binds a renderable. Its capability is resolved here, once:
// volume renderables are registered as displaying their volume, surface
// renderables are kept as meshes. A viewport shows each volume through
// at most one actor.
func (vp *Viewport) AddActor(r Renderable) error {
	engine := vp.group.engine
	if engine.Destroyed() {
		return ErrEngineDestroyed
	}

	vp.mu.Lock()
	defer vp.mu.Unlock()

	switch a := r.(type) {
	case VolumeRenderable:
		if bound, ok := vp.volumes[a.VolumeID()]; ok && bound.UID() != a.UID() {
			return fmt.Errorf("viewport %s: volume %s already shown by actor %s", vp.id, a.VolumeID(), bound.UID())
		}
		vp.volumes[a.VolumeID()] = a
		engine.registry.Register(a.VolumeID(), vp.id, vp.group.id)
	case SurfaceRenderable:
		vp.surfaces[a.UID()] = a
	default:
		return fmt.Errorf("viewport %s: unsupported renderable %T", vp.id, r)
	}
	return nil
}

// RemoveActor unbinds the renderable with the given uid
func (vp *Viewport) RemoveActor(uid string) bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	for volumeID, a := range vp.volumes {
		if a.UID() == uid {
			delete(vp.volumes, volumeID)
			vp.group.engine.registry.Unregister(volumeID, vp.id, vp.group.id)
			return true
		}
	}
	if _, ok := vp.surfaces[uid]; ok {
		delete(vp.surfaces, uid)
		return true
	}
	return false
}

// removeVolume unbinds the actor showing volumeID, if any
func (vp *Viewport) removeVolume(volumeID string) bool {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	if _, ok := vp.volumes[volumeID]; !ok {
		return false
	}
	delete(vp.volumes, volumeID)
	vp.group.engine.registry.Unregister(volumeID, vp.id, vp.group.id)
	return true
}

// VolumeActor returns the renderable bound for volumeID
func (vp *Viewport) VolumeActor(volumeID string) (VolumeRenderable, bool) {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	a, ok := vp.volumes[volumeID]
	return a, ok
}

// VolumeIDs lists the displayed volumes, sorted
func (vp *Viewport) VolumeIDs() []string {
	vp.mu.Lock()
	defer vp.mu.Unlock()

	ids := make([]string, 0, len(vp.volumes))
	for id := range vp.volumes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Surfaces counts bound meshes
func (vp *Viewport) Surfaces() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return len(vp.surfaces)
}

// Frames counts renders
func (vp *Viewport) Frames() int {
	vp.mu.Lock()
	defer vp.mu.Unlock()
	return vp.frames
}

func (vp *Viewport) render() {
	vp.mu.Lock()
	vp.frames++
	vp.mu.Unlock()
}
