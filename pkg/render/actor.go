package render

import (
	"sync"

	"volumeview/internal/models"
	"volumeview/pkg/cropping"
)

// Renderable is anything a viewport can display
type Renderable interface {
	UID() string
}

// VolumeRenderable is a ray-cast volume whose mapper accepts clipping planes
type VolumeRenderable interface {
	Renderable
	VolumeID() string
	SetClippingPlanes(planes []cropping.Plane)
	ClippingPlanes() []cropping.Plane
}

// SurfaceRenderable is a polygonal mesh
type SurfaceRenderable interface {
	Renderable
	Triangles() int
}

// VolumeActor displays a volume through a mapper with clipping planes
type VolumeActor struct {
	uid    string
	volume *models.Volume

	mu       sync.Mutex
	planes   []cropping.Plane
	modified int
}

// NewVolumeActor creates an actor for v. An empty uid uses the volume id.
func NewVolumeActor(uid string, v *models.Volume) *VolumeActor {
	if uid == "" {
		uid = v.ID
	}
	return &VolumeActor{uid: uid, volume: v}
}

func (a *VolumeActor) UID() string            { return a.uid }
func (a *VolumeActor) VolumeID() string       { return a.volume.ID }
func (a *VolumeActor) Volume() *models.Volume { return a.volume }

// SetClippingPlanes removes every installed plane, adds the given ones and
// marks the mapper modified.
func (a *VolumeActor) SetClippingPlanes(planes []cropping.Plane) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.planes = a.planes[:0]
	a.planes = append(a.planes, planes...)
	a.modified++
}

// ClippingPlanes returns a copy of the installed planes
func (a *VolumeActor) ClippingPlanes() []cropping.Plane {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]cropping.Plane, len(a.planes))
	copy(out, a.planes)
	return out
}

// Modified counts plane replacements
func (a *VolumeActor) Modified() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modified
}

// SurfaceActor displays a triangle mesh
type SurfaceActor struct {
	uid       string
	triangles int
}

// NewSurfaceActor creates a mesh actor
func NewSurfaceActor(uid string, triangles int) *SurfaceActor {
	return &SurfaceActor{uid: uid, triangles: triangles}
}

func (a *SurfaceActor) UID() string    { return a.uid }
func (a *SurfaceActor) Triangles() int { return a.triangles }
