package render

import (
	"errors"
	"strings"
	"testing"

	"volumeview/internal/models"
	"volumeview/pkg/cache"
	"volumeview/pkg/cropping"
	"volumeview/pkg/invalidation"
	"volumeview/pkg/registry"
)

func newVolume(t *testing.T, id string) *models.Volume {
	t.Helper()
	v, err := models.NewVolume(id, [3]int{4, 4, 4}, [3]float64{1, 1, 1}, [3]float64{}, models.IdentityDirection, models.Float32Precision)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	return v
}

// setup builds one engine with two scenes: scene1 holds two viewports, scene2 one
func setup(t *testing.T) (*registry.Registry, *Engine, []*Viewport) {
	t.Helper()
	reg := registry.New()
	e := NewEngine("engine", reg)

	s1, err := e.AddDisplayGroup("scene1")
	if err != nil {
		t.Fatalf("AddDisplayGroup failed: %v", err)
	}
	s2, err := e.AddDisplayGroup("scene2")
	if err != nil {
		t.Fatalf("AddDisplayGroup failed: %v", err)
	}

	var vps []*Viewport
	for _, c := range []struct {
		group *DisplayGroup
		id    string
	}{{s1, "axial"}, {s1, "sagittal"}, {s2, "3d"}} {
		vp, err := c.group.AddViewport(c.id)
		if err != nil {
			t.Fatalf("AddViewport failed: %v", err)
		}
		vps = append(vps, vp)
	}
	return reg, e, vps
}

// TestBindRegisters verifies binding a volume actor registers its surface
func TestBindRegisters(t *testing.T) {
	reg, _, vps := setup(t)
	v := newVolume(t, "ct")

	for _, vp := range vps {
		if err := vp.AddActor(NewVolumeActor("", v)); err != nil {
			t.Fatalf("AddActor failed: %v", err)
		}
	}
	if err := vps[0].AddActor(NewSurfaceActor("skull", 1200)); err != nil {
		t.Fatalf("AddActor failed: %v", err)
	}

	if got := len(reg.SurfacesFor("ct")); got != 3 {
		t.Errorf("Expected 3 bindings, got %d", got)
	}
	if vps[0].Surfaces() != 1 {
		t.Errorf("Expected 1 mesh, got %d", vps[0].Surfaces())
	}
	if reg.Len() != 3 {
		t.Errorf("Expected meshes to stay out of the registry, got %d bindings", reg.Len())
	}

	if !vps[2].RemoveActor("ct") {
		t.Fatal("Expected volume actor to be removed")
	}
	if got := len(reg.SurfacesFor("ct")); got != 2 {
		t.Errorf("Expected 2 bindings after removal, got %d", got)
	}
	if vps[2].RemoveActor("ct") {
		t.Error("Expected second removal to report nothing removed")
	}
}

// TestDuplicateVolumeActor verifies a second actor for a shown volume is refused
func TestDuplicateVolumeActor(t *testing.T) {
	reg, _, vps := setup(t)
	v := newVolume(t, "ct")
	first := NewVolumeActor("first", v)

	if err := vps[0].AddActor(first); err != nil {
		t.Fatalf("AddActor failed: %v", err)
	}
	if err := vps[0].AddActor(first); err != nil {
		t.Errorf("Expected re-adding the same actor to succeed, got %v", err)
	}
	if err := vps[0].AddActor(NewVolumeActor("second", v)); err == nil {
		t.Error("Expected error for a second actor of the same volume")
	}
	if a, _ := vps[0].VolumeActor("ct"); a.UID() != "first" {
		t.Errorf("Expected first actor to stay bound, got %s", a.UID())
	}
	if !vps[0].RemoveActor("first") {
		t.Fatal("Expected first actor to be removed")
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d bindings", reg.Len())
	}
}

type unknownRenderable struct{}

func (unknownRenderable) UID() string { return "?" }

// TestUnsupportedRenderable verifies renderables without a capability are rejected
func TestUnsupportedRenderable(t *testing.T) {
	_, _, vps := setup(t)
	if err := vps[0].AddActor(unknownRenderable{}); err == nil {
		t.Error("Expected error for unsupported renderable")
	}
}

// TestControllerRedrawsGroups verifies the controller redraws each scene once per update
func TestControllerRedrawsGroups(t *testing.T) {
	reg, e, vps := setup(t)
	v := newVolume(t, "ct")
	for _, vp := range vps {
		if err := vp.AddActor(NewVolumeActor("", v)); err != nil {
			t.Fatalf("AddActor failed: %v", err)
		}
	}

	c := invalidation.New(reg, Engines{e})
	if err := c.OnVolumeUpdated("ct"); err != nil {
		t.Fatalf("OnVolumeUpdated failed: %v", err)
	}

	s1, _ := e.DisplayGroup("scene1")
	s2, _ := e.DisplayGroup("scene2")
	if s1.Redraws() != 1 || s2.Redraws() != 1 {
		t.Errorf("Expected one redraw per scene, got %d and %d", s1.Redraws(), s2.Redraws())
	}
	for _, vp := range vps {
		if vp.Frames() != 1 {
			t.Errorf("Viewport %s: expected 1 frame, got %d", vp.ID(), vp.Frames())
		}
	}
}

// TestEnginesSharingGroupID verifies a same-named group on another engine
// neither receives redraws nor blocks them once destroyed
func TestEnginesSharingGroupID(t *testing.T) {
	reg := registry.New()
	live, other := NewEngine("live", reg), NewEngine("other", reg)

	liveMain, err := live.AddDisplayGroup("main")
	if err != nil {
		t.Fatalf("AddDisplayGroup failed: %v", err)
	}
	otherMain, err := other.AddDisplayGroup("main")
	if err != nil {
		t.Fatalf("AddDisplayGroup failed: %v", err)
	}
	vp, _ := liveMain.AddViewport("axial")
	if _, err := otherMain.AddViewport("axial"); err != nil {
		t.Fatalf("AddViewport failed: %v", err)
	}
	if err := vp.AddActor(NewVolumeActor("", newVolume(t, "ct"))); err != nil {
		t.Fatalf("AddActor failed: %v", err)
	}

	c := invalidation.New(reg, Engines{other, live})
	if err := c.OnVolumeUpdated("ct"); err != nil {
		t.Fatalf("OnVolumeUpdated failed: %v", err)
	}
	if liveMain.Redraws() != 1 || otherMain.Redraws() != 0 {
		t.Errorf("Expected live=1 other=0 redraws, got live=%d other=%d", liveMain.Redraws(), otherMain.Redraws())
	}

	other.Destroy()
	if err := c.OnVolumeUpdated("ct"); err != nil {
		t.Fatalf("OnVolumeUpdated failed: %v", err)
	}
	if liveMain.Redraws() != 2 {
		t.Errorf("Expected live engine redrawn after namesake teardown, got %d redraws", liveMain.Redraws())
	}
}

// TestDestroy verifies teardown unregisters bindings and silences redraws
func TestDestroy(t *testing.T) {
	reg, e, vps := setup(t)
	v := newVolume(t, "ct")
	if err := vps[0].AddActor(NewVolumeActor("", v)); err != nil {
		t.Fatalf("AddActor failed: %v", err)
	}
	s1, _ := e.DisplayGroup("scene1")

	e.Destroy()
	e.Destroy()

	if !e.Destroyed() {
		t.Fatal("Expected engine to be destroyed")
	}
	if reg.Len() != 0 {
		t.Errorf("Expected empty registry, got %d bindings", reg.Len())
	}
	if err := s1.RequestRedraw(); err != nil {
		t.Errorf("Expected stale redraw to be a no-op, got %v", err)
	}
	if vps[0].Frames() != 0 {
		t.Errorf("Expected no frames after destroy, got %d", vps[0].Frames())
	}
	if err := vps[0].AddActor(NewVolumeActor("", v)); !errors.Is(err, ErrEngineDestroyed) {
		t.Errorf("Expected ErrEngineDestroyed, got %v", err)
	}
	if _, err := e.AddDisplayGroup("late"); !errors.Is(err, ErrEngineDestroyed) {
		t.Errorf("Expected ErrEngineDestroyed, got %v", err)
	}
}

// TestContextLost verifies a lost context surfaces as a redraw error
func TestContextLost(t *testing.T) {
	reg, e, vps := setup(t)
	v := newVolume(t, "ct")
	if err := vps[0].AddActor(NewVolumeActor("", v)); err != nil {
		t.Fatalf("AddActor failed: %v", err)
	}
	s1, _ := e.DisplayGroup("scene1")
	s1.LoseContext()

	err := invalidation.New(reg, Engines{e}).OnVolumeUpdated("ct")
	if !errors.Is(err, ErrContextLost) {
		t.Errorf("Expected ErrContextLost, got %v", err)
	}
}

// TestResyncFromEngines verifies the registry can be rebuilt by scanning engines
func TestResyncFromEngines(t *testing.T) {
	reg, e, vps := setup(t)
	ct, pet := newVolume(t, "ct"), newVolume(t, "pet")
	_ = vps[0].AddActor(NewVolumeActor("", ct))
	_ = vps[2].AddActor(NewVolumeActor("", ct))
	_ = vps[2].AddActor(NewVolumeActor("", pet))

	rebuilt := registry.New()
	rebuilt.Resync(Engines{e})

	if got, want := rebuilt.Len(), reg.Len(); got != want {
		t.Errorf("Expected %d bindings, got %d", want, got)
	}
	if got := strings.Join(rebuilt.Volumes(), ","); got != "ct,pet" {
		t.Errorf("Expected ct,pet, got %s", got)
	}
}

// TestEvictedVolumeStaysGone verifies a volume leaving the cache is unbound
// from every viewport, so rebuilding the registry does not bring it back
func TestEvictedVolumeStaysGone(t *testing.T) {
	reg, e, vps := setup(t)
	ct, pet := newVolume(t, "ct"), newVolume(t, "pet")
	_ = vps[0].AddActor(NewVolumeActor("", ct))
	_ = vps[2].AddActor(NewVolumeActor("", ct))
	_ = vps[2].AddActor(NewVolumeActor("", pet))

	volumes := cache.New(1<<30, reg)
	volumes.OnEvicted(Engines{e}.RemoveVolume)
	_ = volumes.Put(ct)
	_ = volumes.Put(pet)

	volumes.Remove("ct")

	if _, ok := vps[0].VolumeActor("ct"); ok {
		t.Error("Expected ct unbound from axial")
	}
	if got := strings.Join(vps[2].VolumeIDs(), ","); got != "pet" {
		t.Errorf("Expected 3d to keep only pet, got %s", got)
	}
	reg.Resync(Engines{e})
	if got := strings.Join(reg.Volumes(), ","); got != "pet" {
		t.Errorf("Expected only pet after resync, got %s", got)
	}
	if n := e.RemoveVolume("ct"); n != 0 {
		t.Errorf("Expected nothing left to unbind, got %d", n)
	}
}

// TestGeneratedIDs verifies empty ids are replaced with unique generated ones
func TestGeneratedIDs(t *testing.T) {
	e := NewEngine("", registry.New())
	if !strings.HasPrefix(e.ID(), "engine-") {
		t.Errorf("Expected generated engine id, got %q", e.ID())
	}
	g, _ := e.AddDisplayGroup("")
	a, _ := g.AddViewport("")
	b, _ := g.AddViewport("")
	if a.ID() == b.ID() {
		t.Errorf("Expected distinct viewport ids, got %q twice", a.ID())
	}
	if _, err := g.AddViewport(a.ID()); err == nil {
		t.Error("Expected error for duplicate viewport id")
	}
}

// TestVolumeActorClipping verifies installs replace all planes
func TestVolumeActorClipping(t *testing.T) {
	v := newVolume(t, "ct")
	a := NewVolumeActor("", v)

	planes, err := cropping.Planes(v, cropping.Bounds{0, 3, 0, 3, 0, 3})
	if err != nil {
		t.Fatalf("Planes failed: %v", err)
	}
	a.SetClippingPlanes(planes[:])
	a.SetClippingPlanes(planes[:2])

	if got := len(a.ClippingPlanes()); got != 2 {
		t.Errorf("Expected 2 planes after replacement, got %d", got)
	}
	if a.Modified() != 2 {
		t.Errorf("Expected 2 modifications, got %d", a.Modified())
	}
}
