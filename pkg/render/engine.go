// Package render is a headless rendering engine. It keeps the engine,
// display group and viewport structure of an on-screen renderer, records
// renders instead of drawing, and keeps a session registry in step with
// what each viewport displays.
package render

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/twinj/uuid"

	"volumeview/pkg/invalidation"
	"volumeview/pkg/logging"
	"volumeview/pkg/registry"
)

var (
	// ErrContextLost is returned by redraws of a group whose context was lost
	ErrContextLost = errors.New("rendering context lost")

	// ErrEngineDestroyed is returned when binding to a destroyed engine
	ErrEngineDestroyed = errors.New("rendering engine destroyed")
)

func newID(prefix string) string {
	return fmt.Sprintf("%s-%x", prefix, uuid.NewV4().Bytes())
}

// Engine owns display groups
type Engine struct {
	id        string
	registry  *registry.Registry
	destroyed atomic.Bool

	mu     sync.Mutex
	groups []*DisplayGroup
}

// NewEngine creates an engine keeping reg up to date. An empty id is
// replaced by a generated one.
func NewEngine(id string, reg *registry.Registry) *Engine {
	if id == "" {
		id = newID("engine")
	}
	return &Engine{id: id, registry: reg}
}

// ID returns the engine id
func (e *Engine) ID() string { return e.id }

// Destroyed reports whether Destroy was called
func (e *Engine) Destroyed() bool { return e.destroyed.Load() }

// AddDisplayGroup creates a display group. An empty id is generated.
func (e *Engine) AddDisplayGroup(id string) (*DisplayGroup, error) {
	if e.Destroyed() {
		return nil, ErrEngineDestroyed
	}
	if id == "" {
		id = newID("group")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, g := range e.groups {
		if g.id == id {
			return nil, fmt.Errorf("engine %s: display group %q already exists", e.id, id)
		}
	}
	g := &DisplayGroup{id: id, engine: e}
	e.groups = append(e.groups, g)
	return g, nil
}

// DisplayGroup returns the group with the given id
func (e *Engine) DisplayGroup(id string) (*DisplayGroup, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, g := range e.groups {
		if g.id == id {
			return g, true
		}
	}
	return nil, false
}

func (e *Engine) snapshotGroups() []*DisplayGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*DisplayGroup(nil), e.groups...)
}

// DisplayGroups lists the groups in creation order
func (e *Engine) DisplayGroups() []invalidation.DisplayGroup {
	groups := e.snapshotGroups()
	out := make([]invalidation.DisplayGroup, len(groups))
	for i, g := range groups {
		out[i] = g
	}
	return out
}

// ListVolumeBindings reports every volume shown by this engine
func (e *Engine) ListVolumeBindings() []registry.VolumeBinding {
	var out []registry.VolumeBinding
	for _, g := range e.snapshotGroups() {
		for _, b := range g.VolumeBindings() {
			out = append(out, registry.VolumeBinding{VolumeID: b.VolumeID, SurfaceID: b.SurfaceID, GroupID: g.id})
		}
	}
	return out
}

// RemoveVolume unbinds volumeID from every viewport of the engine and
// returns how many actors were removed
func (e *Engine) RemoveVolume(volumeID string) int {
	n := 0
	for _, g := range e.snapshotGroups() {
		for _, vp := range g.snapshotViewports() {
			if vp.removeVolume(volumeID) {
				n++
			}
		}
	}
	if n > 0 {
		logging.Debugf("engine %s: unbound volume %s from %d viewports", e.id, volumeID, n)
	}
	return n
}

// Destroy tears the engine down and removes its bindings from the registry.
// Later redraw requests on its groups do nothing.
func (e *Engine) Destroy() {
	if e.destroyed.Swap(true) {
		return
	}
	for _, b := range e.ListVolumeBindings() {
		e.registry.Unregister(b.VolumeID, b.SurfaceID, b.GroupID)
	}
	logging.Infof("rendering engine %s destroyed", e.id)
}

// Engines is a set of engines usable as an invalidation.EngineLister
type Engines []*Engine

// Engines lists every engine, destroyed ones included
func (es Engines) Engines() []invalidation.Engine {
	out := make([]invalidation.Engine, len(es))
	for i, e := range es {
		out[i] = e
	}
	return out
}

// RemoveVolume unbinds volumeID from every engine
func (es Engines) RemoveVolume(volumeID string) {
	for _, e := range es {
		e.RemoveVolume(volumeID)
	}
}

// ListVolumeBindings reports the bindings of all engines
func (es Engines) ListVolumeBindings() []registry.VolumeBinding {
	var out []registry.VolumeBinding
	for _, e := range es {
		out = append(out, e.ListVolumeBindings()...)
	}
	return out
}

// DisplayGroup is a set of viewports redrawn together (a scene)
type DisplayGroup struct {
	id     string
	engine *Engine

	mu        sync.Mutex
	viewports []*Viewport
	lost      bool
	redraws   int
}

// ID returns the group id
func (g *DisplayGroup) ID() string { return g.id }

// AddViewport creates a viewport in this group. An empty id is generated.
func (g *DisplayGroup) AddViewport(id string) (*Viewport, error) {
	if g.engine.Destroyed() {
		return nil, ErrEngineDestroyed
	}
	if id == "" {
		id = newID("viewport")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, vp := range g.viewports {
		if vp.id == id {
			return nil, fmt.Errorf("group %s: viewport %q already exists", g.id, id)
		}
	}
	vp := &Viewport{
		id:       id,
		group:    g,
		volumes:  make(map[string]VolumeRenderable),
		surfaces: make(map[string]SurfaceRenderable),
	}
	g.viewports = append(g.viewports, vp)
	return vp, nil
}

// Viewport returns the viewport with the given id
func (g *DisplayGroup) Viewport(id string) (*Viewport, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, vp := range g.viewports {
		if vp.id == id {
			return vp, true
		}
	}
	return nil, false
}

func (g *DisplayGroup) snapshotViewports() []*Viewport {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Viewport(nil), g.viewports...)
}

// VolumeBindings lists the volumes shown by the group's viewports
func (g *DisplayGroup) VolumeBindings() []invalidation.VolumeBinding {
	var out []invalidation.VolumeBinding
	for _, vp := range g.snapshotViewports() {
		for _, id := range vp.VolumeIDs() {
			out = append(out, invalidation.VolumeBinding{VolumeID: id, SurfaceID: vp.id})
		}
	}
	return out
}

// RequestRedraw renders every viewport of the group once. It is a no-op
// on a destroyed engine and fails once the context was lost.
func (g *DisplayGroup) RequestRedraw() error {
	if g.engine.Destroyed() {
		return nil
	}

	g.mu.Lock()
	if g.lost {
		g.mu.Unlock()
		return ErrContextLost
	}
	g.redraws++
	viewports := append([]*Viewport(nil), g.viewports...)
	g.mu.Unlock()

	for _, vp := range viewports {
		vp.render()
	}
	logging.Debugf("group %s redrawn (%d viewports)", g.id, len(viewports))
	return nil
}

// LoseContext simulates a destroyed GPU context
func (g *DisplayGroup) LoseContext() {
	g.mu.Lock()
	g.lost = true
	g.mu.Unlock()
}

// Redraws counts successful redraw requests
func (g *DisplayGroup) Redraws() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.redraws
}
