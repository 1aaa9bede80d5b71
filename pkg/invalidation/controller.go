// Package invalidation turns "volume extended" notifications from a streaming
// loader into redraw requests for the display groups showing that volume.
package invalidation

import (
	"context"
	"errors"
	"fmt"

	"volumeview/pkg/logging"
	"volumeview/pkg/registry"
)

// VolumeBinding is a volume shown on a surface of a display group
type VolumeBinding struct {
	VolumeID  string
	SurfaceID string
}

// DisplayGroup is a set of surfaces rendered together
type DisplayGroup interface {
	ID() string
	VolumeBindings() []VolumeBinding
	RequestRedraw() error
}

// Engine owns display groups and may be torn down at any time
type Engine interface {
	ID() string
	Destroyed() bool
	DisplayGroups() []DisplayGroup
}

// EngineLister enumerates live rendering engines
type EngineLister interface {
	Engines() []Engine
}

// RedrawError reports a failed redraw request for one display group
type RedrawError struct {
	EngineID string
	GroupID  string
	Err      error
}

func (e *RedrawError) Error() string {
	return fmt.Sprintf("redraw of group %q on engine %q failed: %v", e.GroupID, e.EngineID, e.Err)
}

func (e *RedrawError) Unwrap() error { return e.Err }

// Controller schedules redraws for volumes whose data changed. It keeps no
// state between calls.
type Controller struct {
	registry *registry.Registry
	engines  EngineLister
}

// New creates a controller resolving registry bindings against engines
func New(reg *registry.Registry, engines EngineLister) *Controller {
	return &Controller{registry: reg, engines: engines}
}

type target struct {
	engine Engine
	group  DisplayGroup
}

// OnVolumeUpdated requests one redraw per display group showing volumeID.
// Volumes nobody displays and torn-down engines are not errors; only
// failing redraw requests are returned, one RedrawError per group.
func (c *Controller) OnVolumeUpdated(volumeID string) error {
	bindings := c.registry.SurfacesFor(volumeID)
	if len(bindings) == 0 {
		logging.Debugf("volume %s updated with no attached surfaces", volumeID)
		return nil
	}

	wanted := make(map[registry.Binding]struct{}, len(bindings))
	for _, b := range bindings {
		wanted[b] = struct{}{}
	}

	targets := c.resolve(volumeID, wanted)
	if targets == nil {
		logging.Debugf("volume %s updated after its engine was destroyed", volumeID)
		return nil
	}

	var errs []error
	for _, t := range targets {
		if err := t.group.RequestRedraw(); err != nil {
			logging.Warningf("redraw of group %s for volume %s failed: %v", t.group.ID(), volumeID, err)
			errs = append(errs, &RedrawError{EngineID: t.engine.ID(), GroupID: t.group.ID(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// owns reports whether g shows volumeID on one of the wanted surfaces
func owns(g DisplayGroup, volumeID string, wanted map[registry.Binding]struct{}) bool {
	for _, b := range g.VolumeBindings() {
		if b.VolumeID != volumeID {
			continue
		}
		if _, ok := wanted[registry.Binding{SurfaceID: b.SurfaceID, GroupID: g.ID()}]; ok {
			return true
		}
	}
	return false
}

// resolve finds the groups that own a wanted binding, one target per
// distinct (engine, group). Groups of other engines sharing an id are
// skipped. It returns nil if an owning engine is destroyed.
func (c *Controller) resolve(volumeID string, wanted map[registry.Binding]struct{}) []target {
	type key struct{ engine, group string }
	seen := make(map[key]struct{})

	var targets []target
	for _, e := range c.engines.Engines() {
		var matched []target
		for _, g := range e.DisplayGroups() {
			k := key{e.ID(), g.ID()}
			if _, dup := seen[k]; dup {
				continue
			}
			if !owns(g, volumeID, wanted) {
				continue
			}
			seen[k] = struct{}{}
			matched = append(matched, target{engine: e, group: g})
		}
		if len(matched) == 0 {
			continue
		}
		if e.Destroyed() {
			return nil
		}
		targets = append(targets, matched...)
	}
	if targets == nil {
		targets = []target{}
	}
	return targets
}

// Listen calls OnVolumeUpdated for every id received until updates is
// closed or ctx is done. Redraw errors go to onErr when it is non-nil.
func (c *Controller) Listen(ctx context.Context, updates <-chan string, onErr func(error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id, ok := <-updates:
			if !ok {
				return nil
			}
			if err := c.OnVolumeUpdated(id); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
