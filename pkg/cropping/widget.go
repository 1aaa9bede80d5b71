package cropping

import (
	"context"
	"errors"
	"math"
	"sync"

	"volumeview/internal/models"
)

// ErrWidgetClosed is returned by Set once the widget has been closed
var ErrWidgetClosed = errors.New("cropping widget closed")

// ClipTarget receives a replacement set of clipping planes
type ClipTarget interface {
	SetClippingPlanes(planes []Plane)
}

// Widget produces a finite sequence of crop box updates. Once closed it
// cannot be reopened; the Updates channel is closed with it.
type Widget struct {
	mu      sync.Mutex
	dims    [3]int
	current Bounds
	updates chan Bounds
	quit    chan struct{}
	once    sync.Once
	closed  bool
}

// NewWidget creates a widget for a grid of the given dimensions, starting
// at the full extent. buffer sets how many updates may be pending.
func NewWidget(dims [3]int, buffer int) *Widget {
	return &Widget{
		dims:    dims,
		current: FullBounds(dims),
		updates: make(chan Bounds, buffer),
		quit:    make(chan struct{}),
	}
}

// Updates is the stream of crop boxes, closed by Close
func (w *Widget) Updates() <-chan Bounds {
	return w.updates
}

// Bounds returns the last box set
func (w *Widget) Bounds() Bounds {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Set clamps b to the grid, orders each min/max pair and publishes it.
// Boxes with non-finite coordinates are refused with ErrBounds.
// It blocks while the update buffer is full.
func (w *Widget) Set(b Bounds) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWidgetClosed
	}
	if err := b.Validate(); err != nil {
		return err
	}

	for a := 0; a < 3; a++ {
		hi := float64(w.dims[a] - 1)
		lo, up := clamp(b[2*a], hi), clamp(b[2*a+1], hi)
		b[2*a], b[2*a+1] = math.Min(lo, up), math.Max(lo, up)
	}

	select {
	case w.updates <- b:
		w.current = b
		return nil
	case <-w.quit:
		return ErrWidgetClosed
	}
}

func clamp(v, hi float64) float64 {
	return math.Max(0, math.Min(hi, v))
}

// Close ends the update stream
func (w *Widget) Close() {
	w.once.Do(func() {
		close(w.quit)
		w.mu.Lock()
		w.closed = true
		close(w.updates)
		w.mu.Unlock()
	})
}

// Follow installs fresh clipping planes on target for every box received
// from updates, until the channel is closed or ctx is done. Each box is
// transformed independently; the first transform error stops the loop.
func (t Transform) Follow(ctx context.Context, v *models.Volume, updates <-chan Bounds, target ClipTarget) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b, ok := <-updates:
			if !ok {
				return nil
			}
			planes, err := t.Planes(v, b)
			if err != nil {
				return err
			}
			target.SetClippingPlanes(planes[:])
		}
	}
}

// Follow runs Transform.Follow with the default tolerance
func Follow(ctx context.Context, v *models.Volume, updates <-chan Bounds, target ClipTarget) error {
	return Transform{}.Follow(ctx, v, updates, target)
}
