// Package loader streams volume data into a models.Volume slab by slab,
// reporting each merged slab so displays can redraw progressively.
package loader

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"volumeview/internal/models"
	"volumeview/pkg/logging"
)

// ErrShortSlab is returned when a source yields fewer samples than a slab needs
var ErrShortSlab = errors.New("slab source returned wrong sample count")

// SlabSource yields runs of consecutive k-slices of a volume
type SlabSource interface {
	// Dimensions returns the (i, j, k) voxel counts
	Dimensions() [3]int

	// ReadSlab returns depth k-slices starting at k0, i fastest
	ReadSlab(k0, depth int) ([]float64, error)
}

// Loader decodes slabs in parallel and merges them serially
type Loader struct {
	// SlabDepth is the number of k-slices per slab
	SlabDepth int

	// Workers bounds concurrent slab reads
	Workers int
}

// New creates a loader
func New(slabDepth, workers int) *Loader {
	return &Loader{SlabDepth: slabDepth, Workers: workers}
}

// Load fills v from src. Slabs are read by up to Workers goroutines; each
// slab is merged and reported to notify on the calling goroutine, once per
// slab, in completion order. The volume is fully loaded when Load returns
// nil.
func (l *Loader) Load(ctx context.Context, v *models.Volume, src SlabSource, notify func(volumeID string)) error {
	if dims := src.Dimensions(); dims != v.Dimensions {
		return fmt.Errorf("volume %s: source dimensions %v do not match %v", v.ID, dims, v.Dimensions)
	}

	depth := l.SlabDepth
	if depth <= 0 {
		depth = 1
	}
	workers := l.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	nk := v.Dimensions[2]
	perSlice := v.SliceSamples()
	slabs := make(chan models.Slab)

	var readErr error
	go func() {
		for k0 := 0; k0 < nk && gctx.Err() == nil; k0 += depth {
			k0, d := k0, min(depth, nk-k0)
			g.Go(func() error {
				data, err := src.ReadSlab(k0, d)
				if err != nil {
					return fmt.Errorf("reading slab at k=%d: %w", k0, err)
				}
				if len(data) != d*perSlice {
					return fmt.Errorf("%w: slab at k=%d has %d samples, expected %d",
						ErrShortSlab, k0, len(data), d*perSlice)
				}
				select {
				case slabs <- models.Slab{K0: k0, Depth: d, Data: data}:
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}
			})
		}
		readErr = g.Wait()
		close(slabs)
	}()

	var mergeErr error
	merged := 0
	for s := range slabs {
		if mergeErr != nil {
			continue
		}
		if err := v.MergeSlab(s); err != nil {
			mergeErr = err
			cancel()
			continue
		}
		merged++
		logging.Debugf("volume %s: merged k=[%d, %d), %.0f%% loaded",
			v.ID, s.K0, s.K0+s.Depth, 100*v.Progress())
		if notify != nil {
			notify(v.ID)
		}
	}

	if mergeErr != nil {
		return fmt.Errorf("volume %s: %w", v.ID, mergeErr)
	}
	if readErr != nil {
		return fmt.Errorf("volume %s: %w", v.ID, readErr)
	}
	if !v.Loaded() {
		return fmt.Errorf("volume %s: %d of %d slices loaded", v.ID, v.LoadedSlices(), nk)
	}

	logging.Infof("volume %s loaded: %s in %d slabs", v.ID, humanize.Bytes(uint64(v.Footprint())), merged)
	return nil
}

// ArraySource serves slabs from an in-memory buffer
type ArraySource struct {
	Dims [3]int
	Data []float64
}

// Dimensions returns the buffer's voxel counts
func (a *ArraySource) Dimensions() [3]int { return a.Dims }

// ReadSlab slices the buffer
func (a *ArraySource) ReadSlab(k0, depth int) ([]float64, error) {
	per := a.Dims[0] * a.Dims[1]
	start, end := k0*per, (k0+depth)*per
	if k0 < 0 || end > len(a.Data) {
		return nil, fmt.Errorf("slab [%d, %d) outside buffer of %d slices", k0, k0+depth, len(a.Data)/per)
	}
	out := make([]float64, end-start)
	copy(out, a.Data[start:end])
	return out, nil
}
