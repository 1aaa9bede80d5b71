package models

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/DmitriyVTitov/size"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// ErrVolumeLoaded is returned when a slab is merged into a volume that
// already reached its fully loaded state.
var ErrVolumeLoaded = errors.New("volume is fully loaded")

// IdentityDirection is the direction matrix of a grid aligned with world axes
var IdentityDirection = [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}

// Metadata describes where a volume came from
type Metadata struct {
	// Modality is the acquisition modality (CT, MR, PT...)
	Modality string

	// SeriesInstanceUID identifies the source series
	SeriesInstanceUID string

	// FrameOfReferenceUID identifies the patient coordinate system
	FrameOfReferenceUID string
}

// Slab is a decoded run of consecutive k-slices
type Slab struct {
	// K0 is the first k index covered by the slab
	K0 int

	// Depth is the number of k-slices in the slab
	Depth int

	// Data holds Depth*rows*cols*components samples in buffer order
	Data []float64
}

// Volume represents a 3D image with an affine index to world mapping.
// It is created empty when a load starts, filled slab by slab by a
// streaming loader and immutable once every k-slice has been merged.
type Volume struct {
	// ID uniquely identifies the volume (e.g. "scheme:name")
	ID string

	// Metadata carries descriptive tags of the source series
	Metadata Metadata

	// Dimensions is the voxel count per index axis (i, j, k)
	Dimensions [3]int

	// Spacing is the world size of a voxel along each index axis
	Spacing [3]float64

	// Origin is the world position of voxel (0, 0, 0)
	Origin [3]float64

	// Direction holds the world direction of index axis a in
	// elements [3a, 3a+3). Those vectors are the columns of the
	// direction matrix.
	Direction [9]float64

	// NumComponents is the number of interleaved components per voxel
	NumComponents int

	// ScalarData is the dense sample buffer
	ScalarData ScalarData

	// Scaling is the optional intensity rescale
	Scaling *Scaling

	// SizeInBytes is the declared size of the volume, 0 when unknown
	SizeInBytes int64

	mu          sync.Mutex
	sliceLoaded []bool
	loadedCount int
}

// NewVolume creates an empty single-component volume with a zeroed
// buffer of the requested precision.
func NewVolume(id string, dims [3]int, spacing, origin [3]float64, direction [9]float64, p Precision) (*Volume, error) {
	v := &Volume{
		ID:            id,
		Dimensions:    dims,
		Spacing:       spacing,
		Origin:        origin,
		Direction:     direction,
		NumComponents: 1,
	}
	if err := v.validateShape(); err != nil {
		return nil, err
	}
	v.ScalarData = NewScalarData(p, v.NumSamples())
	v.SizeInBytes = int64(v.NumSamples() * v.ScalarData.BytesPerSample())
	return v, nil
}

func (v *Volume) validateShape() error {
	for a := 0; a < 3; a++ {
		if v.Dimensions[a] <= 0 {
			return fmt.Errorf("volume %q: dimension %d must be positive, got %d", v.ID, a, v.Dimensions[a])
		}
		if !(v.Spacing[a] > 0) {
			return fmt.Errorf("volume %q: spacing %d must be positive, got %g", v.ID, a, v.Spacing[a])
		}
	}
	if v.NumComponents <= 0 {
		return fmt.Errorf("volume %q: component count must be positive, got %d", v.ID, v.NumComponents)
	}
	return nil
}

// Validate checks the shape and the buffer length invariant
func (v *Volume) Validate() error {
	if err := v.validateShape(); err != nil {
		return err
	}
	if v.ScalarData == nil {
		return fmt.Errorf("volume %q: no scalar data", v.ID)
	}
	if v.ScalarData.Len() != v.NumSamples() {
		return fmt.Errorf("volume %q: scalar data has %d samples, dimensions require %d",
			v.ID, v.ScalarData.Len(), v.NumSamples())
	}
	return nil
}

// NumVoxels returns i*j*k
func (v *Volume) NumVoxels() int {
	return v.Dimensions[0] * v.Dimensions[1] * v.Dimensions[2]
}

// NumSamples returns the buffer length implied by the dimensions and components
func (v *Volume) NumSamples() int {
	return v.NumVoxels() * v.NumComponents
}

// SliceSamples is the number of samples in one k-slice
func (v *Volume) SliceSamples() int {
	return v.Dimensions[0] * v.Dimensions[1] * v.NumComponents
}

// DirectionAxis returns the world direction of index axis a
func (v *Volume) DirectionAxis(a int) r3.Vec {
	return r3.Vec{X: v.Direction[3*a], Y: v.Direction[3*a+1], Z: v.Direction[3*a+2]}
}

// DirectionMatrix returns the direction matrix with the axis vectors as columns
func (v *Volume) DirectionMatrix() *mat.Dense {
	d := mat.NewDense(3, 3, nil)
	for a := 0; a < 3; a++ {
		axis := v.DirectionAxis(a)
		d.Set(0, a, axis.X)
		d.Set(1, a, axis.Y)
		d.Set(2, a, axis.Z)
	}
	return d
}

// IndexToWorld maps a (possibly fractional) index to world space:
// world = origin + direction * (index * spacing)
func (v *Volume) IndexToWorld(index r3.Vec) r3.Vec {
	world := r3.Vec{X: v.Origin[0], Y: v.Origin[1], Z: v.Origin[2]}
	world = r3.Add(world, r3.Scale(index.X*v.Spacing[0], v.DirectionAxis(0)))
	world = r3.Add(world, r3.Scale(index.Y*v.Spacing[1], v.DirectionAxis(1)))
	world = r3.Add(world, r3.Scale(index.Z*v.Spacing[2], v.DirectionAxis(2)))
	return world
}

// WorldToIndex is the inverse of IndexToWorld. It fails when the
// direction matrix is singular.
func (v *Volume) WorldToIndex(world r3.Vec) (r3.Vec, error) {
	d := v.DirectionMatrix()
	if math.Abs(mat.Det(d)) < 1e-12 {
		return r3.Vec{}, fmt.Errorf("volume %q: direction matrix is singular", v.ID)
	}

	rel := r3.Sub(world, r3.Vec{X: v.Origin[0], Y: v.Origin[1], Z: v.Origin[2]})
	b := mat.NewVecDense(3, []float64{rel.X, rel.Y, rel.Z})

	var x mat.VecDense
	if err := x.SolveVec(d, b); err != nil {
		return r3.Vec{}, fmt.Errorf("volume %q: failed to invert direction: %w", v.ID, err)
	}

	return r3.Vec{
		X: x.AtVec(0) / v.Spacing[0],
		Y: x.AtVec(1) / v.Spacing[1],
		Z: x.AtVec(2) / v.Spacing[2],
	}, nil
}

// Offset returns the buffer offset of the first component of voxel (i, j, k)
func (v *Volume) Offset(i, j, k int) int {
	return ((k*v.Dimensions[1]+j)*v.Dimensions[0] + i) * v.NumComponents
}

// Value returns the rescaled first component of voxel (i, j, k)
func (v *Volume) Value(i, j, k int) float64 {
	return v.Scaling.Apply(v.ScalarData.At(v.Offset(i, j, k)))
}

// MergeSlab copies a decoded slab into the buffer and marks its
// k-slices as loaded.
func (v *Volume) MergeSlab(s Slab) error {
	if s.Depth <= 0 || s.K0 < 0 || s.K0+s.Depth > v.Dimensions[2] {
		return fmt.Errorf("volume %q: slab [%d, %d) outside k range [0, %d)",
			v.ID, s.K0, s.K0+s.Depth, v.Dimensions[2])
	}
	if want := s.Depth * v.SliceSamples(); len(s.Data) != want {
		return fmt.Errorf("volume %q: slab at k=%d has %d samples, expected %d",
			v.ID, s.K0, len(s.Data), want)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.sliceLoaded != nil && v.loadedCount == v.Dimensions[2] {
		return ErrVolumeLoaded
	}

	offset := s.K0 * v.SliceSamples()
	for n, value := range s.Data {
		v.ScalarData.Set(offset+n, value)
	}

	if v.sliceLoaded == nil {
		v.sliceLoaded = make([]bool, v.Dimensions[2])
	}
	for k := s.K0; k < s.K0+s.Depth; k++ {
		if !v.sliceLoaded[k] {
			v.sliceLoaded[k] = true
			v.loadedCount++
		}
	}
	return nil
}

// LoadedSlices returns how many k-slices have been merged
func (v *Volume) LoadedSlices() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.loadedCount
}

// Loaded reports whether every k-slice has been merged
func (v *Volume) Loaded() bool {
	return v.LoadedSlices() == v.Dimensions[2]
}

// Progress returns the loaded fraction in [0, 1]
func (v *Volume) Progress() float64 {
	return float64(v.LoadedSlices()) / float64(v.Dimensions[2])
}

// ScalarStats summarizes rescaled sample values
type ScalarStats struct {
	Min, Max     float64
	Mean, StdDev float64
}

// Stats computes range, mean and standard deviation of the rescaled samples
func (v *Volume) Stats() ScalarStats {
	n := v.ScalarData.Len()
	if n == 0 {
		return ScalarStats{}
	}
	values := make([]float64, n)
	for i := range values {
		values[i] = v.Scaling.Apply(v.ScalarData.At(i))
	}

	mean, std := stat.MeanStdDev(values, nil)
	if n == 1 {
		std = 0
	}
	return ScalarStats{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
	}
}

// Footprint returns the declared size, or the measured in-memory size
// of the scalar buffer when none was declared.
func (v *Volume) Footprint() int64 {
	if v.SizeInBytes > 0 {
		return v.SizeInBytes
	}
	if v.ScalarData == nil {
		return 0
	}
	return int64(size.Of(v.ScalarData))
}
