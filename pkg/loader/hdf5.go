package loader

import (
	"fmt"
	"strings"
	"sync"

	"github.com/scigolib/hdf5"

	"volumeview/internal/models"
)

// Companion datasets stored next to the voxel dataset. Shape is (i, j, k);
// the voxel dataset itself is laid out as [k][j][i].
const (
	shapeSuffix     = "_shape"
	spacingSuffix   = "_spacing"
	originSuffix    = "_origin"
	directionSuffix = "_direction"
)

// Header is the geometry stored with a volume in an HDF5 file
type Header struct {
	Dimensions [3]int
	Spacing    [3]float64
	Origin     [3]float64
	Direction  [9]float64
}

// HDF5Source reads k-slabs of a 3D dataset. Reads are serialized.
type HDF5Source struct {
	file    *hdf5.File
	dataset *hdf5.Dataset
	header  Header

	mu sync.Mutex
}

// OpenHDF5 opens the named 3D dataset of an HDF5 file together with its
// geometry datasets. Missing spacing, origin or direction fall back to unit
// spacing, zero origin and identity direction.
func OpenHDF5(path, name string) (*HDF5Source, error) {
	f, err := hdf5.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	datasets := make(map[string]*hdf5.Dataset)
	f.Walk(func(p string, obj hdf5.Object) {
		if ds, ok := obj.(*hdf5.Dataset); ok {
			datasets[strings.TrimPrefix(p, "/")] = ds
		}
	})

	name = strings.TrimPrefix(name, "/")
	ds, ok := datasets[name]
	if !ok {
		f.Close()
		return nil, fmt.Errorf("dataset %q not found in %s", name, path)
	}

	header := Header{
		Spacing:   [3]float64{1, 1, 1},
		Direction: models.IdentityDirection,
	}

	shape, err := readVector(datasets, name+shapeSuffix, 3, true)
	if err != nil {
		f.Close()
		return nil, err
	}
	for a := range header.Dimensions {
		header.Dimensions[a] = int(shape[a])
	}
	if spacing, err := readVector(datasets, name+spacingSuffix, 3, false); err != nil {
		f.Close()
		return nil, err
	} else if spacing != nil {
		copy(header.Spacing[:], spacing)
	}
	if origin, err := readVector(datasets, name+originSuffix, 3, false); err != nil {
		f.Close()
		return nil, err
	} else if origin != nil {
		copy(header.Origin[:], origin)
	}
	if direction, err := readVector(datasets, name+directionSuffix, 9, false); err != nil {
		f.Close()
		return nil, err
	} else if direction != nil {
		copy(header.Direction[:], direction)
	}

	return &HDF5Source{file: f, dataset: ds, header: header}, nil
}

func readVector(datasets map[string]*hdf5.Dataset, name string, n int, required bool) ([]float64, error) {
	ds, ok := datasets[name]
	if !ok {
		if required {
			return nil, fmt.Errorf("dataset %q not found", name)
		}
		return nil, nil
	}
	values, err := ds.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(values) != n {
		return nil, fmt.Errorf("dataset %s has %d values, expected %d", name, len(values), n)
	}
	return values, nil
}

// Header returns the stored geometry
func (s *HDF5Source) Header() Header { return s.header }

// Dimensions returns the (i, j, k) voxel counts
func (s *HDF5Source) Dimensions() [3]int { return s.header.Dimensions }

// NewVolume creates an empty volume shaped like the stored one
func (s *HDF5Source) NewVolume(id string, p models.Precision) (*models.Volume, error) {
	h := s.header
	return models.NewVolume(id, h.Dimensions, h.Spacing, h.Origin, h.Direction, p)
}

// ReadSlab reads depth k-slices starting at k0
func (s *HDF5Source) ReadSlab(k0, depth int) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.header.Dimensions
	raw, err := s.dataset.ReadSlice(
		[]uint64{uint64(k0), 0, 0},
		[]uint64{uint64(depth), uint64(d[1]), uint64(d[0])},
	)
	if err != nil {
		return nil, err
	}
	data, ok := raw.([]float64)
	if !ok {
		return nil, fmt.Errorf("unsupported sample type %T", raw)
	}
	return data, nil
}

// Close releases the file
func (s *HDF5Source) Close() error {
	return s.file.Close()
}

// WriteHDF5 stores a volume buffer (i fastest) and its geometry
func WriteHDF5(path, name string, h Header, data []float64) error {
	d := h.Dimensions
	if len(data) != d[0]*d[1]*d[2] {
		return fmt.Errorf("buffer has %d samples, dimensions %v require %d", len(data), d, d[0]*d[1]*d[2])
	}

	fw, err := hdf5.CreateForWrite(path, hdf5.CreateTruncate)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	name = "/" + strings.TrimPrefix(name, "/")
	items := []struct {
		name string
		dims []uint64
		data []float64
	}{
		{name, []uint64{uint64(d[2]), uint64(d[1]), uint64(d[0])}, data},
		{name + shapeSuffix, []uint64{3}, []float64{float64(d[0]), float64(d[1]), float64(d[2])}},
		{name + spacingSuffix, []uint64{3}, h.Spacing[:]},
		{name + originSuffix, []uint64{3}, h.Origin[:]},
		{name + directionSuffix, []uint64{9}, h.Direction[:]},
	}
	for _, item := range items {
		ds, err := fw.CreateDataset(item.name, hdf5.Float64, item.dims)
		if err != nil {
			fw.Close()
			return fmt.Errorf("failed to create dataset %s: %w", item.name, err)
		}
		if err := ds.Write(item.data); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write dataset %s: %w", item.name, err)
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}
