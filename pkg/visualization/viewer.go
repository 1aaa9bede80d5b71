// Package visualization extracts 2D slices and cropped sub-regions from
// volumes and writes slices as images.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"

	"volumeview/internal/models"
	"volumeview/pkg/cropping"
	"volumeview/pkg/logging"
)

// Viewer reads slices along the index axes of a volume
type Viewer struct {
	volume *models.Volume

	// scalar range used to map samples to gray levels
	low, high float64
}

// NewViewer creates a viewer. Gray levels are normalized by the scalar
// range of the volume at this point; samples outside it are clamped.
func NewViewer(v *models.Volume) *Viewer {
	stats := v.Stats()
	return &Viewer{volume: v, low: stats.Min, high: stats.Max}
}

func (v *Viewer) gray(value float64) color.Gray16 {
	span := v.high - v.low
	if span <= 0 {
		return color.Gray16{}
	}
	n := (value - v.low) / span
	return color.Gray16{Y: uint16(math.Round(math.Max(0, math.Min(1, n)) * 65535))}
}

// axisIndex maps x, y, z onto index axes i, j, k
func axisIndex(axis string) (int, error) {
	switch axis {
	case "x", "X":
		return 0, nil
	case "y", "Y":
		return 1, nil
	case "z", "Z":
		return 2, nil
	}
	return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// ExtractSlice extracts a 2D slice at index position along the given axis.
// An x slice spans (k, j), a y slice (i, k) and a z slice (i, j).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	a, err := axisIndex(axis)
	if err != nil {
		return nil, err
	}
	dims := v.volume.Dimensions
	if position < 0 || position >= dims[a] {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, dims[a], axis)
	}

	var img *image.Gray16
	switch a {
	case 0:
		img = image.NewGray16(image.Rect(0, 0, dims[2], dims[1]))
		for j := 0; j < dims[1]; j++ {
			for k := 0; k < dims[2]; k++ {
				img.SetGray16(k, j, v.gray(v.volume.Value(position, j, k)))
			}
		}
	case 1:
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[2]))
		for k := 0; k < dims[2]; k++ {
			for i := 0; i < dims[0]; i++ {
				img.SetGray16(i, k, v.gray(v.volume.Value(i, position, k)))
			}
		}
	case 2:
		img = image.NewGray16(image.Rect(0, 0, dims[0], dims[1]))
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				img.SetGray16(i, j, v.gray(v.volume.Value(i, j, position)))
			}
		}
	}
	return img, nil
}

// ExtractRegion copies the voxels inside an index-space box, i fastest.
// Bounds are inclusive and clamped to the grid; the returned size is the
// voxel count along each axis.
func (v *Viewer) ExtractRegion(b cropping.Bounds) ([]float64, [3]int, error) {
	dims := v.volume.Dimensions
	var lo, size [3]int
	for a := 0; a < 3; a++ {
		first := int(math.Max(0, math.Ceil(b[2*a])))
		last := int(math.Min(float64(dims[a]-1), math.Floor(b[2*a+1])))
		if last < first {
			return nil, [3]int{}, fmt.Errorf("region [%g, %g] along axis %d selects no voxels", b[2*a], b[2*a+1], a)
		}
		lo[a], size[a] = first, last-first+1
	}

	region := make([]float64, 0, size[0]*size[1]*size[2])
	for k := lo[2]; k < lo[2]+size[2]; k++ {
		for j := lo[1]; j < lo[1]+size[1]; j++ {
			for i := lo[0]; i < lo[0]+size[0]; i++ {
				region = append(region, v.volume.Value(i, j, k))
			}
		}
	}
	return region, size, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	a, err := axisIndex(axis)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	n := v.volume.Dimensions[a]
	for pos := 0; pos < n; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}
	logging.Infof("saved %d %s slices of volume %s to %s", n, axis, v.volume.ID, outputDir)
	return nil
}
