package models

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

const tolerance = 1e-9

func vecClose(a, b r3.Vec) bool {
	return r3.Norm(r3.Sub(a, b)) < tolerance
}

// TestNewVolume verifies that buffers are allocated to match the dimensions
func TestNewVolume(t *testing.T) {
	v, err := NewVolume("test:ct", [3]int{4, 3, 2}, [3]float64{1, 1, 2}, [3]float64{}, IdentityDirection, Float32Precision)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}

	if v.ScalarData.Len() != 24 {
		t.Errorf("Expected 24 samples, got %d", v.ScalarData.Len())
	}
	if v.SizeInBytes != 96 {
		t.Errorf("Expected 96 bytes, got %d", v.SizeInBytes)
	}
	if err := v.Validate(); err != nil {
		t.Errorf("Expected valid volume, got %v", err)
	}

	u, err := NewVolume("test:mask", [3]int{4, 3, 2}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Uint8Precision)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	if u.SizeInBytes != 24 {
		t.Errorf("Expected 24 bytes for byte volume, got %d", u.SizeInBytes)
	}

	if _, err := NewVolume("bad", [3]int{0, 1, 1}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Float32Precision); err == nil {
		t.Error("Expected error for zero dimension")
	}
	if _, err := NewVolume("bad", [3]int{1, 1, 1}, [3]float64{1, 0, 1}, [3]float64{}, IdentityDirection, Float32Precision); err == nil {
		t.Error("Expected error for zero spacing")
	}
}

// TestValidateBufferLength verifies the sample count invariant, including multi-component data
func TestValidateBufferLength(t *testing.T) {
	v := &Volume{
		ID:            "rgb",
		Dimensions:    [3]int{2, 2, 2},
		Spacing:       [3]float64{1, 1, 1},
		Direction:     IdentityDirection,
		NumComponents: 3,
		ScalarData:    make(Uint8Scalars, 24),
	}
	if err := v.Validate(); err != nil {
		t.Errorf("Expected 3-component volume to be valid, got %v", err)
	}

	v.ScalarData = make(Uint8Scalars, 8)
	if err := v.Validate(); err == nil {
		t.Error("Expected error for short buffer")
	}
}

// TestIndexToWorld verifies origin, spacing and direction are applied in order
func TestIndexToWorld(t *testing.T) {
	t.Run("Identity", func(t *testing.T) {
		v, _ := NewVolume("id", [3]int{11, 11, 11}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Float32Precision)
		got := v.IndexToWorld(r3.Vec{X: 10, Y: 10, Z: 10})
		if !vecClose(got, r3.Vec{X: 10, Y: 10, Z: 10}) {
			t.Errorf("Expected (10,10,10), got %v", got)
		}
	})

	t.Run("SpacingAndOrigin", func(t *testing.T) {
		v, _ := NewVolume("so", [3]int{8, 8, 8}, [3]float64{0.5, 2, 3}, [3]float64{-10, 5, 1}, IdentityDirection, Float32Precision)
		got := v.IndexToWorld(r3.Vec{X: 2, Y: 1, Z: 1})
		want := r3.Vec{X: -9, Y: 7, Z: 4}
		if !vecClose(got, want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})

	t.Run("RotatedAboutZ", func(t *testing.T) {
		// index i runs along world +Y, index j along world -X
		dir := [9]float64{0, 1, 0, -1, 0, 0, 0, 0, 1}
		v, _ := NewVolume("rot", [3]int{8, 8, 8}, [3]float64{2, 1, 1}, [3]float64{1, 1, 1}, dir, Float32Precision)
		got := v.IndexToWorld(r3.Vec{X: 1, Y: 3, Z: 0})
		want := r3.Vec{X: 1 - 3, Y: 1 + 2, Z: 1}
		if !vecClose(got, want) {
			t.Errorf("Expected %v, got %v", want, got)
		}
	})
}

// TestWorldToIndex verifies the inverse mapping round-trips
func TestWorldToIndex(t *testing.T) {
	c, s := math.Cos(0.3), math.Sin(0.3)
	dir := [9]float64{c, s, 0, -s, c, 0, 0, 0, 1}
	v, _ := NewVolume("rt", [3]int{16, 16, 16}, [3]float64{0.7, 0.9, 2.5}, [3]float64{-100, 40, 12}, dir, Float32Precision)

	index := r3.Vec{X: 3.5, Y: 7, Z: 11.25}
	back, err := v.WorldToIndex(v.IndexToWorld(index))
	if err != nil {
		t.Fatalf("WorldToIndex failed: %v", err)
	}
	if !vecClose(back, index) {
		t.Errorf("Expected %v, got %v", index, back)
	}

	v.Direction = [9]float64{1, 0, 0, 1, 0, 0, 0, 0, 1}
	if _, err := v.WorldToIndex(r3.Vec{}); err == nil {
		t.Error("Expected error for singular direction")
	}
}

// TestMergeSlab verifies slab bookkeeping and the immutable loaded state
func TestMergeSlab(t *testing.T) {
	v, _ := NewVolume("slab", [3]int{2, 2, 3}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Float32Precision)

	if v.Loaded() {
		t.Fatal("New volume should not be loaded")
	}

	if err := v.MergeSlab(Slab{K0: 1, Depth: 2, Data: []float64{1, 2, 3, 4, 5, 6, 7, 8}}); err != nil {
		t.Fatalf("Failed to merge slab: %v", err)
	}
	if v.LoadedSlices() != 2 {
		t.Errorf("Expected 2 loaded slices, got %d", v.LoadedSlices())
	}
	if got := v.Value(1, 1, 2); got != 8 {
		t.Errorf("Expected value 8 at (1,1,2), got %f", got)
	}
	if got := v.Value(0, 0, 0); got != 0 {
		t.Errorf("Expected unloaded voxel to be 0, got %f", got)
	}

	if err := v.MergeSlab(Slab{K0: 0, Depth: 1, Data: []float64{1, 2, 3}}); err == nil {
		t.Error("Expected error for short slab")
	}
	if err := v.MergeSlab(Slab{K0: 2, Depth: 2, Data: make([]float64, 8)}); err == nil {
		t.Error("Expected error for slab past the last slice")
	}

	if err := v.MergeSlab(Slab{K0: 0, Depth: 1, Data: []float64{9, 9, 9, 9}}); err != nil {
		t.Fatalf("Failed to merge final slab: %v", err)
	}
	if !v.Loaded() {
		t.Error("Expected volume to be loaded")
	}
	if v.Progress() != 1 {
		t.Errorf("Expected progress 1, got %f", v.Progress())
	}

	err := v.MergeSlab(Slab{K0: 0, Depth: 1, Data: []float64{0, 0, 0, 0}})
	if !errors.Is(err, ErrVolumeLoaded) {
		t.Errorf("Expected ErrVolumeLoaded, got %v", err)
	}
}

// TestStats verifies rescaled statistics
func TestStats(t *testing.T) {
	v, _ := NewVolume("stats", [3]int{2, 2, 1}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Uint8Precision)
	v.Scaling = &Scaling{Slope: 2, Intercept: -10}
	if err := v.MergeSlab(Slab{K0: 0, Depth: 1, Data: []float64{0, 10, 20, 30}}); err != nil {
		t.Fatalf("Failed to merge slab: %v", err)
	}

	s := v.Stats()
	if s.Min != -10 || s.Max != 50 {
		t.Errorf("Expected range [-10, 50], got [%f, %f]", s.Min, s.Max)
	}
	if math.Abs(s.Mean-20) > tolerance {
		t.Errorf("Expected mean 20, got %f", s.Mean)
	}
	if s.StdDev <= 0 {
		t.Errorf("Expected positive standard deviation, got %f", s.StdDev)
	}
}

// TestUint8Clamp verifies byte buffers round and clamp
func TestUint8Clamp(t *testing.T) {
	s := make(Uint8Scalars, 3)
	s.Set(0, -4)
	s.Set(1, 300)
	s.Set(2, 41.6)
	if s[0] != 0 || s[1] != 255 || s[2] != 42 {
		t.Errorf("Expected [0 255 42], got %v", []uint8(s))
	}
}

// TestFootprint verifies declared size takes precedence over the measured one
func TestFootprint(t *testing.T) {
	v, _ := NewVolume("fp", [3]int{10, 10, 10}, [3]float64{1, 1, 1}, [3]float64{}, IdentityDirection, Float32Precision)
	if v.Footprint() != 4000 {
		t.Errorf("Expected declared footprint 4000, got %d", v.Footprint())
	}

	v.SizeInBytes = 0
	if v.Footprint() < 4000 {
		t.Errorf("Expected measured footprint of at least 4000, got %d", v.Footprint())
	}
}
