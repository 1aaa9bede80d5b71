package models

import "math"

// Precision selects the sample type of a volume's scalar buffer
type Precision int

const (
	// Float32Precision stores samples as single-precision floats
	Float32Precision Precision = iota

	// Uint8Precision stores samples as bytes
	Uint8Precision
)

// ScalarData is the dense sample buffer of a volume.
// Index i addresses sample i in (i fastest, then j, then k) order,
// with multi-component samples interleaved.
type ScalarData interface {
	Len() int
	At(i int) float64
	Set(i int, v float64)
	BytesPerSample() int
}

// Float32Scalars is a single-precision scalar buffer
type Float32Scalars []float32

func (s Float32Scalars) Len() int             { return len(s) }
func (s Float32Scalars) At(i int) float64     { return float64(s[i]) }
func (s Float32Scalars) Set(i int, v float64) { s[i] = float32(v) }
func (s Float32Scalars) BytesPerSample() int  { return 4 }

// Uint8Scalars is a byte scalar buffer. Set rounds and clamps to [0, 255].
type Uint8Scalars []uint8

func (s Uint8Scalars) Len() int         { return len(s) }
func (s Uint8Scalars) At(i int) float64 { return float64(s[i]) }
func (s Uint8Scalars) Set(i int, v float64) {
	s[i] = uint8(math.Max(0, math.Min(255, math.Round(v))))
}
func (s Uint8Scalars) BytesPerSample() int { return 1 }

// NewScalarData allocates a zeroed buffer of n samples
func NewScalarData(p Precision, n int) ScalarData {
	switch p {
	case Uint8Precision:
		return make(Uint8Scalars, n)
	default:
		return make(Float32Scalars, n)
	}
}

// Scaling holds the modality rescale applied to stored samples
type Scaling struct {
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
}

// Apply rescales a stored sample value
func (s *Scaling) Apply(v float64) float64 {
	if s == nil {
		return v
	}
	return v*s.Slope + s.Intercept
}
