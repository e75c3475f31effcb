package transforms

import (
	"math"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ScaleIntensity linearly rescales voxel values into [Min, Max].
type ScaleIntensity struct {
	Min float32
	Max float32
}

func (s ScaleIntensity) TransformInfo() Info { return Info{Class: "ScaleIntensity"} }

func (s ScaleIntensity) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	if s.Max <= s.Min {
		return nil, errors.Errorf("ScaleIntensity: max (%g) must be greater than min (%g)", s.Max, s.Min)
	}
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	lo, hi := minMax(flat)
	span := hi - lo
	for i, v := range flat {
		if span == 0 {
			flat[i] = s.Min
			continue
		}
		flat[i] = s.Min + (v-lo)/span*(s.Max-s.Min)
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// ShiftIntensity adds a constant offset to every voxel.
type ShiftIntensity struct {
	Offset float32
}

func (s ShiftIntensity) TransformInfo() Info { return Info{Class: "ShiftIntensity"} }

func (s ShiftIntensity) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	for i := range flat {
		flat[i] += s.Offset
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// NormalizeIntensity standardizes voxel values to zero mean and unit variance.
type NormalizeIntensity struct{}

func (NormalizeIntensity) TransformInfo() Info { return Info{Class: "NormalizeIntensity"} }

func (NormalizeIntensity) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(flat))
	for i, v := range flat {
		values[i] = float64(v)
	}
	mean := stat.Mean(values, nil)
	std := stat.StdDev(values, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	for i, v := range values {
		flat[i] = float32((v - mean) / std)
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// AdjustContrast applies gamma correction over the volume's intensity range.
type AdjustContrast struct {
	Gamma float64
}

func (a AdjustContrast) TransformInfo() Info { return Info{Class: "AdjustContrast"} }

func (a AdjustContrast) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	if a.Gamma <= 0 {
		return nil, errors.Errorf("AdjustContrast: gamma must be positive, got %g", a.Gamma)
	}
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	lo, hi := minMax(flat)
	span := hi - lo
	if span > 0 {
		for i, v := range flat {
			norm := float64((v - lo) / span)
			flat[i] = lo + float32(math.Pow(norm, a.Gamma))*span
		}
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// RandGaussianNoise adds gaussian noise with probability Prob. In a joint
// application every tensor receives the identical noise sequence.
type RandGaussianNoise struct {
	Prob float64
	Mean float64
	Std  float64
	rng  *rand.Rand
}

// NewRandGaussianNoise creates a RandGaussianNoise with its own seeded random
// source.
func NewRandGaussianNoise(prob, mean, std float64, seed int64) *RandGaussianNoise {
	if std == 0 {
		std = 0.1
	}
	return &RandGaussianNoise{Prob: prob, Mean: mean, Std: std, rng: rand.New(rand.NewSource(seed))}
}

func (n *RandGaussianNoise) TransformInfo() Info { return Info{Class: "RandGaussianNoise"} }

func (n *RandGaussianNoise) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	if n.rng.Float64() >= n.Prob {
		return t, nil
	}
	return n.addNoise(t, n.rng.Int63())
}

// ApplyJoint draws a single noise seed; tensors of equal size receive
// voxel-for-voxel identical noise.
func (n *RandGaussianNoise) ApplyJoint(data map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	do := n.rng.Float64() < n.Prob
	noiseSeed := n.rng.Int63()
	out := make(map[string]*tensors.Tensor, len(data))
	for key, t := range data {
		if !do {
			out[key] = t
			continue
		}
		noisy, err := n.addNoise(t, noiseSeed)
		if err != nil {
			return nil, err
		}
		out[key] = noisy
	}
	return out, nil
}

func (n *RandGaussianNoise) addNoise(t *tensors.Tensor, seed int64) (*tensors.Tensor, error) {
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	noise := rand.New(rand.NewSource(seed))
	for i := range flat {
		flat[i] += float32(noise.NormFloat64()*n.Std + n.Mean)
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// RandShiftIntensity adds a random offset drawn uniformly from
// [-MaxOffset, MaxOffset] with probability Prob.
type RandShiftIntensity struct {
	Prob      float64
	MaxOffset float64
	rng       *rand.Rand
}

// NewRandShiftIntensity creates a RandShiftIntensity with its own seeded
// random source.
func NewRandShiftIntensity(prob, maxOffset float64, seed int64) *RandShiftIntensity {
	return &RandShiftIntensity{Prob: prob, MaxOffset: maxOffset, rng: rand.New(rand.NewSource(seed))}
}

func (s *RandShiftIntensity) TransformInfo() Info { return Info{Class: "RandShiftIntensity"} }

func (s *RandShiftIntensity) draw() (float32, bool) {
	if s.rng.Float64() >= s.Prob {
		return 0, false
	}
	return float32((s.rng.Float64()*2 - 1) * s.MaxOffset), true
}

func (s *RandShiftIntensity) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	offset, do := s.draw()
	if !do {
		return t, nil
	}
	return ShiftIntensity{Offset: offset}.Apply(t)
}

// ApplyJoint draws the offset once and applies it to every tensor.
func (s *RandShiftIntensity) ApplyJoint(data map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	offset, do := s.draw()
	out := make(map[string]*tensors.Tensor, len(data))
	for key, t := range data {
		if !do {
			out[key] = t
			continue
		}
		shifted, err := (ShiftIntensity{Offset: offset}).Apply(t)
		if err != nil {
			return nil, err
		}
		out[key] = shifted
	}
	return out, nil
}

func minMax(flat []float32) (lo, hi float32) {
	if len(flat) == 0 {
		return 0, 0
	}
	lo, hi = flat[0], flat[0]
	for _, v := range flat[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
