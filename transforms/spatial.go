package transforms

import (
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Flip reverses a volume along one axis.
type Flip struct {
	Axis int
}

func (f Flip) TransformInfo() Info { return Info{Class: "Flip"} }

func (f Flip) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	if err := checkAxis(dims, f.Axis); err != nil {
		return nil, err
	}
	return tensors.FromFlatDataAndDimensions(flipAxis(flat, dims, f.Axis), dims...), nil
}

// Rotate90 rotates a volume by Times*90 degrees in the plane spanned by the
// two axes. Times defaults to a single rotation.
type Rotate90 struct {
	Times int
	Axes  [2]int
}

func (r Rotate90) TransformInfo() Info { return Info{Class: "Rotate90"} }

func (r Rotate90) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	return rotateTimes(flat, dims, r.Axes, r.Times)
}

func rotateTimes(flat []float32, dims []int, axes [2]int, times int) (*tensors.Tensor, error) {
	if err := checkAxis(dims, axes[0]); err != nil {
		return nil, err
	}
	if err := checkAxis(dims, axes[1]); err != nil {
		return nil, err
	}
	k := times
	if k == 0 {
		k = 1
	}
	k = ((k % 4) + 4) % 4
	for range k {
		flat, dims = rot90(flat, dims, axes[0], axes[1])
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), nil
}

// RandFlip flips a volume along one axis with probability Prob.
type RandFlip struct {
	Prob float64
	Axis int
	rng  *rand.Rand
}

// NewRandFlip creates a RandFlip with its own seeded random source.
func NewRandFlip(prob float64, axis int, seed int64) *RandFlip {
	return &RandFlip{Prob: prob, Axis: axis, rng: rand.New(rand.NewSource(seed))}
}

func (f *RandFlip) TransformInfo() Info { return Info{Class: "RandFlip"} }

func (f *RandFlip) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	if f.rng.Float64() >= f.Prob {
		return t, nil
	}
	return Flip{Axis: f.Axis}.Apply(t)
}

// ApplyJoint draws the flip decision once and applies it to every tensor.
func (f *RandFlip) ApplyJoint(data map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	do := f.rng.Float64() < f.Prob
	out := make(map[string]*tensors.Tensor, len(data))
	for key, t := range data {
		if !do {
			out[key] = t
			continue
		}
		flipped, err := (Flip{Axis: f.Axis}).Apply(t)
		if err != nil {
			return nil, err
		}
		out[key] = flipped
	}
	return out, nil
}

// RandRotate90 rotates a volume by a random multiple of 90 degrees (between 1
// and MaxTimes quarter turns) with probability Prob.
type RandRotate90 struct {
	Prob     float64
	MaxTimes int
	Axes     [2]int
	rng      *rand.Rand
}

// NewRandRotate90 creates a RandRotate90 with its own seeded random source.
func NewRandRotate90(prob float64, maxTimes int, axes [2]int, seed int64) *RandRotate90 {
	if maxTimes <= 0 {
		maxTimes = 3
	}
	return &RandRotate90{Prob: prob, MaxTimes: maxTimes, Axes: axes, rng: rand.New(rand.NewSource(seed))}
}

func (r *RandRotate90) TransformInfo() Info { return Info{Class: "RandRotate90"} }

func (r *RandRotate90) draw() int {
	if r.rng.Float64() >= r.Prob {
		return 0
	}
	return 1 + r.rng.Intn(r.MaxTimes)
}

func (r *RandRotate90) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	k := r.draw()
	if k == 0 {
		return t, nil
	}
	flat, dims, err := tensorData(t)
	if err != nil {
		return nil, err
	}
	return rotateTimes(flat, dims, r.Axes, k)
}

// ApplyJoint draws the number of quarter turns once and applies it to every
// tensor.
func (r *RandRotate90) ApplyJoint(data map[string]*tensors.Tensor) (map[string]*tensors.Tensor, error) {
	k := r.draw()
	out := make(map[string]*tensors.Tensor, len(data))
	for key, t := range data {
		if k == 0 {
			out[key] = t
			continue
		}
		flat, dims, err := tensorData(t)
		if err != nil {
			return nil, err
		}
		rotated, err := rotateTimes(flat, dims, r.Axes, k)
		if err != nil {
			return nil, err
		}
		out[key] = rotated
	}
	return out, nil
}
