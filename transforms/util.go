package transforms

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// tensorData copies a tensor's flat float32 data and dimensions. Transforms
// work on the copy, so the input tensor is never mutated.
func tensorData(t *tensors.Tensor) ([]float32, []int, error) {
	shape := t.Shape()
	dims := append([]int(nil), shape.Dimensions...)
	var flat []float32
	err := exceptions.TryCatch[error](func() {
		tensors.ConstFlatData[float32](t, func(data []float32) {
			flat = make([]float32, len(data))
			copy(flat, data)
		})
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "transform requires a float32 tensor, got shape %s", shape)
	}
	return flat, dims, nil
}

// rowMajorStrides returns the stride of each axis for a row-major layout,
// the last axis being the fastest varying.
func rowMajorStrides(dims []int) []int {
	strides := make([]int, len(dims))
	stride := 1
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= dims[i]
	}
	return strides
}

func checkAxis(dims []int, axis int) error {
	if axis < 0 || axis >= len(dims) {
		return errors.Errorf("axis %d out of range for a rank-%d volume", axis, len(dims))
	}
	return nil
}

// flipAxis reverses the data along one axis.
func flipAxis(flat []float32, dims []int, axis int) []float32 {
	out := make([]float32, len(flat))
	strides := rowMajorStrides(dims)
	st := strides[axis]
	n := dims[axis]
	for i, v := range flat {
		idx := (i / st) % n
		out[i+(n-1-2*idx)*st] = v
	}
	return out
}

// swapAxes transposes two axes, returning the new data and dimensions.
func swapAxes(flat []float32, dims []int, a, b int) ([]float32, []int) {
	newDims := append([]int(nil), dims...)
	newDims[a], newDims[b] = newDims[b], newDims[a]
	oldStrides := rowMajorStrides(dims)
	newStrides := rowMajorStrides(newDims)
	out := make([]float32, len(flat))
	for i, v := range flat {
		j := 0
		rem := i
		for ax := range dims {
			c := rem / oldStrides[ax]
			rem %= oldStrides[ax]
			target := ax
			if ax == a {
				target = b
			} else if ax == b {
				target = a
			}
			j += c * newStrides[target]
		}
		out[j] = v
	}
	return out, newDims
}

// rot90 rotates the data by 90 degrees in the plane spanned by axes a and b.
func rot90(flat []float32, dims []int, a, b int) ([]float32, []int) {
	return swapAxes(flipAxis(flat, dims, b), dims, a, b)
}
