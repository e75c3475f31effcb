// Package datasets provides the augmentation dataset: for each case it loads
// an image (and optional mask) volume, applies the configured transform
// sequence, and returns the ordered, named transform results for both
// branches.
//
// The dataset uses lazy loading - it stores file paths and only reads volumes
// when a case is requested, minimizing memory usage. Case outputs are built
// fresh per request and are not cached; the pipeline consumes them in a
// single pass.
package datasets

import "github.com/gomlx/gomlx/pkg/core/tensors"

// Result is one named transform output: the transform's resolved name paired
// with the transformed tensor.
type Result struct {
	Name   string
	Tensor *tensors.Tensor
}

// CaseOutput holds the transform results for one case. Images and Masks are
// ordered by the transform configuration list; Masks is empty when the case
// has no mask. The two lists may differ in length, so consumers pair entries
// by index only up to len(Masks).
type CaseOutput struct {
	Images []Result
	Masks  []Result
}

// Dataset is the contract the batch driver requires from a case source.
type Dataset interface {
	Len() int
	Case(idx int) (CaseOutput, error)
}
