// Package pipeline drives a batch augmentation run: it iterates the dataset's
// cases, fans each case's transform results out into per-transform output
// units, and routes them to a storage or display sink.
//
// One runner serves both modes. Process mode traverses every case and is
// fail-fast: the first case error aborts the batch, accepting partial output
// on disk. Preview mode truncates the input to a single case to bound
// interactive cost, and is best-effort: per-case errors are logged and the
// batch continues.
package pipeline

import (
	"fmt"
	"time"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"volaug/cases"
	"volaug/datasets"
	"volaug/telemetry"
	"volaug/transforms"
	"volaug/volume"
)

// Mode selects the runner's traversal and error policy.
type Mode int

const (
	// ModeProcess persists every case's results; any case error aborts the
	// batch.
	ModeProcess Mode = iota
	// ModePreview stages the first case's results for display; case errors
	// are logged and skipped.
	ModePreview
)

func (m Mode) String() string {
	if m == ModePreview {
		return "preview"
	}
	return "process"
}

// Storage persists one per-case, per-transform output unit. mask is nil when
// the case has no mask result at this position or the mask came out trivial.
// srcImg and srcMask carry the original volumes whose metadata is propagated;
// either may be nil if the source could not be re-read.
type Storage interface {
	Save(caseName, transformName string, img, mask *tensors.Tensor, srcImg, srcMask *volume.Volume) error
}

// Display stages one tensor for interactive inspection under a deterministic
// node name.
type Display interface {
	Show(nodeName string, t *tensors.Tensor, src *volume.Volume) error
}

// Progress reports one increment per completed case, 1-based, against the
// case count.
type Progress func(done, total int)

// Completion receives the single human-readable end-of-run message.
type Completion func(msg string)

// Params configures a runner. Images and Masks are the full, index-aligned
// case lists; the runner constructs the dataset itself, truncating to the
// first case in preview mode.
type Params struct {
	Images     []string
	Masks      []string
	Transforms []transforms.Transform
	Device     datasets.Device
	Loader     *volume.Loader
	Structure  cases.Structure
	Mode       Mode
	Storage    Storage
	Display    Display
	Progress   Progress
	OnComplete Completion
}

// Runner iterates the dataset and routes results to the configured sinks.
type Runner struct {
	p  Params
	ds datasets.Dataset
}

// NewRunner builds the dataset for the given mode and returns the runner.
func NewRunner(p Params) *Runner {
	imgs, masks := p.Images, p.Masks
	if p.Mode == ModePreview {
		// Preview is bounded to a single case regardless of input size.
		if len(imgs) > 1 {
			imgs = imgs[:1]
		}
		if len(masks) > 1 {
			masks = masks[:1]
		}
	}
	return &Runner{
		p:  p,
		ds: datasets.NewAugment(imgs, masks, p.Transforms, p.Device, p.Loader),
	}
}

// Dataset returns the dataset the runner iterates.
func (r *Runner) Dataset() datasets.Dataset { return r.ds }

// Run traverses the cases sequentially. In process mode the first case error
// is returned and the remaining cases are never attempted. In preview mode
// case errors are logged and the run continues; Run then returns nil.
// The completion callback always fires on a finished traversal, reporting the
// elapsed wall-clock time.
func (r *Runner) Run() error {
	start := time.Now()
	total := r.ds.Len()
	klog.V(1).Infof("%s run started: %d case(s), device %s", r.p.Mode, total, r.p.Device)

	for idx := 0; idx < total; idx++ {
		if err := r.runCase(idx); err != nil {
			if r.p.Mode == ModeProcess {
				return errors.WithMessagef(err, "aborting batch at case %d", idx)
			}
			klog.Errorf("preview: skipping case %d: %v", idx, err)
			continue
		}
		telemetry.CasesProcessed.Inc()
		if r.p.Progress != nil {
			r.p.Progress(idx+1, total)
		}
	}

	msg := fmt.Sprintf("Processing completed in %.2f seconds", time.Since(start).Seconds())
	klog.Info(msg)
	if r.p.OnComplete != nil {
		r.p.OnComplete(msg)
	}
	return nil
}

// runCase converts panics escaping an opaque transform into errors, so the
// preview policy can survive them.
func (r *Runner) runCase(idx int) error {
	var caseErr error
	if err := exceptions.TryCatch[error](func() { caseErr = r.processCase(idx) }); err != nil {
		return errors.WithMessagef(err, "case %d panicked", idx)
	}
	return caseErr
}

func (r *Runner) processCase(idx int) error {
	out, err := r.ds.Case(idx)
	if err != nil {
		return err
	}

	caseName, srcPath := cases.Original(r.p.Images[idx], r.p.Structure)
	srcImg := r.p.Loader.Load(srcPath)
	var srcMask *volume.Volume
	if len(out.Masks) > 0 && idx < len(r.p.Masks) {
		srcMask = r.p.Loader.Load(r.p.Masks[idx])
	}

	for i, img := range out.Images {
		var mask *datasets.Result
		if i < len(out.Masks) {
			mask = &out.Masks[i]
		}

		if r.p.Mode == ModePreview {
			if err := r.p.Display.Show(fmt.Sprintf("%s_%s_img", caseName, img.Name), img.Tensor, srcImg); err != nil {
				return err
			}
			if mask != nil {
				if err := r.p.Display.Show(fmt.Sprintf("%s_%s_mask", caseName, mask.Name), mask.Tensor, srcMask); err != nil {
					return err
				}
			}
			continue
		}

		// An entirely empty mask carries no information worth persisting.
		var maskTensor *tensors.Tensor
		if srcMask != nil && mask != nil && volume.AnyNonZero(mask.Tensor) {
			maskTensor = mask.Tensor
		}
		if err := r.p.Storage.Save(caseName, img.Name, img.Tensor, maskTensor, srcImg, srcMask); err != nil {
			return err
		}
	}
	return nil
}
