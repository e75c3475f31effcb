package datasets

import (
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"volaug/telemetry"
	"volaug/transforms"
	"volaug/volume"
)

// Augment applies a configured transform sequence to paired image/mask
// volumes. Image and mask path lists share an index space; a case without a
// mask has no entry (or an empty entry) in maskPaths.
//
// Per case, each transform contributes results according to its kind:
//
//   - randomizable, image+mask present: one joint application over both,
//     sharing the random draw, appending to both output lists at
//     corresponding positions.
//   - randomizable, image only: one application to the image alone.
//   - deterministic: applied independently to whichever of image and mask is
//     present - two separate applications when both are, with no shared
//     parameters.
//
// Transforms always receive the originally loaded (and placed) tensor, so
// results are per-transform variants of the source, not a chain.
type Augment struct {
	imgPaths   []string
	maskPaths  []string
	transforms []transforms.Classified
	device     Device
	loader     *volume.Loader
	placer     Placer
}

var _ Dataset = (*Augment)(nil)

// NewAugment creates the augmentation dataset. The transform list is
// classified here, once, so the per-case application branches are fixed at
// construction time.
func NewAugment(imgPaths, maskPaths []string, list []transforms.Transform, device Device, loader *volume.Loader) *Augment {
	return &Augment{
		imgPaths:   imgPaths,
		maskPaths:  maskPaths,
		transforms: transforms.ClassifyAll(list),
		device:     device,
		loader:     loader,
		placer:     HostPlacer(),
	}
}

// WithPlacer overrides the device placer. The default keeps tensors in host
// memory.
func (d *Augment) WithPlacer(p Placer) *Augment {
	d.placer = p
	return d
}

// Device returns the device every returned tensor is placed on.
func (d *Augment) Device() Device { return d.device }

// Len returns the number of cases.
func (d *Augment) Len() int { return len(d.imgPaths) }

// Case loads the case at idx and applies the transform sequence. A volume
// that fails to load is absent: its branch is skipped, the other branch still
// runs. Transform application errors propagate to the caller.
func (d *Augment) Case(idx int) (CaseOutput, error) {
	var out CaseOutput
	if idx < 0 || idx >= len(d.imgPaths) {
		return out, errors.Errorf("case index %d out of range [0, %d)", idx, len(d.imgPaths))
	}

	img := d.loader.Load(d.imgPaths[idx])
	var mask *volume.Volume
	if idx < len(d.maskPaths) {
		mask = d.loader.Load(d.maskPaths[idx])
	}
	if img == nil && mask == nil {
		klog.V(1).Infof("case %d: no loadable volumes, skipping all transforms", idx)
		return out, nil
	}

	var imgT, maskT *tensors.Tensor
	if img != nil {
		imgT = d.placer.Place(img.Data)
	}
	if mask != nil {
		maskT = d.placer.Place(mask.Data)
	}

	for _, ct := range d.transforms {
		switch ct.Kind {
		case transforms.KindRandomizable:
			if imgT == nil {
				continue
			}
			data := map[string]*tensors.Tensor{transforms.KeyImage: imgT}
			if maskT != nil {
				data[transforms.KeyMask] = maskT
			}
			res, err := ct.Rand.ApplyJoint(data)
			if err != nil {
				return out, errors.Wrapf(err, "case %d: applying %s", idx, ct.Name)
			}
			telemetry.TransformApplications.WithLabelValues(ct.Kind.String()).Inc()
			out.Images = append(out.Images, Result{Name: ct.Name, Tensor: res[transforms.KeyImage]})
			if maskT != nil {
				out.Masks = append(out.Masks, Result{Name: ct.Name, Tensor: res[transforms.KeyMask]})
			}

		case transforms.KindDeterministic:
			if imgT != nil {
				r, err := ct.Det.Apply(imgT)
				if err != nil {
					return out, errors.Wrapf(err, "case %d: applying %s to image", idx, ct.Name)
				}
				telemetry.TransformApplications.WithLabelValues(ct.Kind.String()).Inc()
				out.Images = append(out.Images, Result{Name: ct.Name, Tensor: r})
			}
			if maskT != nil {
				r, err := ct.Det.Apply(maskT)
				if err != nil {
					return out, errors.Wrapf(err, "case %d: applying %s to mask", idx, ct.Name)
				}
				telemetry.TransformApplications.WithLabelValues(ct.Kind.String()).Inc()
				out.Masks = append(out.Masks, Result{Name: ct.Name, Tensor: r})
			}
		}
	}
	return out, nil
}
