// Package volume provides the in-memory representation of a loaded
// image/mask volume and the loader that decodes volumes from disk.
//
// Absence is a normal, representable state here: a missing, empty or
// undecodable path loads as a nil *Volume, never as an error. The
// augmentation engine treats a nil volume as "skip this branch" for the case.
package volume

import (
	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"k8s.io/klog/v2"

	"volaug/telemetry"
)

// Meta holds the header fields of a decoded volume, kept verbatim so they can
// be propagated onto transformed outputs at persistence time.
type Meta map[string]string

// Clone returns an independent copy of the metadata.
func (m Meta) Clone() Meta {
	if m == nil {
		return nil
	}
	out := make(Meta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Volume is an immutable loaded volume: a float32 tensor plus the source
// header metadata and the path it was decoded from. Transforms produce new
// tensors; they never touch Data in place.
type Volume struct {
	Data *tensors.Tensor
	Meta Meta
	Path string
}

// Codec decodes and encodes one on-disk volume container format.
type Codec interface {
	// Read decodes the file at path into a float32 tensor and its header
	// metadata.
	Read(path string) (*tensors.Tensor, Meta, error)
	// Write encodes the tensor at path, propagating the given metadata.
	Write(path string, t *tensors.Tensor, meta Meta) error
	// Extension is the default file extension, without the dot.
	Extension() string
}

// Loader decodes volumes through a codec. It has no hidden state: loading the
// same path twice yields value-equal volumes.
type Loader struct {
	codec Codec
}

// NewLoader creates a Loader over the given codec.
func NewLoader(codec Codec) *Loader {
	return &Loader{codec: codec}
}

// Load decodes the volume at path. It returns nil for an empty path and for
// any decode failure; it never returns an error or panics.
func (l *Loader) Load(path string) *Volume {
	if path == "" {
		return nil
	}
	data, meta, err := l.codec.Read(path)
	if err != nil {
		telemetry.LoadFailures.Inc()
		klog.Errorf("failed to load volume %q: %v", path, err)
		return nil
	}
	klog.V(2).Infof("loaded volume %q (%s)", path, humanize.Bytes(uint64(4*data.Size())))
	return &Volume{Data: data, Meta: meta, Path: path}
}

// AnyNonZero reports whether the tensor contains at least one non-zero voxel.
// It is used to skip persisting masks that came out entirely empty.
func AnyNonZero(t *tensors.Tensor) bool {
	any := false
	err := exceptions.TryCatch[error](func() {
		tensors.ConstFlatData[float32](t, func(flat []float32) {
			for _, v := range flat {
				if v != 0 {
					any = true
					return
				}
			}
		})
	})
	if err != nil {
		// Non-float32 tensors do not occur in this pipeline; treat as non-trivial.
		return true
	}
	return any
}
