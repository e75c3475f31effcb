package pipeline

import (
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"volaug/volume"
)

// Registry is the bundled Display sink: it keeps every shown tensor under its
// node name, in insertion order, for interactive inspection. With RenderDir
// set it additionally renders a mid-slice grayscale PNG per node, so previews
// can be eyeballed without a viewer attached.
type Registry struct {
	RenderDir string

	order []string
	nodes map[string]*tensors.Tensor
}

var _ Display = (*Registry)(nil)

// NewRegistry creates a display registry. renderDir may be empty to disable
// PNG rendering.
func NewRegistry(renderDir string) *Registry {
	return &Registry{
		RenderDir: renderDir,
		nodes:     make(map[string]*tensors.Tensor),
	}
}

// Show registers the tensor under nodeName, replacing any previous tensor
// with the same name.
func (r *Registry) Show(nodeName string, t *tensors.Tensor, src *volume.Volume) error {
	if _, seen := r.nodes[nodeName]; !seen {
		r.order = append(r.order, nodeName)
	}
	r.nodes[nodeName] = t
	klog.V(1).Infof("staged preview node %q", nodeName)
	if r.RenderDir == "" {
		return nil
	}
	if err := os.MkdirAll(r.RenderDir, 0o755); err != nil {
		return errors.Wrapf(err, "creating preview directory %q", r.RenderDir)
	}
	return renderMidSlice(t, filepath.Join(r.RenderDir, nodeName+".png"))
}

// Names returns the registered node names in insertion order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Node returns the tensor registered under name, or nil.
func (r *Registry) Node(name string) *tensors.Tensor {
	return r.nodes[name]
}

// maxPreviewEdge bounds rendered previews; larger slices are fitted down.
const maxPreviewEdge = 512

// renderMidSlice renders the central 2D slice of a volume as a grayscale PNG.
// Higher-rank volumes are sliced at the midpoint of each leading axis until
// two axes remain.
func renderMidSlice(t *tensors.Tensor, path string) error {
	var flat []float32
	err := exceptions.TryCatch[error](func() {
		tensors.ConstFlatData[float32](t, func(data []float32) {
			flat = append(flat, data...)
		})
	})
	if err != nil {
		return errors.Wrap(err, "rendering preview")
	}
	dims := append([]int(nil), t.Shape().Dimensions...)
	if len(dims) < 2 {
		return errors.Errorf("cannot render a rank-%d volume as an image", len(dims))
	}
	for len(dims) > 2 {
		stride := 1
		for _, d := range dims[1:] {
			stride *= d
		}
		mid := dims[0] / 2
		flat = flat[mid*stride : (mid+1)*stride]
		dims = dims[1:]
	}

	h, w := dims[0], dims[1]
	lo, hi := flat[0], flat[0]
	for _, v := range flat {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	gray := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := flat[y*w+x]
			var g uint8
			if span > 0 {
				g = uint8((v - lo) / span * 255)
			}
			gray.SetGray(x, y, color.Gray{Y: g})
		}
	}

	img := imaging.Fit(gray, maxPreviewEdge, maxPreviewEdge, imaging.Lanczos)
	if err := imaging.Save(img, path); err != nil {
		return errors.Wrapf(err, "writing preview %q", path)
	}
	return nil
}
