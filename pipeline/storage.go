package pipeline

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"volaug/volume"
)

// outputSubdir is created under the output root so augmented results never
// mingle with whatever else lives there.
const outputSubdir = "volaug"

// DirStore persists results as one directory per case per transform name:
//
//	<root>/volaug/<caseName>/<transformName>/<prefix>.<ext>
//
// File names come from the configured image/mask prefixes; a prefix may embed
// its extension ("img.nii"), otherwise the codec's default extension is used.
// Source volume metadata is propagated onto each written file.
type DirStore struct {
	Root       string
	ImgPrefix  string
	MaskPrefix string
	Codec      volume.Codec
}

var _ Storage = (*DirStore)(nil)

// Save writes the image (and mask, when given) for one case/transform unit.
func (s *DirStore) Save(caseName, transformName string, img, mask *tensors.Tensor, srcImg, srcMask *volume.Volume) error {
	dir := filepath.Join(s.Root, outputSubdir, caseName, transformName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating output directory %q", dir)
	}

	imgPath := filepath.Join(dir, s.fileName(s.ImgPrefix))
	if err := s.Codec.Write(imgPath, img, srcMeta(srcImg)); err != nil {
		return errors.WithMessagef(err, "saving image for case %q transform %q", caseName, transformName)
	}
	klog.V(2).Infof("saved %q", imgPath)

	if mask != nil {
		maskPath := filepath.Join(dir, s.fileName(s.MaskPrefix))
		if err := s.Codec.Write(maskPath, mask, srcMeta(srcMask)); err != nil {
			return errors.WithMessagef(err, "saving mask for case %q transform %q", caseName, transformName)
		}
		klog.V(2).Infof("saved %q", maskPath)
	}
	return nil
}

// fileName splits a configured prefix into base name and extension, falling
// back to the codec's default extension.
func (s *DirStore) fileName(prefix string) string {
	base, ext, ok := strings.Cut(prefix, ".")
	if !ok || ext == "" {
		ext = s.Codec.Extension()
	}
	if base == "" {
		base = "out"
	}
	return base + "." + ext
}

func srcMeta(src *volume.Volume) volume.Meta {
	if src == nil {
		return nil
	}
	return src.Meta.Clone()
}
