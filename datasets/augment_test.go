package datasets

import (
	"path/filepath"
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"

	"volaug/transforms"
	"volaug/volume"
)

// writeVolume writes an NRRD test volume and returns its path.
func writeVolume(t *testing.T, dir, name string, values []float32, dims ...int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	tensor := tensors.FromFlatDataAndDimensions(values, dims...)
	if err := (volume.NRRD{}).Write(path, tensor, nil); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func flatOf(t *testing.T, tensor *tensors.Tensor) []float32 {
	t.Helper()
	var out []float32
	if err := exceptions.TryCatch[error](func() {
		tensors.ConstFlatData[float32](tensor, func(d []float32) {
			out = append(out, d...)
		})
	}); err != nil {
		t.Fatalf("reading tensor data: %v", err)
	}
	return out
}

// countingDet is a deterministic transform that counts its applications.
type countingDet struct {
	applied int
}

func (c *countingDet) Apply(t *tensors.Tensor) (*tensors.Tensor, error) {
	c.applied++
	return t, nil
}

func (c *countingDet) TransformInfo() transforms.Info {
	return transforms.Info{Class: "counting"}
}

func newLoader() *volume.Loader { return volume.NewLoader(volume.NRRD{}) }

func TestCaseMixedKindsWithMask(t *testing.T) {
	tmp := t.TempDir()
	img := writeVolume(t, tmp, "img.nrrd", []float32{1, 2, 3, 4}, 2, 2)
	mask := writeVolume(t, tmp, "mask.nrrd", []float32{0, 1, 1, 0}, 2, 2)

	// Flip always fires, so image/mask correspondence is observable.
	list := []transforms.Transform{
		transforms.NewRandFlip(1.0, 0, 11),
		transforms.NormalizeIntensity{},
	}
	ds := NewAugment([]string{img}, []string{mask}, list, Device{}, newLoader())

	if ds.Len() != 1 {
		t.Fatalf("expected 1 case, got %d", ds.Len())
	}
	out, err := ds.Case(0)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}

	if len(out.Images) != 2 || len(out.Masks) != 2 {
		t.Fatalf("expected 2 results per branch, got %d images and %d masks", len(out.Images), len(out.Masks))
	}
	// Results interleave in configuration order, not grouped by kind.
	for i, want := range []string{"RandFlip", "NormalizeIntensity"} {
		if out.Images[i].Name != want {
			t.Fatalf("image result %d named %q, want %q", i, out.Images[i].Name, want)
		}
		if out.Masks[i].Name != want {
			t.Fatalf("mask result %d named %q, want %q", i, out.Masks[i].Name, want)
		}
	}

	// The joint transform must have flipped both image and mask.
	gotImg := flatOf(t, out.Images[0].Tensor)
	gotMask := flatOf(t, out.Masks[0].Tensor)
	wantImg := []float32{3, 4, 1, 2}
	wantMask := []float32{1, 0, 0, 1}
	for i := range wantImg {
		if gotImg[i] != wantImg[i] {
			t.Fatalf("joint flip image mismatch: got %v want %v", gotImg, wantImg)
		}
		if gotMask[i] != wantMask[i] {
			t.Fatalf("joint flip mask mismatch: got %v want %v", gotMask, wantMask)
		}
	}
}

func TestCaseWithoutMask(t *testing.T) {
	tmp := t.TempDir()
	img := writeVolume(t, tmp, "img.nrrd", []float32{1, 2, 3, 4}, 2, 2)

	list := []transforms.Transform{
		transforms.NewRandFlip(1.0, 0, 5),
		transforms.NormalizeIntensity{},
		transforms.NewRandGaussianNoise(1.0, 0, 0.1, 5),
	}
	ds := NewAugment([]string{img}, nil, list, Device{}, newLoader())

	out, err := ds.Case(0)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}
	if len(out.Images) != 3 {
		t.Fatalf("expected 3 image results, got %d", len(out.Images))
	}
	if len(out.Masks) != 0 {
		t.Fatalf("expected no mask results without a mask, got %d", len(out.Masks))
	}
}

func TestDeterministicAppliedIndependently(t *testing.T) {
	tmp := t.TempDir()
	img := writeVolume(t, tmp, "img.nrrd", []float32{1, 2}, 2)
	mask := writeVolume(t, tmp, "mask.nrrd", []float32{0, 1}, 2)

	counter := &countingDet{}
	ds := NewAugment([]string{img}, []string{mask}, []transforms.Transform{counter}, Device{}, newLoader())

	out, err := ds.Case(0)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}
	if len(out.Images) != 1 || len(out.Masks) != 1 {
		t.Fatalf("expected one result per branch, got %d/%d", len(out.Images), len(out.Masks))
	}
	if counter.applied != 2 {
		t.Fatalf("deterministic transform with image+mask must run twice, ran %d times", counter.applied)
	}
}

func TestAllRandomizableCorrespondence(t *testing.T) {
	tmp := t.TempDir()
	img := writeVolume(t, tmp, "img.nrrd", []float32{1, 2, 3, 4}, 2, 2)
	mask := writeVolume(t, tmp, "mask.nrrd", []float32{4, 3, 2, 1}, 2, 2)

	list := []transforms.Transform{
		transforms.NewRandFlip(0.5, 0, 1),
		transforms.NewRandRotate90(0.5, 3, [2]int{0, 1}, 2),
		transforms.NewRandShiftIntensity(0.5, 2, 3),
	}
	ds := NewAugment([]string{img}, []string{mask}, list, Device{}, newLoader())

	out, err := ds.Case(0)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}
	if len(out.Images) != len(list) || len(out.Masks) != len(list) {
		t.Fatalf("all-randomizable run must fill both branches: got %d/%d want %d",
			len(out.Images), len(out.Masks), len(list))
	}
	for i := range out.Images {
		if out.Images[i].Name != out.Masks[i].Name {
			t.Fatalf("result %d names diverge: %q vs %q", i, out.Images[i].Name, out.Masks[i].Name)
		}
	}
}

func TestAbsentImageStillRunsMaskBranch(t *testing.T) {
	tmp := t.TempDir()
	mask := writeVolume(t, tmp, "mask.nrrd", []float32{0, 1}, 2)
	missing := filepath.Join(tmp, "does-not-exist.nrrd")

	counter := &countingDet{}
	list := []transforms.Transform{
		transforms.NewRandFlip(1.0, 0, 1), // randomizable needs an image; must not run
		counter,
	}
	ds := NewAugment([]string{missing}, []string{mask}, list, Device{}, newLoader())

	out, err := ds.Case(0)
	if err != nil {
		t.Fatalf("Case failed: %v", err)
	}
	if len(out.Images) != 0 {
		t.Fatalf("absent image must produce no image results, got %d", len(out.Images))
	}
	if len(out.Masks) != 1 || out.Masks[0].Name != "counting" {
		t.Fatalf("mask branch must still run deterministic transforms, got %+v", out.Masks)
	}
	if counter.applied != 1 {
		t.Fatalf("deterministic transform must run once (mask only), ran %d times", counter.applied)
	}
}

func TestCaseIndexOutOfRange(t *testing.T) {
	ds := NewAugment([]string{"a.nrrd"}, nil, nil, Device{}, newLoader())
	if _, err := ds.Case(5); err == nil {
		t.Fatal("expected an error for an out-of-range case index")
	}
}
