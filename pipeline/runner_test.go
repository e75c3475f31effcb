package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volaug/cases"
	"volaug/datasets"
	"volaug/transforms"
	"volaug/volume"
)

// fakeDataset scripts per-case outcomes so traversal policy can be tested
// without touching disk.
type fakeDataset struct {
	outs   []datasets.CaseOutput
	errs   []error
	panics []bool
}

func (f *fakeDataset) Len() int { return len(f.outs) }

func (f *fakeDataset) Case(idx int) (datasets.CaseOutput, error) {
	if len(f.panics) > idx && f.panics[idx] {
		panic(errors.New("synthetic transform failure"))
	}
	if len(f.errs) > idx && f.errs[idx] != nil {
		return datasets.CaseOutput{}, f.errs[idx]
	}
	return f.outs[idx], nil
}

type savedUnit struct {
	caseName, transformName string
	hasMask                 bool
}

type recordingStore struct {
	saved []savedUnit
}

func (r *recordingStore) Save(caseName, transformName string, img, mask *tensors.Tensor, srcImg, srcMask *volume.Volume) error {
	r.saved = append(r.saved, savedUnit{caseName, transformName, mask != nil})
	return nil
}

type recordingDisplay struct {
	nodes []string
}

func (r *recordingDisplay) Show(nodeName string, t *tensors.Tensor, src *volume.Volume) error {
	r.nodes = append(r.nodes, nodeName)
	return nil
}

func scalarResult(name string, v float32) datasets.Result {
	return datasets.Result{Name: name, Tensor: tensors.FromFlatDataAndDimensions([]float32{v}, 1)}
}

func testParams(mode Mode, imgs []string) Params {
	return Params{
		Images: imgs,
		Mode:   mode,
		Loader: volume.NewLoader(volume.NRRD{}),
	}
}

func TestRunProcessAbortsOnFirstFailure(t *testing.T) {
	ds := &fakeDataset{
		outs: []datasets.CaseOutput{
			{Images: []datasets.Result{scalarResult("Flip", 1)}},
			{},
			{Images: []datasets.Result{scalarResult("Flip", 3)}},
		},
		errs: []error{nil, errors.New("unreadable voxels"), nil},
	}
	store := &recordingStore{}
	p := testParams(ModeProcess, []string{"a/img1.nrrd", "a/img2.nrrd", "a/img3.nrrd"})
	p.Storage = store
	var ticks int
	p.Progress = func(done, total int) { ticks++ }

	r := &Runner{p: p, ds: ds}
	err := r.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "aborting batch at case 1")
	assert.Contains(t, err.Error(), "unreadable voxels")

	// Case 0 was persisted before the abort; case 2 was never attempted.
	require.Len(t, store.saved, 1)
	assert.Equal(t, "img1", store.saved[0].caseName)
	assert.Equal(t, 1, ticks)
}

func TestRunPreviewContinuesPastFailures(t *testing.T) {
	ds := &fakeDataset{
		outs: []datasets.CaseOutput{
			{Images: []datasets.Result{scalarResult("Flip", 1)}},
			{},
			{Images: []datasets.Result{scalarResult("Flip", 3)}},
		},
		errs: []error{nil, errors.New("unreadable voxels"), nil},
	}
	display := &recordingDisplay{}
	p := testParams(ModePreview, []string{"a/img1.nrrd", "a/img2.nrrd", "a/img3.nrrd"})
	p.Display = display

	r := &Runner{p: p, ds: ds}
	require.NoError(t, r.Run())
	assert.Equal(t, []string{"img1_Flip_img", "img3_Flip_img"}, display.nodes)
}

func TestRunPreviewSurvivesPanickingCase(t *testing.T) {
	ds := &fakeDataset{
		outs: []datasets.CaseOutput{
			{},
			{Images: []datasets.Result{scalarResult("Flip", 2)}},
		},
		panics: []bool{true, false},
	}
	display := &recordingDisplay{}
	p := testParams(ModePreview, []string{"a/img1.nrrd", "a/img2.nrrd"})
	p.Display = display

	r := &Runner{p: p, ds: ds}
	require.NoError(t, r.Run())
	assert.Equal(t, []string{"img2_Flip_img"}, display.nodes)
}

func TestRunProcessReportsPanickingCase(t *testing.T) {
	ds := &fakeDataset{
		outs:   []datasets.CaseOutput{{}},
		panics: []bool{true},
	}
	p := testParams(ModeProcess, []string{"a/img1.nrrd"})
	p.Storage = &recordingStore{}

	r := &Runner{p: p, ds: ds}
	err := r.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case 0 panicked")
}

func TestNewRunnerPreviewTruncatesToOneCase(t *testing.T) {
	imgs := make([]string, 5)
	masks := make([]string, 5)
	for i := range imgs {
		imgs[i] = fmt.Sprintf("img%d.nrrd", i)
		masks[i] = fmt.Sprintf("mask%d.nrrd", i)
	}
	p := testParams(ModePreview, imgs)
	p.Masks = masks
	r := NewRunner(p)
	assert.Equal(t, 1, r.Dataset().Len())

	p = testParams(ModeProcess, imgs)
	p.Masks = masks
	r = NewRunner(p)
	assert.Equal(t, 5, r.Dataset().Len())
}

func TestRunEndToEndProcess(t *testing.T) {
	tmp := t.TempDir()
	codec := volume.NRRD{}
	imgPath := filepath.Join(tmp, "img_ct.nrrd")
	maskPath := filepath.Join(tmp, "mask_ct.nrrd")
	img := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	mask := tensors.FromFlatDataAndDimensions([]float32{0, 1, 1, 0}, 2, 2)
	require.NoError(t, codec.Write(imgPath, img, nil))
	require.NoError(t, codec.Write(maskPath, mask, nil))

	store := &recordingStore{}
	var completion string
	r := NewRunner(Params{
		Images:     []string{imgPath},
		Masks:      []string{maskPath},
		Transforms: []transforms.Transform{transforms.Flip{Axis: 0}, transforms.ShiftIntensity{Offset: 1}},
		Loader:     volume.NewLoader(codec),
		Structure:  cases.StructureFlat,
		Mode:       ModeProcess,
		Storage:    store,
		OnComplete: func(msg string) { completion = msg },
	})
	require.NoError(t, r.Run())

	require.Len(t, store.saved, 2)
	assert.Equal(t, savedUnit{"img_ct", "Flip", true}, store.saved[0])
	assert.Equal(t, savedUnit{"img_ct", "ShiftIntensity", true}, store.saved[1])
	assert.Regexp(t, regexp.MustCompile(`^Processing completed in \d+\.\d{2} seconds$`), completion)
}

func TestRunProcessSkipsTrivialMask(t *testing.T) {
	tmp := t.TempDir()
	codec := volume.NRRD{}
	imgPath := filepath.Join(tmp, "img_ct.nrrd")
	maskPath := filepath.Join(tmp, "mask_ct.nrrd")
	img := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	empty := tensors.FromFlatDataAndDimensions(make([]float32, 4), 2, 2)
	require.NoError(t, codec.Write(imgPath, img, nil))
	require.NoError(t, codec.Write(maskPath, empty, nil))

	store := &recordingStore{}
	r := NewRunner(Params{
		Images:     []string{imgPath},
		Masks:      []string{maskPath},
		Transforms: []transforms.Transform{transforms.Flip{Axis: 0}},
		Loader:     volume.NewLoader(codec),
		Structure:  cases.StructureFlat,
		Mode:       ModeProcess,
		Storage:    store,
	})
	require.NoError(t, r.Run())

	require.Len(t, store.saved, 1)
	assert.False(t, store.saved[0].hasMask, "an all-zero mask must not be persisted")
}

func TestRunPreviewNodeNames(t *testing.T) {
	tmp := t.TempDir()
	codec := volume.NRRD{}
	imgPath := filepath.Join(tmp, "img_ct.nii.gz.nrrd")
	maskPath := filepath.Join(tmp, "mask_ct.nrrd")
	img := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	mask := tensors.FromFlatDataAndDimensions([]float32{0, 1, 0, 1}, 2, 2)
	require.NoError(t, codec.Write(imgPath, img, nil))
	require.NoError(t, codec.Write(maskPath, mask, nil))

	display := &recordingDisplay{}
	r := NewRunner(Params{
		Images:     []string{imgPath},
		Masks:      []string{maskPath},
		Transforms: []transforms.Transform{transforms.Flip{Axis: 1}},
		Loader:     volume.NewLoader(codec),
		Structure:  cases.StructureFlat,
		Mode:       ModePreview,
		Display:    display,
	})
	require.NoError(t, r.Run())

	// Flat structure strips the whole extension chain from the case name.
	assert.Equal(t, []string{"img_ct_Flip_img", "img_ct_Flip_mask"}, display.nodes)
}
