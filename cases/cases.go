// Package cases discovers image/mask pairs on disk and resolves each case's
// output identity. It feeds the augmentation dataset with two parallel,
// index-aligned path lists.
package cases

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Structure describes how cases are laid out under the input directory.
type Structure string

const (
	// StructureFlat keeps all files in one directory; the case name is the
	// file name without extensions.
	StructureFlat Structure = "flat"
	// StructureHierarchical keeps one directory per case; the case name is
	// the directory name.
	StructureHierarchical Structure = "hierarchical"
)

// ParseStructure validates a structure selector.
func ParseStructure(s string) (Structure, error) {
	switch Structure(strings.ToLower(strings.TrimSpace(s))) {
	case StructureFlat, "":
		return StructureFlat, nil
	case StructureHierarchical:
		return StructureHierarchical, nil
	}
	return "", errors.Errorf("unknown files structure %q (want %q or %q)", s, StructureFlat, StructureHierarchical)
}

// Collect walks inputPath and returns sorted lists of image and mask file
// paths, matched by filename prefix. Masks are optional: with an empty
// maskPrefix, or no matching files, the returned mask list is empty.
func Collect(inputPath, imgPrefix, maskPrefix string) (imgs, masks []string, err error) {
	if imgPrefix == "" {
		return nil, nil, errors.New("image prefix must not be empty")
	}
	err = filepath.WalkDir(inputPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		switch {
		case strings.HasPrefix(base, imgPrefix):
			imgs = append(imgs, path)
		case maskPrefix != "" && strings.HasPrefix(base, maskPrefix):
			masks = append(masks, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "collecting cases under %q", inputPath)
	}
	sort.Strings(imgs)
	sort.Strings(masks)
	return imgs, masks, nil
}

// Validate rejects a collected case list the engine must never see: no images
// at all, or masks present but not matching the images one-to-one.
func Validate(imgs, masks []string) error {
	if len(imgs) == 0 {
		return errors.New("no images found: check the input path and image prefix")
	}
	if len(masks) > 0 && len(masks) != len(imgs) {
		return errors.Errorf("found %d images but %d masks: masks must match images one-to-one or be absent", len(imgs), len(masks))
	}
	return nil
}

// Original resolves a case's canonical output identity from its image path:
// the case name used in output directories and preview node names, and the
// path of the original, untransformed source file whose metadata is
// propagated onto outputs.
func Original(imgPath string, structure Structure) (caseName, srcPath string) {
	if structure == StructureHierarchical {
		return filepath.Base(filepath.Dir(imgPath)), imgPath
	}
	return stripExtensions(filepath.Base(imgPath)), imgPath
}

// stripExtensions removes the full extension chain, so "ct.nii.gz" becomes
// "ct".
func stripExtensions(name string) string {
	for {
		ext := filepath.Ext(name)
		if ext == "" || ext == name {
			return name
		}
		name = strings.TrimSuffix(name, ext)
	}
}
