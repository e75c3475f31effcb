package volume

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// NRRD is a minimal codec for the NRRD volume container: a text header
// followed by a blank line and the raw or gzip-compressed voxel data.
// Unrecognized header fields are preserved in Meta and written back out, so
// orientation and spacing information survives the pipeline.
type NRRD struct{}

const nrrdMagic = "NRRD000"

// Header fields the codec owns; everything else is passthrough metadata.
var nrrdOwnedFields = map[string]bool{
	"type":      true,
	"dimension": true,
	"sizes":     true,
	"endian":    true,
	"encoding":  true,
}

func (NRRD) Extension() string { return "nrrd" }

// Read decodes an NRRD file into a float32 tensor. short and uchar volumes
// are converted to float32.
func (NRRD) Read(path string) (*tensors.Tensor, Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "opening %q", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	magic, err := r.ReadString('\n')
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading NRRD magic from %q", path)
	}
	if !strings.HasPrefix(magic, nrrdMagic) {
		return nil, nil, errors.Errorf("%q is not an NRRD file", path)
	}

	meta := make(Meta)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, nil, errors.Wrapf(err, "reading NRRD header of %q", path)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, nil, errors.Errorf("malformed NRRD header line %q in %q", line, path)
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	dims, err := nrrdSizes(meta)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "parsing NRRD header of %q", path)
	}
	if endian, ok := meta["endian"]; ok && endian != "little" {
		return nil, nil, errors.Errorf("unsupported NRRD endian %q in %q", endian, path)
	}

	var data io.Reader = r
	switch meta["encoding"] {
	case "raw":
	case "gzip", "gz":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "opening gzip data of %q", path)
		}
		defer gz.Close()
		data = gz
	default:
		return nil, nil, errors.Errorf("unsupported NRRD encoding %q in %q", meta["encoding"], path)
	}

	total := 1
	for _, d := range dims {
		total *= d
	}
	flat, err := readVoxels(data, meta["type"], total)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "reading voxel data of %q", path)
	}
	return tensors.FromFlatDataAndDimensions(flat, dims...), meta, nil
}

func nrrdSizes(meta Meta) ([]int, error) {
	dimension, err := strconv.Atoi(meta["dimension"])
	if err != nil {
		return nil, errors.Errorf("bad dimension field %q", meta["dimension"])
	}
	fields := strings.Fields(meta["sizes"])
	if len(fields) != dimension {
		return nil, errors.Errorf("sizes %q does not match dimension %d", meta["sizes"], dimension)
	}
	dims := make([]int, dimension)
	for i, field := range fields {
		d, err := strconv.Atoi(field)
		if err != nil || d <= 0 {
			return nil, errors.Errorf("bad size %q", field)
		}
		dims[i] = d
	}
	return dims, nil
}

func readVoxels(r io.Reader, dtype string, total int) ([]float32, error) {
	switch dtype {
	case "float", "float32":
		flat := make([]float32, total)
		if err := binary.Read(r, binary.LittleEndian, flat); err != nil {
			return nil, err
		}
		return flat, nil
	case "short", "int16":
		raw := make([]int16, total)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, err
		}
		flat := make([]float32, total)
		for i, v := range raw {
			flat[i] = float32(v)
		}
		return flat, nil
	case "uchar", "uint8":
		raw := make([]uint8, total)
		if err := binary.Read(r, binary.LittleEndian, raw); err != nil {
			return nil, err
		}
		flat := make([]float32, total)
		for i, v := range raw {
			flat[i] = float32(v)
		}
		return flat, nil
	default:
		return nil, errors.Errorf("unsupported NRRD type %q", dtype)
	}
}

// Write encodes a float32 tensor as a gzip NRRD file. Passthrough fields from
// meta are written after the owned header fields, in sorted order.
func (NRRD) Write(path string, t *tensors.Tensor, meta Meta) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	dims := t.Shape().Dimensions
	fmt.Fprintln(w, "NRRD0004")
	fmt.Fprintln(w, "type: float")
	fmt.Fprintf(w, "dimension: %d\n", len(dims))
	fmt.Fprintf(w, "sizes: %s\n", joinInts(dims))
	fmt.Fprintln(w, "endian: little")
	fmt.Fprintln(w, "encoding: gzip")

	keys := make([]string, 0, len(meta))
	for key := range meta {
		if !nrrdOwnedFields[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(w, "%s: %s\n", key, meta[key])
	}
	fmt.Fprintln(w)

	gz := gzip.NewWriter(w)
	var writeErr error
	err = exceptions.TryCatch[error](func() {
		tensors.ConstFlatData[float32](t, func(flat []float32) {
			buf := make([]byte, 4*len(flat))
			for i, v := range flat {
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
			}
			_, writeErr = gz.Write(buf)
		})
	})
	if err == nil {
		err = writeErr
	}
	if err != nil {
		return errors.Wrapf(err, "encoding %q", path)
	}
	if err := gz.Close(); err != nil {
		return errors.Wrapf(err, "flushing gzip data of %q", path)
	}
	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "flushing %q", path)
	}
	return nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, " ")
}
