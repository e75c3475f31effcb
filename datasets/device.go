package datasets

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Device identifies where tensors live for the whole pipeline run: host
// memory, or one accelerator selected by index.
type Device struct {
	Accelerator bool
	Index       int
}

func (d Device) String() string {
	if !d.Accelerator {
		return "CPU"
	}
	return fmt.Sprintf("GPU %d", d.Index)
}

var deviceIndexRe = regexp.MustCompile(`\d+`)

// ParseDevice parses a device selector: the literal "CPU", or a
// provider-specific accelerator string containing the device index, such as
// "GPU 0 - NVIDIA A100".
func ParseDevice(s string) (Device, error) {
	if strings.EqualFold(strings.TrimSpace(s), "CPU") {
		return Device{}, nil
	}
	match := deviceIndexRe.FindString(s)
	if match == "" {
		return Device{}, errors.Errorf("device selector %q has no device index", s)
	}
	idx, err := strconv.Atoi(match)
	if err != nil {
		return Device{}, errors.Wrapf(err, "device selector %q", s)
	}
	return Device{Accelerator: true, Index: idx}, nil
}

// Placer moves a tensor onto the pipeline's device. The dataset places each
// loaded tensor exactly once, before the first transform touches it.
type Placer interface {
	Place(t *tensors.Tensor) *tensors.Tensor
}

type hostPlacer struct{}

func (hostPlacer) Place(t *tensors.Tensor) *tensors.Tensor { return t }

// HostPlacer returns the identity placer: tensors stay in host memory.
// Accelerator placement is the executing backend's concern.
func HostPlacer() Placer { return hostPlacer{} }
