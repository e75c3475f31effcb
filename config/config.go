// Package config loads the augmentation run configuration from a YAML file
// merged with environment variables, and maps the configured transform
// options into instantiated transform objects.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	pkgerrors "github.com/pkg/errors"
	yamlv3 "gopkg.in/yaml.v3"

	"volaug/transforms"
)

// TransformSpec selects one transform by name plus its parameters. Unused
// parameters for a given transform are ignored.
type TransformSpec struct {
	Name      string  `koanf:"name" yaml:"name"`
	Prob      float64 `koanf:"prob" yaml:"prob,omitempty"`
	Axis      int     `koanf:"axis" yaml:"axis,omitempty"`
	Axes      []int   `koanf:"axes" yaml:"axes,omitempty,flow"`
	Times     int     `koanf:"times" yaml:"times,omitempty"`
	MaxTimes  int     `koanf:"max_times" yaml:"max_times,omitempty"`
	Min       float64 `koanf:"min" yaml:"min,omitempty"`
	Max       float64 `koanf:"max" yaml:"max,omitempty"`
	Offset    float64 `koanf:"offset" yaml:"offset,omitempty"`
	MaxOffset float64 `koanf:"max_offset" yaml:"max_offset,omitempty"`
	Gamma     float64 `koanf:"gamma" yaml:"gamma,omitempty"`
	Mean      float64 `koanf:"mean" yaml:"mean,omitempty"`
	Std       float64 `koanf:"std" yaml:"std,omitempty"`
}

// Config is the full run configuration.
type Config struct {
	Input       string          `koanf:"input" yaml:"input"`
	Output      string          `koanf:"output" yaml:"output"`
	ImgPrefix   string          `koanf:"img_prefix" yaml:"img_prefix"`
	MaskPrefix  string          `koanf:"mask_prefix" yaml:"mask_prefix"`
	Structure   string          `koanf:"structure" yaml:"structure"`
	Device      string          `koanf:"device" yaml:"device"`
	Seed        int64           `koanf:"seed" yaml:"seed,omitempty"`
	PreviewDir  string          `koanf:"preview_dir" yaml:"preview_dir,omitempty"`
	MetricsPort int             `koanf:"metrics_port" yaml:"metrics_port,omitempty"`
	Transforms  []TransformSpec `koanf:"transforms" yaml:"transforms"`
}

// Load merges the YAML file at path (if present) with `VOLAUG__`-prefixed
// environment variables, and fills in defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	_ = k.Load(env.Provider("VOLAUG__", "__", nil), nil)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(c *Config) {
	if c.ImgPrefix == "" {
		c.ImgPrefix = "img"
	}
	if c.Structure == "" {
		c.Structure = "flat"
	}
	if c.Device == "" {
		c.Device = "CPU"
	}
	if c.Seed == 0 {
		c.Seed = time.Now().UnixNano()
	}
}

// DefaultConfig returns a configuration with a small example transform list,
// suitable for writing out as a starter config file.
func DefaultConfig() Config {
	cfg := Config{
		Input:      "data",
		Output:     "out",
		ImgPrefix:  "img",
		MaskPrefix: "mask",
		Structure:  "hierarchical",
		Device:     "CPU",
		Transforms: []TransformSpec{
			{Name: "randFlip", Prob: 0.5, Axis: 0},
			{Name: "normalizeIntensity"},
		},
	}
	applyDefaults(&cfg)
	return cfg
}

// Save writes the configuration as YAML, creating the parent directory if
// needed.
func Save(cfg Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return pkgerrors.Wrap(err, "creating config directory")
	}
	data, err := yamlv3.Marshal(cfg)
	if err != nil {
		return pkgerrors.Wrap(err, "marshaling config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return pkgerrors.Wrap(err, "writing config file")
	}
	return nil
}

// BuildTransforms instantiates the configured transform list, in order.
// Randomizable transforms get per-position seeds derived from the run seed,
// so a run is reproducible given its configuration.
func (c Config) BuildTransforms() ([]transforms.Transform, error) {
	out := make([]transforms.Transform, 0, len(c.Transforms))
	for i, spec := range c.Transforms {
		t, err := buildTransform(spec, c.Seed+int64(i))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func buildTransform(spec TransformSpec, seed int64) (transforms.Transform, error) {
	prob := spec.Prob
	if prob == 0 {
		prob = 0.5
	}
	axes := [2]int{0, 1}
	if len(spec.Axes) >= 2 {
		axes = [2]int{spec.Axes[0], spec.Axes[1]}
	}

	switch strings.ToLower(spec.Name) {
	case "flip":
		return transforms.Flip{Axis: spec.Axis}, nil
	case "rotate90":
		return transforms.Rotate90{Times: spec.Times, Axes: axes}, nil
	case "scaleintensity":
		lo, hi := spec.Min, spec.Max
		if lo == 0 && hi == 0 {
			hi = 1
		}
		return transforms.ScaleIntensity{Min: float32(lo), Max: float32(hi)}, nil
	case "shiftintensity":
		return transforms.ShiftIntensity{Offset: float32(spec.Offset)}, nil
	case "normalizeintensity":
		return transforms.NormalizeIntensity{}, nil
	case "adjustcontrast":
		gamma := spec.Gamma
		if gamma == 0 {
			gamma = 1
		}
		return transforms.AdjustContrast{Gamma: gamma}, nil
	case "randflip":
		return transforms.NewRandFlip(prob, spec.Axis, seed), nil
	case "randrotate90":
		return transforms.NewRandRotate90(prob, spec.MaxTimes, axes, seed), nil
	case "randgaussiannoise":
		return transforms.NewRandGaussianNoise(prob, spec.Mean, spec.Std, seed), nil
	case "randshiftintensity":
		maxOffset := spec.MaxOffset
		if maxOffset == 0 {
			maxOffset = spec.Offset
		}
		return transforms.NewRandShiftIntensity(prob, maxOffset, seed), nil
	}
	return nil, pkgerrors.Errorf("unknown transform %q", spec.Name)
}
