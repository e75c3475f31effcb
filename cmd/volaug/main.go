// Command volaug augments a dataset of paired 3D image/mask volumes by
// applying a configured transform sequence to every case, writing one output
// directory per case per transform, or staging single-case previews.
package main

import (
	"flag"
	"fmt"

	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"volaug/cases"
	"volaug/config"
	"volaug/datasets"
	"volaug/pipeline"
	"volaug/telemetry"
	"volaug/volume"
)

func main() {
	configPath := flag.String("config", "volaug.yaml", "Path to the run configuration file")
	initConfig := flag.Bool("init-config", false, "Write a starter configuration file and exit")
	mode := flag.String("mode", "process", "Run mode: process (persist all cases) or preview (first case only)")
	input := flag.String("input", "", "Override the configured input directory")
	output := flag.String("output", "", "Override the configured output directory")
	device := flag.String("device", "", "Override the configured device selector")
	klog.InitFlags(nil)
	flag.Parse()

	if *initConfig {
		must.M(config.Save(config.DefaultConfig(), *configPath))
		fmt.Printf("Wrote starter configuration to %s\n", *configPath)
		return
	}

	cfg := must.M1(config.Load(*configPath))
	if *input != "" {
		cfg.Input = *input
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *device != "" {
		cfg.Device = *device
	}
	if cfg.Input == "" {
		klog.Exitf("no input directory configured; set input in %s or pass -input", *configPath)
	}

	var runMode pipeline.Mode
	switch *mode {
	case "process":
		runMode = pipeline.ModeProcess
	case "preview":
		runMode = pipeline.ModePreview
	default:
		klog.Exitf("unknown mode %q (want process or preview)", *mode)
	}

	dev := must.M1(datasets.ParseDevice(cfg.Device))
	structure := must.M1(cases.ParseStructure(cfg.Structure))
	transformList := must.M1(cfg.BuildTransforms())

	imgs, masks, err := cases.Collect(cfg.Input, cfg.ImgPrefix, cfg.MaskPrefix)
	if err != nil {
		klog.Exitf("collecting cases: %v", err)
	}
	if err := cases.Validate(imgs, masks); err != nil {
		klog.Exitf("invalid case list: %v", err)
	}

	if cfg.MetricsPort > 0 {
		telemetry.Expose(cfg.MetricsPort)
	}

	total := len(imgs)
	if runMode == pipeline.ModePreview && total > 1 {
		total = 1
	}
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("augmenting"),
		progressbar.OptionShowCount(),
	)

	codec := volume.NRRD{}
	runner := pipeline.NewRunner(pipeline.Params{
		Images:     imgs,
		Masks:      masks,
		Transforms: transformList,
		Device:     dev,
		Loader:     volume.NewLoader(codec),
		Structure:  structure,
		Mode:       runMode,
		Storage: &pipeline.DirStore{
			Root:       cfg.Output,
			ImgPrefix:  cfg.ImgPrefix,
			MaskPrefix: cfg.MaskPrefix,
			Codec:      codec,
		},
		Display: pipeline.NewRegistry(cfg.PreviewDir),
		Progress: func(done, total int) {
			_ = bar.Set(done)
		},
		OnComplete: func(msg string) {
			fmt.Println()
			fmt.Println(msg)
		},
	})
	if err := runner.Run(); err != nil {
		klog.Exitf("run failed: %v", err)
	}
}
