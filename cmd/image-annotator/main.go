package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	annotator "github.com/menta2k/image-annotator"
	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/logger"
)

func main() {
	var configPath, outDir, labelsFile, backend, model, url, prompt, policy, viewport, logLevel string
	var minConf float64
	var maxRegions int
	var cropAspect string
	var overlays, crops, verbose, jsonMode, resuggest, writeConfig, showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (yaml or json); defaults to "+config.GetConfigPath()+" when present")
	flag.StringVar(&outDir, "out", "", "output directory for documents and overlays")
	flag.StringVar(&labelsFile, "labels", "", "CSV label table mapping codes to display names")
	flag.StringVar(&backend, "backend", "", "suggestion backend: ollama|llamacpp|saliency (empty disables suggestions)")
	flag.StringVar(&model, "model", "", "model name for the ollama and llamacpp backends")
	flag.StringVar(&url, "url", "", "server URL (defaults: ollama="+"http://localhost:11434, llamacpp=http://localhost:8080)")
	flag.StringVar(&prompt, "prompt", "", "override the detection prompt")
	flag.StringVar(&policy, "layout", "", "layout policy: fit|match")
	flag.StringVar(&viewport, "viewport", "", "viewport size as WIDTHxHEIGHT, e.g. 1280x720")
	flag.Float64Var(&minConf, "minconf", -1, "drop suggestions below this confidence (0..1)")
	flag.IntVar(&maxRegions, "max", -1, "maximum suggestions per image, 0=unlimited")
	flag.BoolVar(&overlays, "overlays", false, "write images with their regions drawn on them")
	flag.BoolVar(&crops, "crops", false, "write every region as its own image, grouped by label")
	flag.StringVar(&cropAspect, "crop-aspect", "", "widen crops to an aspect ratio: square|portrait|landscape|widescreen|W:H")
	flag.BoolVar(&jsonMode, "json", false, "ask ollama for JSON-formatted replies")
	flag.BoolVar(&resuggest, "resuggest", false, "also suggest regions for images that already have some")
	flag.StringVar(&logLevel, "log", "", "log level: info|debug|trace")
	flag.BoolVar(&verbose, "verbose", false, "verbose logging")
	flag.BoolVar(&writeConfig, "write-config", false, "write the effective configuration to -config and exit")
	flag.BoolVar(&showVersion, "version", false, "print the version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] image|document|dir|URL ...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if showVersion {
		fmt.Println(annotator.GetVersion())
		return
	}

	log := logger.New(logger.WithPrefix("[image-annotator] "))

	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal("%v", err)
	}

	// Flags override the file
	if outDir != "" {
		cfg.Output.OutputDir = outDir
	}
	if labelsFile != "" {
		cfg.Labels.File = labelsFile
	}
	if backend != "" {
		cfg.Detection.Backend = backend
	}
	if model != "" {
		cfg.Detection.Model = model
	}
	if url != "" {
		cfg.Detection.URL = url
	}
	if prompt != "" {
		cfg.Detection.Prompt = prompt
	}
	if policy != "" {
		cfg.Layout.Policy = policy
	}
	if viewport != "" {
		w, h, err := parseViewport(viewport)
		if err != nil {
			log.Fatal("%v", err)
		}
		cfg.Layout.ViewportWidth, cfg.Layout.ViewportHeight = w, h
	}
	if minConf >= 0 {
		cfg.Detection.MinConfidence = minConf
	}
	if maxRegions >= 0 {
		cfg.Detection.MaxRegions = maxRegions
	}
	if overlays {
		cfg.Output.Overlays = true
	}
	if crops {
		cfg.Output.Crops = true
	}
	if cropAspect != "" {
		cfg.Output.CropAspect = cropAspect
	}
	if jsonMode {
		cfg.Detection.JSONMode = true
	}
	if resuggest {
		cfg.Detection.SkipAnnotated = false
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose {
		cfg.Log.Verbose = true
	}

	log.SetLevel(logger.ParseLevel(cfg.Log.Level))
	log.SetVerbose(cfg.Log.Verbose)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration: %v", err)
	}

	if writeConfig {
		path := configPath
		if path == "" {
			path = config.GetConfigPath()
		}
		if err := cfg.SaveToFile(path); err != nil {
			log.Fatal("%v", err)
		}
		log.Info("wrote %s", path)
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := annotator.New(cfg, annotator.WithLogger(log))
	if err != nil {
		log.Fatal("%v", err)
	}

	if err := a.Load(ctx, flag.Args()); err != nil {
		log.Warn("some inputs were skipped")
	}
	if a.Session().Len() == 0 {
		log.Fatal("nothing to annotate")
	}

	if n, err := a.Suggest(ctx); err != nil {
		log.Warn("suggestions incomplete: %d regions added", n)
	} else if cfg.Detection.Backend != "" {
		log.Info("added %d suggested regions", n)
	}

	written, err := a.WriteDocuments()
	if err != nil {
		log.Fatal("%v", err)
	}
	if len(written) == 0 {
		log.Info("no regions to export")
	}
	for _, path := range written {
		log.Info("wrote %s", path)
	}

	if cfg.Output.Overlays {
		paths, err := a.WriteOverlays()
		if err != nil {
			log.Error("%v", err)
		}
		for _, path := range paths {
			log.Info("wrote %s", path)
		}
	}

	if cfg.Output.Crops {
		if _, err := a.WriteCrops(); err != nil {
			log.Error("%v", err)
		}
	}
}

// loadConfig reads path, or the default config file when it exists, on top
// of the defaults
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.GetConfigPath()
		if !utils.FileExists(path) {
			return config.Default(), nil
		}
	}
	return config.LoadFromFile(path)
}

func parseViewport(s string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &w, &h); err != nil || w < 1 || h < 1 {
		return 0, 0, fmt.Errorf("invalid viewport %q, want WIDTHxHEIGHT", s)
	}
	return w, h, nil
}
