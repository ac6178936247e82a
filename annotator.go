// Package annotator draws labelled rectangles over images and reads and
// writes them as LabelMe documents.
//
// Basic usage:
//
//	package main
//
//	import (
//		"context"
//		"log"
//
//		annotator "github.com/menta2k/image-annotator"
//		"github.com/menta2k/image-annotator/internal/config"
//	)
//
//	func main() {
//		cfg := config.Default()
//		cfg.Detection.Backend = "saliency"
//
//		a, err := annotator.New(cfg)
//		if err != nil {
//			log.Fatal(err)
//		}
//		if err := a.Load(context.Background(), []string{"photos/"}); err != nil {
//			log.Print(err)
//		}
//		if _, err := a.Suggest(context.Background()); err != nil {
//			log.Print(err)
//		}
//		if _, err := a.WriteDocuments(); err != nil {
//			log.Fatal(err)
//		}
//	}
//
// The package wires together the pieces under pkg/:
//
// 1. Geometry (pkg/geometry): display/image coordinate transforms and layout
// 2. Annotation (pkg/annotation): regions and per-image collections
// 3. LabelMe (pkg/labelme): the JSON document format
// 4. Session (pkg/session): ordered files, navigation and concurrent loading
// 5. Detection (pkg/detection, pkg/vision): region suggestions from a vision
// model or from saliency analysis
//
// Image space is authoritative: a region's display rectangle is always
// derived from its image rectangle and the current scale, so re-laying out
// an image any number of times never moves its regions.
package annotator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/menta2k/image-annotator/internal/config"
	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/cropper"
	"github.com/menta2k/image-annotator/pkg/detection"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
	"github.com/menta2k/image-annotator/pkg/labels"
	"github.com/menta2k/image-annotator/pkg/llamacpp"
	"github.com/menta2k/image-annotator/pkg/logger"
	"github.com/menta2k/image-annotator/pkg/ollama"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/session"
	"github.com/menta2k/image-annotator/pkg/types"
	"github.com/menta2k/image-annotator/pkg/vision"
)

// Version of the image annotator library
const Version = "1.0.0"

// Annotator runs a batch annotation session from a configuration
type Annotator struct {
	cfg       *config.Config
	log       *logger.Logger
	processor *processing.Processor
	loader    *session.Loader
	session   *session.Session
	labels    *labels.Table
	suggester *detection.Suggester
	images    map[*annotation.Collection]image.Image
}

// Option configures an Annotator
type Option func(*Annotator)

// WithLogger sets the logger shared by every component
func WithLogger(l *logger.Logger) Option {
	return func(a *Annotator) { a.log = l }
}

// WithBackend replaces the detection backend named by the configuration
func WithBackend(b detection.Backend) Option {
	return func(a *Annotator) { a.suggester = a.newSuggester(b) }
}

// New creates an Annotator. The label table and the detection backend
// named by cfg are opened here so configuration mistakes surface early.
func New(cfg *config.Config, opts ...Option) (*Annotator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Annotator{
		cfg:       cfg,
		log:       logger.Discard(),
		processor: processing.NewProcessor(),
		images:    make(map[*annotation.Collection]image.Image),
	}
	for _, opt := range opts {
		opt(a)
	}

	if cfg.Labels.File != "" {
		table, err := labels.LoadFile(cfg.Labels.File, labels.Columns{Code: cfg.Labels.CodeColumn, Name: cfg.Labels.NameColumn})
		switch {
		case errors.Is(err, labels.ErrNoEntries):
			a.log.Warn("%s: %v", cfg.Labels.File, err)
		case err != nil:
			return nil, err
		}
		for _, d := range table.Duplicates() {
			a.log.Warn("%s: %s", cfg.Labels.File, d)
		}
		a.labels = table
		a.log.Info("loaded %d labels from %s", table.Len(), cfg.Labels.File)
	}

	viewport := cfg.Viewport()
	a.loader = session.NewLoader(viewport,
		session.WithLoaderLogger(a.log),
		session.WithCollectionOptions(a.collectionOptions()...),
	)

	sessionOpts := []session.Option{session.WithViewport(viewport), session.WithLogger(a.log)}
	if a.labels != nil {
		sessionOpts = append(sessionOpts, session.WithLabelResolver(a.labels.Resolve))
	}
	a.session = session.New(sessionOpts...)

	if a.suggester == nil && cfg.Detection.Backend != "" {
		b, err := NewBackend(context.Background(), cfg.Detection, a.log)
		if err != nil {
			return nil, err
		}
		a.suggester = a.newSuggester(b)
	}
	return a, nil
}

func (a *Annotator) collectionOptions() []annotation.Option {
	return []annotation.Option{
		annotation.WithLayout(a.cfg.LayoutPolicy()),
		annotation.WithDefaults(
			geometry.Size{Width: a.cfg.Annotation.DefaultWidth, Height: a.cfg.Annotation.DefaultHeight},
			a.cfg.Annotation.DefaultLabel,
		),
		annotation.WithSelectOnImport(a.cfg.Annotation.SelectOnImport),
	}
}

func (a *Annotator) newSuggester(b detection.Backend) *detection.Suggester {
	return detection.NewSuggester(b,
		detection.WithMinConfidence(a.cfg.Detection.MinConfidence),
		detection.WithMaxRegions(a.cfg.Detection.MaxRegions),
		detection.WithFallbackLabel(a.cfg.Annotation.DefaultLabel),
	)
}

// NewBackend creates the detection backend named by cfg.Backend. For the
// ollama backend the model must already be pulled on the server.
func NewBackend(ctx context.Context, cfg config.DetectionConfig, log *logger.Logger) (detection.Backend, error) {
	if log == nil {
		log = logger.Discard()
	}
	opts := types.ModelOptions{
		Model:   cfg.Model,
		Prompt:  cfg.Prompt,
		MaxDim:  cfg.SendMaxDim,
		Quality: cfg.SendQuality,
	}

	switch cfg.Backend {
	case "ollama":
		url := cfg.URL
		if url == "" {
			url = ollama.DefaultURL
		}
		c, err := ollama.NewClient(url, ollama.WithJSONMode(cfg.JSONMode))
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		ok, err := c.HasModel(ctx, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to list Ollama models: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("model %q is not available on %s; pull it first", cfg.Model, url)
		}
		log.Debug("using ollama model %s at %s", cfg.Model, url)
		return detection.NewModelBackend(c, opts), nil
	case "llamacpp":
		url := cfg.URL
		if url == "" {
			url = llamacpp.DefaultURL
		}
		c, err := llamacpp.NewClient(url)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		log.Debug("using llama.cpp server at %s", url)
		return detection.NewModelBackend(c, opts), nil
	case "saliency":
		return vision.New(), nil
	default:
		return nil, fmt.Errorf("unknown detection backend %q", cfg.Backend)
	}
}

// Load reads images, image URLs, documents and directories of them into the
// session. Inputs that fail are skipped; their errors are joined into the
// returned error while everything else is still added.
func (a *Annotator) Load(ctx context.Context, inputs []string) error {
	paths, err := utils.ListInputFiles(inputs, a.cfg.Output.AllFilename)
	if err != nil {
		return err
	}
	files, err := a.loader.Load(ctx, paths)
	for _, f := range files {
		if f.Image != nil {
			a.images[f.Collection] = f.Image
		}
	}
	a.session.Add(session.Collections(files)...)
	a.log.Info("loaded %d files", len(files))
	return err
}

// Session returns the underlying session
func (a *Annotator) Session() *session.Session { return a.session }

// Labels returns the label table, or nil when none is configured
func (a *Annotator) Labels() *labels.Table { return a.labels }

// ImageOf returns the decoded pixels of a loaded collection, or nil
func (a *Annotator) ImageOf(col *annotation.Collection) image.Image { return a.images[col] }

// Suggest adds suggested regions to every loaded file that has pixels.
// With SkipAnnotated set, files that already have regions are left alone.
// It returns the number of regions added.
func (a *Annotator) Suggest(ctx context.Context) (int, error) {
	if a.suggester == nil {
		return 0, nil
	}

	var (
		total int
		errs  []error
	)
	for _, col := range a.session.Files() {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		img := a.images[col]
		if img == nil {
			a.log.Debug("%s: no pixels, skipping suggestions", col.Filename())
			continue
		}
		if a.cfg.Detection.SkipAnnotated && col.Len() > 0 {
			a.log.Debug("%s: already has %d regions", col.Filename(), col.Len())
			continue
		}
		added, err := a.suggester.Suggest(ctx, col, img)
		total += len(added)
		if err != nil {
			a.log.Warn("%v", err)
			errs = append(errs, err)
			continue
		}
		a.log.Info("%s: %d suggested regions", col.Filename(), len(added))
	}
	return total, errors.Join(errs...)
}

// WriteDocuments writes one document per file that has regions into the
// output directory, plus the batch file when WriteAll is set. It returns
// the paths written.
func (a *Annotator) WriteDocuments() ([]string, error) {
	outDir := a.cfg.Output.OutputDir
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, err
	}

	exports := a.session.ExportAll()
	used := make(map[string]bool, len(exports)+1)
	if a.cfg.Output.WriteAll {
		used[strings.ToLower(a.cfg.Output.AllFilename)] = true
	}
	var written []string
	for _, e := range exports {
		data, err := e.Document.Marshal()
		if err != nil {
			return written, fmt.Errorf("failed to encode %s: %w", e.Name, err)
		}
		// Same-named images from different folders each get their own file
		name := utils.UniqueFilename(utils.SanitizeFilename(e.Name), used)
		if name != utils.SanitizeFilename(e.Name) {
			a.log.Warn("%s: %s is taken, writing %s", e.Document.ImagePath, e.Name, name)
		}
		path := filepath.Join(outDir, name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, err
		}
		written = append(written, path)
		a.log.Debug("wrote %s (%s)", path, utils.FormatFileSize(int64(len(data))))
	}

	if a.cfg.Output.WriteAll && len(exports) > 0 {
		data, err := labelme.MarshalAll(session.Documents(exports))
		if err != nil {
			return written, fmt.Errorf("failed to encode batch: %w", err)
		}
		path := filepath.Join(outDir, a.cfg.Output.AllFilename)
		if err := os.WriteFile(path, data, 0644); err != nil {
			return written, err
		}
		written = append(written, path)
		a.log.Info("wrote %d documents to %s (%s)", len(exports), path, utils.FormatFileSize(int64(len(data))))
	}
	return written, nil
}

// Marks returns the regions of col as overlay marks in image pixels
func Marks(col *annotation.Collection) []processing.Mark {
	regions := col.Regions()
	marks := make([]processing.Mark, len(regions))
	for i, r := range regions {
		marks[i] = processing.Mark{Rect: r.Image(), Text: r.DisplayLabel(), Selected: r.Selected()}
	}
	return marks
}

// WriteOverlays saves a copy of every annotated image with its regions
// drawn on it. Files without pixels or regions are skipped.
func (a *Annotator) WriteOverlays() ([]string, error) {
	out := a.cfg.Output
	if err := utils.EnsureDir(out.OutputDir); err != nil {
		return nil, err
	}

	var written []string
	used := make(map[string]bool)
	for _, col := range a.session.Files() {
		img := a.images[col]
		if img == nil || col.Len() == 0 {
			continue
		}
		overlay := a.processor.RenderOverlay(img, Marks(col))
		path := utils.GenerateOutputFilename(col.Filename(), out.OutputDir, "", out.OverlaySuffix, out.OverlayFormat)
		path = filepath.Join(out.OutputDir, utils.UniqueFilename(filepath.Base(path), used))
		if err := a.processor.SaveImage(overlay, path, out.OverlayFormat, out.OverlayQuality, false); err != nil {
			return written, fmt.Errorf("failed to save overlay for %s: %w", col.Filename(), err)
		}
		written = append(written, path)
		a.log.Debug("wrote %s", path)
	}
	return written, nil
}

// WriteCrops saves every region as its own image, grouped into one
// directory per label under crops/ in the output directory
func (a *Annotator) WriteCrops() ([]string, error) {
	out := a.cfg.Output
	c := cropper.NewWithConfig(a.cfg.CropConfig())

	var written []string
	used := make(map[string]bool)
	for _, col := range a.session.Files() {
		img := a.images[col]
		if img == nil {
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(col.Filename()), filepath.Ext(col.Filename()))
		for _, res := range c.CropRegions(img, col) {
			name := utils.SanitizeFilename(res.Label)
			if name == "" {
				name = "unlabeled"
			}
			dir := filepath.Join(out.OutputDir, "crops", name)
			if err := utils.EnsureDir(dir); err != nil {
				return written, err
			}
			file := fmt.Sprintf("%s_%03d.%s", stem, res.Index+1, strings.ToLower(out.OverlayFormat))
			path := filepath.Join(out.OutputDir, "crops", utils.UniqueFilename(filepath.Join(name, file), used))
			if err := a.processor.SaveImage(res.Image, path, out.OverlayFormat, out.OverlayQuality, false); err != nil {
				return written, fmt.Errorf("failed to save crop of %s: %w", col.Filename(), err)
			}
			written = append(written, path)
		}
	}
	a.log.Info("wrote %d crops", len(written))
	return written, nil
}

// GetVersion returns the library version
func GetVersion() string {
	return Version
}
