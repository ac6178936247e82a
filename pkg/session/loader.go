package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/menta2k/image-annotator/internal/utils"
	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
	"github.com/menta2k/image-annotator/pkg/logger"
	"github.com/menta2k/image-annotator/pkg/processing"
)

// LoadError reports one input that could not be loaded
type LoadError struct {
	Name string
	Err  error
}

func (e *LoadError) Error() string { return e.Name + ": " + e.Err.Error() }

func (e *LoadError) Unwrap() error { return e.Err }

// File is one loaded image together with its collection
type File struct {
	Collection *annotation.Collection
	// Image holds the decoded pixels, or nil when a document carries no
	// image data and no sibling image file was found
	Image image.Image
	// Origin is the input path or URL the file came from
	Origin string
}

// Loader turns image files, URLs and annotation documents into collections
type Loader struct {
	processor *processing.Processor
	viewport  geometry.Size
	opts      []annotation.Option
	numeric   bool
	log       *logger.Logger

	load func(ctx context.Context, in string) ([]*File, error)
}

// LoaderOption configures a Loader
type LoaderOption func(*Loader)

// WithLoaderLogger sets the loader's logger
func WithLoaderLogger(l *logger.Logger) LoaderOption {
	return func(ld *Loader) { ld.log = l }
}

// WithCollectionOptions sets the options every new collection is built with
func WithCollectionOptions(opts ...annotation.Option) LoaderOption {
	return func(ld *Loader) { ld.opts = append(ld.opts, opts...) }
}

// WithNumericOrder compares digit runs in filenames by value
func WithNumericOrder(numeric bool) LoaderOption {
	return func(ld *Loader) { ld.numeric = numeric }
}

// NewLoader creates a loader that lays every file out for viewport
func NewLoader(viewport geometry.Size, opts ...LoaderOption) *Loader {
	ld := &Loader{
		processor: processing.NewProcessor(),
		viewport:  viewport,
		log:       logger.Discard(),
	}
	ld.load = ld.loadOne
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Load loads every input concurrently, one goroutine per input. A failing
// input never stops the others: its error is wrapped in a LoadError and
// all such errors are joined into the returned error. The files that did
// load are returned sorted by image filename once every task has finished,
// regardless of completion order.
func (ld *Loader) Load(ctx context.Context, inputs []string) ([]*File, error) {
	results := make([][]*File, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i, in := range inputs {
		wg.Add(1)
		go func(i int, in string) {
			defer wg.Done()
			files, err := ld.load(ctx, in)
			if err != nil {
				errs[i] = &LoadError{Name: in, Err: err}
				ld.log.Warn("skipping %s: %v", in, err)
				return
			}
			results[i] = files
		}(i, in)
	}
	wg.Wait()

	var files []*File
	for _, r := range results {
		files = append(files, r...)
	}
	SortFiles(files, ld.numeric)
	ld.log.Debug("loaded %d files from %d inputs", len(files), len(inputs))
	return files, errors.Join(errs...)
}

// SortFiles orders files by image filename, the same way a Session does
func SortFiles(files []*File, numeric bool) {
	cols := make([]*annotation.Collection, len(files))
	byCol := make(map[*annotation.Collection]*File, len(files))
	for i, f := range files {
		cols[i] = f.Collection
		byCol[f.Collection] = f
	}
	sortCollections(NewCollator(numeric), cols)
	for i, c := range cols {
		files[i] = byCol[c]
	}
}

// Collections returns the collections of files, in order
func Collections(files []*File) []*annotation.Collection {
	out := make([]*annotation.Collection, len(files))
	for i, f := range files {
		out[i] = f.Collection
	}
	return out
}

func (ld *Loader) loadOne(ctx context.Context, in string) ([]*File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if utils.IsDocumentFile(strings.SplitN(in, "?", 2)[0]) {
		return ld.loadDocuments(ctx, in)
	}

	src, err := ld.processor.Load(ctx, in)
	if err != nil {
		return nil, err
	}
	col := annotation.New(annotation.Image{
		Filename: src.Name,
		Data:     src.DataURI(),
		Width:    src.Width(),
		Height:   src.Height(),
	}, ld.opts...)
	col.Layout(ld.viewport)
	ld.log.Trace("loaded image %s (%dx%d, scale %.2f)", src.Name, src.Width(), src.Height(), col.Scale())
	return []*File{{Collection: col, Image: src.Image, Origin: in}}, nil
}

// loadDocuments reads a document file, which may hold a single document or
// an array of them
func (ld *Loader) loadDocuments(ctx context.Context, in string) ([]*File, error) {
	var (
		data []byte
		err  error
	)
	if processing.IsURL(in) {
		data, err = ld.processor.Fetch(ctx, in, "")
	} else {
		data, err = os.ReadFile(in)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	docs, err := labelme.ParseAll(data)
	if err != nil {
		return nil, err
	}

	files := make([]*File, 0, len(docs))
	for i, doc := range docs {
		name := filepath.Base(in)
		if len(docs) > 1 {
			base := filepath.Base(doc.ImagePath)
			name = strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
		}

		img := ld.documentImage(in, doc)
		col, err := annotation.FromDocument(name, doc, ld.viewport, ld.opts...)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		files = append(files, &File{Collection: col, Image: img, Origin: in})
		ld.log.Trace("loaded document %s with %d regions", name, col.Len())
	}
	return files, nil
}

// documentImage decodes a document's embedded image. When imageData is
// empty the image named by imagePath is read from next to the document and
// embedded, so exports carry the pixels again.
func (ld *Loader) documentImage(in string, doc *labelme.Document) image.Image {
	if doc.ImageData != "" {
		raw, err := base64.StdEncoding.DecodeString(labelme.StripDataURI(doc.ImageData))
		if err != nil {
			ld.log.Warn("%s: invalid imageData: %v", in, err)
			return nil
		}
		src, err := ld.processor.Decode(doc.ImagePath, raw)
		if err != nil {
			ld.log.Warn("%s: %v", in, err)
			return nil
		}
		ld.checkSize(in, doc, src)
		return src.Image
	}

	if processing.IsURL(in) || doc.ImagePath == "" {
		return nil
	}
	sibling := filepath.Join(filepath.Dir(in), doc.ImagePath)
	if !utils.FileExists(sibling) {
		ld.log.Debug("%s: no image data and %s not found", in, sibling)
		return nil
	}
	src, err := ld.processor.LoadFile(sibling)
	if err != nil {
		ld.log.Warn("%s: %v", in, err)
		return nil
	}
	ld.checkSize(in, doc, src)
	doc.ImageData = labelme.StripDataURI(src.DataURI())
	return src.Image
}

func (ld *Loader) checkSize(in string, doc *labelme.Document, src *processing.Source) {
	if src.Width() != doc.ImageWidth || src.Height() != doc.ImageHeight {
		ld.log.Warn("%s: image is %dx%d but document says %dx%d; keeping document size",
			in, src.Width(), src.Height(), doc.ImageWidth, doc.ImageHeight)
	}
}
