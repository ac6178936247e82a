// Package annotation keeps the rectangles drawn over one image consistent
// across display rescaling, and converts them to and from LabelMe documents.
package annotation

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
)

// ErrNotLaidOut is returned by operations that need a display scale before
// Layout has produced one
var ErrNotLaidOut = errors.New("collection has no display scale")

// Default size and label of regions created by AddRegionAt
const (
	DefaultRegionSize  = 100
	DefaultRegionLabel = "label"
)

// Image describes the source image of a collection
type Image struct {
	Filename string
	// Data is the image exactly as loaded: a data URI or bare base64
	Data   string
	Width  int
	Height int
}

// NaturalSize returns the image's pixel dimensions
func (i Image) NaturalSize() geometry.Size {
	return geometry.Size{Width: float64(i.Width), Height: float64(i.Height)}
}

// Collection owns the regions of one image together with the display
// transform and the current selection. All methods must be called from a
// single goroutine.
type Collection struct {
	image          Image
	sourceDocument string

	layout    geometry.Layout
	transform geometry.Transform

	regions  []*Region
	selected *Region

	renderer        Renderer
	onSelect        SelectionListener
	resolve         LabelResolver
	repeatSelection bool
	selectOnImport  bool

	defaultSize  geometry.Size
	defaultLabel string
}

// Option configures a Collection
type Option func(*Collection)

// WithLayout sets the layout policy used by Layout
func WithLayout(l geometry.Layout) Option {
	return func(c *Collection) { c.layout = l }
}

// WithTransform seeds the display transform, e.g. when the scale is already known
func WithTransform(t geometry.Transform) Option {
	return func(c *Collection) { c.transform = t }
}

// WithRenderer sets the renderer
func WithRenderer(r Renderer) Option {
	return func(c *Collection) { c.SetRenderer(r) }
}

// WithSelectionListener sets the selection listener
func WithSelectionListener(fn SelectionListener) Option {
	return func(c *Collection) { c.onSelect = fn }
}

// WithLabelResolver sets the label resolver
func WithLabelResolver(fn LabelResolver) Option {
	return func(c *Collection) { c.resolve = fn }
}

// WithSourceDocument records the name of the document the collection was imported from
func WithSourceDocument(name string) Option {
	return func(c *Collection) { c.sourceDocument = name }
}

// WithRepeatedSelections also notifies the listener when the already
// selected region is selected again, with changed=false
func WithRepeatedSelections() Option {
	return func(c *Collection) { c.repeatSelection = true }
}

// WithSelectOnImport makes ImportDocument select the last imported region
func WithSelectOnImport(enabled bool) Option {
	return func(c *Collection) { c.selectOnImport = enabled }
}

// WithDefaults sets the size and label used by AddRegionAt
func WithDefaults(size geometry.Size, label string) Option {
	return func(c *Collection) {
		c.defaultSize = size
		c.defaultLabel = label
	}
}

// New creates an empty collection for one image
func New(img Image, opts ...Option) *Collection {
	c := &Collection{
		image:        img,
		layout:       geometry.DefaultLayout(),
		renderer:     NopRenderer,
		defaultSize:  geometry.Size{Width: DefaultRegionSize, Height: DefaultRegionSize},
		defaultLabel: DefaultRegionLabel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.resolve == nil {
		c.resolve = IdentityLabel
	}
	if c.onSelect == nil {
		c.onSelect = func(*Region, bool) {}
	}
	return c
}

// Image returns the source image description
func (c *Collection) Image() Image { return c.image }

// Filename returns the source image file name
func (c *Collection) Filename() string { return c.image.Filename }

// SourceDocument returns the imported document name, if any
func (c *Collection) SourceDocument() string { return c.sourceDocument }

// ExportName returns the file name to export the collection under: the
// imported document's name, or the image name with a .json extension.
func (c *Collection) ExportName() string {
	if c.sourceDocument != "" {
		return filepath.Base(c.sourceDocument)
	}
	base := filepath.Base(c.image.Filename)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

// Transform returns the current display transform
func (c *Collection) Transform() geometry.Transform { return c.transform }

// Scale returns the current display-to-image ratio
func (c *Collection) Scale() float64 { return c.transform.Scale }

// SetRenderer replaces the renderer; nil restores the no-op renderer
func (c *Collection) SetRenderer(r Renderer) {
	if r == nil {
		r = NopRenderer
	}
	c.renderer = r
}

// SetSelectionListener replaces the selection listener; nil disables it
func (c *Collection) SetSelectionListener(fn SelectionListener) {
	if fn == nil {
		fn = func(*Region, bool) {}
	}
	c.onSelect = fn
}

// SetLabelResolver replaces the label resolver and redraws every region.
// nil restores the identity resolver.
func (c *Collection) SetLabelResolver(fn LabelResolver) {
	if fn == nil {
		fn = IdentityLabel
	}
	c.resolve = fn
	c.RefreshLabels()
}

// ResolveLabel returns the display text for a label
func (c *Collection) ResolveLabel(label string) string { return c.resolve(label) }

// Layout recomputes the display transform for a container of the given size.
// Region geometry is not touched; call Reproject, or use Relayout.
func (c *Collection) Layout(container geometry.Size) geometry.Transform {
	c.transform = c.layout.Compute(c.image.NaturalSize(), container)
	return c.transform
}

// Reproject recomputes every region's display rectangle from its image
// rectangle at the current scale. Image rectangles are never rewritten here,
// so repeated rescaling cannot accumulate error.
func (c *Collection) Reproject() {
	if !c.transform.Valid() {
		return
	}
	for _, r := range c.regions {
		r.display = c.transform.ToDisplay(r.image)
		r.refresh()
	}
}

// Relayout is Layout followed by Reproject
func (c *Collection) Relayout(container geometry.Size) geometry.Transform {
	t := c.Layout(container)
	c.Reproject()
	return t
}

// ToLocal converts a container-level point to the region coordinate frame
func (c *Collection) ToLocal(p geometry.Point) geometry.Point {
	return c.transform.ToLocal(p)
}

// AddRegion creates a region from a display-space rectangle, appends it and selects it
func (c *Collection) AddRegion(rect geometry.Rect, label string) *Region {
	r := &Region{owner: c, display: rect, label: label}
	r.project()
	c.regions = append(c.regions, r)
	r.refresh()
	c.Select(r)
	return r
}

// AddRegionAt creates a region of the default size and label at a display-space point
func (c *Collection) AddRegionAt(p geometry.Point) *Region {
	return c.AddRegion(geometry.Rect{
		X:      p.X,
		Y:      p.Y,
		Width:  c.defaultSize.Width,
		Height: c.defaultSize.Height,
	}, c.defaultLabel)
}

// AddImageRegion creates a region from an image-space rectangle. The image
// rectangle is stored as given and the display rectangle derived from it.
// The new region is not selected.
func (c *Collection) AddImageRegion(rect geometry.Rect, label string) (*Region, error) {
	if !c.transform.Valid() {
		return nil, ErrNotLaidOut
	}
	return c.insertImage(rect, label), nil
}

func (c *Collection) insertImage(rect geometry.Rect, label string) *Region {
	r := &Region{
		owner:   c,
		display: c.transform.ToDisplay(rect),
		image:   rect,
		label:   label,
	}
	c.regions = append(c.regions, r)
	r.refresh()
	return r
}

// Select makes r the selection. The listener fires only when the selection
// actually changes, unless repeated selections were requested. Regions that
// do not belong to the collection are ignored.
func (c *Collection) Select(r *Region) {
	if r == nil || c.index(r) < 0 {
		return
	}
	prev := c.selected
	changed := prev != r
	c.selected = r
	if changed {
		if prev != nil {
			prev.refresh()
		}
		r.refresh()
	}
	if changed || c.repeatSelection {
		c.onSelect(r, changed)
	}
}

// Selected returns the selected region, or nil
func (c *Collection) Selected() *Region { return c.selected }

// ClearSelection drops the selection without notifying the listener
func (c *Collection) ClearSelection() {
	prev := c.selected
	c.selected = nil
	if prev != nil {
		prev.refresh()
	}
}

// Remove deletes r from the collection. Removing a region that is not a
// member is a no-op and reports false. Removing the selected region clears
// the selection; nothing else is selected in its place.
func (c *Collection) Remove(r *Region) bool {
	i := c.index(r)
	if i < 0 {
		return false
	}
	c.renderer.Detach(r)
	c.regions = append(c.regions[:i:i], c.regions[i+1:]...)
	if c.selected == r {
		c.selected = nil
	}
	r.owner = nil
	return true
}

// Clear removes every region
func (c *Collection) Clear() {
	for _, r := range c.regions {
		c.renderer.Detach(r)
		r.owner = nil
	}
	c.regions = nil
	c.selected = nil
}

// Regions returns the regions in creation order
func (c *Collection) Regions() []*Region {
	out := make([]*Region, len(c.regions))
	copy(out, c.regions)
	return out
}

// Len returns the number of regions
func (c *Collection) Len() int { return len(c.regions) }

// Contains reports whether r is one of the collection's regions
func (c *Collection) Contains(r *Region) bool { return c.index(r) >= 0 }

func (c *Collection) index(r *Region) int {
	for i, x := range c.regions {
		if x == r {
			return i
		}
	}
	return -1
}

// CloneRegions returns detached copies of every region, in order
func (c *Collection) CloneRegions() []*Region {
	out := make([]*Region, len(c.regions))
	for i, r := range c.regions {
		out[i] = r.Clone()
	}
	return out
}

// Adopt takes ownership of regions, typically clones from another image.
// Each region keeps its image rectangle and gets a display rectangle at this
// collection's scale. A region still held by another collection is removed
// from it first; regions already owned here are skipped.
func (c *Collection) Adopt(regions ...*Region) {
	for _, r := range regions {
		if r == nil || c.index(r) >= 0 {
			continue
		}
		if r.owner != nil && r.owner != c {
			r.owner.Remove(r)
		}
		r.owner = c
		if c.transform.Valid() {
			r.display = c.transform.ToDisplay(r.image)
		}
		c.regions = append(c.regions, r)
		r.refresh()
	}
}

// RefreshLabels redraws every region, e.g. after the label table changed
func (c *Collection) RefreshLabels() {
	for _, r := range c.regions {
		r.refresh()
	}
}

// Hide detaches every region's visual while keeping the regions
func (c *Collection) Hide() {
	for _, r := range c.regions {
		c.renderer.Detach(r)
	}
}

// Document exports all regions, in order, as a LabelMe document
func (c *Collection) Document() *labelme.Document {
	doc := labelme.New()
	for _, r := range c.regions {
		doc.Shapes = append(doc.Shapes, r.Shape())
	}
	doc.ImagePath = c.image.Filename
	doc.ImageData = labelme.StripDataURI(c.image.Data)
	doc.ImageHeight = c.image.Height
	doc.ImageWidth = c.image.Width
	return doc
}

// ImportDocument adds one region per shape at the current scale. Every shape
// is validated before any region is created, so a malformed document leaves
// the collection unchanged. Afterwards nothing is selected, unless the
// collection was built with WithSelectOnImport(true).
func (c *Collection) ImportDocument(doc *labelme.Document) error {
	if !c.transform.Valid() {
		return ErrNotLaidOut
	}
	rects := make([]geometry.Rect, len(doc.Shapes))
	for i, s := range doc.Shapes {
		r, err := s.Rect()
		if err != nil {
			return fmt.Errorf("shape %d: %w", i, err)
		}
		if !r.Finite() {
			return fmt.Errorf("shape %d: %w: non-finite coordinates", i, labelme.ErrMalformedShape)
		}
		rects[i] = r
	}

	var last *Region
	for i, s := range doc.Shapes {
		last = c.insertImage(rects[i], s.Label)
	}
	if c.selectOnImport && last != nil {
		c.Select(last)
	} else {
		c.ClearSelection()
	}
	return nil
}

// FromDocument creates a collection for an imported document, lays it out
// for the container and imports its shapes.
func FromDocument(name string, doc *labelme.Document, container geometry.Size, opts ...Option) (*Collection, error) {
	img := Image{
		Filename: doc.ImagePath,
		Data:     doc.ImageDataURI(),
		Width:    doc.ImageWidth,
		Height:   doc.ImageHeight,
	}
	c := New(img, append([]Option{WithSourceDocument(name)}, opts...)...)
	c.Layout(container)
	if err := c.ImportDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", name, err)
	}
	return c, nil
}
