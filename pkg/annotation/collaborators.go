package annotation

import "github.com/menta2k/image-annotator/pkg/geometry"

// View is what a renderer needs to draw one region
type View struct {
	// Rect is the normalized display-space rectangle, relative to the scaled
	// image's top-left corner. Renderers add Collection.Transform().Offset
	// when positioning inside a larger container.
	Rect geometry.Rect
	// Text is the label after resolution
	Text     string
	Selected bool
}

// Renderer draws regions. It is called synchronously after every mutation.
type Renderer interface {
	// Refresh creates or updates the visual for r
	Refresh(r *Region, v View)
	// Detach removes the visual for r without affecting the region itself
	Detach(r *Region)
}

// SelectionListener is notified when the selected region changes.
// changed is false only for repeated selections of the same region, which
// are delivered when the collection was built with WithRepeatedSelections.
type SelectionListener func(r *Region, changed bool)

// LabelResolver maps a stored label to the text shown for it
type LabelResolver func(label string) string

// IdentityLabel returns the label unchanged
func IdentityLabel(label string) string { return label }

type nopRenderer struct{}

func (nopRenderer) Refresh(*Region, View) {}
func (nopRenderer) Detach(*Region)        {}

// NopRenderer discards every render request
var NopRenderer Renderer = nopRenderer{}
