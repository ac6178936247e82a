package annotation

import (
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/labelme"
)

// Region is one labelled rectangle.
//
// The display rectangle is what the user manipulates; the image rectangle is
// derived from it and is what gets exported. A region belongs to at most one
// Collection at a time; the owner pointer is cleared when it is removed.
type Region struct {
	owner   *Collection
	display geometry.Rect
	image   geometry.Rect
	label   string
}

// Value is a partial update applied by SetValues
type Value func(v *values)

type values struct {
	rect  geometry.Rect
	label string
}

// X sets the display-space left edge
func X(x float64) Value { return func(v *values) { v.rect.X = x } }

// Y sets the display-space top edge
func Y(y float64) Value { return func(v *values) { v.rect.Y = y } }

// Width sets the display-space width
func Width(w float64) Value { return func(v *values) { v.rect.Width = w } }

// Height sets the display-space height
func Height(h float64) Value { return func(v *values) { v.rect.Height = h } }

// Position sets the display-space origin
func Position(x, y float64) Value {
	return func(v *values) {
		v.rect.X = x
		v.rect.Y = y
	}
}

// Extent sets the display-space width and height
func Extent(w, h float64) Value {
	return func(v *values) {
		v.rect.Width = w
		v.rect.Height = h
	}
}

// Rect replaces the whole display-space rectangle
func Rect(r geometry.Rect) Value { return func(v *values) { v.rect = r } }

// Label sets the label
func Label(label string) Value { return func(v *values) { v.label = label } }

// SetValues merges the given values over the current state, recomputes the
// image-space rectangle from the owner's current scale and requests a redraw.
// It is the only way geometry or label change.
func (r *Region) SetValues(opts ...Value) {
	v := values{rect: r.display, label: r.label}
	for _, opt := range opts {
		opt(&v)
	}
	r.display = v.rect
	r.label = v.label
	r.project()
	r.refresh()
}

// project derives the image rectangle. Without a laid-out owner the image
// rectangle is left as it was.
func (r *Region) project() {
	if r.owner == nil || !r.owner.transform.Valid() {
		return
	}
	r.image = r.owner.transform.ToImage(r.display)
}

func (r *Region) refresh() {
	if r.owner == nil || r.owner.index(r) < 0 {
		return
	}
	r.owner.renderer.Refresh(r, r.view())
}

func (r *Region) view() View {
	return View{
		Rect:     r.Display(),
		Text:     r.DisplayLabel(),
		Selected: r.Selected(),
	}
}

// Move applies a drag delta in display pixels
func (r *Region) Move(dx, dy float64) {
	r.SetValues(Position(r.display.X+dx, r.display.Y+dy))
}

// Resize applies an edge resize: the origin moves by the left/top edge
// deltas and the size becomes the absolute post-resize width and height.
// The size may be negative while the gesture is inverted.
func (r *Region) Resize(deltaLeft, deltaTop, width, height float64) {
	r.SetValues(Rect(geometry.Rect{
		X:      r.display.X + deltaLeft,
		Y:      r.display.Y + deltaTop,
		Width:  width,
		Height: height,
	}))
}

// Click reports a click on the region. With remove set (modifier click) the
// region is selected and then deleted.
func (r *Region) Click(remove bool) {
	if r.owner == nil {
		return
	}
	owner := r.owner
	owner.Select(r)
	if remove {
		owner.Remove(r)
	}
}

// DoubleClick reports a double click, which deletes the region
func (r *Region) DoubleClick() {
	if r.owner == nil {
		return
	}
	r.owner.Remove(r)
}

// Display returns the normalized display-space rectangle
func (r *Region) Display() geometry.Rect { return r.display.Normalize() }

// RawDisplay returns the display rectangle as last set, possibly with a negative extent
func (r *Region) RawDisplay() geometry.Rect { return r.display }

// Image returns the normalized image-space rectangle
func (r *Region) Image() geometry.Rect { return r.image.Normalize() }

// Label returns the stored label
func (r *Region) Label() string { return r.label }

// DisplayLabel returns the label as resolved by the owner
func (r *Region) DisplayLabel() string {
	if r.owner == nil {
		return r.label
	}
	return r.owner.resolve(r.label)
}

// Owner returns the owning collection, or nil once removed
func (r *Region) Owner() *Collection { return r.owner }

// Selected reports whether the region is its owner's selection
func (r *Region) Selected() bool {
	return r.owner != nil && r.owner.selected == r
}

// Shape converts the region to an interchange record. The box comes from the
// stored image rectangle rather than being re-derived from display space.
func (r *Region) Shape() labelme.Shape {
	return labelme.NewRectangle(r.label, r.image)
}

// Clone returns a detached copy with the same geometry and label that still
// points at the same owner. It is not part of the owner's regions until adopted.
func (r *Region) Clone() *Region {
	return &Region{
		owner:   r.owner,
		display: r.display,
		image:   r.image,
		label:   r.label,
	}
}
