// Package geometry converts rectangles between image space and display space.
//
// Image space is the native pixel grid of the source image. Display space is
// the on-screen rendering of that image, related to image space by a single
// scale factor. The centering offset of a Transform describes where the scaled
// image sits inside its container; it is never folded into region coordinates,
// which are always relative to the scaled image's own top-left corner.
package geometry

import "math"

// Point is a position in either coordinate space
type Point struct {
	X float64
	Y float64
}

// Size is a width/height pair
type Size struct {
	Width  float64
	Height float64
}

// Empty reports whether either dimension is not strictly positive
func (s Size) Empty() bool {
	return !(s.Width > 0) || !(s.Height > 0)
}

// Rect is an axis-aligned rectangle given by its origin and extent.
// Width and Height may be negative while an interactive resize is in flight;
// call Normalize before reading the rectangle for display or export.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// FromCorners builds a rectangle spanning two opposite corners, in any order
func FromCorners(p1, p2 Point) Rect {
	return Rect{
		X:      math.Min(p1.X, p2.X),
		Y:      math.Min(p1.Y, p2.Y),
		Width:  math.Abs(p2.X - p1.X),
		Height: math.Abs(p2.Y - p1.Y),
	}
}

// Normalize returns the same area with a non-negative extent.
// A negative width moves the origin left by that amount, and likewise for height.
func (r Rect) Normalize() Rect {
	if r.Width < 0 {
		r.X += r.Width
		r.Width = -r.Width
	}
	if r.Height < 0 {
		r.Y += r.Height
		r.Height = -r.Height
	}
	return r
}

// Corners returns the top-left and bottom-right corners of the normalized rectangle
func (r Rect) Corners() (Point, Point) {
	n := r.Normalize()
	return Point{X: n.X, Y: n.Y}, Point{X: n.X + n.Width, Y: n.Y + n.Height}
}

// Scale multiplies every component by s
func (r Rect) Scale(s float64) Rect {
	return Rect{X: r.X * s, Y: r.Y * s, Width: r.Width * s, Height: r.Height * s}
}

// Divide divides every component by s. It is kept separate from Scale(1/s)
// so that x/s is computed exactly once without an intermediate reciprocal.
func (r Rect) Divide(s float64) Rect {
	return Rect{X: r.X / s, Y: r.Y / s, Width: r.Width / s, Height: r.Height / s}
}

// Translate shifts the origin by p
func (r Rect) Translate(p Point) Rect {
	r.X += p.X
	r.Y += p.Y
	return r
}

// Area returns the area of the normalized rectangle
func (r Rect) Area() float64 {
	n := r.Normalize()
	return n.Width * n.Height
}

// Finite reports whether every component is a finite number
func (r Rect) Finite() bool {
	for _, v := range [...]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ApproxEqual compares two rectangles component-wise within eps
func (r Rect) ApproxEqual(o Rect, eps float64) bool {
	return math.Abs(r.X-o.X) <= eps &&
		math.Abs(r.Y-o.Y) <= eps &&
		math.Abs(r.Width-o.Width) <= eps &&
		math.Abs(r.Height-o.Height) <= eps
}
