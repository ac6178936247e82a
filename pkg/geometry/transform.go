package geometry

import (
	"fmt"
	"math"
)

// Policy selects how the display scale is derived from the container size
type Policy int

const (
	// FitContain fits the whole image inside the container, never upscaling
	// past the natural size, and centers it. The centering offset is reported
	// in the Transform for positioning the overlay layer.
	FitContain Policy = iota
	// MatchRendered treats the container as the already-rendered image and
	// uses the rendered-to-natural ratio without an upper cap. Offset is zero.
	MatchRendered
)

// String returns the configuration name of the policy
func (p Policy) String() string {
	switch p {
	case FitContain:
		return "fit"
	case MatchRendered:
		return "match"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy maps a configuration name to a Policy
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "fit", "contain":
		return FitContain, nil
	case "match", "rendered":
		return MatchRendered, nil
	default:
		return FitContain, fmt.Errorf("unknown layout policy %q", name)
	}
}

// DefaultPrecision rounds sizes, scale and offset to hundredths of a pixel
const DefaultPrecision = 100

// Layout computes display transforms for one policy
type Layout struct {
	Policy Policy
	// Precision is the rounding base: values are rounded to 1/Precision.
	// Zero disables rounding.
	Precision float64
}

// DefaultLayout returns the centered fit layout with the default rounding
func DefaultLayout() Layout {
	return Layout{Policy: FitContain, Precision: DefaultPrecision}
}

// Transform maps image space to display space
type Transform struct {
	// Scale is display pixels per image pixel
	Scale float64
	// Offset positions the scaled image inside its container
	Offset Point
}

// Compute derives the transform for an image of the given natural size shown
// in a container of the given size. A zero Transform is returned when either
// size is empty, which callers must treat as "not laid out".
func (l Layout) Compute(natural, container Size) Transform {
	if natural.Empty() {
		return Transform{}
	}
	cw := l.round(container.Width)
	ch := l.round(container.Height)
	if (Size{Width: cw, Height: ch}).Empty() {
		return Transform{}
	}

	scale := math.Min(cw/natural.Width, ch/natural.Height)

	switch l.Policy {
	case MatchRendered:
		return Transform{Scale: l.roundScale(scale)}
	default:
		if scale > 1 {
			scale = 1
		}
		scale = l.roundScale(scale)
		return Transform{
			Scale: scale,
			Offset: Point{
				X: l.round((cw - natural.Width*scale) / 2),
				Y: l.round((ch - natural.Height*scale) / 2),
			},
		}
	}
}

// roundScale rounds a positive scale but never down to zero: a very large
// image in a small container keeps its unrounded scale.
func (l Layout) roundScale(scale float64) float64 {
	if rounded := l.round(scale); rounded > 0 {
		return rounded
	}
	return scale
}

func (l Layout) round(v float64) float64 {
	if l.Precision <= 0 {
		return v
	}
	return RoundTo(v, l.Precision)
}

// RoundTo rounds v to the nearest multiple of 1/base, halves rounding up
func RoundTo(v, base float64) float64 {
	return math.Floor(v*base+0.5) / base
}

// Valid reports whether the transform has been laid out
func (t Transform) Valid() bool {
	return t.Scale > 0 && !math.IsInf(t.Scale, 0)
}

// ToImage projects a display-space rectangle into image space
func (t Transform) ToImage(r Rect) Rect {
	return r.Divide(t.Scale)
}

// ToDisplay projects an image-space rectangle into display space
func (t Transform) ToDisplay(r Rect) Rect {
	return r.Scale(t.Scale)
}

// ToLocal converts a container-level point into the scaled image's frame
func (t Transform) ToLocal(p Point) Point {
	return Point{X: p.X - t.Offset.X, Y: p.Y - t.Offset.Y}
}

// ToContainer converts a point of the scaled image's frame into container coordinates
func (t Transform) ToContainer(p Point) Point {
	return Point{X: p.X + t.Offset.X, Y: p.Y + t.Offset.Y}
}

// DisplaySize returns the size of the scaled image
func (t Transform) DisplaySize(natural Size) Size {
	return Size{Width: natural.Width * t.Scale, Height: natural.Height * t.Scale}
}
