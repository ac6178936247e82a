// Package cropper cuts annotated regions out of their images, for example to
// build a per-label training set.
package cropper

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/geometry"
)

// ErrEmptyCrop is returned when a region does not overlap its image
var ErrEmptyCrop = errors.New("region lies outside the image")

// RegionCropper crops regions with optional padding, aspect ratio and size limit
type RegionCropper struct {
	config CropConfig
}

// CropConfig holds configuration for region cropping
type CropConfig struct {
	// PaddingRatio grows each side by this fraction of the region size
	PaddingRatio float64
	// AspectRatio, when set, widens or heightens the crop to this ratio
	AspectRatio AspectRatio
	// MaxSize bounds the longer side of the result; 0 keeps the crop size
	MaxSize int
}

// AspectRatio represents common aspect ratios
type AspectRatio struct {
	Width  int
	Height int
	Name   string
}

// Common aspect ratios
var (
	Square     = AspectRatio{1, 1, "square"}
	Portrait   = AspectRatio{3, 4, "portrait"}
	Landscape  = AspectRatio{4, 3, "landscape"}
	Widescreen = AspectRatio{16, 9, "widescreen"}
)

// CommonAspectRatios returns a list of commonly used aspect ratios
func CommonAspectRatios() []AspectRatio {
	return []AspectRatio{Square, Portrait, Landscape, Widescreen}
}

// Ratio returns width/height, or 0 for the zero value
func (a AspectRatio) Ratio() float64 {
	if a.Width <= 0 || a.Height <= 0 {
		return 0
	}
	return float64(a.Width) / float64(a.Height)
}

// ParseAspectRatio accepts "", a common ratio name or "W:H"
func ParseAspectRatio(s string) (AspectRatio, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return AspectRatio{}, nil
	}
	for _, a := range CommonAspectRatios() {
		if a.Name == s {
			return a, nil
		}
	}
	w, h, ok := strings.Cut(s, ":")
	if ok {
		wi, errW := strconv.Atoi(w)
		hi, errH := strconv.Atoi(h)
		if errW == nil && errH == nil && wi > 0 && hi > 0 {
			return AspectRatio{wi, hi, s}, nil
		}
	}
	return AspectRatio{}, fmt.Errorf("invalid aspect ratio %q", s)
}

// New creates a RegionCropper with default configuration
func New() *RegionCropper {
	return &RegionCropper{
		config: CropConfig{
			PaddingRatio: 0.1,
		},
	}
}

// NewWithConfig creates a RegionCropper with custom configuration
func NewWithConfig(config CropConfig) *RegionCropper {
	return &RegionCropper{config: config}
}

// CropResult contains the result of a cropping operation
type CropResult struct {
	Image image.Image
	// Bounds is the cropped area in image pixels
	Bounds image.Rectangle
	Label  string
	// Index is the region's position in its collection
	Index int
}

// Crop cuts rect, given in image pixels, out of img
func (c *RegionCropper) Crop(img image.Image, rect geometry.Rect) (CropResult, error) {
	rect = rect.Normalize()
	src := img.Bounds()
	if rect.Width <= 0 || rect.Height <= 0 ||
		rect.X >= float64(src.Dx()) || rect.Y >= float64(src.Dy()) ||
		rect.X+rect.Width <= 0 || rect.Y+rect.Height <= 0 {
		return CropResult{}, ErrEmptyCrop
	}

	bounds := c.cropBounds(src, rect)
	if bounds.Empty() {
		return CropResult{}, ErrEmptyCrop
	}

	out := image.Image(imaging.Crop(img, bounds))
	if c.config.MaxSize > 0 && max(bounds.Dx(), bounds.Dy()) > c.config.MaxSize {
		out = imaging.Fit(out, c.config.MaxSize, c.config.MaxSize, imaging.Lanczos)
	}
	return CropResult{Image: out, Bounds: bounds}, nil
}

// CropRegions crops every region of col out of img, in creation order.
// Regions outside the image are skipped.
func (c *RegionCropper) CropRegions(img image.Image, col *annotation.Collection) []CropResult {
	var results []CropResult
	for i, r := range col.Regions() {
		res, err := c.Crop(img, r.Image())
		if err != nil {
			continue
		}
		res.Label = r.Label()
		res.Index = i
		results = append(results, res)
	}
	return results
}

// cropBounds pads rect, widens it to the configured ratio around its centre,
// shifts it back inside the image where possible and clips what remains
func (c *RegionCropper) cropBounds(img image.Rectangle, rect geometry.Rect) image.Rectangle {
	pad := c.config.PaddingRatio
	x, y := rect.X-rect.Width*pad, rect.Y-rect.Height*pad
	w, h := rect.Width*(1+2*pad), rect.Height*(1+2*pad)

	if ratio := c.config.AspectRatio.Ratio(); ratio > 0 && w > 0 && h > 0 {
		cx, cy := x+w/2, y+h/2
		if w/h < ratio {
			w = h * ratio
		} else {
			h = w / ratio
		}
		x, y = cx-w/2, cy-h/2
	}

	iw, ih := float64(img.Dx()), float64(img.Dy())
	x = shift(x, w, iw)
	y = shift(y, h, ih)

	r := image.Rect(
		int(math.Floor(x)), int(math.Floor(y)),
		int(math.Ceil(x+w)), int(math.Ceil(y+h)),
	).Add(img.Min)
	return r.Intersect(img)
}

// shift moves a span [pos, pos+size) inside [0, limit) when it fits
func shift(pos, size, limit float64) float64 {
	if size >= limit {
		return (limit - size) / 2
	}
	if pos < 0 {
		return 0
	}
	if pos+size > limit {
		return limit - size
	}
	return pos
}
