package processing

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Mark is one region to burn into an overlay, in image pixels
type Mark struct {
	Rect     geometry.Rect
	Text     string
	Selected bool
}

var (
	regionColor   = color.NRGBA{0, 255, 0, 255}
	selectedColor = color.NRGBA{255, 204, 0, 255}
	textColor     = color.NRGBA{0, 0, 0, 255}
)

const (
	labelPadding = 2
	labelHeight  = 13
)

// RenderOverlay returns a copy of img with every mark drawn as an outlined
// box and its text on a filled tab above the top-left corner
func (p *Processor) RenderOverlay(img image.Image, marks []Mark) *image.NRGBA {
	nrgba := imaging.Clone(img)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()
	stroke := int(math.Max(2, 0.004*float64(min(w, h)))) // ~0.4% of min side

	for _, m := range marks {
		c := regionColor
		if m.Selected {
			c = selectedColor
		}
		x0, y0, x1, y1 := rectToPixels(m.Rect.Normalize(), w, h)
		drawBox(nrgba, x0, y0, x1, y1, c, stroke)
		if m.Text != "" {
			drawLabel(nrgba, x0, y0, m.Text, c)
		}
	}
	return nrgba
}

func rectToPixels(r geometry.Rect, w, h int) (int, int, int, int) {
	x0 := int(clamp(r.X, 0, float64(w)) + 0.5)
	y0 := int(clamp(r.Y, 0, float64(h)) + 0.5)
	x1 := int(clamp(r.X+r.Width, 0, float64(w)) + 0.5)
	y1 := int(clamp(r.Y+r.Height, 0, float64(h)) + 0.5)
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return x0, y0, x1, y1
}

func drawLabel(img *image.NRGBA, x, y int, text string, bg color.NRGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 2*labelPadding
	top := y - labelHeight - 2*labelPadding
	if top < 0 {
		top = y
	}
	tab := image.Rect(x, top, x+width, top+labelHeight+2*labelPadding).Intersect(img.Bounds())
	draw.Draw(img, tab, image.NewUniform(bg), image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: face,
		Dot:  fixed.P(x+labelPadding, top+labelPadding+face.Ascent),
	}
	d.DrawString(text)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func drawBox(img *image.NRGBA, x0, y0, x1, y1 int, color color.NRGBA, stroke int) {
	for s := 0; s < stroke; s++ {
		drawHLine(img, y0+s, x0, x1, color)
		drawHLine(img, y1-1-s, x0, x1, color)
		drawVLine(img, x0+s, y0, y1, color)
		drawVLine(img, x1-1-s, y0, y1, color)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
