package vision

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/menta2k/image-annotator/pkg/types"
)

// SubjectDetector proposes regions from a saliency map without any model
type SubjectDetector struct {
	config DetectionConfig
}

// DetectionConfig holds configuration for subject detection
type DetectionConfig struct {
	EdgeThreshold   float64
	ContrastWeight  float64
	ColorWeight     float64
	MinSubjectRatio float64
	// MaxOverlap is the IoU above which a lower-scoring window is dropped
	MaxOverlap float64
	MaxRegions int
	// WorkDim bounds the longer side of the analysed copy
	WorkDim int
	Label   string
}

// DefaultConfig returns the default detection configuration
func DefaultConfig() DetectionConfig {
	return DetectionConfig{
		EdgeThreshold:   0.01,
		ContrastWeight:  0.3,
		ColorWeight:     0.2,
		MinSubjectRatio: 0.05,
		MaxOverlap:      0.3,
		MaxRegions:      10,
		WorkDim:         256,
		Label:           "subject",
	}
}

// New creates a new SubjectDetector with default configuration
func New() *SubjectDetector {
	return &SubjectDetector{config: DefaultConfig()}
}

// NewWithConfig creates a new SubjectDetector with custom configuration
func NewWithConfig(config DetectionConfig) *SubjectDetector {
	return &SubjectDetector{config: config}
}

// window is a candidate region in work-image pixels
type window struct {
	x, y, w, h int
	score      float64
}

func (r window) area() int { return r.w * r.h }

func (r window) iou(o window) float64 {
	x0, y0 := max(r.x, o.x), max(r.y, o.y)
	x1, y1 := min(r.x+r.w, o.x+o.w), min(r.y+r.h, o.y+o.h)
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	inter := float64((x1 - x0) * (y1 - y0))
	return inter / (float64(r.area()+o.area()) - inter)
}

// Detect returns the most salient non-overlapping windows as normalized
// boxes. Confidence is the window score relative to the best window.
func (d *SubjectDetector) Detect(ctx context.Context, img image.Image) (*types.DetectionResult, error) {
	work := imaging.Clone(img)
	if d.config.WorkDim > 0 {
		b := work.Bounds()
		if b.Dx() > d.config.WorkDim || b.Dy() > d.config.WorkDim {
			work = imaging.Fit(work, d.config.WorkDim, d.config.WorkDim, imaging.Box)
		}
	}
	width, height := work.Bounds().Dx(), work.Bounds().Dy()
	result := &types.DetectionResult{Objects: []types.Detection{}}
	if width < 3 || height < 3 {
		return result, nil
	}

	saliency := d.saliencyMap(work)
	var candidates []window
	for _, size := range []int{width / 20, width / 16, width / 12, width / 8, width / 4} {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if size < 10 {
			continue
		}
		candidates = append(candidates, d.scanWindows(saliency, size, width, height)...)
	}

	kept := d.suppress(d.filterBySize(candidates, width, height))
	if len(kept) == 0 {
		return result, nil
	}
	best := kept[0].score
	for _, r := range kept {
		result.Objects = append(result.Objects, types.Detection{
			Label:      d.config.Label,
			Confidence: r.score / best,
			Box: types.Box{
				X: float64(r.x) / float64(width),
				Y: float64(r.y) / float64(height),
				W: float64(r.w) / float64(width),
				H: float64(r.h) / float64(height),
			},
		})
	}
	return result, nil
}

// saliencyMap scores every pixel by its colour distance to the 8 neighbours
// blended with brightness
func (d *SubjectDetector) saliencyMap(img *image.NRGBA) [][]float64 {
	width, height := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([][]float64, height)
	for i := range out {
		out[i] = make([]float64, width)
	}

	at := func(x, y int) (float64, float64, float64) {
		i := y*img.Stride + x*4
		return float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2])
	}

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			r1, g1, b1 := at(x, y)
			var edge float64
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					r2, g2, b2 := at(x+dx, y+dy)
					dr, dg, db := r1-r2, g1-g2, b1-b2
					edge += math.Sqrt(dr*dr + dg*dg + db*db)
				}
			}
			edge /= 8 * 255
			brightness := (r1 + g1 + b1) / (3 * 255)
			out[y][x] = d.config.ContrastWeight*edge + d.config.ColorWeight*brightness
		}
	}
	return out
}

func (d *SubjectDetector) scanWindows(saliency [][]float64, size, width, height int) []window {
	var out []window
	step := max(size/8, 1)
	for y := 0; y <= height-size; y += step {
		for x := 0; x <= width-size; x += step {
			score := windowScore(saliency, x, y, size, size)
			if score > d.config.EdgeThreshold {
				out = append(out, window{x: x, y: y, w: size, h: size, score: score})
			}
		}
	}
	return out
}

func windowScore(saliency [][]float64, x, y, w, h int) float64 {
	var total float64
	count := 0
	for ry := y; ry < y+h && ry < len(saliency); ry++ {
		for rx := x; rx < x+w && rx < len(saliency[ry]); rx++ {
			total += saliency[ry][rx]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

func (d *SubjectDetector) filterBySize(candidates []window, width, height int) []window {
	minArea := int(float64(width*height) * d.config.MinSubjectRatio)
	var out []window
	for _, c := range candidates {
		if c.area() >= minArea {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// suppress performs greedy non-maximum suppression on score-sorted windows
func (d *SubjectDetector) suppress(sorted []window) []window {
	var kept []window
	for _, c := range sorted {
		overlaps := false
		for _, k := range kept {
			if c.iou(k) > d.config.MaxOverlap {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		kept = append(kept, c)
		if d.config.MaxRegions > 0 && len(kept) == d.config.MaxRegions {
			break
		}
	}
	return kept
}
