package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"regexp"
	"sort"
	"strings"

	"github.com/menta2k/image-annotator/pkg/annotation"
	"github.com/menta2k/image-annotator/pkg/client"
	"github.com/menta2k/image-annotator/pkg/geometry"
	"github.com/menta2k/image-annotator/pkg/processing"
	"github.com/menta2k/image-annotator/pkg/types"
)

// DefaultPrompt asks a vision model for every labelled object in the image
const DefaultPrompt = `You are an object locator for an annotation tool.

Return JSON only:
{
  "objects": [
    {"label": "string", "confidence": 0.0, "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- All coordinates are normalized to [0,1] (NOT pixels); x,y is the top-left corner.
- One entry per distinct object; boxes should tightly include the object.
- Labels: lowercase, concise, no punctuation.
- If nothing is found, return {"objects": [], "description": "empty scene"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// ErrNoJSON is returned when a model reply contains no JSON object
var ErrNoJSON = errors.New("no JSON object in model response")

// Backend finds objects in an image
type Backend interface {
	Detect(ctx context.Context, img image.Image) (*types.DetectionResult, error)
}

// ModelBackend asks a vision model for objects
type ModelBackend struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      types.ModelOptions
}

// NewModelBackend creates a backend over a vision client. Zero options fall
// back to the default prompt and a 1024px JPEG upload.
func NewModelBackend(c client.VisionClient, opts types.ModelOptions) *ModelBackend {
	if opts.Prompt == "" {
		opts.Prompt = DefaultPrompt
	}
	if opts.Format == "" {
		opts.Format = "jpg"
	}
	if opts.MaxDim == 0 {
		opts.MaxDim = 1024
	}
	if opts.Quality == 0 {
		opts.Quality = 90
	}
	return &ModelBackend{client: c, processor: processing.NewProcessor(), opts: opts}
}

// Detect uploads a downscaled copy of img and parses the model's reply
func (b *ModelBackend) Detect(ctx context.Context, img image.Image) (*types.DetectionResult, error) {
	imgB64, err := b.processor.PrepareImageForModel(img, b.opts.Format, b.opts.MaxDim, b.opts.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image for model: %w", err)
	}
	raw, err := b.client.Query(ctx, b.opts.Model, b.opts.Prompt, imgB64)
	if err != nil {
		return nil, err
	}
	return ParseResult(raw)
}

// ParseResult parses a model reply, tolerating code fences, comments and
// trailing commas. A bare array of objects is accepted too.
func ParseResult(raw string) (*types.DetectionResult, error) {
	raw = sanitizeModelJSON(raw)

	var result types.DetectionResult
	switch {
	case strings.HasPrefix(raw, "{"):
		if err := json.Unmarshal([]byte(raw), &result); err != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err)
		}
	case strings.HasPrefix(raw, "["):
		if err := json.Unmarshal([]byte(raw), &result.Objects); err != nil {
			return nil, fmt.Errorf("failed to parse model response: %w", err)
		}
	default:
		return nil, ErrNoJSON
	}
	return &result, nil
}

var (
	reBlock    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLine     = regexp.MustCompile(`(?m)^\s*//.*$`)
	reTrailing = regexp.MustCompile(`,(\s*[}\]])`)
)

// sanitizeModelJSON removes code fences, comments, and trailing commas from JSON response
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlock.ReplaceAllString(raw, "")
	raw = reLine.ReplaceAllString(raw, "")
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...} or [...]
	open := strings.IndexAny(raw, "{[")
	if open < 0 {
		return strings.TrimSpace(raw)
	}
	closer := "}"
	if raw[open] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(raw, closer); end > open {
		raw = raw[open : end+1]
	}
	return strings.TrimSpace(raw)
}

// Suggester turns backend detections into regions of a collection
type Suggester struct {
	backend       Backend
	minConfidence float64
	maxRegions    int
	fallbackLabel string
}

// Option configures a Suggester
type Option func(*Suggester)

// WithMinConfidence drops detections below c
func WithMinConfidence(c float64) Option {
	return func(s *Suggester) { s.minConfidence = c }
}

// WithMaxRegions keeps at most n detections, highest confidence first; 0 means no limit
func WithMaxRegions(n int) Option {
	return func(s *Suggester) { s.maxRegions = n }
}

// WithFallbackLabel sets the label used when a detection has none
func WithFallbackLabel(label string) Option {
	return func(s *Suggester) { s.fallbackLabel = label }
}

// NewSuggester creates a suggester over a backend
func NewSuggester(b Backend, opts ...Option) *Suggester {
	s := &Suggester{backend: b, fallbackLabel: annotation.DefaultRegionLabel}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Suggest runs the backend on img and adds one region per accepted
// detection to col, in image space. col must be laid out.
func (s *Suggester) Suggest(ctx context.Context, col *annotation.Collection, img image.Image) ([]*annotation.Region, error) {
	if !col.Transform().Valid() {
		return nil, annotation.ErrNotLaidOut
	}
	result, err := s.backend.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detection failed for %s: %w", col.Filename(), err)
	}

	natural := col.Image().NaturalSize()
	var added []*annotation.Region
	for _, d := range s.filter(result.Objects) {
		label := strings.TrimSpace(d.Label)
		if label == "" {
			label = s.fallbackLabel
		}
		r, err := col.AddImageRegion(ToImageRect(d.Box, natural), label)
		if err != nil {
			return added, err
		}
		added = append(added, r)
	}
	return added, nil
}

func (s *Suggester) filter(objects []types.Detection) []types.Detection {
	var kept []types.Detection
	for _, d := range objects {
		b := clampBox(d.Box)
		if b.Empty() || d.Confidence < s.minConfidence {
			continue
		}
		d.Box = b
		kept = append(kept, d)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})
	if s.maxRegions > 0 && len(kept) > s.maxRegions {
		kept = kept[:s.maxRegions]
	}
	return kept
}

// ToImageRect scales a normalized box to image pixels
func ToImageRect(b types.Box, natural geometry.Size) geometry.Rect {
	b = clampBox(b)
	return geometry.Rect{
		X:      b.X * natural.Width,
		Y:      b.Y * natural.Height,
		Width:  b.W * natural.Width,
		Height: b.H * natural.Height,
	}
}

// clampBox keeps a normalized box inside the unit square
func clampBox(b types.Box) types.Box {
	x0, y0 := clamp(b.X, 0, 1), clamp(b.Y, 0, 1)
	x1, y1 := clamp(b.X+b.W, 0, 1), clamp(b.Y+b.H, 0, 1)
	return types.Box{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
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
