// Package labelme reads and writes the LabelMe JSON annotation format.
//
// Only rectangle shapes are produced. Documents are serialized with a fixed
// field order and four-space indentation so exports are byte-stable.
package labelme

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/menta2k/image-annotator/pkg/geometry"
)

// Version is written into every exported document
const Version = "5.5.0"

// ShapeRectangle is the shape_type discriminator for rectangles
const ShapeRectangle = "rectangle"

var (
	// ErrMalformedDocument reports unparseable text or a missing top-level field
	ErrMalformedDocument = errors.New("malformed labelme document")
	// ErrMalformedShape reports a shape whose points do not form a two-point box
	ErrMalformedShape = errors.New("malformed labelme shape")
)

var utf8BOM = []byte("\xef\xbb\xbf")

// Document is one annotated image
type Document struct {
	Version     string         `json:"version"`
	Flags       map[string]any `json:"flags"`
	Shapes      []Shape        `json:"shapes"`
	ImagePath   string         `json:"imagePath"`
	ImageData   string         `json:"imageData"`
	ImageHeight int            `json:"imageHeight"`
	ImageWidth  int            `json:"imageWidth"`
}

// Shape is one labelled region. Points holds [[x1,y1],[x2,y2]] in image pixels.
type Shape struct {
	Label       string         `json:"label"`
	Points      [][]float64    `json:"points"`
	GroupID     *int           `json:"group_id"`
	Description string         `json:"description"`
	ShapeType   string         `json:"shape_type"`
	Flags       map[string]any `json:"flags"`
	Mask        any            `json:"mask"`
}

// New returns an empty document stamped with the exporter version
func New() *Document {
	return &Document{
		Version: Version,
		Flags:   map[string]any{},
		Shapes:  []Shape{},
	}
}

// NewRectangle builds a rectangle shape from an image-space rectangle.
// The rectangle is normalized so the first point is always the top-left corner.
func NewRectangle(label string, r geometry.Rect) Shape {
	tl, br := r.Corners()
	return Shape{
		Label:     label,
		Points:    [][]float64{{tl.X, tl.Y}, {br.X, br.Y}},
		ShapeType: ShapeRectangle,
		Flags:     map[string]any{},
	}
}

// Rect returns the image-space rectangle spanned by the shape's two points.
// Points given in any corner order are accepted.
func (s Shape) Rect() (geometry.Rect, error) {
	if len(s.Points) != 2 {
		return geometry.Rect{}, fmt.Errorf("%w: label %q has %d points, want 2", ErrMalformedShape, s.Label, len(s.Points))
	}
	for i, p := range s.Points {
		if len(p) != 2 {
			return geometry.Rect{}, fmt.Errorf("%w: label %q point %d has %d coordinates", ErrMalformedShape, s.Label, i, len(p))
		}
	}
	r := geometry.FromCorners(
		geometry.Point{X: s.Points[0][0], Y: s.Points[0][1]},
		geometry.Point{X: s.Points[1][0], Y: s.Points[1][1]},
	)
	if s.ShapeType != "" && s.ShapeType != ShapeRectangle {
		return r, fmt.Errorf("%w: label %q has shape_type %q", ErrMalformedShape, s.Label, s.ShapeType)
	}
	return r, nil
}

// Marshal serializes the document with four-space indentation.
// Nil flag maps and shape lists are written as {} and [].
func (d *Document) Marshal() ([]byte, error) {
	out := *d
	if out.Flags == nil {
		out.Flags = map[string]any{}
	}
	out.Shapes = make([]Shape, len(d.Shapes))
	for i, s := range d.Shapes {
		if s.Flags == nil {
			s.Flags = map[string]any{}
		}
		out.Shapes[i] = s
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(&out); err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// rawDocument mirrors Document with pointers so absent fields can be told
// apart from zero values.
type rawDocument struct {
	Version     *string        `json:"version"`
	Flags       map[string]any `json:"flags"`
	Shapes      *[]Shape       `json:"shapes"`
	ImagePath   *string        `json:"imagePath"`
	ImageData   *string        `json:"imageData"`
	ImageHeight *int           `json:"imageHeight"`
	ImageWidth  *int           `json:"imageWidth"`
}

// Parse decodes one document. The shapes list, image path and image
// dimensions are required; version, flags and imageData may be absent or null.
// Shape geometry is not validated here, see Shape.Rect.
func Parse(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return raw.document()
}

func (raw *rawDocument) document() (*Document, error) {
	var missing []string
	if raw.Shapes == nil {
		missing = append(missing, "shapes")
	}
	if raw.ImagePath == nil {
		missing = append(missing, "imagePath")
	}
	if raw.ImageHeight == nil {
		missing = append(missing, "imageHeight")
	}
	if raw.ImageWidth == nil {
		missing = append(missing, "imageWidth")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformedDocument, strings.Join(missing, ", "))
	}

	doc := &Document{
		Flags:       raw.Flags,
		Shapes:      *raw.Shapes,
		ImagePath:   *raw.ImagePath,
		ImageHeight: *raw.ImageHeight,
		ImageWidth:  *raw.ImageWidth,
	}
	if raw.Version != nil {
		doc.Version = *raw.Version
	}
	if raw.ImageData != nil {
		doc.ImageData = *raw.ImageData
	}
	if doc.Shapes == nil {
		doc.Shapes = []Shape{}
	}
	return doc, nil
}

// MarshalAll writes several documents as one JSON array, in order.
func MarshalAll(docs []*Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, d := range docs {
		if i > 0 {
			buf.WriteByte(',')
		}
		data, err := d.Marshal()
		if err != nil {
			return nil, fmt.Errorf("document %d (%s): %w", i, d.ImagePath, err)
		}
		buf.Write(data)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// ParseAll decodes either a single document or an array of documents
func ParseAll(data []byte) ([]*Document, error) {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, utf8BOM), " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '[' {
		doc, err := Parse(data)
		if err != nil {
			return nil, err
		}
		return []*Document{doc}, nil
	}

	var raws []rawDocument
	if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	docs := make([]*Document, 0, len(raws))
	for i := range raws {
		doc, err := raws[i].document()
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
