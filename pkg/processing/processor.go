package processing

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/image-annotator/pkg/labelme"
)

// ErrUnsupportedFormat is returned when no registered decoder accepts the data
var ErrUnsupportedFormat = errors.New("unknown or unsupported image format")

// Source is an image as loaded, with the original bytes kept for embedding
type Source struct {
	// Name is the base file name used for ordering and export
	Name string
	// Format is the decoder name: jpeg, png, gif or webp
	Format string
	Data   []byte
	Image  image.Image
}

// Width returns the pixel width after orientation correction
func (s *Source) Width() int { return s.Image.Bounds().Dx() }

// Height returns the pixel height after orientation correction
func (s *Source) Height() int { return s.Image.Bounds().Dy() }

// MIMEType returns the MIME type of the original bytes
func (s *Source) MIMEType() string {
	if s.Format == "" {
		return labelme.MIMEType(s.Name)
	}
	return "image/" + s.Format
}

// DataURI returns the original bytes as a base64 data URI
func (s *Source) DataURI() string {
	return labelme.EncodeDataURI(s.MIMEType(), s.Data)
}

// Processor handles image processing operations
type Processor struct {
	client    *http.Client
	userAgent string
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		client:    &http.Client{Timeout: 30 * time.Second},
		userAgent: "Image-Annotator/1.0",
	}
}

// Decode decodes image bytes. EXIF orientation is applied, so the reported
// size matches what a browser displays for the same file.
func (p *Processor) Decode(name string, data []byte) (*Source, error) {
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err == nil {
			return &Source{Name: name, Format: format, Data: data, Image: img}, nil
		}
	}

	// Fallback: explicit WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return &Source{Name: name, Format: "webp", Data: data, Image: img}, nil
	}

	return nil, fmt.Errorf("%s: %w", name, ErrUnsupportedFormat)
}

// DecodeConfig reads only the image header and returns its pixel size
func (p *Processor) DecodeConfig(data []byte) (int, int, error) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg.Width, cfg.Height, nil
	}
	if cfg, err := webp.DecodeConfig(bytes.NewReader(data)); err == nil {
		return cfg.Width, cfg.Height, nil
	}
	return 0, 0, ErrUnsupportedFormat
}

// LoadFile reads and decodes an image file
func (p *Processor) LoadFile(filePath string) (*Source, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return p.Decode(filepath.Base(filePath), data)
}

// LoadURL downloads and decodes an image
func (p *Processor) LoadURL(ctx context.Context, imageURL string) (*Source, error) {
	data, err := p.Fetch(ctx, imageURL, "image/")
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(imageURL)
	return p.Decode(path.Base(u.Path), data)
}

// Load loads an image from either a file path or URL
func (p *Processor) Load(ctx context.Context, source string) (*Source, error) {
	if IsURL(source) {
		return p.LoadURL(ctx, source)
	}
	return p.LoadFile(source)
}

// IsURL reports whether source is an http(s) URL
func IsURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

// Fetch downloads a resource. A non-empty contentType prefix is enforced
// against the response's Content-Type header.
func (p *Processor) Fetch(ctx context.Context, rawURL, contentType string) ([]byte, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download %s: HTTP %d %s", rawURL, resp.StatusCode, resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(ct, contentType) {
		return nil, fmt.Errorf("%s is not %s* (Content-Type: %s)", rawURL, contentType, ct)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path)
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}
