package labelme

import (
	"encoding/base64"
	"path/filepath"
	"strings"
)

// StripDataURI returns the base64 payload of a data URI.
// Strings without a data URI prefix are returned unchanged.
func StripDataURI(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// DataURI wraps a base64 payload in a data URI of the given MIME type
func DataURI(mimeType, payload string) string {
	return "data:" + mimeType + ";base64," + payload
}

// EncodeDataURI base64-encodes raw bytes into a data URI
func EncodeDataURI(mimeType string, data []byte) string {
	return DataURI(mimeType, base64.StdEncoding.EncodeToString(data))
}

// MIMEType guesses the image MIME type from a file name's extension
func MIMEType(path string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	switch ext {
	case "jpg", "jpe":
		return "image/jpeg"
	case "tif":
		return "image/tiff"
	case "svg":
		return "image/svg+xml"
	case "":
		return "application/octet-stream"
	default:
		return "image/" + ext
	}
}

// ImageDataURI returns the document's embedded image as a data URI
func (d *Document) ImageDataURI() string {
	if d.ImageData == "" {
		return ""
	}
	return DataURI(MIMEType(d.ImagePath), StripDataURI(d.ImageData))
}
