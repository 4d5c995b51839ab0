// Package imagestore stores hosted image bytes by opaque key.
package imagestore

import (
	"context"
	"errors"
	"io"
	"net/http"
)

var ErrNotFound = errors.New("image not found")

type Store interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

// allowedTypes are the sniffable formats we accept. WebP is checked
// separately; http.DetectContentType has no signature for it.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

func isWebP(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WEBP"
}

// DetectMIME sniffs data and reports its MIME type when it is an accepted
// image format.
func DetectMIME(data []byte) (string, bool) {
	if isWebP(data) {
		return "image/webp", true
	}
	mime := http.DetectContentType(data)
	if allowedTypes[mime] {
		return mime, true
	}
	return "", false
}

// Ext returns the file extension used for mimeType.
func Ext(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
