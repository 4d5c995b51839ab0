package remote

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/vbonduro/spaform/internal/spa"
)

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// encodeDraft writes every scalar followed by every image.
func encodeDraft(d spa.Draft) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range spa.Fields() {
		if err := w.WriteField(string(f), d.Get(f)); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f, err)
		}
	}
	for i, img := range d.Images {
		if err := writeImage(w, i, img); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func encodeField(f spa.Field, value string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField(string(f), value); err != nil {
		return nil, "", fmt.Errorf("write field %s: %w", f, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeImage(w *multipart.Writer, i int, img spa.Image) error {
	name := img.Filename
	if name == "" {
		name = fmt.Sprintf("image-%d", i+1)
	}
	mimeType := img.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		spa.ImagesField, quoteEscaper.Replace(name)))
	h.Set("Content-Type", mimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create image part %s: %w", name, err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return fmt.Errorf("write image %s: %w", name, err)
	}
	return nil
}
