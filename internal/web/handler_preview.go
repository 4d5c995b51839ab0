package web

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/vbonduro/spaform/internal/form"
	"github.com/vbonduro/spaform/internal/imagestore"
	"github.com/vbonduro/spaform/internal/preview"
	"github.com/vbonduro/spaform/internal/spa"
)

type previewData struct {
	Card     preview.Card
	Slide    int
	SlideURL string
}

// buildPreview projects state into the card and clamps the carousel position
// to the images it currently has.
func (s *Server) buildPreview(state form.State) previewData {
	card := preview.Project(state.Draft, state.PreviewURLs)
	s.mu.Lock()
	url, idx, _ := card.Slide(s.slide)
	s.slide = idx
	s.mu.Unlock()
	return previewData{Card: card, Slide: idx, SlideURL: url}
}

func (s *Server) resetSlide() {
	s.mu.Lock()
	s.slide = 0
	s.mu.Unlock()
}

func (s *Server) renderPreview(w http.ResponseWriter) {
	data := s.buildPreview(s.form.Snapshot())
	if err := s.renderPartial(w, http.StatusOK, "partials/preview.html", data); err != nil {
		s.logger.Error("render preview partial", "error", err)
	}
}

// handlePreview moves the carousel to ?slide=N.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("slide"); raw != "" {
		i, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid slide", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.slide = i
		s.mu.Unlock()
	}
	s.renderPreview(w)
}

// handleImages replaces the selected images with the uploaded set. Every file
// must sniff as a supported image or nothing changes.
func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}
	images, err := s.readImages(multipartFiles(r, spa.ImagesField))
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	s.form.SetImages(images)
	s.resetSlide()
	s.renderPreview(w)
}

func (s *Server) readImages(files []*multipart.FileHeader) ([]spa.Image, error) {
	images := make([]spa.Image, 0, len(files))
	for _, fh := range files {
		img, err := s.readImage(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *Server) readImage(fh *multipart.FileHeader) (spa.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return spa.Image{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer closeWithLog(f, "image upload", s.logger)

	data, err := io.ReadAll(f)
	if err != nil {
		return spa.Image{}, fmt.Errorf("failed to read %s: %w", fh.Filename, err)
	}
	mimeType, ok := imagestore.DetectMIME(data)
	if !ok {
		return spa.Image{}, fmt.Errorf("%s is not a supported image", fh.Filename)
	}
	return spa.Image{Filename: fh.Filename, MimeType: mimeType, Data: data}, nil
}

// handleBlob serves the bytes behind a live preview URL. Revoked URLs are
// gone for good.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	img, ok := s.blobs.ResolveToken(r.PathValue("token"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", img.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.Header().Set("Cache-Control", "no-store")
	if _, err := w.Write(img.Data); err != nil {
		s.logger.Error("write blob", "error", err)
	}
}
