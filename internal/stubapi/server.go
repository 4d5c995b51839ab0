// Package stubapi serves a local REST collection of spa listings with the
// same shape as the production API, for development and tests.
package stubapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/vbonduro/spaform/internal/catalog"
	"github.com/vbonduro/spaform/internal/imagestore"
	"github.com/vbonduro/spaform/internal/spa"
)

const (
	maxUploadSize = 50 * 1024 * 1024
	// memoryLimit is how much of a multipart body is held in memory before
	// spilling to temp files.
	memoryLimit = 32 << 20
)

// listingService is the subset of catalog.Service the API requires.
type listingService interface {
	Create(ctx context.Context, draft spa.Draft) (*catalog.Listing, error)
	Get(ctx context.Context, id int64) (*catalog.Listing, error)
	List(ctx context.Context) ([]*catalog.Listing, error)
	Replace(ctx context.Context, id int64, draft spa.Draft) (*catalog.Listing, error)
	Patch(ctx context.Context, id int64, field spa.Field, value string) (*catalog.Listing, error)
	Delete(ctx context.Context, id int64) error
	Image(ctx context.Context, key string) (io.ReadCloser, string, error)
}

type Server struct {
	router    *mux.Router
	svc       listingService
	publicURL string
	logger    *slog.Logger
}

// NewServer mounts the collection at /{collection}/. publicURL is the
// externally visible origin used to build hosted image URLs.
func NewServer(svc listingService, collection, publicURL string, logger *slog.Logger) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		svc:       svc,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger,
	}
	s.registerRoutes(strings.Trim(collection, "/"))
	return s
}

func (s *Server) registerRoutes(collection string) {
	s.router.Use(s.requestLogger)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/media/{key}", s.handleMedia).Methods(http.MethodGet)

	col := s.router.PathPrefix("/" + collection).Subrouter()
	col.HandleFunc("/", s.handleList).Methods(http.MethodGet)
	col.HandleFunc("/", s.handleCreate).Methods(http.MethodPost)
	col.HandleFunc("/{id:[0-9]+}/", s.handleRead).Methods(http.MethodGet)
	col.HandleFunc("/{id:[0-9]+}/", s.handleReplace).Methods(http.MethodPut)
	col.HandleFunc("/{id:[0-9]+}/", s.handlePatch).Methods(http.MethodPatch)
	col.HandleFunc("/{id:[0-9]+}/", s.handleDelete).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting stub api", "addr", addr)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	listings, err := s.svc.List(r.Context())
	if err != nil {
		s.fail(w, "list", err)
		return
	}
	out := make([]record, 0, len(listings))
	for _, l := range listings {
		out = append(out, s.toRecord(l))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	draft, _, err := parseDraft(w, r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := s.svc.Create(r.Context(), draft)
	if err != nil {
		s.fail(w, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.toRecord(listing))
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	listing, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.fail(w, "read", err)
		return
	}
	writeJSON(w, http.StatusOK, s.toRecord(listing))
}

func (s *Server) handleReplace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	draft, _, err := parseDraft(w, r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	listing, err := s.svc.Replace(r.Context(), id, draft)
	if err != nil {
		s.fail(w, "replace", err)
		return
	}
	writeJSON(w, http.StatusOK, s.toRecord(listing))
}

// handlePatch applies exactly one scalar field.
func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	_, form, err := parseDraft(w, r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(form) != 1 {
		writeProblem(w, http.StatusBadRequest, "patch must carry exactly one field")
		return
	}

	var listing *catalog.Listing
	for name, values := range form {
		field, ferr := spa.ParseField(name)
		if ferr != nil {
			writeProblem(w, http.StatusBadRequest, ferr.Error())
			return
		}
		listing, err = s.svc.Patch(r.Context(), id, field, values[0])
	}
	if err != nil {
		s.fail(w, "patch", err)
		return
	}
	writeJSON(w, http.StatusOK, s.toRecord(listing))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), id); err != nil {
		s.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	rc, mimeType, err := s.svc.Image(r.Context(), key)
	if errors.Is(err, imagestore.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		s.fail(w, "media", err)
		return
	}
	defer closeWithLog(rc, "media reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Error("write media failed", "key", key, "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, err.Error())
		return
	}
	s.logger.Error("catalog operation failed", "op", op, "error", err)
	writeProblem(w, http.StatusInternalServerError, "internal error")
}

// parseDraft reads a multipart or urlencoded body. It returns the draft and
// the scalar fields that were actually present.
func parseDraft(w http.ResponseWriter, r *http.Request) (spa.Draft, map[string][]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	var draft spa.Draft
	err := r.ParseMultipartForm(memoryLimit)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return draft, nil, fmt.Errorf("malformed form body: %w", err)
	}

	present := make(map[string][]string)
	for name, values := range r.PostForm {
		if len(values) > 0 {
			present[name] = values
		}
	}
	for name, values := range present {
		field, ferr := spa.ParseField(name)
		if ferr != nil {
			if r.Method == http.MethodPatch {
				continue
			}
			return draft, nil, ferr
		}
		draft = draft.With(field, values[0])
	}

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File[spa.ImagesField] {
			img, ierr := readImage(fh)
			if ierr != nil {
				return draft, nil, ierr
			}
			draft.Images = append(draft.Images, img)
		}
	}
	return draft, present, nil
}

func readImage(fh *multipart.FileHeader) (spa.Image, error) {
	f, err := fh.Open()
	if err != nil {
		return spa.Image{}, fmt.Errorf("failed to open %s: %w", fh.Filename, err)
	}
	defer func() { _ = f.Close() }()

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

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// record is the JSON shape of one listing.
type record struct {
	ID        int64     `json:"id"`
	Name      string    `json:"spa_name"`
	City      string    `json:"city"`
	Area      string    `json:"area"`
	Price     string    `json:"price"`
	Timing    string    `json:"timing"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *Server) toRecord(l *catalog.Listing) record {
	images := make([]string, 0, len(l.Images))
	for _, img := range l.Images {
		images = append(images, s.publicURL+"/media/"+img.StorageKey)
	}
	return record{
		ID:        l.ID,
		Name:      l.Name,
		City:      l.City,
		Area:      l.Area,
		Price:     l.Price,
		Timing:    l.Timing,
		Images:    images,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
}

// problem is an RFC 7807 style error body.
type problem struct {
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Title: http.StatusText(status), Status: status, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
