package web

import (
	"context"
	"html/template"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/vbonduro/spaform/internal/form"
	"github.com/vbonduro/spaform/internal/preview"
	"github.com/vbonduro/spaform/internal/spa"
)

// formController is the subset of form.Controller the handlers drive.
type formController interface {
	Capabilities() form.Capabilities
	Snapshot() form.State
	SetField(field spa.Field, value string)
	SetImages(images []spa.Image)
	LoadExisting(ctx context.Context, id spa.ID) error
	Submit(ctx context.Context) (form.Outcome, error)
	SyncField(ctx context.Context, field spa.Field) <-chan form.SyncResult
	DeleteExisting(ctx context.Context) (bool, error)
	Reset() error
}

// blobResolver maps preview URLs minted for local images back to their bytes.
type blobResolver interface {
	Token(url string) (string, bool)
	ResolveToken(token string) (spa.Image, bool)
}

// locator reports where the page currently lives, e.g. "/?id=42".
type locator interface {
	Location() string
}

type Server struct {
	form      formController
	blobs     blobResolver
	nav       locator
	templates fs.FS
	mux       *http.ServeMux
	tmplFuncs template.FuncMap
	imgSrc    string
	logger    *slog.Logger

	flash flashSlot

	mu    sync.Mutex
	slide int
}

type Option func(*Server)

// WithImageOrigin allows hosted listing images from origin in the page's
// content security policy.
func WithImageOrigin(origin string) Option {
	return func(s *Server) {
		if origin = strings.TrimRight(origin, "/"); origin != "" {
			s.imgSrc += " " + origin
		}
	}
}

func NewServer(ctrl formController, blobs blobResolver, nav locator, tmpl fs.FS, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		form:      ctrl,
		blobs:     blobs,
		nav:       nav,
		templates: tmpl,
		mux:       http.NewServeMux(),
		imgSrc:    "'self' data:",
		logger:    logger,
	}
	s.tmplFuncs = template.FuncMap{
		"imageSrc": s.imageSrc,
		"inc":      func(i int) int { return i + 1 },
		"next":     preview.NextIndex,
		"prev":     preview.PrevIndex,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /draft", s.handleDraft)
	s.mux.HandleFunc("POST /images", s.handleImages)
	s.mux.HandleFunc("POST /fields/{field}/sync", s.handleSyncField)
	s.mux.HandleFunc("POST /submit", s.handleSubmit)
	s.mux.HandleFunc("POST /delete", s.handleDelete)
	s.mux.HandleFunc("GET /preview", s.handlePreview)
	s.mux.HandleFunc("GET /blob/{token}", s.handleBlob)
}

// securityHeaders adds defensive HTTP response headers to every response.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	csp := "default-src 'self'; " +
		"script-src 'self' 'unsafe-inline' https://unpkg.com; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src " + s.imgSrc + "; " +
		"connect-src 'self'"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", csp)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"htmx", r.Header.Get("HX-Request") == "true",
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, s.securityHeaders(s.mux)).ServeHTTP(w, r)
}

// HTTPServer returns an http.Server ready to listen on addr. The caller owns
// ListenAndServe and Shutdown.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// renderPage parses and executes a full-page template set.
func (s *Server) renderPage(w http.ResponseWriter, status int, data any, files ...string) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return tmpl.ExecuteTemplate(w, "base", data)
}

// renderPartial parses and executes a single named partial template.
// The file must contain exactly one {{define "name"}}...{{end}} block.
func (s *Server) renderPartial(w http.ResponseWriter, status int, file string, data any) error {
	tmpl, err := template.New("").Funcs(s.tmplFuncs).ParseFS(s.templates, file)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	// ParseFS registers both the file-basename template and any {{define}}
	// blocks. The {{define}} template is the one named neither "" nor after
	// the file.
	basename := file
	if idx := strings.LastIndexByte(file, '/'); idx >= 0 {
		basename = file[idx+1:]
	}
	for _, t := range tmpl.Templates() {
		if n := t.Name(); n != "" && n != basename {
			return t.Execute(w, data)
		}
	}
	return tmpl.ExecuteTemplate(w, basename, data)
}

// imageSrc turns a locally minted blob URL into the path that serves its
// bytes. Hosted URLs pass through.
func (s *Server) imageSrc(url string) string {
	if token, ok := s.blobs.Token(url); ok {
		return "/blob/" + token
	}
	return url
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// redirect sends the browser to target. htmx requests get an HX-Redirect so
// the whole page reloads instead of swapping into the target.
func redirect(w http.ResponseWriter, r *http.Request, target string) {
	if isHTMX(r) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusOK)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
