package web

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/vbonduro/spaform/internal/form"
	"github.com/vbonduro/spaform/internal/remote"
	"github.com/vbonduro/spaform/internal/spa"
)

const (
	maxUploadSize = 50 * 1024 * 1024 // 50 MB across all selected images
	memoryLimit   = 32 << 20
)

var formPage = []string{
	"base.html",
	"pages/form.html",
	"partials/preview.html",
	"partials/status.html",
}

var fieldLabels = map[spa.Field]string{
	spa.FieldName:   "Spa Name",
	spa.FieldCity:   "City",
	spa.FieldArea:   "Area",
	spa.FieldPrice:  "Price (₹)",
	spa.FieldTiming: "Timing",
}

type flash struct {
	Kind    string
	Message string
}

// flashSlot holds one message until the next full page render shows it.
type flashSlot struct {
	mu  sync.Mutex
	msg *flash
}

func (f *flashSlot) set(kind, message string) {
	f.mu.Lock()
	f.msg = &flash{Kind: kind, Message: message}
	f.mu.Unlock()
}

func (f *flashSlot) take() *flash {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := f.msg
	f.msg = nil
	return msg
}

type fieldView struct {
	Name  string
	Label string
	Type  string
	Value string
}

type pageData struct {
	State      form.State
	Fields     []fieldView
	Preview    previewData
	Flash      *flash
	SyncOnBlur bool
	CanDelete  bool
}

func (s *Server) buildPage(state form.State) pageData {
	caps := s.form.Capabilities()
	fields := make([]fieldView, 0, len(spa.Fields()))
	for _, f := range spa.Fields() {
		fields = append(fields, fieldView{
			Name:  string(f),
			Label: fieldLabels[f],
			Type:  "text",
			Value: state.Draft.Get(f),
		})
	}
	return pageData{
		State:   state,
		Fields:  fields,
		Preview: s.buildPreview(state),
		Flash:   s.flash.take(),
		// Blur sync only makes sense once the listing exists remotely.
		SyncOnBlur: caps.Patch && !state.IsNew(),
		CanDelete:  caps.Delete,
	}
}

// handleIndex renders the form. ?id=N resumes listing N, reading it back
// unless the draft already matches the server; no id starts a new listing.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	current := s.form.Snapshot()

	if raw := r.URL.Query().Get("id"); raw != "" {
		id, err := spa.ParseID(raw)
		switch {
		case err != nil:
			status = http.StatusBadRequest
			s.flash.set("error", fmt.Sprintf("%q is not a valid spa id", raw))
		case id != current.ID || !current.Synced:
			if err := s.form.LoadExisting(r.Context(), id); err != nil {
				status = failureStatus(err)
				s.flash.set("error", fmt.Sprintf("Could not load spa %s: %s", id, form.UserMessage(err)))
				s.logger.Warn("load listing failed", "spa_id", int64(id), "error", err)
			} else {
				s.resetSlide()
			}
		}
	} else if !current.IsNew() {
		if err := s.form.Reset(); err != nil {
			status = failureStatus(err)
			s.flash.set("error", form.UserMessage(err))
		} else {
			s.resetSlide()
		}
	}

	data := s.buildPage(s.form.Snapshot())
	if err := s.renderPage(w, status, data, formPage...); err != nil {
		s.logger.Error("render form page", "error", err)
	}
}

// handleDraft records the current field values and returns the refreshed
// preview card.
func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	s.applyFields(r)
	s.renderPreview(w)
}

// handleSyncField sends one field to the server on blur. It waits for this
// field's earlier syncs so the server sees values in edit order.
func (s *Server) handleSyncField(w http.ResponseWriter, r *http.Request) {
	field, err := spa.ParseField(r.PathValue("field"))
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := parseForm(w, r); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if vals, ok := r.PostForm[string(field)]; ok && len(vals) > 0 {
		s.form.SetField(field, vals[0])
	}

	// A sync that has started is finished even if the page goes away.
	res := <-s.form.SyncField(context.WithoutCancel(r.Context()), field)
	switch {
	case res.Err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(res.Err, form.ErrNoRecord), errors.Is(res.Err, form.ErrUnsupported):
		// Nothing persisted to update; the full submit carries the value.
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeFailure(w, failureStatus(res.Err),
			fmt.Sprintf("Could not save %s: %s", fieldLabels[field], form.UserMessage(res.Err)))
	}
}

// handleSubmit creates or updates the listing and reloads the page on its
// new location.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := parseForm(w, r); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	s.applyFields(r)
	// Without htmx the file input only arrives with the submit itself.
	if files := multipartFiles(r, spa.ImagesField); len(files) > 0 {
		images, err := s.readImages(files)
		if err != nil {
			s.writeFailure(w, http.StatusBadRequest, err.Error())
			return
		}
		s.form.SetImages(images)
		s.resetSlide()
	}

	out, err := s.form.Submit(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeFailure(w, failureStatus(err), form.UserMessage(err))
		return
	}
	s.flash.set("success", out.Message())
	redirect(w, r, s.nav.Location())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := s.form.Snapshot().ID
	deleted, err := s.form.DeleteExisting(context.WithoutCancel(r.Context()))
	if err != nil {
		s.writeFailure(w, failureStatus(err), form.UserMessage(err))
		return
	}
	if deleted {
		s.resetSlide()
		s.flash.set("success", fmt.Sprintf("Spa %s deleted", id))
	}
	redirect(w, r, s.nav.Location())
}

// applyFields copies every posted scalar into the draft. Absent fields are
// left untouched.
func (s *Server) applyFields(r *http.Request) {
	for _, f := range spa.Fields() {
		if vals, ok := r.PostForm[string(f)]; ok && len(vals) > 0 {
			s.form.SetField(f, vals[0])
		}
	}
}

// writeFailure renders the status partial into #status regardless of which
// element the request targeted.
func (s *Server) writeFailure(w http.ResponseWriter, status int, message string) {
	w.Header().Set("HX-Retarget", "#status")
	w.Header().Set("HX-Reswap", "innerHTML")
	if err := s.renderPartial(w, status, "partials/status.html", &flash{Kind: "error", Message: message}); err != nil {
		s.logger.Error("render status partial", "error", err)
	}
}

func failureStatus(err error) int {
	var rerr *remote.Error
	switch {
	case errors.Is(err, form.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, form.ErrUnsupported), errors.Is(err, form.ErrNoRecord):
		return http.StatusBadRequest
	case errors.Is(err, form.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &rerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseForm accepts both multipart and urlencoded bodies; htmx sends the
// latter unless the form carries files.
func parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	err := r.ParseMultipartForm(memoryLimit)
	if errors.Is(err, http.ErrNotMultipart) {
		return r.ParseForm()
	}
	return err
}

func multipartFiles(r *http.Request, name string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File[name]
}
