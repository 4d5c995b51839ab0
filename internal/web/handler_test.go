package web_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/spaform/internal/form"
	"github.com/vbonduro/spaform/internal/objecturl"
	"github.com/vbonduro/spaform/internal/remote"
	"github.com/vbonduro/spaform/internal/spa"
	"github.com/vbonduro/spaform/internal/web"
	"github.com/vbonduro/spaform/internal/web/templates"
)

// minimalJPEG is 512 bytes with the JPEG magic bytes header followed by zeros.
var minimalJPEG = func() []byte {
	b := make([]byte, 512)
	b[0] = 0xFF
	b[1] = 0xD8
	b[2] = 0xFF
	b[3] = 0xE0
	return b
}()

type fakeRemote struct {
	mu      sync.Mutex
	nextID  spa.ID
	created []spa.Draft
	updated []spa.Draft
	patches []string
	reads   []spa.ID
	deleted []spa.ID
	readRec *spa.Record
	stored  map[spa.ID]*spa.Record
	err     error
}

// store keeps what the server accepted so a later Read returns it.
func (f *fakeRemote) store(id spa.ID, draft spa.Draft) *spa.Record {
	rec := &spa.Record{
		ID:           id,
		Name:         draft.Name,
		City:         draft.City,
		Area:         draft.Area,
		Price:        draft.Price,
		OpeningHours: draft.OpeningHours,
	}
	for i := range draft.Images {
		rec.ImageURLs = append(rec.ImageURLs, fmt.Sprintf("http://localhost:8000/media/spa%d_%d.jpg", id, i))
	}
	if f.stored == nil {
		f.stored = make(map[spa.ID]*spa.Record)
	}
	f.stored[id] = rec
	return rec
}

func (f *fakeRemote) Create(_ context.Context, draft spa.Draft) (*spa.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, draft)
	if f.err != nil {
		return nil, f.err
	}
	return f.store(f.nextID, draft), nil
}

func (f *fakeRemote) Read(_ context.Context, id spa.ID) (*spa.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, id)
	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.stored[id]; ok {
		return rec, nil
	}
	return f.readRec, nil
}

func (f *fakeRemote) Update(_ context.Context, id spa.ID, draft spa.Draft) (*spa.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, draft)
	if f.err != nil {
		return nil, f.err
	}
	return f.store(id, draft), nil
}

func (f *fakeRemote) Patch(_ context.Context, id spa.ID, field spa.Field, value string) (*spa.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, string(field)+"="+value)
	if f.err != nil {
		return nil, f.err
	}
	return &spa.Record{ID: id}, nil
}

func (f *fakeRemote) Delete(_ context.Context, id spa.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return f.err
}

func (f *fakeRemote) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type harness struct {
	srv    *web.Server
	remote *fakeRemote
	urls   *objecturl.Registry
	ctrl   *form.Controller
}

func newHarness(t *testing.T, caps form.Capabilities) *harness {
	t.Helper()
	fr := &fakeRemote{nextID: 7}
	urls := objecturl.NewRegistry("http://localhost:8080")
	nav := form.NewQueryNavigator("/")
	ctrl := form.New(fr, urls, form.WithCapabilities(caps), form.WithNavigator(nav))
	t.Cleanup(ctrl.Close)
	srv := web.NewServer(ctrl, urls, nav, templates.FS, slog.Default(),
		web.WithImageOrigin("http://localhost:8000/"))
	return &harness{srv: srv, remote: fr, urls: urls, ctrl: ctrl}
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.srv.ServeHTTP(rec, req)
	return rec
}

func (h *harness) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	return h.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (h *harness) postForm(t *testing.T, target string, vals url.Values, htmx bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	return h.do(t, req)
}

func (h *harness) postImages(t *testing.T, files map[string][]byte) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for name, data := range files {
		fw, err := w.CreateFormFile(spa.ImagesField, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	req := httptest.NewRequest(http.MethodPost, "/images", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("HX-Request", "true")
	return h.do(t, req)
}

func TestIndexRendersEmptyForm(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Spa Details")
	assert.Contains(t, body, "Submit Details")
	assert.Contains(t, body, "The Spa")
	assert.Contains(t, body, "No images selected")
	assert.NotContains(t, body, "Delete Spa")
	assert.NotContains(t, body, "/sync")
	assert.Contains(t, rec.Header().Get("Content-Security-Policy"), "img-src 'self' data: http://localhost:8000;")
}

func TestUnknownPathIs404(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	assert.Equal(t, http.StatusNotFound, h.get(t, "/nope").Code)
}

func TestDraftUpdatesPreview(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postForm(t, "/draft", url.Values{"spa_name": {"Lotus"}, "city": {"Pune"}, "area": {"Baner"}}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `id="preview"`)
	assert.Contains(t, body, "Lotus")
	assert.Contains(t, body, "Baner, Pune")
	assert.Equal(t, "Lotus", h.ctrl.Snapshot().Draft.Name)
}

func TestImagesAreServedUntilReplaced(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postImages(t, map[string][]byte{"a.jpg": minimalJPEG})
	require.Equal(t, http.StatusOK, rec.Code)

	state := h.ctrl.Snapshot()
	require.Len(t, state.PreviewURLs, 1)
	token, ok := h.urls.Token(state.PreviewURLs[0])
	require.True(t, ok)
	assert.Contains(t, rec.Body.String(), "/blob/"+token)

	blob := h.get(t, "/blob/"+token)
	require.Equal(t, http.StatusOK, blob.Code)
	assert.Equal(t, "image/jpeg", blob.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", blob.Header().Get("Cache-Control"))
	assert.Equal(t, minimalJPEG, blob.Body.Bytes())

	rec = h.postImages(t, map[string][]byte{"b.jpg": minimalJPEG})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, h.get(t, "/blob/"+token).Code)
	assert.Equal(t, 1, h.urls.Live())
}

func TestImagesRejectNonImage(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postImages(t, map[string][]byte{"notes.pdf": []byte("%PDF-1.4 not an image")})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "#status", rec.Header().Get("HX-Retarget"))
	assert.Contains(t, rec.Body.String(), "notes.pdf is not a supported image")
	assert.Empty(t, h.ctrl.Snapshot().PreviewURLs)
}

func TestPreviewSlideClamps(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postImages(t, map[string][]byte{"a.jpg": minimalJPEG, "b.jpg": minimalJPEG}).Code)

	rec := h.get(t, "/preview?slide=1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Preview 2 of 2")

	rec = h.get(t, "/preview?slide=9")
	assert.Contains(t, rec.Body.String(), "Preview 2 of 2")

	assert.Equal(t, http.StatusBadRequest, h.get(t, "/preview?slide=x").Code)
}

func TestSubmitCreatesAndRedirects(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}, "price": {"1800"}}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/?id=7", rec.Header().Get("HX-Redirect"))
	require.Len(t, h.remote.created, 1)
	assert.Equal(t, "Lotus", h.remote.created[0].Name)
	assert.Equal(t, "1800", h.remote.created[0].Price)

	page := h.get(t, "/?id=7")
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, "Spa details submitted successfully with ID: 7")
	assert.Contains(t, body, "Editing spa #7")
	assert.Contains(t, body, "Delete Spa")
	assert.Contains(t, body, "/fields/spa_name/sync")
	assert.Contains(t, body, `value="Lotus"`)
	assert.Equal(t, []spa.ID{7}, h.remote.reads, "created listing is read back")

	again := h.get(t, "/?id=7")
	assert.NotContains(t, again.Body.String(), "submitted successfully", "flash shows once")
}

func TestSubmitWithoutHTMXUsesSeeOther(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, false)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/?id=7", rec.Header().Get("Location"))
}

func TestSubmitUpdatesExisting(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)

	rec := h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus Deluxe"}}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.remote.updated, 1)
	assert.Equal(t, "Lotus Deluxe", h.remote.updated[0].Name)
	assert.Contains(t, h.get(t, "/?id=7").Body.String(), "Spa 7 updated successfully")
}

func TestReloadAfterCreateRepopulatesDraft(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{
		"spa_name": {"Lotus"}, "city": {"Pune"}, "area": {"Baner"}, "price": {"1500"}, "timing": {"10 AM - 8 PM"},
	}, true).Code)
	require.True(t, h.ctrl.Snapshot().Draft.IsEmpty(), "create clears the draft")

	page := h.get(t, "/?id=7")

	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, `value="Lotus"`)
	assert.Contains(t, body, `value="10 AM - 8 PM"`)
	state := h.ctrl.Snapshot()
	assert.Equal(t, spa.ID(7), state.ID)
	assert.Equal(t, "Baner", state.Draft.Area)
	assert.True(t, state.Synced)

	// Submitting the reloaded page must not blank the stored listing.
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"price": {"1600"}}, true).Code)
	require.Len(t, h.remote.updated, 1)
	sent := h.remote.updated[0]
	assert.Equal(t, "Lotus", sent.Name)
	assert.Equal(t, "Pune", sent.City)
	assert.Equal(t, "1600", sent.Price)
	assert.Equal(t, "10 AM - 8 PM", sent.OpeningHours)
}

func TestReloadAfterUpdateSkipsRead(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)
	require.Equal(t, http.StatusOK, h.get(t, "/?id=7").Code)
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"city": {"Pune"}}, true).Code)

	page := h.get(t, "/?id=7")

	assert.Contains(t, page.Body.String(), `value="Pune"`)
	assert.Equal(t, []spa.ID{7}, h.remote.reads, "an accepted update is already in sync")
}

func TestSubmitRemoteFailure(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	h.remote.fail(&remote.Error{Op: "create", Kind: remote.ServerRejection, Status: 400, Message: "price: A valid number is required."})

	rec := h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}, "price": {"abc"}}, true)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "price: A valid number is required.")
	assert.Equal(t, "abc", h.ctrl.Snapshot().Draft.Price, "draft survives a failed submit")
}

func TestSyncFieldBeforeCreateIsNoop(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postForm(t, "/fields/city/sync", url.Values{"city": {"Pune"}}, true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.remote.patches)
	assert.Equal(t, "Pune", h.ctrl.Snapshot().Draft.City)
}

func TestSyncFieldPatchesExisting(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)

	rec := h.postForm(t, "/fields/city/sync", url.Values{"city": {"Pune"}, "spa_name": {"ignored"}}, true)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"city=Pune"}, h.remote.patches)
}

func TestSyncFieldFailure(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)
	h.remote.fail(&remote.Error{Op: "patch", Kind: remote.TransportFailure, Message: "connection refused"})

	rec := h.postForm(t, "/fields/price/sync", url.Values{"price": {"900"}}, true)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not save Price")
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestSyncUnknownField(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.postForm(t, "/fields/owner/sync", url.Values{"owner": {"x"}}, true)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncDisabledWithoutPatch(t *testing.T) {
	h := newHarness(t, form.Capabilities{Update: true, Delete: true})
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)

	assert.NotContains(t, h.get(t, "/?id=7").Body.String(), "/sync")
	rec := h.postForm(t, "/fields/city/sync", url.Values{"city": {"Pune"}}, true)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.remote.patches)
}

func TestDeleteExisting(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)

	rec := h.postForm(t, "/delete", url.Values{}, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("HX-Redirect"))
	assert.Equal(t, []spa.ID{7}, h.remote.deleted)

	page := h.get(t, "/")
	assert.Contains(t, page.Body.String(), "Spa 7 deleted")
	assert.Contains(t, page.Body.String(), "Spa Details")
}

func TestDeleteUnsupported(t *testing.T) {
	h := newHarness(t, form.Capabilities{Update: true, Patch: true})
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)

	assert.NotContains(t, h.get(t, "/?id=7").Body.String(), "Delete Spa")
	rec := h.postForm(t, "/delete", url.Values{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, h.remote.deleted)
}

func TestIndexLoadsExisting(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	h.remote.readRec = &spa.Record{
		ID:        5,
		Name:      "Serenity",
		City:      "Goa",
		ImageURLs: []string{"http://localhost:8000/media/spa5_a.jpg"},
	}

	rec := h.get(t, "/?id=5")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "Editing spa #5")
	assert.Contains(t, body, `value="Serenity"`)
	assert.Contains(t, body, "http://localhost:8000/media/spa5_a.jpg")
	assert.Equal(t, []spa.ID{5}, h.remote.reads)
}

func TestIndexLoadFailure(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	h.remote.fail(&remote.Error{Op: "read", Kind: remote.ServerRejection, Status: 404, Message: "Not found."})

	rec := h.get(t, "/?id=99")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Could not load spa 99: Not found.")
	assert.True(t, h.ctrl.Snapshot().IsNew())
}

func TestIndexRejectsBadID(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.get(t, "/?id=abc")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "is not a valid spa id")
}

func TestIndexWithoutIDStartsOver(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())
	require.Equal(t, http.StatusOK, h.postForm(t, "/submit", url.Values{"spa_name": {"Lotus"}}, true).Code)
	require.False(t, h.ctrl.Snapshot().IsNew())

	rec := h.get(t, "/")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.ctrl.Snapshot().IsNew())
	assert.Contains(t, rec.Body.String(), "Submit Details")
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t, form.AllCapabilities())

	rec := h.get(t, "/")

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
}
