// Package form owns the draft listing being edited and drives it through the
// remote collection: create, load, update, per-field patch and delete.
package form

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/vbonduro/spaform/internal/spa"
)

// Remote is the subset of remote.Resource the controller calls.
type Remote interface {
	Create(ctx context.Context, draft spa.Draft) (*spa.Record, error)
	Read(ctx context.Context, id spa.ID) (*spa.Record, error)
	Update(ctx context.Context, id spa.ID, draft spa.Draft) (*spa.Record, error)
	Patch(ctx context.Context, id spa.ID, field spa.Field, value string) (*spa.Record, error)
	Delete(ctx context.Context, id spa.ID) error
}

// URLMinter issues and revokes preview URLs for local images.
type URLMinter interface {
	Create(img spa.Image) string
	Revoke(url string) bool
}

// Capabilities selects which verbs beyond create the form may use.
type Capabilities struct {
	Update bool
	Patch  bool
	Delete bool
}

func AllCapabilities() Capabilities {
	return Capabilities{Update: true, Patch: true, Delete: true}
}

type Action int

const (
	Created Action = iota + 1
	Updated
)

// Outcome describes a successful Submit.
type Outcome struct {
	Action Action
	ID     spa.ID
	// Record is what the server returned; it may be nil for an update.
	Record *spa.Record
}

func (o Outcome) Message() string {
	switch o.Action {
	case Created:
		return fmt.Sprintf("Spa details submitted successfully with ID: %s", o.ID)
	case Updated:
		return fmt.Sprintf("Spa %s updated successfully", o.ID)
	default:
		return ""
	}
}

// SyncResult reports one save-on-blur patch.
type SyncResult struct {
	Field  spa.Field
	Value  string
	Record *spa.Record
	Err    error
}

// State is a point-in-time copy of the controller for rendering.
type State struct {
	ID          spa.ID
	Draft       spa.Draft
	PreviewURLs []string
	InFlight    bool
	// Synced is true while the draft matches what the server last returned
	// or accepted for ID.
	Synced bool
}

func (s State) IsNew() bool { return s.ID.IsZero() }

type Option func(*Controller)

func WithCapabilities(caps Capabilities) Option {
	return func(c *Controller) {
		c.caps = caps
	}
}

func WithNavigator(nav Navigator) Option {
	return func(c *Controller) {
		if nav != nil {
			c.nav = nav
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Controller is safe for concurrent use. Full submissions, loads and deletes
// are mutually exclusive; patches for the same field go out in call order.
type Controller struct {
	remote Remote
	urls   URLMinter
	caps   Capabilities
	nav    Navigator
	logger *slog.Logger

	mu    sync.Mutex
	draft spa.Draft
	id    spa.ID
	// localURLs were minted by urls for draft.Images and must be revoked.
	localURLs []string
	// hostedURLs came from the server and are only displayed.
	hostedURLs []string
	inFlight   bool
	closed     bool
	synced     bool
	// edits counts SetField and SetImages calls.
	edits uint64
	// lanes holds, per field, the completion channel of the newest patch.
	lanes map[spa.Field]chan struct{}
}

// New returns a controller for a new, empty listing. Without options every
// capability is on.
func New(r Remote, urls URLMinter, opts ...Option) *Controller {
	c := &Controller{
		remote: r,
		urls:   urls,
		caps:   AllCapabilities(),
		nav:    noopNavigator{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		lanes:  make(map[spa.Field]chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *Controller) Capabilities() Capabilities { return c.caps }

func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		ID:          c.id,
		Draft:       c.draft.Clone(),
		PreviewURLs: c.previewURLsLocked(),
		InFlight:    c.inFlight,
		Synced:      c.synced,
	}
}

// SetField replaces one scalar. No validation happens here; the server
// decides what it accepts.
func (c *Controller) SetField(field spa.Field, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.draft = c.draft.With(field, value)
	c.synced = false
	c.edits++
}

// SetImages replaces the selected images. Every preview URL minted for the
// previous selection is revoked before the new ones are minted.
func (c *Controller) SetImages(images []spa.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.revokeLocked()
	c.hostedURLs = nil
	c.draft.Images = append([]spa.Image(nil), images...)
	urls := make([]string, 0, len(images))
	for _, img := range images {
		urls = append(urls, c.urls.Create(img))
	}
	c.localURLs = urls
	c.synced = false
	c.edits++
}

// LoadExisting replaces the draft with the listing stored under id. On failure
// the current state is kept.
func (c *Controller) LoadExisting(ctx context.Context, id spa.ID) error {
	if id.IsZero() {
		return ErrNoRecord
	}
	if err := c.begin(); err != nil {
		return err
	}
	defer c.end()

	rec, err := c.remote.Read(ctx, id)
	if err != nil {
		c.logger.Warn("load listing failed", "spa_id", int64(id), "error", err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.revokeLocked()
	c.draft = rec.Draft()
	c.hostedURLs = append([]string(nil), rec.ImageURLs...)
	c.id = id
	c.synced = true
	c.mu.Unlock()

	c.nav.SetID(id)
	c.logger.Info("listing loaded", "spa_id", int64(id), "hosted_images", len(rec.ImageURLs))
	return nil
}

// Submit creates the listing when it has no ID (or updates are not supported)
// and updates it otherwise. A failed submission leaves the draft untouched so
// it can be retried.
func (c *Controller) Submit(ctx context.Context) (Outcome, error) {
	if err := c.begin(); err != nil {
		return Outcome{}, err
	}
	defer c.end()

	c.mu.Lock()
	id := c.id
	draft := c.draft.Clone()
	edits := c.edits
	c.mu.Unlock()

	if id.IsZero() || !c.caps.Update {
		return c.create(ctx, draft)
	}
	return c.update(ctx, id, draft, edits)
}

func (c *Controller) create(ctx context.Context, draft spa.Draft) (Outcome, error) {
	c.logger.Info("creating listing", "images", len(draft.Images))
	rec, err := c.remote.Create(ctx, draft)
	if err != nil {
		c.logger.Warn("create listing failed", "error", err)
		return Outcome{}, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	c.id = rec.ID
	c.resetLocked()
	c.mu.Unlock()

	c.nav.SetID(rec.ID)
	c.logger.Info("listing created", "spa_id", int64(rec.ID))
	return Outcome{Action: Created, ID: rec.ID, Record: rec}, nil
}

// update sends draft, captured after edits mutations. The draft counts as
// synced only if nothing changed it while the call was out.
func (c *Controller) update(ctx context.Context, id spa.ID, draft spa.Draft, edits uint64) (Outcome, error) {
	rec, err := c.remote.Update(ctx, id, draft)
	if err != nil {
		c.logger.Warn("update listing failed", "spa_id", int64(id), "error", err)
		return Outcome{}, err
	}

	c.mu.Lock()
	if c.id == id && c.edits == edits {
		c.synced = true
	}
	c.mu.Unlock()
	c.logger.Info("listing updated", "spa_id", int64(id))
	return Outcome{Action: Updated, ID: id, Record: rec}, nil
}

// SyncField sends the current value of one field as a patch. The value and
// the field's place in line are fixed when SyncField is called; the patch is
// sent only after every earlier patch of the same field has completed, so the
// server ends with the value of the last call. The returned channel yields
// exactly one result and is then closed.
func (c *Controller) SyncField(ctx context.Context, field spa.Field) <-chan SyncResult {
	out := make(chan SyncResult, 1)
	fail := func(err error) <-chan SyncResult {
		out <- SyncResult{Field: field, Err: err}
		close(out)
		return out
	}
	if _, err := spa.ParseField(string(field)); err != nil {
		return fail(err)
	}

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return fail(ErrClosed)
	case !c.caps.Patch:
		c.mu.Unlock()
		return fail(ErrUnsupported)
	case c.id.IsZero():
		c.mu.Unlock()
		return fail(ErrNoRecord)
	}
	id := c.id
	value := c.draft.Get(field)
	prev := c.lanes[field]
	done := make(chan struct{})
	c.lanes[field] = done
	c.mu.Unlock()

	go func() {
		defer close(out)
		if !waitTurn(ctx, prev) {
			// Hold our slot until the predecessor finishes so later calls
			// still queue behind it.
			go func() {
				<-prev
				c.release(field, done)
			}()
			out <- SyncResult{Field: field, Value: value, Err: ctx.Err()}
			return
		}

		rec, err := c.remote.Patch(ctx, id, field, value)
		c.release(field, done)
		if err != nil {
			c.logger.Warn("field sync failed", "spa_id", int64(id), "field", string(field), "error", err)
		}
		out <- SyncResult{Field: field, Value: value, Record: rec, Err: err}
	}()
	return out
}

func waitTurn(ctx context.Context, prev <-chan struct{}) bool {
	if prev == nil {
		return true
	}
	select {
	case <-prev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Controller) release(field spa.Field, done chan struct{}) {
	close(done)
	c.mu.Lock()
	if c.lanes[field] == done {
		delete(c.lanes, field)
	}
	c.mu.Unlock()
}

// DeleteExisting removes the persisted listing. Without an ID it does nothing
// and reports false. Confirmation is the caller's job.
func (c *Controller) DeleteExisting(ctx context.Context) (bool, error) {
	c.mu.Lock()
	id := c.id
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false, ErrClosed
	}
	if id.IsZero() {
		return false, nil
	}
	if !c.caps.Delete {
		return false, ErrUnsupported
	}

	if err := c.begin(); err != nil {
		return false, err
	}
	defer c.end()

	// The ID may have changed while we waited for the slot.
	c.mu.Lock()
	id = c.id
	c.mu.Unlock()
	if id.IsZero() {
		return false, nil
	}

	if err := c.remote.Delete(ctx, id); err != nil {
		c.logger.Warn("delete listing failed", "spa_id", int64(id), "error", err)
		return false, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return true, nil
	}
	c.id = 0
	c.resetLocked()
	c.mu.Unlock()

	c.nav.Clear()
	c.logger.Info("listing deleted", "spa_id", int64(id))
	return true, nil
}

// Reset starts over with a new, empty listing, as a fresh page load without
// an ID does.
func (c *Controller) Reset() error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.inFlight:
		c.mu.Unlock()
		return ErrBusy
	}
	c.id = 0
	c.resetLocked()
	c.mu.Unlock()

	c.nav.Clear()
	return nil
}

// Close revokes every preview URL the controller still owns. Further calls
// are rejected or ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.revokeLocked()
	c.hostedURLs = nil
	c.closed = true
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.inFlight {
		return ErrBusy
	}
	c.inFlight = true
	return nil
}

func (c *Controller) end() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

func (c *Controller) resetLocked() {
	c.revokeLocked()
	c.hostedURLs = nil
	c.draft = spa.Draft{}
	c.synced = false
}

func (c *Controller) revokeLocked() {
	for _, u := range c.localURLs {
		c.urls.Revoke(u)
	}
	c.localURLs = nil
}

func (c *Controller) previewURLsLocked() []string {
	if len(c.localURLs) > 0 {
		return append([]string(nil), c.localURLs...)
	}
	return append([]string(nil), c.hostedURLs...)
}
