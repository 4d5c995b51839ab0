// Package remote talks to the vendor spa REST collection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vbonduro/spaform/internal/spa"
)

// Resource is the set of verbs the form controller drives.
type Resource interface {
	Create(ctx context.Context, draft spa.Draft) (*spa.Record, error)
	Read(ctx context.Context, id spa.ID) (*spa.Record, error)
	Update(ctx context.Context, id spa.ID, draft spa.Draft) (*spa.Record, error)
	Patch(ctx context.Context, id spa.ID, field spa.Field, value string) (*spa.Record, error)
	Delete(ctx context.Context, id spa.ID) error
}

// Client maps each verb to a single HTTP round trip. It never retries, caches
// or rate-limits.
type Client struct {
	collectionURL string
	client        *http.Client
	userAgent     string
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which times out after 15s.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = strings.TrimSpace(ua)
	}
}

// NewClient targets the collection at baseURL/collection/.
func NewClient(baseURL, collection string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: scheme and host are required", baseURL)
	}
	collection = strings.Trim(strings.TrimSpace(collection), "/")
	if collection == "" {
		return nil, errors.New("collection is required")
	}

	c := &Client{
		collectionURL: strings.TrimRight(baseURL, "/") + "/" + collection + "/",
		client:        &http.Client{Timeout: 15 * time.Second},
		userAgent:     "spaform",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// CollectionURL returns the absolute URL of the collection, with trailing slash.
func (c *Client) CollectionURL() string { return c.collectionURL }

func (c *Client) Create(ctx context.Context, draft spa.Draft) (*spa.Record, error) {
	const op = "create"
	body, contentType, err := encodeDraft(draft)
	if err != nil {
		return nil, &Error{Op: op, Kind: TransportFailure, Message: "failed to encode form", Err: err}
	}
	rec, err := c.doRecord(ctx, op, http.MethodPost, c.collectionURL, body, contentType)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.ID.IsZero() {
		return nil, &Error{Op: op, Kind: DecodeFailure, Message: "response did not include an id"}
	}
	return rec, nil
}

func (c *Client) Read(ctx context.Context, id spa.ID) (*spa.Record, error) {
	const op = "read"
	rec, err := c.doRecord(ctx, op, http.MethodGet, c.itemURL(id), nil, "")
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &Error{Op: op, Kind: DecodeFailure, Message: "empty response body"}
	}
	if rec.ID.IsZero() {
		rec.ID = id
	}
	return rec, nil
}

// Update replaces every field of id. A 2xx with an empty body yields a nil
// record and no error.
func (c *Client) Update(ctx context.Context, id spa.ID, draft spa.Draft) (*spa.Record, error) {
	body, contentType, err := encodeDraft(draft)
	if err != nil {
		return nil, &Error{Op: "update", Kind: TransportFailure, Message: "failed to encode form", Err: err}
	}
	return c.doRecord(ctx, "update", http.MethodPut, c.itemURL(id), body, contentType)
}

// Patch sends exactly one field.
func (c *Client) Patch(ctx context.Context, id spa.ID, field spa.Field, value string) (*spa.Record, error) {
	body, contentType, err := encodeField(field, value)
	if err != nil {
		return nil, &Error{Op: "patch", Kind: TransportFailure, Message: "failed to encode form", Err: err}
	}
	return c.doRecord(ctx, "patch", http.MethodPatch, c.itemURL(id), body, contentType)
}

func (c *Client) Delete(ctx context.Context, id spa.ID) error {
	resp, err := c.do(ctx, "delete", http.MethodDelete, c.itemURL(id), nil, "")
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)
	return nil
}

func (c *Client) itemURL(id spa.ID) string {
	return c.collectionURL + url.PathEscape(id.String()) + "/"
}

// doRecord performs the call and decodes a record from a non-empty body.
func (c *Client) doRecord(ctx context.Context, op, method, target string, body []byte, contentType string) (*spa.Record, error) {
	resp, err := c.do(ctx, op, method, target, body, contentType)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Kind: TransportFailure, Status: resp.StatusCode, Message: "failed to read response", Err: err}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var rec spa.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &Error{Op: op, Kind: DecodeFailure, Status: resp.StatusCode, Message: "failed to decode response", Err: err}
	}
	return &rec, nil
}

// do returns a response only for 2xx statuses; the caller owns its body.
func (c *Client) do(ctx context.Context, op, method, target string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &Error{Op: op, Kind: TransportFailure, Message: "failed to build request", Err: err}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &Error{Op: op, Kind: TransportFailure, Message: transportMessage(err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drainAndClose(resp.Body)
		return nil, rejection(op, resp)
	}
	return resp, nil
}

func transportMessage(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return "request timed out"
	}
	return "server unreachable"
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, maxErrorBody))
	_ = body.Close()
}

var _ Resource = (*Client)(nil)
