// Package objecturl issues short-lived blob URLs for locally selected images.
// A URL stays resolvable until it is revoked; nothing is collected implicitly.
package objecturl

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/spaform/internal/spa"
)

const scheme = "blob:"

// Registry holds the image behind every live URL it has minted.
type Registry struct {
	origin string

	mu   sync.RWMutex
	live map[string]spa.Image
}

// NewRegistry returns a registry minting URLs of the form
// blob:<origin>/<token>. origin is normally the front end's base URL.
func NewRegistry(origin string) *Registry {
	return &Registry{
		origin: strings.TrimRight(origin, "/"),
		live:   make(map[string]spa.Image),
	}
}

// Create mints a fresh URL for img.
func (r *Registry) Create(img spa.Image) string {
	token := uuid.NewString()
	r.mu.Lock()
	r.live[token] = img
	r.mu.Unlock()
	return r.urlFor(token)
}

// Revoke invalidates url. It reports whether url was live.
func (r *Registry) Revoke(url string) bool {
	token, ok := r.Token(url)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.live[token]; !exists {
		return false
	}
	delete(r.live, token)
	return true
}

// Resolve returns the image behind a live url.
func (r *Registry) Resolve(url string) (spa.Image, bool) {
	token, ok := r.Token(url)
	if !ok {
		return spa.Image{}, false
	}
	return r.ResolveToken(token)
}

// ResolveToken is Resolve keyed by the token part of a URL.
func (r *Registry) ResolveToken(token string) (spa.Image, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	img, ok := r.live[token]
	return img, ok
}

// Live returns the number of URLs not yet revoked.
func (r *Registry) Live() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// Token extracts the token from a URL minted by this registry.
func (r *Registry) Token(url string) (string, bool) {
	prefix := r.urlFor("")
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	token := strings.TrimPrefix(url, prefix)
	if _, err := uuid.Parse(token); err != nil {
		return "", false
	}
	return token, true
}

func (r *Registry) urlFor(token string) string {
	return scheme + r.origin + "/" + token
}
