package form

import (
	"net/url"
	"sync"

	"github.com/vbonduro/spaform/internal/spa"
)

// Navigator mirrors the current listing ID into the page's addressable state
// so a reload resumes the same listing.
type Navigator interface {
	SetID(id spa.ID)
	Clear()
}

type noopNavigator struct{}

func (noopNavigator) SetID(spa.ID) {}
func (noopNavigator) Clear()       {}

// QueryNavigator keeps the page location with the ID in its ?id= parameter.
type QueryNavigator struct {
	mu  sync.RWMutex
	loc url.URL
}

func NewQueryNavigator(path string) *QueryNavigator {
	if path == "" {
		path = "/"
	}
	return &QueryNavigator{loc: url.URL{Path: path}}
}

func (n *QueryNavigator) SetID(id spa.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.loc.Query()
	q.Set("id", id.String())
	n.loc.RawQuery = q.Encode()
}

func (n *QueryNavigator) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.loc.Query()
	q.Del("id")
	n.loc.RawQuery = q.Encode()
}

// Location returns the current page location, e.g. "/?id=42".
func (n *QueryNavigator) Location() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.loc.String()
}

// ID returns the ID carried in the location, if any.
func (n *QueryNavigator) ID() (spa.ID, bool) {
	n.mu.RLock()
	raw := n.loc.Query().Get("id")
	n.mu.RUnlock()
	if raw == "" {
		return 0, false
	}
	id, err := spa.ParseID(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}
