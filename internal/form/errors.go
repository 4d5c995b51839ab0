package form

import (
	"errors"

	"github.com/vbonduro/spaform/internal/remote"
)

var (
	// ErrBusy rejects a full submission, load or delete while another is in flight.
	ErrBusy = errors.New("another submission is in progress")
	// ErrNoRecord means the operation needs a persisted listing and there is none.
	ErrNoRecord = errors.New("listing has not been created yet")
	// ErrUnsupported means the controller's capabilities exclude the operation.
	ErrUnsupported = errors.New("operation not supported by this form")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("form closed")
)

// UserMessage renders err the way it should be shown next to the form.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return rerr.Message
	}
	return err.Error()
}
