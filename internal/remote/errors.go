package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Kind classifies why a remote call failed.
type Kind int

const (
	// TransportFailure means no usable response arrived: the host was
	// unreachable, the call timed out, or the context was cancelled.
	TransportFailure Kind = iota + 1
	// ServerRejection means the server answered with a non-2xx status.
	ServerRejection
	// DecodeFailure means a 2xx response carried a body that could not be read.
	DecodeFailure
)

func (k Kind) String() string {
	switch k {
	case TransportFailure:
		return "transport failure"
	case ServerRejection:
		return "server rejection"
	case DecodeFailure:
		return "decode failure"
	default:
		return "unknown failure"
	}
}

// Error is the single failure shape every Client method returns.
type Error struct {
	Op      string
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

const maxErrorBody = 64 << 10

// rejection builds a ServerRejection from a non-2xx response, pulling a
// human-readable message out of the body when there is one.
func rejection(op string, resp *http.Response) *Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{
		Op:      op,
		Kind:    ServerRejection,
		Status:  resp.StatusCode,
		Message: errorMessage(body, resp.StatusCode),
	}
}

// errorMessage understands problem-details bodies and the usual
// {"message"|"error"|"detail"} shapes, then falls back to short plain text and
// finally the status text.
func errorMessage(body []byte, status int) string {
	var payload struct {
		Title   string `json:"title"`
		Detail  string `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, candidate := range []string{payload.Detail, payload.Message, payload.Error, payload.Title} {
			if msg := strings.TrimSpace(candidate); msg != "" {
				return msg
			}
		}
	}
	text := strings.TrimSpace(string(body))
	if text != "" && len(text) <= 200 && !strings.HasPrefix(text, "<") && !strings.HasPrefix(text, "{") {
		return text
	}
	if msg := http.StatusText(status); msg != "" {
		return strings.ToLower(msg)
	}
	return "unexpected status"
}
