package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnreachable wraps transport failures: DNS, refused connections, TLS,
// timeouts. It is never returned for a response the backend actually sent.
var ErrUnreachable = errors.New("server unreachable")

const (
	unreachableMessage = "Server unreachable. Check your connection and try again."
	fallbackMessage    = "Something went wrong. Please try again."
)

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
	Method  string
	Path    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.Status)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Status, e.Message)
}

// IsAuthRejected reports whether the backend refused the credentials or
// code, as opposed to failing on its own.
func (e *APIError) IsAuthRejected() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusUnprocessableEntity:
		return true
	}
	return false
}

// IsUnauthorized reports 401/403, the statuses that end a session.
func (e *APIError) IsUnauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsAuthRejected is the errors.As shortcut for *APIError.IsAuthRejected.
func IsAuthRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsAuthRejected()
}

// UserMessage returns the text to show a person for err: the backend's own
// message when it sent one, a fixed line for unreachable servers, and a
// generic fallback otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var msg interface{ UserMessage() string }
	if errors.As(err, &msg) {
		return msg.UserMessage()
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, ErrUnreachable) {
		return unreachableMessage
	}
	return fallbackMessage
}

// errorBody covers the shapes the backend uses for failures. detail is a
// string for handled errors and a list of {msg} objects for request
// validation failures.
type errorBody struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

func parseErrorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return ""
	}
	if len(eb.Detail) > 0 {
		var s string
		if err := json.Unmarshal(eb.Detail, &s); err == nil && s != "" {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(eb.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if eb.Message != "" {
		return eb.Message
	}
	return eb.Error
}
