// Package adapters wraps the external generation services behind stateless
// request/response calls. Adapters never touch the visualization record.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrInvalidInput is returned before any network call when a required input
// is empty.
var ErrInvalidInput = errors.New("invalid adapter input")

// AdapterError is an upstream failure: transport error, timeout, non-2xx or
// a payload the adapter could not use.
type AdapterError struct {
	Service    string
	StatusCode int
	Message    string
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error: %d %s", e.Service, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s API error: %s", e.Service, e.Message)
}

func (e *AdapterError) Unwrap() error { return e.Err }

func invalidInput(service, field string) error {
	return fmt.Errorf("%s: %s is required: %w", service, field, ErrInvalidInput)
}

// transportError maps a failed call; deadline overruns read as a gateway
// timeout so the recorded message says what happened.
func transportError(service string, err error) *AdapterError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &AdapterError{
			Service:    service,
			StatusCode: http.StatusGatewayTimeout,
			Message:    "request timed out",
			Err:        err,
		}
	}
	return &AdapterError{Service: service, Message: err.Error(), Err: err}
}

func malformed(service, format string, args ...any) *AdapterError {
	return &AdapterError{Service: service, Message: "malformed response: " + fmt.Sprintf(format, args...)}
}

// statusError builds an AdapterError from a non-2xx response, pulling the
// message out of the common JSON error shapes when present.
func statusError(service string, resp *http.Response) *AdapterError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := errorMessage(body)
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &AdapterError{Service: service, StatusCode: resp.StatusCode, Message: msg}
}

func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
		Detail  any    `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, v := range []any{payload.Detail, payload.Error} {
		switch d := v.(type) {
		case string:
			if d != "" {
				return d
			}
		case map[string]any:
			if m, ok := d["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return payload.Message
}
