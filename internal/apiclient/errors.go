package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrNoRefreshToken is returned when a refresh is needed but none is stored.
var ErrNoRefreshToken = errors.New("no refresh token stored")

// Error is a non-2xx API response.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// Revoked reports whether the server explicitly invalidated the token, in
// which case refreshing is pointless.
func (e *Error) Revoked() bool {
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "blacklist") || strings.Contains(msg, "revoked")
}

// IsUnauthorized reports whether err is a 401 API error.
func IsUnauthorized(err error) bool {
	return StatusCode(err) == http.StatusUnauthorized
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// parseError accepts the error bodies seen across the API:
// {"message": "..."}, {"error": "..."} and {"error": {"code", "message"}}.
func parseError(status int, body []byte) *Error {
	e := &Error{StatusCode: status}

	var payload struct {
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Error   json.RawMessage `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Message = payload.Message
		e.Code = payload.Code
		if len(payload.Error) > 0 {
			var detail struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			var text string
			switch {
			case json.Unmarshal(payload.Error, &detail) == nil:
				if e.Message == "" {
					e.Message = detail.Message
				}
				if e.Code == "" {
					e.Code = detail.Code
				}
			case json.Unmarshal(payload.Error, &text) == nil:
				if e.Message == "" {
					e.Message = text
				}
			}
		}
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
