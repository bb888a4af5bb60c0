package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var ErrUnauthorized = errors.New("unauthorized")

// ApiError is a non-2xx response from the backend.
type ApiError struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
	Err        error  `json:"-"`
}

func (e *ApiError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Message, e.Err.Error())
	}

	return fmt.Sprintf("%d %s", e.StatusCode, e.Message)
}

func (e *ApiError) Unwrap() error {
	return e.Err
}

func lower(s string) string {
	return strings.ToLower(s)
}

const maxErrorBody = 4 << 10

// newApiError builds an ApiError from a failed response. The backend's
// {"status_code", "message"} body is used when present.
func newApiError(resp *http.Response) *ApiError {
	apiErr := &ApiError{
		StatusCode: resp.StatusCode,
		Message:    lower(http.StatusText(resp.StatusCode)),
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err == nil && len(body) > 0 {
		var decoded ApiError
		if json.Unmarshal(body, &decoded) == nil && decoded.Message != "" {
			apiErr.Message = decoded.Message
		}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		apiErr.Err = ErrUnauthorized
	}

	return apiErr
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *ApiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
