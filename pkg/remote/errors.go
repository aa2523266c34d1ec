package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/atviriduomenys/spinta-sync/pkg/errcode"
)

// Define static errors
var (
	ErrResultMismatch = errors.New("remote returned a different number of results than rows sent")
)

// StatusError is a non-successful response of the remote
type StatusError struct {
	Status     int
	Code       errcode.Code
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote responded %d %s: %s", e.Status, e.Code, e.Message)
}

// codeOfStatus maps an HTTP status to an error code
func codeOfStatus(status int) errcode.Code {
	switch {
	case status == http.StatusConflict:
		return errcode.ConflictingRevision
	case status == http.StatusUnauthorized:
		return errcode.AuthorizedClientsOnly
	case status == http.StatusForbidden:
		return errcode.Forbidden
	case status == http.StatusNotFound:
		return errcode.ItemDoesNotExist
	case status == http.StatusTooManyRequests:
		return errcode.RateLimited
	case status >= http.StatusInternalServerError:
		return errcode.ServiceNotAvailable
	default:
		return errcode.InvalidOperandValue
	}
}

// statusError builds the error of a failed response. A code reported in the
// body wins over the one implied by the status.
func statusError(resp *http.Response, body []byte) error {
	se := &StatusError{Status: resp.StatusCode, Code: codeOfStatus(resp.StatusCode), Message: http.StatusText(resp.StatusCode)}

	var payload struct {
		Errors []ErrorItem `json:"errors"`
	}

	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Errors) > 0 {
		se.Message = payload.Errors[0].Message

		if code := errcode.Code(payload.Errors[0].Code); code != "" && resp.StatusCode < http.StatusInternalServerError {
			se.Code = code
		}
	} else if len(body) > 0 && len(body) < 512 {
		se.Message = string(body)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
		se.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}

	return errcode.New(se.Code, se)
}

// parseRetryAfter reads delay-seconds or an HTTP date
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}

	return 0
}

// Transient reports whether a failed request may succeed when retried
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == errcode.ServiceNotAvailable || se.Code == errcode.RateLimited
	}

	return errcode.Has(err, errcode.ServiceNotAvailable)
}

// Unauthorized reports whether the remote refused the credentials or the scope
func Unauthorized(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}

	return se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden
}

// Conflict reports whether the remote refused a whole request over a revision conflict
func Conflict(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}

	return se.Status == http.StatusConflict
}
