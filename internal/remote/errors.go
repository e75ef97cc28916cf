package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrNotFound means the data source has no record for the subject. It is
// never retried; callers cache a negative entry instead.
var ErrNotFound = errors.New("subject not found")

// TransientError wraps a failure worth retrying: network errors,
// timeouts, throttling, and 5xx-class responses.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient remote error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure that retrying cannot fix, such as a
// validation rejection from the data source.
type PermanentError struct {
	StatusCode int
	Detail     string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent remote error (status %d): %s", e.StatusCode, e.Detail)
}

// IsTransient reports whether err should consume a retry attempt rather
// than terminate the job.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// classifyStatus converts a non-2xx response into the error taxonomy.
func classifyStatus(statusCode int, respBody []byte) error {
	detail := parseAPIError(respBody)

	switch {
	case statusCode == http.StatusNotFound:
		return ErrNotFound
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &TransientError{
			StatusCode: statusCode,
			Err:        fmt.Errorf("%s", detail),
		}
	default:
		return &PermanentError{StatusCode: statusCode, Detail: detail}
	}
}

// classifyTransport wraps request execution failures; they are all
// retryable since nothing reached the data source definitively.
func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransientError{Err: fmt.Errorf("request timed out: %w", err)}
	}
	return &TransientError{Err: err}
}

// parseAPIError extracts error information from the API response
func parseAPIError(respBody []byte) string {
	var errResp struct {
		Errors []struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		} `json:"errors"`
	}

	if err := json.Unmarshal(respBody, &errResp); err == nil && len(errResp.Errors) > 0 {
		return fmt.Sprintf("%s - %s", errResp.Errors[0].Title, errResp.Errors[0].Detail)
	}

	return "no error detail in response"
}
