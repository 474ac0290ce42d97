package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoJobID is returned when the service accepts a submission but names no job.
	// Callers treat it exactly like a transport failure.
	ErrNoJobID = errors.New("service response did not include a job id")

	ErrEmptyJobID = errors.New("job id is required")
)

// StatusError is returned for any non-2xx response from the service
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s failed with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, body)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}
