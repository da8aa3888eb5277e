// Package esierror defines the typed error returned for non-2xx ESI responses,
// shared by all evegateway category clients.
package esierror

import (
	"errors"
	"fmt"
)

// Error represents a non-2xx response from ESI
type Error struct {
	StatusCode int
	Endpoint   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ESI returned status %d for %s", e.StatusCode, e.Endpoint)
}

// IsAuth reports whether err is an ESI authorization failure (401/403).
// These indicate a credential problem rather than a transient upstream fault.
func IsAuth(err error) bool {
	var esiErr *Error
	if errors.As(err, &esiErr) {
		return esiErr.StatusCode == 401 || esiErr.StatusCode == 403
	}
	return false
}

// StatusCode returns the ESI status code carried by err, or 0 if err is not
// an ESI error.
func StatusCode(err error) int {
	var esiErr *Error
	if errors.As(err, &esiErr) {
		return esiErr.StatusCode
	}
	return 0
}
