package snapshot

import (
	"errors"
	"fmt"
	"strings"
)

// BuildError codes.
const (
	ErrCodeMissingFields = "MISSING_FIELDS"
	ErrCodeDerivedMetric = "DERIVED_METRIC"
	ErrCodeBadClock      = "BAD_CLOCK"
	ErrCodeBadValue      = "BAD_VALUE"
)

// BuildError reports why a snapshot could not be constructed.
// Construction failure is fatal for the cycle: no evaluation runs
// against a partial snapshot.
type BuildError struct {
	Code    string
	Message string

	// Fields names the offending fields, when applicable.
	Fields []string
}

// Error implements the error interface.
func (e *BuildError) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsBuildError reports whether err is (or wraps) a BuildError.
func IsBuildError(err error) bool {
	var be *BuildError
	return errors.As(err, &be)
}
