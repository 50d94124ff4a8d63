package primitive

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicateKindError is returned when a kind is registered twice.
type DuplicateKindError struct {
	Kind string
}

func (e *DuplicateKindError) Error() string {
	return fmt.Sprintf("primitive kind %q already registered", e.Kind)
}

// UnknownKindError is returned when evaluation references an
// unregistered kind. A configuration/integration bug: fatal for the
// referencing rule, not for the cycle.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown primitive kind %q", e.Kind)
}

// InvalidParamsError is returned when a primitive reference does not
// satisfy its spec's parameter contract.
type InvalidParamsError struct {
	Kind    string
	Ref     string
	Missing []string
	Reason  string
}

func (e *InvalidParamsError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("primitive %s (ref %s): missing params: %s", e.Kind, e.Ref, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("primitive %s (ref %s): invalid params: %s", e.Kind, e.Ref, e.Reason)
}

// EvaluationError is returned when an evaluator cannot produce a result
// from an otherwise valid snapshot, e.g. a referenced market field is
// absent. Never silently defaulted: the referencing rule is reported as
// indeterminate instead.
type EvaluationError struct {
	Kind   string
	Ref    string
	Reason string
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("primitive %s (ref %s): %s", e.Kind, e.Ref, e.Reason)
}

// IsUnknownKind reports whether err is (or wraps) an UnknownKindError.
func IsUnknownKind(err error) bool {
	var ue *UnknownKindError
	return errors.As(err, &ue)
}

// IsInvalidParams reports whether err is (or wraps) an InvalidParamsError.
func IsInvalidParams(err error) bool {
	var ie *InvalidParamsError
	return errors.As(err, &ie)
}

// IsEvaluationError reports whether err is (or wraps) an EvaluationError.
func IsEvaluationError(err error) bool {
	var ee *EvaluationError
	return errors.As(err, &ee)
}
