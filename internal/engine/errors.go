package engine

import (
	"errors"
	"fmt"
)

// Error codes for cycle-fatal failures. Rule-level evaluation errors
// never surface here; they become indeterminate outcomes instead.
const (
	ErrCodeStateIO = "STATE_IO"
	ErrCodeAuditIO = "AUDIT_IO"
	ErrCodeAborted = "CYCLE_ABORTED"
)

// RuntimeError is a cycle-fatal engine failure. When one is returned
// no aggregate outcome was produced and no entity state was written.
type RuntimeError struct {
	Code       string
	Message    string
	CycleToken string
	RuleID     string
	Err        error
}

func (e *RuntimeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.RuleID != "" {
		msg += fmt.Sprintf(" (rule %s)", e.RuleID)
	}
	if e.CycleToken != "" {
		msg += fmt.Sprintf(" (cycle %s)", e.CycleToken)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// IsRuntimeCode reports whether err is a RuntimeError with the given code.
func IsRuntimeCode(err error, code string) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == code
}
