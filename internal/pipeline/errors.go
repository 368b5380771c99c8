package pipeline

import (
	"errors"
	"fmt"
)

// ErrRepairExhausted is the category sentinel for RepairExhaustedError.
var ErrRepairExhausted = errors.New("repair attempts exhausted")

// RepairExhaustedError ends a unit whose obligations never all proved. It
// always resolves to VULNERABLE.
type RepairExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RepairExhaustedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("repair exhausted after %d attempt(s): %v", e.Attempts, e.Cause)
	}
	return fmt.Sprintf("repair exhausted after %d attempt(s)", e.Attempts)
}

func (e *RepairExhaustedError) Unwrap() error {
	if e.Cause != nil {
		return errors.Join(ErrRepairExhausted, e.Cause)
	}
	return ErrRepairExhausted
}
