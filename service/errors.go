/*
errors.go - Workflow-level error types

Not-found sentinels for rows the store reports as absent, plus the
meter-deletion confirmation gate. Engine and policy errors pass through
the services untouched; these are only the failures the orchestration
itself introduces.
*/
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrMeterNotFound is returned when a meter id resolves to nothing.
	ErrMeterNotFound = errors.New("meter not found")

	// ErrReadingNotFound is returned when a reading id resolves to nothing.
	ErrReadingNotFound = errors.New("reading not found")

	// ErrUserNotFound is returned when a user id or username resolves to
	// nothing in a flow that already knows the account should exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrMeterHasReadings is returned when deleting a meter that still
	// has readings without the explicit confirmation flag.
	ErrMeterHasReadings = errors.New("meter still has readings")
)

// MeterHasReadingsError carries how many readings would go down with the
// meter, so the caller can put the number in the confirmation prompt.
type MeterHasReadingsError struct {
	ReadingCount int
}

func (e *MeterHasReadingsError) Error() string {
	return fmt.Sprintf("meter has %d readings; deletion requires confirmation", e.ReadingCount)
}

func (e *MeterHasReadingsError) Unwrap() error { return ErrMeterHasReadings }

// IsNotFound reports whether the error is one of the absence sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMeterNotFound) ||
		errors.Is(err, ErrReadingNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
