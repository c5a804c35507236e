// Package errors defines the sentinel error kinds the configuration-drive
// engine can report. None of them are fatal to the engine (see spec.md
// section 7, "Error handling design"): they exist so integrators can
// distinguish failure classes in logs and, where Go idiom expects an error
// return even though the source design used booleans, so callers have
// something to compare against with errors.Is.
package errors

import (
	"fmt"
)

type ConfigDriveError string

const ErrValidationFailed = ConfigDriveError("entry value rejected by validator")
const ErrEntryMissing = ConfigDriveError("registered entry absent from submission")
const ErrProgramFailed = ConfigDriveError("flash halfword program failed")
const ErrEraseFailed = ConfigDriveError("flash region erase failed")
const ErrCapacityExceeded = ConfigDriveError("rendered file exceeds data window")
const ErrHostileWrite = ConfigDriveError("write rejected by hostile-write filter")
const ErrRegistryFull = ConfigDriveError("entry registry is full")
const ErrNotErased = ConfigDriveError("target half-word is not in the erased state")
const ErrInvalidGeometry = ConfigDriveError("volume geometry is invalid")
const ErrAlreadyInitialized = ConfigDriveError("register called after init")

func (e ConfigDriveError) Error() string {
	return string(e)
}

func (e ConfigDriveError) WithMessage(message string) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", string(e), message),
		originalError: e,
	}
}

func (e ConfigDriveError) WrapError(err error) DriverError {
	return customDriverError{
		message:       fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		originalError: err,
	}
}
