package scale

import "errors"

var (
	// ErrDeviceNotFound is returned when the device is missing or was not
	// discovered by the last scan.
	ErrDeviceNotFound = errors.New("device not found")
	// ErrProfileNotFound is returned when the profile has no uuid.
	ErrProfileNotFound = errors.New("profile not found or missing uuid")
	// ErrActionNotFound means the backend did not supply a request the
	// exchange needs next. It ends the session.
	ErrActionNotFound = errors.New("action not found")
	// ErrSessionClosed is returned when controlling a finished session.
	ErrSessionClosed = errors.New("session closed")
)

// FlowError tags an error with the step of the exchange it came from.
type FlowError struct {
	Location string
	Err      error
}

func (e *FlowError) Error() string { return e.Location + ": " + e.Err.Error() }

func (e *FlowError) Unwrap() error { return e.Err }

func failAt(location string, err error) error {
	if err == nil {
		return nil
	}
	return &FlowError{Location: location, Err: err}
}
