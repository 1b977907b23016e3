package midi

import (
	"errors"
	"fmt"
)

var (
	// ErrActorGone means the actor stopped before answering. Callers cannot
	// recover from it; the hardware side of the process is gone.
	ErrActorGone = errors.New("midi: port actor is not running")

	// ErrPortClosed is returned for operations on a released slot and by
	// In.Next once the port has been closed.
	ErrPortClosed = errors.New("midi: port closed")
)

// DriverError is a failed native primitive. Code carries the raw driver result
// when the backend has one.
type DriverError struct {
	Op   string
	Code int
	Err  error
}

func (e *DriverError) Error() string {
	switch {
	case e.Err != nil && e.Code != 0:
		return fmt.Sprintf("midi: %s failed (code %d): %v", e.Op, e.Code, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("midi: %s failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("midi: %s failed (code %d)", e.Op, e.Code)
	}
}

func (e *DriverError) Unwrap() error { return e.Err }

// driverErr tags err with the primitive that produced it.
func driverErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DriverError
	if errors.As(err, &de) {
		cp := *de
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}
	return &DriverError{Op: op, Err: err}
}
