package epd

import (
	"errors"
	"fmt"
)

var (
	// ErrBusyTimeout is returned when the panel's busy line does not
	// clear within the configured bound.
	ErrBusyTimeout = errors.New("epd: busy line did not clear in time")

	// ErrDimensionMismatch is returned when a bitmap or buffer does not
	// fit the panel geometry in either accepted orientation.
	ErrDimensionMismatch = errors.New("epd: dimensions do not fit the panel")

	// ErrPanelBusy is returned when a transmit is attempted while a
	// refresh is still in flight.
	ErrPanelBusy = errors.New("epd: panel is busy")
)

// BusError wraps a transport failure with the operation that hit it.
type BusError struct {
	Op  string
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("epd: bus %s: %v", e.Op, e.Err)
}

func (e *BusError) Unwrap() error {
	return e.Err
}
