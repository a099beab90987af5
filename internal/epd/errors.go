package epd

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is matched by every *IOError.
	ErrIO = errors.New("epd: i/o error")
	// ErrTimeout is returned by the bounded busy wait when the panel never
	// reports idle.
	ErrTimeout = errors.New("epd: timed out waiting for panel idle")
	// ErrFrameSize is returned when a plane does not match the panel geometry.
	ErrFrameSize = errors.New("epd: frame buffer size mismatch")
	// ErrInvalidOpts is returned for unusable panel geometry or timing.
	ErrInvalidOpts = errors.New("epd: invalid options")
	// ErrNotConnected is returned when bus traffic is attempted before Init.
	ErrNotConnected = errors.New("epd: bus not connected, call Init first")
)

// IOError reports a failure of the underlying pins or SPI bus.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("epd: %s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrIO) true for any IOError.
func (e *IOError) Is(target error) bool { return target == ErrIO }

func ioErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Err: err}
}
