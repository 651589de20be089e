package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates no data arrived within the requested window.
	// It is recoverable: the caller may retry with a new timeout.
	ErrTimeout error = timeoutError{}
	// ErrNotConnected indicates the channel is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrNotSupported indicates the channel has no line control.
	ErrNotSupported = errors.New("line control not supported")
)

type timeoutError struct{}

// Error implements error.
func (timeoutError) Error() string { return "timeout" }

// Timeout reports true, matching net.Error and os.IsTimeout conventions.
func (timeoutError) Timeout() bool { return true }

// IsTimeout checks if err, or any error it wraps, is a timeout.
func IsTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// IOError wraps a failure of the underlying device, e.g. the device was
// removed or the driver rejected a request. It is generally fatal to the
// session.
type IOError struct {
	Op  string
	Err error
}

// Error implements error.
func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the wrapped error.
func (e *IOError) Unwrap() error {
	return e.Err
}

// WrapIO wraps err into an IOError for op. nil, timeouts and errors
// already wrapped are returned as is.
func WrapIO(op string, err error) error {
	if err == nil || IsTimeout(err) {
		return err
	}
	var ioErr *IOError
	if errors.As(err, &ioErr) {
		return err
	}
	return &IOError{Op: op, Err: err}
}
