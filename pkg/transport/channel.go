package transport

import "time"

// ByteChannel is a bidirectional byte channel to the device.
type ByteChannel interface {
	// Connect opens the device at the given baud rate.
	Connect(baud int) error
	// Disconnect closes the device. It waits for in-flight reads and
	// writes to complete.
	Disconnect() error
	// Write sends data and returns once it's flushed to the driver.
	Write(data []byte) error
	// Read returns the next available chunk, which may be of any size.
	// If nothing arrives within timeout, it fails with ErrTimeout.
	// A zero timeout waits indefinitely.
	Read(timeout time.Duration) ([]byte, error)
	// SetRTS sets the Request-To-Send line.
	SetRTS(state bool) error
	// SetDTR sets the Data-Terminal-Ready line.
	SetDTR(state bool) error
	// Baudrate returns the baud rate of the current connection.
	Baudrate() int
	// Info returns a human readable device identity.
	Info() string
	// ProductID returns the USB product ID if known.
	ProductID() (uint16, bool)
}
