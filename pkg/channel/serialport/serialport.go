// Package serialport implements transport.ByteChannel on an OS serial
// port driver using go.bug.st/serial.
package serialport

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/robotalks/bootlink/pkg/transport"
)

const (
	// DefaultChunkSize is the size of the read buffer.
	DefaultChunkSize = 4096
	unlockPoll       = 10 * time.Millisecond
)

// Opener opens a serial port, serial.Open by default.
type Opener func(path string, mode *serial.Mode) (serial.Port, error)

// Lister lists ports with USB details, enumerator.GetDetailedPortsList
// by default.
type Lister func() ([]*enumerator.PortDetails, error)

// Port implements transport.ByteChannel.
type Port struct {
	Path      string
	ChunkSize int
	Open      Opener
	List      Lister

	lock    sync.Mutex
	port    serial.Port
	baud    int
	details *enumerator.PortDetails
	buf     []byte
	busy    int32
}

// New creates a Port for the device at path.
func New(path string) *Port {
	return &Port{Path: path, Open: serial.Open, List: enumerator.GetDetailedPortsList}
}

// Connect implements ByteChannel. An open port is closed and reopened.
func (p *Port) Connect(baud int) error {
	p.lock.Lock()
	open := p.port != nil
	p.lock.Unlock()
	if open {
		if err := p.Disconnect(); err != nil {
			return err
		}
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		// keep EN and IO0 released while opening
		InitialStatusBits: &serial.ModemOutputBits{RTS: false, DTR: false},
	}
	port, err := p.Open(p.Path, mode)
	if err != nil {
		return transport.WrapIO("open "+p.Path, err)
	}
	size := p.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	details := p.lookup()
	p.lock.Lock()
	p.port, p.baud, p.details, p.buf = port, baud, details, make([]byte, size)
	p.lock.Unlock()
	return nil
}

func (p *Port) lookup() *enumerator.PortDetails {
	if p.List == nil {
		return nil
	}
	list, err := p.List()
	if err != nil {
		glog.Warningf("enumerate ports: %v", err)
		return nil
	}
	for _, d := range list {
		if d.Name == p.Path {
			return d
		}
	}
	return nil
}

// Disconnect implements ByteChannel. It waits for in-flight calls.
func (p *Port) Disconnect() error {
	for atomic.LoadInt32(&p.busy) > 0 {
		time.Sleep(unlockPoll)
	}
	p.lock.Lock()
	port := p.port
	p.port = nil
	p.lock.Unlock()
	if port == nil {
		return nil
	}
	return transport.WrapIO("close "+p.Path, port.Close())
}

func (p *Port) acquire() (serial.Port, error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.port == nil {
		return nil, transport.ErrNotConnected
	}
	atomic.AddInt32(&p.busy, 1)
	return p.port, nil
}

func (p *Port) release() {
	atomic.AddInt32(&p.busy, -1)
}

// Write implements ByteChannel.
func (p *Port) Write(data []byte) error {
	port, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release()
	for len(data) > 0 {
		n, err := port.Write(data)
		if err != nil {
			return transport.WrapIO("write", err)
		}
		data = data[n:]
	}
	return nil
}

// Read implements ByteChannel.
func (p *Port) Read(timeout time.Duration) ([]byte, error) {
	port, err := p.acquire()
	if err != nil {
		return nil, err
	}
	defer p.release()

	readTimeout := timeout
	if readTimeout <= 0 {
		readTimeout = serial.NoTimeout
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		return nil, transport.WrapIO("set read timeout", err)
	}
	for {
		n, err := port.Read(p.buf)
		if err != nil {
			return nil, transport.WrapIO("read", err)
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, p.buf[:n])
			return chunk, nil
		}
		if timeout > 0 {
			return nil, transport.ErrTimeout
		}
	}
}

// SetRTS implements ByteChannel.
func (p *Port) SetRTS(state bool) error {
	port, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release()
	return transport.WrapIO("set RTS", port.SetRTS(state))
}

// SetDTR implements ByteChannel.
func (p *Port) SetDTR(state bool) error {
	port, err := p.acquire()
	if err != nil {
		return err
	}
	defer p.release()
	return transport.WrapIO("set DTR", port.SetDTR(state))
}

// Baudrate implements ByteChannel.
func (p *Port) Baudrate() int {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.baud
}

// Info implements ByteChannel.
func (p *Port) Info() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return FormatInfo(p.Path, p.details)
}

// ProductID implements ByteChannel.
func (p *Port) ProductID() (uint16, bool) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.details == nil {
		return 0, false
	}
	return ParseID(p.details.PID)
}

// FormatInfo formats the identity of the port at path.
func FormatInfo(path string, d *enumerator.PortDetails) string {
	if d != nil && d.IsUSB && d.VID != "" && d.PID != "" {
		return fmt.Sprintf("Serial VendorID 0x%s ProductID 0x%s",
			strings.ToLower(d.VID), strings.ToLower(d.PID))
	}
	return "Serial " + path
}

// ParseID parses a hexadecimal USB VID/PID.
func ParseID(s string) (uint16, bool) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, false
	}
	return uint16(id), true
}

// Ports lists the serial ports present on the system with their identity.
func Ports() ([]string, error) {
	list, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	items := make([]string, 0, len(list))
	for _, d := range list {
		items = append(items, d.Name+": "+FormatInfo(d.Name, d))
	}
	return items, nil
}
