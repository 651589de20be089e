// Package stream implements transport.ByteChannel over any connection
// providing io.ReadWriteCloser, e.g. a raw TCP serial server.
//
// A background reader collects incoming chunks as they arrive; Read
// drains whatever is collected, waiting up to its timeout if nothing is.
package stream

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/bootlink/pkg/transport"
)

// Dialer opens the connection. baud is a hint which a bridge may use to
// configure the remote port.
type Dialer func(baud int) (io.ReadWriteCloser, error)

// LineController is implemented by connections supporting RTS/DTR.
type LineController interface {
	SetRTS(state bool) error
	SetDTR(state bool) error
}

const (
	// DefaultChunkSize is the read buffer size of the background reader.
	DefaultChunkSize = 1024
	// DefaultUnlockPoll is the interval Disconnect polls in-flight calls.
	DefaultUnlockPoll = 10 * time.Millisecond
)

// Channel implements transport.ByteChannel.
type Channel struct {
	Name       string
	Dial       Dialer
	ChunkSize  int
	UnlockPoll time.Duration

	lock    sync.Mutex
	conn    io.ReadWriteCloser
	baud    int
	chunkCh chan []byte
	stopCh  chan struct{}
	doneCh  chan struct{}
	err     error
	busy    int32
}

// New creates a Channel.
func New(name string, dial Dialer) *Channel {
	return &Channel{Name: name, Dial: dial}
}

// Connect implements ByteChannel. An open connection is closed first.
func (c *Channel) Connect(baud int) error {
	if c.connected() {
		if err := c.Disconnect(); err != nil {
			return err
		}
	}
	conn, err := c.Dial(baud)
	if err != nil {
		return transport.WrapIO("connect", err)
	}
	size := c.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	c.lock.Lock()
	c.conn, c.baud, c.err = conn, baud, nil
	c.chunkCh = make(chan []byte, 16)
	c.stopCh, c.doneCh = make(chan struct{}), make(chan struct{})
	go c.readLoop(conn, size, c.chunkCh, c.stopCh, c.doneCh)
	c.lock.Unlock()
	return nil
}

// Disconnect implements ByteChannel.
func (c *Channel) Disconnect() error {
	c.waitForUnlock()
	c.lock.Lock()
	conn, stopCh, doneCh := c.conn, c.stopCh, c.doneCh
	c.conn = nil
	c.lock.Unlock()
	if conn == nil {
		return nil
	}
	close(stopCh)
	err := conn.Close()
	<-doneCh
	return transport.WrapIO("disconnect", err)
}

func (c *Channel) waitForUnlock() {
	poll := c.UnlockPoll
	if poll <= 0 {
		poll = DefaultUnlockPoll
	}
	for atomic.LoadInt32(&c.busy) > 0 {
		time.Sleep(poll)
	}
}

func (c *Channel) connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil
}

func (c *Channel) acquire() (io.ReadWriteCloser, chan []byte, chan struct{}, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		return nil, nil, nil, transport.ErrNotConnected
	}
	atomic.AddInt32(&c.busy, 1)
	return c.conn, c.chunkCh, c.doneCh, nil
}

func (c *Channel) release() {
	atomic.AddInt32(&c.busy, -1)
}

// Write implements ByteChannel.
func (c *Channel) Write(data []byte) error {
	conn, _, _, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release()
	for len(data) > 0 {
		n, err := conn.Write(data)
		if err != nil {
			return transport.WrapIO("write", err)
		}
		data = data[n:]
	}
	return nil
}

// Read implements ByteChannel.
func (c *Channel) Read(timeout time.Duration) ([]byte, error) {
	_, chunkCh, doneCh, err := c.acquire()
	if err != nil {
		return nil, err
	}
	defer c.release()

	if data := drain(chunkCh, nil); len(data) > 0 {
		return data, nil
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case chunk := <-chunkCh:
		return drain(chunkCh, chunk), nil
	case <-doneCh:
		if data := drain(chunkCh, nil); len(data) > 0 {
			return data, nil
		}
		return nil, transport.WrapIO("read", c.readErr())
	case <-timeoutCh:
		return nil, transport.ErrTimeout
	}
}

func drain(chunkCh chan []byte, data []byte) []byte {
	for {
		select {
		case chunk := <-chunkCh:
			data = append(data, chunk...)
		default:
			return data
		}
	}
}

func (c *Channel) readErr() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.err == nil {
		return io.ErrClosedPipe
	}
	return c.err
}

func (c *Channel) readLoop(conn io.Reader, size int, chunkCh chan []byte, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	buf := make([]byte, size)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case chunkCh <- chunk:
			case <-stopCh:
				return
			}
		}
		if err != nil {
			glog.V(2).Infof("%s: read loop stopped: %v", c.Name, err)
			c.lock.Lock()
			c.err = err
			c.lock.Unlock()
			return
		}
	}
}

// SetRTS implements ByteChannel.
func (c *Channel) SetRTS(state bool) error {
	return c.setLine(func(lc LineController) error { return lc.SetRTS(state) })
}

// SetDTR implements ByteChannel.
func (c *Channel) SetDTR(state bool) error {
	return c.setLine(func(lc LineController) error { return lc.SetDTR(state) })
}

func (c *Channel) setLine(fn func(LineController) error) error {
	conn, _, _, err := c.acquire()
	if err != nil {
		return err
	}
	defer c.release()
	lc, ok := conn.(LineController)
	if !ok {
		return transport.ErrNotSupported
	}
	return transport.WrapIO("set line", fn(lc))
}

// Baudrate implements ByteChannel.
func (c *Channel) Baudrate() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.baud
}

// Info implements ByteChannel.
func (c *Channel) Info() string {
	return fmt.Sprintf("Stream %s", c.Name)
}

// ProductID implements ByteChannel.
func (c *Channel) ProductID() (uint16, bool) {
	return 0, false
}
