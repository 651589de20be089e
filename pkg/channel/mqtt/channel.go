package mqtt

import (
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes/wrappers"

	"github.com/robotalks/bootlink/pkg/transport"
)

// Topics relative to the device.
const (
	TopicRx      = "rx"
	TopicTx      = "tx"
	TopicBaud    = "ctl/baud"
	TopicRTS     = "ctl/rts"
	TopicDTR     = "ctl/dtr"
	TopicMeta    = "meta"
	TopicMetaPID = "meta/pid"
)

// DefaultRequestTimeout bounds broker round trips.
const DefaultRequestTimeout = 5 * time.Second

// Channel implements transport.ByteChannel.
type Channel struct {
	Queue          *Queue
	Device         string
	RequestTimeout time.Duration

	lock    sync.Mutex
	chunkCh chan []byte
	stopCh  chan struct{}
	baud    int
	meta    string
	pid     uint32
	hasPID  bool
}

// New creates a Channel for device on queue.
func New(queue *Queue, device string) *Channel {
	return &Channel{Queue: queue, Device: device}
}

// NewFromURL creates a Channel from a URL whose last path element is
// the device, e.g. mqtt://localhost:1883/bootlink/esp32.
func NewFromURL(rawURL string) (*Channel, error) {
	opts, prefix, err := ClientOptionsFromURL(rawURL)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSuffix(prefix, "/")
	device := path.Base(prefix)
	if device == "." || device == "/" || device == "" {
		return nil, fmt.Errorf("device missing in %q", rawURL)
	}
	topicPrefix := strings.TrimSuffix(prefix, device)
	return New(NewQueue(opts, topicPrefix), device), nil
}

func (c *Channel) topic(name string) string {
	return c.Device + "/" + name
}

func (c *Channel) wait(op string, token interface {
	WaitTimeout(time.Duration) bool
	Error() error
}) error {
	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if !token.WaitTimeout(timeout) {
		return &transport.IOError{Op: op, Err: fmt.Errorf("broker timeout after %v", timeout)}
	}
	return transport.WrapIO(op, token.Error())
}

func (c *Channel) publish(op, name string, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	return c.wait(op, c.Queue.Pub(c.topic(name), payload))
}

// Connect implements ByteChannel.
func (c *Channel) Connect(baud int) error {
	c.lock.Lock()
	open := c.chunkCh != nil
	c.lock.Unlock()
	if open {
		if err := c.Disconnect(); err != nil {
			return err
		}
	}
	if !c.Queue.Client.IsConnected() {
		if err := c.wait("connect", c.Queue.Connect()); err != nil {
			return err
		}
	}
	chunkCh, stopCh := make(chan []byte, 64), make(chan struct{})
	c.lock.Lock()
	c.meta, c.pid, c.hasPID = "", 0, false
	c.lock.Unlock()

	subs := map[string]Handler{
		TopicMeta:    c.handleMeta,
		TopicMetaPID: c.handleMetaPID,
		TopicRx: func(_ string, payload []byte) {
			chunk := make([]byte, len(payload))
			copy(chunk, payload)
			select {
			case chunkCh <- chunk:
			case <-stopCh:
			}
		},
	}
	for name, h := range subs {
		if err := c.wait("subscribe", c.Queue.Sub(c.topic(name), h)); err != nil {
			c.teardown(stopCh)
			return err
		}
	}
	if err := c.publish("set baud", TopicBaud, &wrappers.UInt32Value{Value: uint32(baud)}); err != nil {
		c.teardown(stopCh)
		return err
	}
	c.lock.Lock()
	c.chunkCh, c.stopCh, c.baud = chunkCh, stopCh, baud
	c.lock.Unlock()
	return nil
}

// Disconnect implements ByteChannel.
func (c *Channel) Disconnect() error {
	c.lock.Lock()
	stopCh := c.stopCh
	c.chunkCh, c.stopCh = nil, nil
	c.lock.Unlock()
	if stopCh == nil {
		return nil
	}
	return c.teardown(stopCh)
}

// teardown stops the rx handler, unsubscribes the device topics and
// closes the broker session. It returns the first error.
func (c *Channel) teardown(stopCh chan struct{}) error {
	close(stopCh)
	var err error
	for _, name := range []string{TopicRx, TopicMeta, TopicMetaPID} {
		if e := c.wait("unsubscribe", c.Queue.Unsub(c.topic(name))); e != nil && err == nil {
			err = e
		}
	}
	if e := c.Queue.Close(); e != nil && err == nil {
		err = e
	}
	return err
}

func (c *Channel) channels() (chan []byte, chan struct{}, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.chunkCh == nil {
		return nil, nil, transport.ErrNotConnected
	}
	return c.chunkCh, c.stopCh, nil
}

// Write implements ByteChannel.
func (c *Channel) Write(data []byte) error {
	if _, _, err := c.channels(); err != nil {
		return err
	}
	return c.wait("write", c.Queue.Pub(c.topic(TopicTx), data))
}

// Read implements ByteChannel.
func (c *Channel) Read(timeout time.Duration) ([]byte, error) {
	chunkCh, stopCh, err := c.channels()
	if err != nil {
		return nil, err
	}
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case chunk := <-chunkCh:
		for {
			select {
			case more := <-chunkCh:
				chunk = append(chunk, more...)
			default:
				return chunk, nil
			}
		}
	case <-stopCh:
		return nil, transport.ErrNotConnected
	case <-timeoutCh:
		return nil, transport.ErrTimeout
	}
}

// SetRTS implements ByteChannel.
func (c *Channel) SetRTS(state bool) error {
	if _, _, err := c.channels(); err != nil {
		return err
	}
	return c.publish("set RTS", TopicRTS, &wrappers.BoolValue{Value: state})
}

// SetDTR implements ByteChannel.
func (c *Channel) SetDTR(state bool) error {
	if _, _, err := c.channels(); err != nil {
		return err
	}
	return c.publish("set DTR", TopicDTR, &wrappers.BoolValue{Value: state})
}

func (c *Channel) handleMeta(_ string, payload []byte) {
	var msg wrappers.StringValue
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return
	}
	c.lock.Lock()
	c.meta = msg.Value
	c.lock.Unlock()
}

func (c *Channel) handleMetaPID(_ string, payload []byte) {
	var msg wrappers.UInt32Value
	if err := proto.Unmarshal(payload, &msg); err != nil || msg.Value > 0xffff {
		return
	}
	c.lock.Lock()
	c.pid, c.hasPID = msg.Value, true
	c.lock.Unlock()
}

// Baudrate implements ByteChannel.
func (c *Channel) Baudrate() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.baud
}

// Info implements ByteChannel.
func (c *Channel) Info() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.meta != "" {
		return "MQTT " + c.meta
	}
	return "MQTT " + c.Queue.TopicPrefix + c.Device
}

// ProductID implements ByteChannel.
func (c *Channel) ProductID() (uint16, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return uint16(c.pid), c.hasPID
}
