package transport

import (
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/bootlink/pkg/slip"
)

const (
	// DefaultBaudrate is used by bootloaders before a baud rate change.
	DefaultBaudrate = 115200
	// DefaultMinData is the number of bytes accumulated by Read before a
	// frame extraction is attempted.
	DefaultMinData = 12
)

// Transport sends and receives SLIP frames over a ByteChannel.
type Transport struct {
	channel   ByteChannel
	assembler FrameAssembler
	slipRead  bool
	dtrState  bool
}

// New creates a Transport over channel. SLIP framing on read is
// disabled until SetSLIPReader(true).
func New(channel ByteChannel) *Transport {
	return &Transport{channel: channel}
}

// Channel returns the underlying ByteChannel.
func (t *Transport) Channel() ByteChannel {
	return t.channel
}

// SetSLIPReader enables or disables SLIP framing on Read.
func (t *Transport) SetSLIPReader(enabled bool) *Transport {
	t.slipRead = enabled
	return t
}

// SLIPReader tells whether Read extracts SLIP frames.
func (t *Transport) SLIPReader() bool {
	return t.slipRead
}

// LeftOver returns the bytes received but not yet returned.
func (t *Transport) LeftOver() []byte {
	return t.assembler.LeftOver()
}

// Baudrate returns the baud rate of the channel.
func (t *Transport) Baudrate() int {
	return t.channel.Baudrate()
}

// Info returns the device identity.
func (t *Transport) Info() string {
	return t.channel.Info()
}

// ProductID returns the USB product ID of the device if known.
func (t *Transport) ProductID() (uint16, bool) {
	return t.channel.ProductID()
}

// Write encodes data as a SLIP frame and sends it.
func (t *Transport) Write(data []byte) error {
	out := slip.Encode(data)
	if glog.V(4) {
		glog.Infof("TX %x", out)
	}
	return t.channel.Write(out)
}

// Read receives with DefaultMinData.
func (t *Transport) Read(timeout time.Duration) ([]byte, error) {
	return t.ReadMin(timeout, DefaultMinData)
}

// ReadMin receives at least minData bytes, starting from the left-over of
// previous reads, and returns the first frame found in them when SLIP
// framing is enabled, or all of them otherwise.
//
// A frame already complete in the left-over is returned without reading
// the channel. Each channel read waits up to timeout. On failure the
// bytes accumulated so far become the left-over and the error is
// returned unchanged.
//
// With framing enabled, the returned frame is empty if the accumulated
// bytes hold no complete frame yet; they are kept for the next call.
func (t *Transport) ReadMin(timeout time.Duration, minData int) ([]byte, error) {
	packet := append([]byte(nil), t.assembler.Take()...)
	if t.slipRead {
		if frame := t.assembler.Extract(packet); len(frame) > 0 {
			return frame, nil
		}
		packet = t.assembler.Take()
	}

	for {
		chunk, err := t.channel.Read(timeout)
		if err != nil {
			t.assembler.Retain(packet)
			return nil, err
		}
		if glog.V(4) {
			glog.Infof("RX %x", chunk)
		}
		packet = append(packet, chunk...)
		if len(packet) >= minData {
			break
		}
	}

	if t.slipRead {
		return t.assembler.Extract(packet), nil
	}
	return packet, nil
}

// RawRead returns exactly what a single channel read yields, bypassing
// framing and the left-over.
func (t *Transport) RawRead(timeout time.Duration) ([]byte, error) {
	return t.channel.Read(timeout)
}

// SetRTS sets RTS, then sets DTR again with its last value.
//
// Some USB-serial drivers (e.g. usbser.sys on Windows) send the RTS change
// only along with a DTR change, in one control request carrying a stale
// DTR. Re-sending DTR makes the request go out with both current states.
func (t *Transport) SetRTS(state bool) error {
	glog.V(2).Infof("RTS=%v", state)
	if err := t.channel.SetRTS(state); err != nil {
		return err
	}
	return t.channel.SetDTR(t.dtrState)
}

// SetDTR sets DTR and remembers it for SetRTS.
func (t *Transport) SetDTR(state bool) error {
	glog.V(2).Infof("DTR=%v", state)
	t.dtrState = state
	return t.channel.SetDTR(state)
}

// DTR returns the last DTR state set.
func (t *Transport) DTR() bool {
	return t.dtrState
}

// Connect opens the channel at baud and discards any left-over from a
// previous session.
func (t *Transport) Connect(baud int) error {
	if err := t.channel.Connect(baud); err != nil {
		return err
	}
	t.assembler.Reset()
	glog.Infof("connected %s at %d", t.channel.Info(), baud)
	return nil
}

// Disconnect closes the channel. The left-over is kept and dropped by the
// next Connect.
func (t *Transport) Disconnect() error {
	if err := t.channel.Disconnect(); err != nil {
		return err
	}
	glog.Infof("disconnected %s", t.channel.Info())
	return nil
}
