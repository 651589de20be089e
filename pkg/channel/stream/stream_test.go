package stream

import (
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/bootlink/pkg/transport"
)

type pipeEnv struct {
	t      *testing.T
	ch     *Channel
	remote net.Conn
	dials  []int
}

func newPipeEnv(t *testing.T) *pipeEnv {
	env := &pipeEnv{t: t}
	env.ch = New("pipe", func(baud int) (io.ReadWriteCloser, error) {
		local, remote := net.Pipe()
		env.remote = remote
		env.dials = append(env.dials, baud)
		return local, nil
	})
	require.NoError(t, env.ch.Connect(115200))
	return env
}

func (e *pipeEnv) send(data []byte) {
	_, err := e.remote.Write(data)
	require.NoError(e.t, err)
}

func TestReadTimeout(t *testing.T) {
	env := newPipeEnv(t)
	defer env.ch.Disconnect()
	start := time.Now()
	_, err := env.ch.Read(20 * time.Millisecond)
	require.True(t, errors.Is(err, transport.ErrTimeout))
	require.True(t, time.Since(start) >= 20*time.Millisecond)
}

func TestReadChunks(t *testing.T) {
	env := newPipeEnv(t)
	defer env.ch.Disconnect()
	env.send([]byte{1, 2, 3})
	env.send([]byte{4, 5})
	// both chunks are queued once the pipe writes return
	data, err := env.ch.Read(time.Second)
	require.NoError(t, err)
	if len(data) < 5 {
		more, err := env.ch.Read(time.Second)
		require.NoError(t, err)
		data = append(data, more...)
	}
	require.Equal(t, []byte{1, 2, 3, 4, 5}, data)
}

func TestWrite(t *testing.T) {
	env := newPipeEnv(t)
	defer env.ch.Disconnect()
	recvCh := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 4)
		_, err := io.ReadFull(env.remote, buf)
		if err != nil {
			buf = nil
		}
		recvCh <- buf
	}()
	require.NoError(t, env.ch.Write([]byte{0xc0, 1, 2, 0xc0}))
	select {
	case data := <-recvCh:
		require.Equal(t, []byte{0xc0, 1, 2, 0xc0}, data)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("write timeout")
	}
}

func TestRemoteClosed(t *testing.T) {
	env := newPipeEnv(t)
	defer env.ch.Disconnect()
	require.NoError(t, env.remote.Close())
	_, err := env.ch.Read(time.Second)
	var ioErr *transport.IOError
	require.True(t, errors.As(err, &ioErr))
	require.True(t, errors.Is(err, io.EOF))
}

func TestLifecycle(t *testing.T) {
	env := newPipeEnv(t)
	require.Equal(t, 115200, env.ch.Baudrate())
	require.Equal(t, "Stream pipe", env.ch.Info())
	_, ok := env.ch.ProductID()
	require.False(t, ok)

	require.True(t, errors.Is(env.ch.SetRTS(true), transport.ErrNotSupported))

	require.NoError(t, env.ch.Connect(921600))
	require.Equal(t, []int{115200, 921600}, env.dials)
	require.Equal(t, 921600, env.ch.Baudrate())

	require.NoError(t, env.ch.Disconnect())
	require.NoError(t, env.ch.Disconnect())
	_, err := env.ch.Read(time.Millisecond)
	require.Equal(t, transport.ErrNotConnected, err)
	require.Equal(t, transport.ErrNotConnected, env.ch.Write([]byte{1}))
}

func TestTransportOverStream(t *testing.T) {
	env := newPipeEnv(t)
	defer env.ch.Disconnect()
	tr := transport.New(env.ch).SetSLIPReader(true)
	go env.send([]byte{0xc0, 1, 2, 3, 4, 5, 6})
	go func() {
		time.Sleep(10 * time.Millisecond)
		env.send([]byte{0xdb, 0xdd, 7, 8, 9, 0xc0})
	}()
	var frame []byte
	for len(frame) == 0 {
		var err error
		frame, err = tr.Read(time.Second)
		require.NoError(t, err)
	}
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 0xdb, 7, 8, 9}, frame)
}
