// Package websocket provides a stream.Dialer to serial bridges exposing
// the port as a websocket carrying raw bytes in binary frames.
package websocket

import (
	"io"
	"net/url"
	"strconv"

	"golang.org/x/net/websocket"

	"github.com/robotalks/bootlink/pkg/channel/stream"
)

// BaudParam is the query parameter carrying the baud rate to the bridge.
const BaudParam = "baud"

// Dialer creates a stream.Dialer connecting to rawURL.
// origin defaults to http://localhost.
func Dialer(rawURL, origin string) stream.Dialer {
	if origin == "" {
		origin = "http://localhost"
	}
	return func(baud int) (io.ReadWriteCloser, error) {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		if baud > 0 {
			q := u.Query()
			q.Set(BaudParam, strconv.Itoa(baud))
			u.RawQuery = q.Encode()
		}
		conn, err := websocket.Dial(u.String(), "", origin)
		if err != nil {
			return nil, err
		}
		conn.PayloadType = websocket.BinaryFrame
		return conn, nil
	}
}

// New creates a stream.Channel over a websocket bridge.
func New(rawURL, origin string) *stream.Channel {
	return stream.New(rawURL, Dialer(rawURL, origin))
}
