// Package config resolves connection settings from defaults, environment
// variables, an optional TOML file and command line flags, and creates
// the matching ByteChannel.
package config

import (
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/robotalks/bootlink/pkg/channel/mqtt"
	"github.com/robotalks/bootlink/pkg/channel/serialport"
	"github.com/robotalks/bootlink/pkg/channel/stream"
	"github.com/robotalks/bootlink/pkg/channel/websocket"
	"github.com/robotalks/bootlink/pkg/reset"
	"github.com/robotalks/bootlink/pkg/transport"
)

// Duration is a time.Duration in TOML and flags, e.g. "3s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	return d.Set(string(text))
}

// Set implements flag.Value.
func (d *Duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// String implements flag.Value.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config provides options to connect a device.
type Config struct {
	// URL locates the device:
	//   /dev/ttyUSB0, COM3, serial:///dev/ttyUSB0 - OS serial port
	//   tcp://host:port                          - raw TCP serial server
	//   ws://host/path, wss://host/path          - websocket bridge
	//   mqtt://broker:port/prefix/device        - MQTT bridge
	URL     string   `toml:"url"`
	Baud    int      `toml:"baud"`
	Reset   string   `toml:"reset"`
	Timeout Duration `toml:"timeout"`
	MinData int      `toml:"min_data"`
	SLIP    bool     `toml:"slip"`
	// Origin is sent by websocket bridges.
	Origin string `toml:"origin"`
	// DialTimeout bounds tcp connects.
	DialTimeout Duration `toml:"dial_timeout"`
}

var defaultConfig = Config{
	URL:         "/dev/ttyUSB0",
	Baud:        transport.DefaultBaudrate,
	Reset:       "classic",
	Timeout:     Duration(3 * time.Second),
	MinData:     transport.DefaultMinData,
	SLIP:        true,
	DialTimeout: Duration(5 * time.Second),
}

func init() {
	applyEnv(&defaultConfig, os.Getenv)
}

func applyEnv(c *Config, getenv func(string) string) {
	if val := getenv("BOOTLINK_URL"); val != "" {
		c.URL = val
	}
	if val := getenv("BOOTLINK_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			c.Baud = baud
		}
	}
	if val := getenv("BOOTLINK_RESET"); val != "" {
		c.Reset = val
	}
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Bind registers command line flags for c on fs.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.URL, "url", c.URL, "Device URL.")
	fs.IntVar(&c.Baud, "baud", c.Baud, "Baud rate.")
	fs.StringVar(&c.Reset, "reset", c.Reset, "Reset strategy: classic, hard or no-reset.")
	fs.Var(&c.Timeout, "timeout", "Read timeout.")
	fs.IntVar(&c.MinData, "min-data", c.MinData, "Minimum bytes accumulated per read.")
	fs.BoolVar(&c.SLIP, "slip", c.SLIP, "Extract SLIP frames on read.")
	fs.StringVar(&c.Origin, "origin", c.Origin, "Origin for websocket bridges.")
	fs.Var(&c.DialTimeout, "dial-timeout", "Timeout connecting tcp servers.")
}

// Parse binds flags to a new Config and parses args. If -config names a
// TOML file, its values override the defaults while flags given on the
// command line take precedence.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	conf := NewConfig()
	var file string
	fs.StringVar(&file, "config", "", "TOML config file.")
	conf.Bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if file == "" {
		return conf, nil
	}
	explicit := make(map[string]string)
	fs.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	if err := conf.LoadFile(file); err != nil {
		return nil, err
	}
	for name, val := range explicit {
		if err := fs.Set(name, val); err != nil {
			return nil, err
		}
	}
	return conf, nil
}

// LoadFile overlays values present in the TOML file at path.
func (c *Config) LoadFile(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	return nil
}

// NewChannel creates the ByteChannel located by URL.
func (c *Config) NewChannel() (transport.ByteChannel, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid device URL: %w", err)
	}
	switch u.Scheme {
	case "":
		return serialport.New(c.URL), nil
	case "serial":
		return serialport.New(u.Host + u.Path), nil
	case "tcp":
		host, timeout := u.Host, time.Duration(c.DialTimeout)
		return stream.New(host, func(int) (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", host, timeout)
		}), nil
	case "ws", "wss":
		return websocket.New(c.URL, c.Origin), nil
	case "mqtt":
		ch, err := mqtt.NewFromURL(c.URL)
		if err != nil {
			return nil, err
		}
		return ch, nil
	default:
		return nil, fmt.Errorf("unknown device URL scheme: %q", u.Scheme)
	}
}

// NewTransport creates a Transport over NewChannel.
func (c *Config) NewTransport() (*transport.Transport, error) {
	ch, err := c.NewChannel()
	if err != nil {
		return nil, err
	}
	return transport.New(ch).SetSLIPReader(c.SLIP), nil
}

// ResetStrategy returns the configured reset strategy.
func (c *Config) ResetStrategy() (reset.Strategy, error) {
	return reset.ByName(c.Reset)
}
