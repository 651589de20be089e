// Package sh provides an interactive shell to exercise a bootloader link.
package sh

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"github.com/robotalks/bootlink/pkg/channel/serialport"
	"github.com/robotalks/bootlink/pkg/config"
	"github.com/robotalks/bootlink/pkg/transport"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool

	Shell     *ishell.Shell
	Config    *config.Config
	Transport *transport.Transport
	// Dial creates the transport, Config.NewTransport by default.
	Dial func() (*transport.Transport, error)
}

const (
	shellKey          = "$shell"
	unconnectedPrompt = "[none] > "
)

var commands = []*ishell.Cmd{
	&PortsCmd,
	&ConnectCmd,
	&DisconnectCmd,
	&InfoCmd,
	&ResetCmd,
	&RTSCmd,
	&DTRCmd,
	&SLIPCmd,
	&WriteCmd,
	&ReadCmd,
	&RawReadCmd,
}

// New creates a new shell.
func New(conf *config.Config, interactive bool) *Shell {
	s := &Shell{
		Interactive: interactive,
		Shell:       ishell.New(),
		Config:      conf,
		Dial:        conf.NewTransport,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(unconnectedPrompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// MustBeConnected wraps command func requires a connection.
func MustBeConnected(fn func(c *ishell.Context, t *transport.Transport)) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		t := ShellFrom(c).Transport
		if t == nil {
			c.Err(transport.ErrNotConnected)
			return
		}
		fn(c, t)
	}
}

// Connect opens the configured device at baud, or the configured baud
// rate if baud is 0.
func (s *Shell) Connect(baud int) error {
	if baud == 0 {
		baud = s.Config.Baud
	}
	if err := s.Disconnect(); err != nil {
		return err
	}
	t, err := s.Dial()
	if err != nil {
		return err
	}
	if err := t.Connect(baud); err != nil {
		t.Disconnect()
		return err
	}
	s.Transport = t
	s.setPrompt(fmt.Sprintf("%s > ", t.Info()))
	return nil
}

// Disconnect disconnects current device.
func (s *Shell) Disconnect() error {
	if s.Transport == nil {
		return nil
	}
	err := s.Transport.Disconnect()
	s.Transport = nil
	s.setPrompt(unconnectedPrompt)
	return err
}

func (s *Shell) setPrompt(prompt string) {
	if s.Shell != nil {
		s.Shell.SetPrompt(prompt)
	}
}

// Reset runs the reset strategy name, or the configured one if empty.
func (s *Shell) Reset(name string) error {
	if s.Transport == nil {
		return transport.ErrNotConnected
	}
	conf := *s.Config
	if name != "" {
		conf.Reset = name
	}
	strategy, err := conf.ResetStrategy()
	if err != nil {
		return err
	}
	return strategy.Reset(s.Transport)
}

// Run runs the shell.
func (s *Shell) Run(args ...string) {
	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			log.Fatalln(err)
		}
		return
	}
	if s.Interactive {
		s.Shell.Run()
		return
	}
	log.Fatalln("command expected")
}

// ParseSwitch parses on/off style arguments.
func ParseSwitch(arg string) (bool, error) {
	switch strings.ToLower(arg) {
	case "on", "1", "true", "high":
		return true, nil
	case "off", "0", "false", "low":
		return false, nil
	}
	return false, fmt.Errorf("invalid switch %q, expect on or off", arg)
}

// ParseHex parses bytes from hex args, spaces and colons allowed.
func ParseHex(args []string) ([]byte, error) {
	s := strings.NewReplacer(":", "", " ", "").Replace(strings.Join(args, ""))
	return hex.DecodeString(s)
}

// TimeoutArg parses an optional timeout argument, e.g. "500ms".
func TimeoutArg(args []string, def time.Duration) (time.Duration, error) {
	if len(args) == 0 {
		return def, nil
	}
	return time.ParseDuration(args[0])
}

func lineCmd(name string, set func(*transport.Transport, bool) error) ishell.Cmd {
	return ishell.Cmd{
		Name: name,
		Help: "on|off",
		Func: MustBeConnected(func(c *ishell.Context, t *transport.Transport) {
			if len(c.Args) != 1 {
				c.Err(fmt.Errorf("%s on|off", name))
				return
			}
			state, err := ParseSwitch(c.Args[0])
			if err == nil {
				err = set(t, state)
			}
			if err != nil {
				c.Err(err)
			}
		}),
	}
}

func readCmd(name string, help string, read func(*transport.Transport, time.Duration, int) ([]byte, error)) ishell.Cmd {
	return ishell.Cmd{
		Name: name,
		Help: help,
		Func: MustBeConnected(func(c *ishell.Context, t *transport.Transport) {
			conf := ShellFrom(c).Config
			timeout, err := TimeoutArg(c.Args, time.Duration(conf.Timeout))
			if err != nil {
				c.Err(err)
				return
			}
			data, err := read(t, timeout, conf.MinData)
			if err != nil {
				if transport.IsTimeout(err) && len(t.LeftOver()) > 0 {
					c.Printf("left-over %x\n", t.LeftOver())
				}
				c.Err(err)
				return
			}
			c.Printf("%x\n", data)
		}),
	}
}

var (
	// PortsCmd lists serial ports.
	PortsCmd = ishell.Cmd{
		Name:    "ports",
		Aliases: []string{"list", "l"},
		Func: func(c *ishell.Context) {
			items, err := serialport.Ports()
			if err != nil {
				c.Err(err)
				return
			}
			if len(items) == 0 {
				c.Println("No serial ports found")
				return
			}
			for _, item := range items {
				c.Println(item)
			}
		},
	}

	// ConnectCmd connects the configured device.
	ConnectCmd = ishell.Cmd{
		Name:    "connect",
		Aliases: []string{"c"},
		Help:    "[BAUD]",
		Func: func(c *ishell.Context) {
			var baud int
			if len(c.Args) > 0 {
				var err error
				if baud, err = strconv.Atoi(c.Args[0]); err != nil {
					c.Err(err)
					return
				}
			}
			if err := ShellFrom(c).Connect(baud); err != nil {
				c.Err(err)
			}
		},
	}

	// DisconnectCmd disconnects current device.
	DisconnectCmd = ishell.Cmd{
		Name:    "disconnect",
		Aliases: []string{"d"},
		Func: func(c *ishell.Context) {
			if err := ShellFrom(c).Disconnect(); err != nil {
				c.Err(err)
			}
		},
	}

	// InfoCmd prints the device identity.
	InfoCmd = ishell.Cmd{
		Name: "info",
		Func: MustBeConnected(func(c *ishell.Context, t *transport.Transport) {
			c.Printf("%s, %d baud\n", t.Info(), t.Baudrate())
			if pid, ok := t.ProductID(); ok {
				c.Printf("product id 0x%04x\n", pid)
			}
		}),
	}

	// ResetCmd resets the device.
	ResetCmd = ishell.Cmd{
		Name: "reset",
		Help: "[classic|hard|no-reset]",
		Func: func(c *ishell.Context) {
			var name string
			if len(c.Args) > 0 {
				name = c.Args[0]
			}
			if err := ShellFrom(c).Reset(name); err != nil {
				c.Err(err)
			}
		},
	}

	// RTSCmd sets RTS.
	RTSCmd = lineCmd("rts", (*transport.Transport).SetRTS)

	// DTRCmd sets DTR.
	DTRCmd = lineCmd("dtr", (*transport.Transport).SetDTR)

	// SLIPCmd toggles SLIP framing on read.
	SLIPCmd = ishell.Cmd{
		Name: "slip",
		Help: "[on|off]",
		Func: MustBeConnected(func(c *ishell.Context, t *transport.Transport) {
			if len(c.Args) > 0 {
				en, err := ParseSwitch(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				t.SetSLIPReader(en)
			}
			c.Printf("slip %v\n", t.SLIPReader())
		}),
	}

	// WriteCmd sends a frame.
	WriteCmd = ishell.Cmd{
		Name:    "write",
		Aliases: []string{"w"},
		Help:    "HEX...",
		Func: MustBeConnected(func(c *ishell.Context, t *transport.Transport) {
			data, err := ParseHex(c.Args)
			if err == nil {
				err = t.Write(data)
			}
			if err != nil {
				c.Err(err)
			}
		}),
	}

	// ReadCmd receives a frame.
	ReadCmd = readCmd("read", "[TIMEOUT]", (*transport.Transport).ReadMin)

	// RawReadCmd receives a single chunk.
	RawReadCmd = readCmd("raw", "[TIMEOUT]", func(t *transport.Transport, timeout time.Duration, _ int) ([]byte, error) {
		return t.RawRead(timeout)
	})
)

// Main is a helper to provide a single call in main.
func Main() {
	fs := flag.CommandLine
	evalOnly := fs.Bool("e", false, "Evaluation only, no interactive shell.")
	conf, err := config.Parse(fs, os.Args[1:])
	if err != nil {
		log.Fatalln(err)
	}
	New(conf, !*evalOnly).Run(fs.Args()...)
}
