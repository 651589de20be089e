// Package reset drives the RTS/DTR lines to reset a target into its
// bootloader or back into its firmware.
package reset

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang/glog"
)

// Lines sets the control lines, in the order of the calls.
// transport.Transport satisfies it.
type Lines interface {
	SetRTS(state bool) error
	SetDTR(state bool) error
}

// Strategy performs a reset sequence.
type Strategy interface {
	Reset(lines Lines) error
}

// StrategyFunc is func type of Strategy.
type StrategyFunc func(Lines) error

// Reset implements Strategy.
func (f StrategyFunc) Reset(lines Lines) error {
	return f(lines)
}

// DefaultResetDelay is how long EN is held low in ClassicReset.
const DefaultResetDelay = 50 * time.Millisecond

// Typical wiring (as on most ESP dev boards): RTS controls EN (reset),
// DTR controls IO0 (boot select); both lines are inverted, so a true
// state pulls the pin low.

// ClassicReset resets into the bootloader: IO0 is held low while EN is
// released.
type ClassicReset struct {
	Delay time.Duration
	Sleep func(time.Duration)
}

// Reset implements Strategy.
func (r *ClassicReset) Reset(lines Lines) error {
	delay := r.Delay
	if delay == 0 {
		delay = DefaultResetDelay
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return run(lines, sleep,
		set(dtr, false),
		set(rts, true), // EN low, chip in reset
		pause(100*time.Millisecond),
		set(dtr, true), // IO0 low
		set(rts, false),
		pause(delay),
		set(dtr, false), // release IO0
	)
}

// HardReset toggles EN to restart the firmware.
type HardReset struct {
	Sleep func(time.Duration)
}

// Reset implements Strategy.
func (r *HardReset) Reset(lines Lines) error {
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	return run(lines, sleep,
		set(rts, true),
		pause(100*time.Millisecond),
		set(rts, false),
	)
}

// NoReset leaves the lines untouched.
var NoReset = StrategyFunc(func(Lines) error { return nil })

var strategies = map[string]func() Strategy{
	"classic":  func() Strategy { return &ClassicReset{} },
	"hard":     func() Strategy { return &HardReset{} },
	"no-reset": func() Strategy { return NoReset },
}

// Names returns the names of available strategies.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ByName creates the Strategy registered with name.
func ByName(name string) (Strategy, error) {
	if fn, ok := strategies[name]; ok {
		return fn(), nil
	}
	return nil, fmt.Errorf("unknown reset strategy %q", name)
}

type line int

const (
	none line = iota
	rts
	dtr
)

// action either sets a line or pauses.
type action struct {
	line  line
	state bool
	pause time.Duration
}

func set(l line, state bool) action { return action{line: l, state: state} }

func pause(d time.Duration) action { return action{pause: d} }

func run(lines Lines, sleep func(time.Duration), actions ...action) (err error) {
	for _, a := range actions {
		switch a.line {
		case rts:
			err = lines.SetRTS(a.state)
		case dtr:
			err = lines.SetDTR(a.state)
		default:
			glog.V(4).Infof("reset: sleep %v", a.pause)
			sleep(a.pause)
		}
		if err != nil {
			return
		}
	}
	return
}
