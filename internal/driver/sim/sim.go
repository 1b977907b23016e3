// Package sim is an in-memory Launchpad. It implements midi.Driver so the whole
// stack can run without hardware: presses are injected by tests or the debug
// pages, and every LED message written to it is decoded back into a grid.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"

	"github.com/banshee-data/padmux/internal/launchpad"
	"github.com/banshee-data/padmux/internal/midi"
)

// Novation's USB identifiers for the original Launchpad.
const (
	VendorID  = 0x1235
	ProductID = 0x000E
)

// Driver result codes, numbered like the multimedia API's MMSYSERR values.
const (
	codeBadDeviceID = 2
	codeNotEnabled  = 3
	codeInvalHandle = 5
)

var (
	errBadDevice = errors.New("no such device")
	errClosed    = errors.New("handle closed")
	errStopped   = errors.New("input not started")
)

// Launchpad is a virtual device with one input and one output port.
type Launchpad struct {
	name  string
	start time.Time

	mu     sync.Mutex
	inputs []*input
	leds   [launchpad.Rows][launchpad.Columns]launchpad.Color
	sent   int
}

// New returns a virtual Launchpad whose ports are called name.
func New(name string) *Launchpad {
	return &Launchpad{name: name, start: time.Now()}
}

func (l *Launchpad) caps() []midi.Caps {
	return []midi.Caps{{ID: 0, Name: l.name, VendorID: VendorID, ProductID: ProductID}}
}

func (l *Launchpad) Ins() ([]midi.Caps, error)  { return l.caps(), nil }
func (l *Launchpad) Outs() ([]midi.Caps, error) { return l.caps(), nil }

func (l *Launchpad) OpenIn(id int, cb midi.Callback, tag int) (midi.NativeIn, error) {
	if id != 0 {
		return nil, &midi.DriverError{Code: codeBadDeviceID, Err: errBadDevice}
	}
	in := &input{pad: l, cb: cb, tag: tag}

	l.mu.Lock()
	l.inputs = append(l.inputs, in)
	l.mu.Unlock()

	in.notify(midi.Notification{Kind: midi.KindOpen})
	return in, nil
}

func (l *Launchpad) OpenOut(id int) (midi.NativeOut, error) {
	if id != 0 {
		return nil, &midi.DriverError{Code: codeBadDeviceID, Err: errBadDevice}
	}
	return &output{pad: l}, nil
}

// Press pushes a button down on every started input.
func (l *Launchpad) Press(p launchpad.Pos) error {
	return l.button(p, 0x7F)
}

// Release lets a button go on every started input.
func (l *Launchpad) Release(p launchpad.Pos) error {
	return l.button(p, 0x00)
}

func (l *Launchpad) button(p launchpad.Pos, velocity uint8) error {
	var msg gomidi.Message
	switch {
	case !p.Valid() || (p.Row == 0 && p.Col == 8):
		return fmt.Errorf("%w: %s", launchpad.ErrOutOfRange, p)
	case p.Row == 0:
		msg = gomidi.ControlChange(0, 0x68+p.Col, velocity)
	default:
		msg = gomidi.NoteOn(0, (p.Row-1)*16+p.Col, velocity)
	}

	n := midi.Notification{
		Kind:    midi.KindData,
		Message: midi.Pack(msg[0], msg[1], msg[2]),
		Millis:  uint32(time.Since(l.start).Milliseconds()),
	}

	l.mu.Lock()
	inputs := append([]*input(nil), l.inputs...)
	l.mu.Unlock()

	for _, in := range inputs {
		in.deliver(n)
	}
	return nil
}

// LEDs returns the colors the device currently shows.
func (l *Launchpad) LEDs() [launchpad.Rows][launchpad.Columns]launchpad.Color {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.leds
}

// Sent reports how many messages the device has received.
func (l *Launchpad) Sent() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sent
}

// apply updates the LED grid from one received message.
func (l *Launchpad) apply(sm midi.ShortMessage) {
	b := sm.Bytes()
	msg := gomidi.Message(b[:])

	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++

	var ch, key, val uint8
	switch {
	case msg.GetNoteOn(&ch, &key, &val):
		col, row := key&0x0F, key/16+1
		if col < launchpad.Columns && row < launchpad.Rows {
			l.leds[row][col] = launchpad.Color(val & 0x33)
		}
	case msg.GetNoteOff(&ch, &key, &val):
		col, row := key&0x0F, key/16+1
		if col < launchpad.Columns && row < launchpad.Rows {
			l.leds[row][col] = launchpad.Black
		}
	case msg.GetControlChange(&ch, &key, &val):
		switch {
		case key == 0 && val == 0:
			l.leds = [launchpad.Rows][launchpad.Columns]launchpad.Color{}
		case key >= 0x68 && key < 0x70:
			l.leds[0][key-0x68] = launchpad.Color(val & 0x33)
		}
	}
}

func (l *Launchpad) remove(in *input) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, cur := range l.inputs {
		if cur == in {
			l.inputs = append(l.inputs[:i], l.inputs[i+1:]...)
			return
		}
	}
}

type input struct {
	pad *Launchpad
	cb  midi.Callback
	tag int

	mu      sync.Mutex
	started bool
	closed  bool
}

func (in *input) notify(n midi.Notification) {
	in.cb(in.tag, n)
}

func (in *input) deliver(n midi.Notification) {
	in.mu.Lock()
	live := in.started && !in.closed
	in.mu.Unlock()
	if live {
		in.notify(n)
	}
}

func (in *input) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	in.started = true
	return nil
}

func (in *input) Stop() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	if !in.started {
		return &midi.DriverError{Code: codeNotEnabled, Err: errStopped}
	}
	in.started = false
	return nil
}

func (in *input) Reset() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	in.started = false
	return nil
}

func (in *input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	in.closed = true
	in.mu.Unlock()

	in.pad.remove(in)
	in.notify(midi.Notification{Kind: midi.KindClose})
	return nil
}

type output struct {
	pad *Launchpad

	mu     sync.Mutex
	closed bool
}

func (o *output) live() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	return nil
}

func (o *output) Send(msg midi.ShortMessage) error {
	if err := o.live(); err != nil {
		return err
	}
	o.pad.apply(msg)
	return nil
}

// Reset silences the output. A Launchpad has no sounding notes, so the LEDs
// keep their state.
func (o *output) Reset() error {
	return o.live()
}

func (o *output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	o.closed = true
	return nil
}
