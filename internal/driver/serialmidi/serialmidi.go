// Package serialmidi drives a Launchpad whose MIDI stream arrives over a serial
// line, such as a DIN-to-UART adapter or a USB CDC bridge. Input and output
// share one open port: the first handle opens it and the last one closes it.
package serialmidi

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"

	"github.com/banshee-data/padmux/internal/midi"
	"github.com/banshee-data/padmux/internal/monitoring"
)

var logf = monitoring.Component("serialmidi")

// Port is the minimal interface needed for a serial port.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the serial port at path.
type Opener func(path string, mode *serial.Mode) (Port, error)

// Lister returns the system's serial ports with USB details.
type Lister func() ([]*enumerator.PortDetails, error)

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// Driver result codes reported in midi.DriverError.
const (
	codeBadDeviceID = 2
	codeAllocated   = 4
	codeInvalHandle = 5
)

var (
	errBadDevice = errors.New("no such device")
	errAllocated = errors.New("port already open")
	errClosed    = errors.New("handle closed")
)

// Config selects the port and how to present it.
type Config struct {
	Path    string
	Name    string
	Options PortOptions
}

// Driver implements midi.Driver for one serial port.
type Driver struct {
	cfg  Config
	mode *serial.Mode
	open Opener
	list Lister

	mu     sync.Mutex
	port   Port
	refs   int
	in     *input
	out    *output
	reader chan struct{} // closed when the reader goroutine exits
	start  time.Time
}

// New returns a driver for cfg.
func New(cfg Config) (*Driver, error) {
	mode, err := cfg.Options.SerialMode()
	if err != nil {
		return nil, fmt.Errorf("serial options: %w", err)
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Path
	}
	return &Driver{
		cfg:  cfg,
		mode: mode,
		open: openSerial,
		list: enumerator.GetDetailedPortsList,
	}, nil
}

// NewWithOpener is New with a custom opener and lister, for tests.
func NewWithOpener(cfg Config, open Opener, list Lister) (*Driver, error) {
	d, err := New(cfg)
	if err != nil {
		return nil, err
	}
	d.open = open
	if list != nil {
		d.list = list
	}
	return d, nil
}

// caps describes the configured port, filling USB identifiers when the
// enumerator knows the device.
func (d *Driver) caps() ([]midi.Caps, error) {
	c := midi.Caps{ID: 0, Name: d.cfg.Name}

	ports, err := d.list()
	if err != nil {
		logf("enumerating serial ports: %v", err)
		return []midi.Caps{c}, nil
	}
	for _, p := range ports {
		if p.Name != d.cfg.Path || !p.IsUSB {
			continue
		}
		if vid, err := strconv.ParseUint(p.VID, 16, 16); err == nil {
			c.VendorID = uint16(vid)
		}
		if pid, err := strconv.ParseUint(p.PID, 16, 16); err == nil {
			c.ProductID = uint16(pid)
		}
	}
	return []midi.Caps{c}, nil
}

func (d *Driver) Ins() ([]midi.Caps, error)  { return d.caps() }
func (d *Driver) Outs() ([]midi.Caps, error) { return d.caps() }

func (d *Driver) OpenIn(id int, cb midi.Callback, tag int) (midi.NativeIn, error) {
	if id != 0 {
		return nil, &midi.DriverError{Code: codeBadDeviceID, Err: errBadDevice}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.in != nil {
		return nil, &midi.DriverError{Code: codeAllocated, Err: errAllocated}
	}
	if err := d.acquireLocked(); err != nil {
		return nil, err
	}
	d.in = &input{driver: d, cb: cb, tag: tag}
	return d.in, nil
}

func (d *Driver) OpenOut(id int) (midi.NativeOut, error) {
	if id != 0 {
		return nil, &midi.DriverError{Code: codeBadDeviceID, Err: errBadDevice}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.out != nil {
		return nil, &midi.DriverError{Code: codeAllocated, Err: errAllocated}
	}
	if err := d.acquireLocked(); err != nil {
		return nil, err
	}
	d.out = &output{driver: d}
	return d.out, nil
}

func (d *Driver) acquireLocked() error {
	if d.refs == 0 {
		port, err := d.open(d.cfg.Path, d.mode)
		if err != nil {
			return portErr(err)
		}
		d.port = port
		d.start = time.Now()
		d.reader = make(chan struct{})
		go d.read(port, d.reader)
	}
	d.refs++
	return nil
}

func (d *Driver) releaseLocked() error {
	d.refs--
	if d.refs > 0 {
		return nil
	}
	port, reader := d.port, d.reader
	d.port = nil
	err := port.Close()

	// Read unblocks once the port is closed.
	d.mu.Unlock()
	<-reader
	d.mu.Lock()
	return portErr(err)
}

// read parses the byte stream and hands complete messages to the input.
func (d *Driver) read(port Port, done chan struct{}) {
	defer close(done)

	var p parser
	buf := make([]byte, 64)
	for {
		n, err := port.Read(buf)
		for _, b := range buf[:n] {
			if msg, ok := p.feed(b); ok {
				d.dispatch(msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				d.mu.Lock()
				closing := d.port != port
				d.mu.Unlock()
				if !closing {
					logf("read from %s: %v", d.cfg.Path, err)
				}
			}
			return
		}
	}
}

func (d *Driver) dispatch(msg midi.ShortMessage) {
	d.mu.Lock()
	in := d.in
	millis := uint32(time.Since(d.start).Milliseconds())
	d.mu.Unlock()

	if in != nil {
		in.deliver(midi.Notification{Kind: midi.KindData, Message: msg, Millis: millis})
	}
}

func (d *Driver) write(b []byte) error {
	d.mu.Lock()
	port := d.port
	d.mu.Unlock()
	if port == nil {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	if _, err := port.Write(b); err != nil {
		return portErr(err)
	}
	return nil
}

// portErr carries go.bug.st/serial error codes into a DriverError.
func portErr(err error) error {
	if err == nil {
		return nil
	}
	var pe *serial.PortError
	if errors.As(err, &pe) {
		return &midi.DriverError{Code: int(pe.Code()), Err: err}
	}
	return &midi.DriverError{Err: err}
}

type input struct {
	driver *Driver
	cb     midi.Callback
	tag    int

	mu      sync.Mutex
	started bool
	closed  bool
}

func (in *input) deliver(n midi.Notification) {
	in.mu.Lock()
	live := in.started && !in.closed
	in.mu.Unlock()
	if live {
		in.cb(in.tag, n)
	}
}

func (in *input) setStarted(v bool) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	in.started = v
	return nil
}

func (in *input) Start() error { return in.setStarted(true) }
func (in *input) Stop() error  { return in.setStarted(false) }
func (in *input) Reset() error { return in.setStarted(false) }

func (in *input) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	in.closed = true
	in.mu.Unlock()

	d := in.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in = nil
	return d.releaseLocked()
}

type output struct {
	driver *Driver

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
	return o.driver.write(encode(msg))
}

// Reset sends All Notes Off on every channel.
func (o *output) Reset() error {
	if err := o.live(); err != nil {
		return err
	}
	b := make([]byte, 0, 16*3)
	for ch := byte(0); ch < 16; ch++ {
		b = append(b, 0xB0|ch, 0x7B, 0x00)
	}
	return o.driver.write(b)
}

func (o *output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return &midi.DriverError{Code: codeInvalHandle, Err: errClosed}
	}
	o.closed = true
	o.mu.Unlock()

	d := o.driver
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = nil
	return d.releaseLocked()
}
