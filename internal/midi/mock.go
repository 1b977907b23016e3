package midi

import (
	"errors"
	"sync"
	"sync/atomic"
)

// TestableDriver implements Driver with configurable behaviour for testing.
// It records every native handle it hands out and lets tests fire callbacks
// from their own goroutines the way a real driver thread would.
type TestableDriver struct {
	mu sync.Mutex

	// InCaps and OutCaps are returned by Ins and Outs.
	InCaps  []Caps
	OutCaps []Caps

	// OpenError is returned by the next OpenIn or OpenOut call if set.
	OpenError error

	// OutOpenError is returned by the next OpenOut call if set.
	OutOpenError error

	// SendError is returned by the next Send call on any output if set.
	SendError error

	// CloseError is returned by every Close call if set.
	CloseError error

	// Inputs and Outputs record every handle ever opened, in open order.
	Inputs  []*TestableIn
	Outputs []*TestableOut

	// Overlaps counts primitive calls that ran while another was in progress.
	Overlaps atomic.Int64
	busy     atomic.Int32
}

// NewTestableDriver creates a driver exposing one input and one output with the
// given port name.
func NewTestableDriver(name string) *TestableDriver {
	return &TestableDriver{
		InCaps:  []Caps{{ID: 0, Name: name}},
		OutCaps: []Caps{{ID: 0, Name: name}},
	}
}

func (d *TestableDriver) enter() func() {
	if d.busy.Add(1) > 1 {
		d.Overlaps.Add(1)
	}
	return func() { d.busy.Add(-1) }
}

func (d *TestableDriver) Ins() ([]Caps, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Caps(nil), d.InCaps...), nil
}

func (d *TestableDriver) Outs() ([]Caps, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Caps(nil), d.OutCaps...), nil
}

func (d *TestableDriver) OpenIn(id int, cb Callback, tag int) (NativeIn, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OpenError != nil {
		err := d.OpenError
		d.OpenError = nil
		return nil, err
	}
	in := &TestableIn{driver: d, ID: id, cb: cb, tag: tag}
	d.Inputs = append(d.Inputs, in)
	return in, nil
}

func (d *TestableDriver) OpenOut(id int) (NativeOut, error) {
	defer d.enter()()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.OutOpenError != nil {
		err := d.OutOpenError
		d.OutOpenError = nil
		return nil, err
	}
	if d.OpenError != nil {
		err := d.OpenError
		d.OpenError = nil
		return nil, err
	}
	out := &TestableOut{driver: d, ID: id}
	d.Outputs = append(d.Outputs, out)
	return out, nil
}

// Input returns the i-th input ever opened, or nil.
func (d *TestableDriver) Input(i int) *TestableIn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Inputs) {
		return nil
	}
	return d.Inputs[i]
}

// Output returns the i-th output ever opened, or nil.
func (d *TestableDriver) Output(i int) *TestableOut {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.Outputs) {
		return nil
	}
	return d.Outputs[i]
}

// SetSendError makes the next Send on any output fail with err.
func (d *TestableDriver) SetSendError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.SendError = err
}

// SetOpenError makes the next open fail with err.
func (d *TestableDriver) SetOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenError = err
}

// SetOutOpenError makes the next output open fail with err.
func (d *TestableDriver) SetOutOpenError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OutOpenError = err
}

// TestableIn is the native input handed out by TestableDriver.
type TestableIn struct {
	driver *TestableDriver
	ID     int
	cb     Callback
	tag    int

	mu      sync.Mutex
	started bool
	closed  bool
	resets  int
}

var errNotStarted = errors.New("input not started")

// Emit fires the driver callback on the calling goroutine if the input is
// started. It reports whether the callback ran.
func (in *TestableIn) Emit(n Notification) bool {
	in.mu.Lock()
	live := in.started && !in.closed
	in.mu.Unlock()
	if !live {
		return false
	}
	in.cb(in.tag, n)
	return true
}

// EmitTag fires the callback with an arbitrary tag, as a confused driver might.
func (in *TestableIn) EmitTag(tag int, n Notification) {
	in.cb(tag, n)
}

// Tag returns the tag the actor passed to OpenIn.
func (in *TestableIn) Tag() int { return in.tag }

func (in *TestableIn) Start() error {
	defer in.driver.enter()()
	in.mu.Lock()
	defer in.mu.Unlock()
	in.started = true
	return nil
}

func (in *TestableIn) Stop() error {
	defer in.driver.enter()()
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.started {
		return &DriverError{Code: 5, Err: errNotStarted}
	}
	in.started = false
	return nil
}

func (in *TestableIn) Reset() error {
	defer in.driver.enter()()
	in.mu.Lock()
	defer in.mu.Unlock()
	in.started = false
	in.resets++
	return nil
}

func (in *TestableIn) Close() error {
	defer in.driver.enter()()
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()

	in.driver.mu.Lock()
	defer in.driver.mu.Unlock()
	return in.driver.CloseError
}

// Closed reports whether Close was called.
func (in *TestableIn) Closed() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.closed
}

// Started reports whether the input is delivering.
func (in *TestableIn) Started() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.started
}

// TestableOut is the native output handed out by TestableDriver.
type TestableOut struct {
	driver *TestableDriver
	ID     int

	mu     sync.Mutex
	sent   []ShortMessage
	closed bool
	resets int
}

func (o *TestableOut) Send(msg ShortMessage) error {
	defer o.driver.enter()()
	o.driver.mu.Lock()
	if err := o.driver.SendError; err != nil {
		o.driver.SendError = nil
		o.driver.mu.Unlock()
		return err
	}
	o.driver.mu.Unlock()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

func (o *TestableOut) Reset() error {
	defer o.driver.enter()()
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resets++
	return nil
}

func (o *TestableOut) Close() error {
	defer o.driver.enter()()
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	o.driver.mu.Lock()
	defer o.driver.mu.Unlock()
	return o.driver.CloseError
}

// Sent returns a copy of every message written to the output.
func (o *TestableOut) Sent() []ShortMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ShortMessage(nil), o.sent...)
}

// Closed reports whether Close was called.
func (o *TestableOut) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// Resets reports how many times Reset was called.
func (o *TestableOut) Resets() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resets
}
