package midi

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/padmux/internal/monitoring"
	"github.com/banshee-data/padmux/internal/slots"
)

var logf = monitoring.Component("midi")

// opType identifies an instruction for the actor loop.
type opType string

const (
	opIns      opType = "ins"
	opOuts     opType = "outs"
	opInOpen   opType = "in_open"
	opInClose  opType = "in_close"
	opInStart  opType = "in_start"
	opInStop   opType = "in_stop"
	opInReset  opType = "in_reset"
	opOutOpen  opType = "out_open"
	opOutClose opType = "out_close"
	opOutReset opType = "out_reset"
	opOutSend  opType = "out_send"
	opShutdown opType = "shutdown"
)

// instruction is one queued command. Instructions with a nil reply are fire and
// forget; all others are answered exactly once.
type instruction struct {
	op    opType
	id    int // device id for opens
	slot  int
	msg   ShortMessage
	reply chan result
}

type result struct {
	slot   int
	stream *stream
	caps   []Caps
	err    error
}

type inEntry struct {
	native NativeIn
	stream *stream
}

// Stats is a point-in-time count of open ports.
type Stats struct {
	Inputs  int `json:"inputs"`
	Outputs int `json:"outputs"`
}

// Actor serializes every call into a Driver onto one goroutine, locked to one
// OS thread for its lifetime. It is created once at startup and shared by
// every port handle; the goroutine starts on first use.
type Actor struct {
	driver Driver

	startOnce sync.Once
	mu        sync.Mutex
	queue     []instruction
	stopped   bool
	wake      chan struct{}
	done      chan struct{}

	routes routeTable

	inputs  atomic.Int64
	outputs atomic.Int64

	// owned by the loop goroutine
	ins  slots.Table[inEntry]
	outs slots.Table[NativeOut]
}

// NewActor creates an actor for driver. Nothing runs until the first request.
func NewActor(driver Driver) *Actor {
	return &Actor{
		driver: driver,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Stats reports how many input and output ports are currently open.
func (a *Actor) Stats() Stats {
	return Stats{
		Inputs:  int(a.inputs.Load()),
		Outputs: int(a.outputs.Load()),
	}
}

// Done is closed once the actor has shut down.
func (a *Actor) Done() <-chan struct{} { return a.done }

// Ins enumerates the driver's input ports.
func (a *Actor) Ins(ctx context.Context) ([]Caps, error) {
	r, err := a.call(ctx, instruction{op: opIns})
	return r.caps, err
}

// Outs enumerates the driver's output ports.
func (a *Actor) Outs(ctx context.Context) ([]Caps, error) {
	r, err := a.call(ctx, instruction{op: opOuts})
	return r.caps, err
}

// OpenIn opens input device id. The port delivers nothing until Start.
func (a *Actor) OpenIn(ctx context.Context, id int) (*In, error) {
	r, err := a.call(ctx, instruction{op: opInOpen, id: id})
	if err != nil {
		return nil, err
	}
	return &In{actor: a, slot: r.slot, stream: r.stream}, nil
}

// OpenOut opens output device id.
func (a *Actor) OpenOut(ctx context.Context, id int) (*Out, error) {
	r, err := a.call(ctx, instruction{op: opOutOpen, id: id})
	if err != nil {
		return nil, err
	}
	return &Out{actor: a, slot: r.slot}, nil
}

// Close resets and closes every open port, stops the actor and fails any
// outstanding requests with ErrActorGone. It is safe to call more than once.
func (a *Actor) Close() error {
	started := true
	a.startOnce.Do(func() {
		// Never used, so there is nothing to tear down.
		started = false
		a.mu.Lock()
		a.stopped = true
		a.mu.Unlock()
		close(a.done)
	})
	if started {
		a.mu.Lock()
		if !a.stopped {
			a.queue = append(a.queue, instruction{op: opShutdown})
		}
		a.mu.Unlock()
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
	<-a.done
	return nil
}

// post queues inst without waiting. It reports false once the actor stopped.
func (a *Actor) post(inst instruction) bool {
	a.startOnce.Do(func() { go a.loop() })

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return false
	}
	a.queue = append(a.queue, inst)
	a.mu.Unlock()

	select {
	case a.wake <- struct{}{}:
	default:
	}
	return true
}

// call queues inst and waits for its reply.
func (a *Actor) call(ctx context.Context, inst instruction) (result, error) {
	inst.reply = make(chan result, 1)
	if !a.post(inst) {
		return result{}, ErrActorGone
	}

	select {
	case r := <-inst.reply:
		return r, r.err
	case <-a.done:
		select {
		case r := <-inst.reply:
			return r, r.err
		default:
			return result{}, ErrActorGone
		}
	case <-ctx.Done():
		if inst.op == opInOpen || inst.op == opOutOpen {
			go a.abandonOpen(inst)
		}
		return result{}, ctx.Err()
	}
}

// abandonOpen closes a port whose opener stopped waiting for it.
func (a *Actor) abandonOpen(inst instruction) {
	select {
	case r := <-inst.reply:
		if r.err != nil {
			return
		}
		if inst.op == opInOpen {
			a.post(instruction{op: opInClose, slot: r.slot})
		} else {
			a.post(instruction{op: opOutClose, slot: r.slot})
		}
	case <-a.done:
	}
}

func (a *Actor) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(a.done)

	for {
		<-a.wake

		a.mu.Lock()
		batch := a.queue
		a.queue = nil
		a.mu.Unlock()

		for i, inst := range batch {
			if inst.op == opShutdown {
				a.shutdown(batch[i+1:])
				return
			}
			a.execute(inst)
		}
	}
}

func (a *Actor) execute(inst instruction) {
	switch inst.op {
	case opIns:
		caps, err := a.driver.Ins()
		inst.reply <- result{caps: caps, err: driverErr("enumerate inputs", err)}

	case opOuts:
		caps, err := a.driver.Outs()
		inst.reply <- result{caps: caps, err: driverErr("enumerate outputs", err)}

	case opInOpen:
		slot := a.ins.NextIndex()
		s := newStream()
		// Publish the route before the driver can call back with this tag.
		a.routes.set(slot, s)
		native, err := a.driver.OpenIn(inst.id, a.deliver, slot)
		if err != nil {
			a.routes.set(slot, nil)
			inst.reply <- result{err: driverErr("open input", err)}
			return
		}
		a.ins.Allocate(inEntry{native: native, stream: s})
		a.inputs.Add(1)
		inst.reply <- result{slot: slot, stream: s}

	case opInClose:
		if e, ok := a.ins.Release(inst.slot); ok {
			a.closeIn(inst.slot, e)
		}

	case opInStart, opInStop, opInReset:
		e, ok := a.ins.Get(inst.slot)
		if !ok {
			inst.reply <- result{err: ErrPortClosed}
			return
		}
		var err error
		switch inst.op {
		case opInStart:
			err = driverErr("start input", e.native.Start())
		case opInStop:
			err = driverErr("stop input", e.native.Stop())
		default:
			err = driverErr("reset input", e.native.Reset())
		}
		inst.reply <- result{err: err}

	case opOutOpen:
		native, err := a.driver.OpenOut(inst.id)
		if err != nil {
			inst.reply <- result{err: driverErr("open output", err)}
			return
		}
		slot := a.outs.Allocate(native)
		a.outputs.Add(1)
		inst.reply <- result{slot: slot}

	case opOutClose:
		if native, ok := a.outs.Release(inst.slot); ok {
			a.closeOut(inst.slot, native)
		}

	case opOutReset, opOutSend:
		native, ok := a.outs.Get(inst.slot)
		if !ok {
			inst.reply <- result{err: ErrPortClosed}
			return
		}
		if inst.op == opOutReset {
			inst.reply <- result{err: driverErr("reset output", native.Reset())}
			return
		}
		inst.reply <- result{err: driverErr("send", native.Send(inst.msg))}

	default:
		logf("dropping unknown instruction %q", inst.op)
	}
}

func (a *Actor) closeIn(slot int, e inEntry) {
	a.routes.set(slot, nil)
	if err := e.native.Reset(); err != nil {
		logf("reset of input %d before close failed: %v", slot, err)
	}
	if err := e.native.Close(); err != nil {
		logf("close of input %d failed: %v", slot, err)
	}
	e.stream.close()
	a.inputs.Add(-1)
}

func (a *Actor) closeOut(slot int, native NativeOut) {
	if err := native.Reset(); err != nil {
		logf("reset of output %d before close failed: %v", slot, err)
	}
	if err := native.Close(); err != nil {
		logf("close of output %d failed: %v", slot, err)
	}
	a.outputs.Add(-1)
}

// shutdown closes every port and fails whatever is still queued.
func (a *Actor) shutdown(rest []instruction) {
	a.mu.Lock()
	a.stopped = true
	rest = append(rest, a.queue...)
	a.queue = nil
	a.mu.Unlock()

	for _, inst := range rest {
		if inst.reply != nil {
			inst.reply <- result{err: ErrActorGone}
		}
	}

	for a.ins.Len() > 0 {
		var slot int
		var entry inEntry
		a.ins.Each(func(i int, e inEntry) bool {
			slot, entry = i, e
			return false
		})
		a.ins.Release(slot)
		a.closeIn(slot, entry)
	}
	for a.outs.Len() > 0 {
		var slot int
		var native NativeOut
		a.outs.Each(func(i int, n NativeOut) bool {
			slot, native = i, n
			return false
		})
		a.outs.Release(slot)
		a.closeOut(slot, native)
	}
	logf("port actor stopped")
}

// deliver is the driver callback. It runs on driver goroutines and only does a
// lock-free route lookup plus a non-blocking push.
func (a *Actor) deliver(tag int, n Notification) {
	if s := a.routes.get(tag); s != nil {
		s.push(n)
	}
}

// routeTable maps input slots to their streams for driver callbacks. Cells are
// allocated once and never move; the slice of cells is republished atomically
// when it grows. Only the actor goroutine writes.
type routeTable struct {
	cells atomic.Pointer[[]*routeCell]
}

type routeCell struct {
	s atomic.Pointer[stream]
}

func (t *routeTable) get(tag int) *stream {
	cells := t.cells.Load()
	if cells == nil || tag < 0 || tag >= len(*cells) {
		return nil
	}
	return (*cells)[tag].s.Load()
}

func (t *routeTable) set(slot int, s *stream) {
	cells := t.cells.Load()
	var cur []*routeCell
	if cells != nil {
		cur = *cells
	}
	if slot >= len(cur) {
		if s == nil {
			return
		}
		grown := make([]*routeCell, slot+1)
		copy(grown, cur)
		for i := len(cur); i < len(grown); i++ {
			grown[i] = &routeCell{}
		}
		t.cells.Store(&grown)
		cur = grown
	}
	cur[slot].s.Store(s)
}
