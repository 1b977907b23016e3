//go:build portmidi

package portmidi

import (
	"fmt"
	"sync"
	"time"

	pm "github.com/rakyll/portmidi"

	"github.com/banshee-data/padmux/internal/midi"
	"github.com/banshee-data/padmux/internal/monitoring"
)

var logf = monitoring.Component("portmidi")

const (
	bufferSize = 1024
	readBatch  = 64

	// pollInterval is how often a started input checks for new events.
	pollInterval = time.Millisecond
)

// Driver enumerates and opens PortMidi devices.
type Driver struct{}

// Open initializes PortMidi. The returned function terminates it and must be
// called after every port is closed.
func Open() (midi.Driver, func() error, error) {
	if err := pm.Initialize(); err != nil {
		return nil, nil, fmt.Errorf("portmidi init: %w", err)
	}
	return Driver{}, pm.Terminate, nil
}

func list(input bool) []midi.Caps {
	var caps []midi.Caps
	for i := 0; i < pm.CountDevices(); i++ {
		info := pm.Info(pm.DeviceID(i))
		if info == nil {
			continue
		}
		if (input && info.IsInputAvailable) || (!input && info.IsOutputAvailable) {
			caps = append(caps, midi.Caps{ID: i, Name: info.Name})
		}
	}
	return caps
}

func (Driver) Ins() ([]midi.Caps, error)  { return list(true), nil }
func (Driver) Outs() ([]midi.Caps, error) { return list(false), nil }

func (Driver) OpenIn(id int, cb midi.Callback, tag int) (midi.NativeIn, error) {
	s, err := pm.NewInputStream(pm.DeviceID(id), bufferSize)
	if err != nil {
		return nil, err
	}
	return &input{stream: s, cb: cb, tag: tag}, nil
}

func (Driver) OpenOut(id int) (midi.NativeOut, error) {
	s, err := pm.NewOutputStream(pm.DeviceID(id), bufferSize, 0)
	if err != nil {
		return nil, err
	}
	return &output{stream: s}, nil
}

// input polls its stream from a goroutine while started. PortMidi has no
// callback API of its own.
type input struct {
	stream *pm.Stream
	cb     midi.Callback
	tag    int

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

func (in *input) Start() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.stop != nil {
		return nil
	}
	in.stop, in.done = make(chan struct{}), make(chan struct{})
	go in.poll(in.stop, in.done)
	return nil
}

func (in *input) poll(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		events, err := in.stream.Read(readBatch)
		if err != nil {
			logf("read: %v", err)
			continue
		}
		for _, ev := range events {
			in.cb(in.tag, midi.Notification{
				Kind:    midi.KindData,
				Message: midi.Pack(byte(ev.Status), byte(ev.Data1), byte(ev.Data2)),
				Millis:  uint32(ev.Timestamp),
			})
		}
	}
}

func (in *input) Stop() error {
	in.mu.Lock()
	stop, done := in.stop, in.done
	in.stop, in.done = nil, nil
	in.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	return nil
}

func (in *input) Reset() error { return in.Stop() }

func (in *input) Close() error {
	in.Stop()
	return in.stream.Close()
}

type output struct {
	stream *pm.Stream
}

func (o *output) Send(msg midi.ShortMessage) error {
	return o.stream.WriteShort(int64(msg.Status()), int64(msg.Data1()), int64(msg.Data2()))
}

// Reset sends All Notes Off on every channel.
func (o *output) Reset() error {
	for ch := int64(0); ch < 16; ch++ {
		if err := o.stream.WriteShort(0xB0|ch, 0x7B, 0); err != nil {
			return err
		}
	}
	return nil
}

func (o *output) Close() error { return o.stream.Close() }
