package launchpad

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/banshee-data/padmux/internal/midi"
)

// DefaultPattern is the port name substring that identifies a Launchpad.
const DefaultPattern = "Launchpad"

// ErrNotFound is returned when no matching input/output pair exists.
var ErrNotFound = errors.New("launchpad: no device found")

// Enumerator lists ports. *midi.Actor implements it.
type Enumerator interface {
	Ins(ctx context.Context) ([]midi.Caps, error)
	Outs(ctx context.Context) ([]midi.Caps, error)
}

// Device is a paired input and output port of one physical Launchpad.
type Device struct {
	In  midi.Caps
	Out midi.Caps
}

// Name returns the port name shared by both halves.
func (d Device) Name() string { return d.In.Name }

// Find returns every device whose input name contains pattern and which has a
// matching output port.
func Find(ctx context.Context, e Enumerator, pattern string) ([]Device, error) {
	ins, err := e.Ins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inputs: %w", err)
	}
	outs, err := e.Outs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	var found []Device
	for _, in := range ins {
		if !strings.Contains(in.Name, pattern) {
			continue
		}
		for _, out := range outs {
			if in.Matches(out) {
				found = append(found, Device{In: in, Out: out})
				break
			}
		}
	}
	return found, nil
}

// FindFirst is Find returning the first match or ErrNotFound.
func FindFirst(ctx context.Context, e Enumerator, pattern string) (Device, error) {
	found, err := Find(ctx, e, pattern)
	if err != nil {
		return Device{}, err
	}
	if len(found) == 0 {
		return Device{}, fmt.Errorf("%w matching %q", ErrNotFound, pattern)
	}
	return found[0], nil
}

// Open opens both ports through the actor and starts the input.
func (d Device) Open(ctx context.Context, a *midi.Actor) (*midi.In, *midi.Out, error) {
	in, err := a.OpenIn(ctx, d.In.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("open input %q: %w", d.In.Name, err)
	}
	if err := in.Start(ctx); err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("start input %q: %w", d.In.Name, err)
	}
	out, err := a.OpenOut(ctx, d.Out.ID)
	if err != nil {
		in.Close()
		return nil, nil, fmt.Errorf("open output %q: %w", d.Out.Name, err)
	}
	return in, out, nil
}

// Events decodes grid events from in until the port closes or ctx is done.
func Events(ctx context.Context, in *midi.In) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		for n := range in.Notifications(ctx) {
			ev, ok := Decode(n)
			if !ok {
				continue
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}
