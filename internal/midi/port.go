package midi

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// In is a client handle to an open input port.
type In struct {
	actor     *Actor
	slot      int
	stream    *stream
	closeOnce sync.Once
}

// Slot returns the actor slot backing the port.
func (in *In) Slot() int { return in.slot }

// Start begins delivery of notifications.
func (in *In) Start(ctx context.Context) error {
	_, err := in.actor.call(ctx, instruction{op: opInStart, slot: in.slot})
	return err
}

// Stop pauses delivery of notifications.
func (in *In) Stop(ctx context.Context) error {
	_, err := in.actor.call(ctx, instruction{op: opInStop, slot: in.slot})
	return err
}

// Reset stops input and returns pending driver buffers.
func (in *In) Reset(ctx context.Context) error {
	_, err := in.actor.call(ctx, instruction{op: opInReset, slot: in.slot})
	return err
}

// Next blocks until the next notification arrives. Once the port is closed and
// every queued notification has been read it returns ErrPortClosed.
func (in *In) Next(ctx context.Context) (Notification, error) {
	return in.stream.next(ctx)
}

// Notifications yields notifications until the port closes or ctx is done.
// The sequence can be ranged over again to resume where it stopped.
func (in *In) Notifications(ctx context.Context) iter.Seq[Notification] {
	return func(yield func(Notification) bool) {
		for {
			n, err := in.stream.next(ctx)
			if err != nil {
				if !errors.Is(err, ErrPortClosed) && ctx.Err() == nil {
					logf("input %d stream ended: %v", in.slot, err)
				}
				return
			}
			if !yield(n) {
				return
			}
		}
	}
}

// Close asks the actor to reset and close the port. It does not wait for the
// actor; the notification stream ends once the close has been processed.
func (in *In) Close() error {
	in.closeOnce.Do(func() {
		in.actor.post(instruction{op: opInClose, slot: in.slot})
	})
	return nil
}

// Out is a client handle to an open output port.
type Out struct {
	actor     *Actor
	slot      int
	closeOnce sync.Once
}

// Slot returns the actor slot backing the port.
func (o *Out) Slot() int { return o.slot }

// Send writes one short message and waits for the driver's answer.
func (o *Out) Send(ctx context.Context, status, data1, data2 byte) error {
	_, err := o.actor.call(ctx, instruction{
		op:   opOutSend,
		slot: o.slot,
		msg:  Pack(status, data1, data2),
	})
	return err
}

// Reset turns off all notes on the output.
func (o *Out) Reset(ctx context.Context) error {
	_, err := o.actor.call(ctx, instruction{op: opOutReset, slot: o.slot})
	return err
}

// Close asks the actor to reset and close the port without waiting for it.
func (o *Out) Close() error {
	o.closeOnce.Do(func() {
		o.actor.post(instruction{op: opOutClose, slot: o.slot})
	})
	return nil
}
