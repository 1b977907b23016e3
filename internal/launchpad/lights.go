package launchpad

import (
	"context"
	"errors"
	"fmt"

	gomidi "gitlab.com/gomidi/midi/v2"
)

// ErrOutOfRange is returned for coordinates outside the grid.
var ErrOutOfRange = errors.New("launchpad: position out of range")

// Sender writes one short MIDI message. *midi.Out implements it.
type Sender interface {
	Send(ctx context.Context, status, data1, data2 byte) error
}

// Lights is the authoritative copy of what the grid currently shows. Set is the
// only way to change a light: it writes to the device first and records the new
// color only once the write succeeded. Lights is not safe for concurrent use.
type Lights struct {
	out   Sender
	cells [Columns * Rows]Color
}

// NewLights returns a light buffer that assumes every LED starts off.
func NewLights(out Sender) *Lights {
	return &Lights{out: out}
}

func index(p Pos) int { return int(p.Row)*Columns + int(p.Col) }

// message returns the MIDI message lighting p with c, or nil for the corner
// cell that has no LED.
func message(p Pos, c Color) (gomidi.Message, error) {
	switch {
	case p.Row == 0 && p.Col < padColumns:
		return gomidi.ControlChange(0, topRowBase+p.Col, c.Byte()), nil
	case p.Row == 0 && p.Col == padColumns:
		return nil, nil
	case p.Valid():
		return gomidi.NoteOn(0, (p.Row-1)*16+p.Col, c.Byte()), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrOutOfRange, p)
}

// Set lights p with c.
func (l *Lights) Set(ctx context.Context, p Pos, c Color) error {
	msg, err := message(p, c)
	if err != nil {
		return err
	}
	if len(msg) == 0 {
		return nil
	}
	if err := l.out.Send(ctx, msg[0], msg[1], msg[2]); err != nil {
		return fmt.Errorf("set %s to %s: %w", p, c, err)
	}
	l.cells[index(p)] = c
	return nil
}

// Get returns the color p currently shows. Positions off the grid are black.
func (l *Lights) Get(p Pos) Color {
	if !p.Valid() {
		return Black
	}
	return l.cells[index(p)]
}

// Clear turns every LED off with the device's reset message.
func (l *Lights) Clear(ctx context.Context) error {
	msg := gomidi.ControlChange(0, 0, 0)
	if err := l.out.Send(ctx, msg[0], msg[1], msg[2]); err != nil {
		return fmt.Errorf("clear grid: %w", err)
	}
	l.cells = [Columns * Rows]Color{}
	return nil
}

// Snapshot returns a copy of every cell, row-major from the top row.
func (l *Lights) Snapshot() [Rows][Columns]Color {
	var grid [Rows][Columns]Color
	for r := range grid {
		for c := range grid[r] {
			grid[r][c] = l.cells[r*Columns+c]
		}
	}
	return grid
}
