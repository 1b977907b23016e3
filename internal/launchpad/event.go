// Package launchpad speaks the Novation Launchpad's MIDI dialect: decoding pad
// and top-row presses, and addressing its LEDs.
package launchpad

import (
	"fmt"

	"github.com/banshee-data/padmux/internal/midi"
)

// Grid geometry. Row 0 is the top function row; rows 1-8 are the pad matrix.
// Column 8 holds the round scene buttons on the right.
const (
	Columns = 9
	Rows    = 9

	padColumns = 8
)

const (
	statusNoteOn        = 0x90
	statusControlChange = 0xB0

	topRowBase = 0x68

	velocityDown = 0x7F
	velocityUp   = 0x00
)

// Pos is a (column, row) grid coordinate.
type Pos struct {
	Col uint8
	Row uint8
}

func (p Pos) String() string { return fmt.Sprintf("(%d, %d)", p.Col, p.Row) }

// Valid reports whether p addresses a cell of the 9x9 grid.
func (p Pos) Valid() bool { return p.Col < Columns && p.Row < Rows }

// EventType distinguishes presses from releases.
type EventType uint8

const (
	Press EventType = iota + 1
	Release
)

func (t EventType) String() string {
	switch t {
	case Press:
		return "press"
	case Release:
		return "release"
	}
	return "unknown"
}

// Event is one decoded button transition.
type Event struct {
	Type EventType
	Pos  Pos
}

func (e Event) String() string { return e.Type.String() + " " + e.Pos.String() }

// Decode translates a raw input notification into a grid event. Notifications
// that are not a recognized pad or top-row transition report false.
func Decode(n midi.Notification) (Event, bool) {
	if n.Kind != midi.KindData {
		return Event{}, false
	}
	msg := n.Message

	var typ EventType
	switch msg.Data2() {
	case velocityDown:
		typ = Press
	case velocityUp:
		typ = Release
	default:
		return Event{}, false
	}

	switch msg.Status() {
	case statusNoteOn:
		key := msg.Data1()
		col, row := key&0x0F, key/16+1
		if col >= Columns || row >= Rows {
			return Event{}, false
		}
		return Event{Type: typ, Pos: Pos{Col: col, Row: row}}, true

	case statusControlChange:
		cc := msg.Data1()
		if cc < topRowBase || cc >= topRowBase+padColumns {
			return Event{}, false
		}
		return Event{Type: typ, Pos: Pos{Col: cc - topRowBase, Row: 0}}, true
	}
	return Event{}, false
}
