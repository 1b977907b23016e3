package router

import "github.com/banshee-data/padmux/internal/launchpad"

// MaxSessions is the number of pad positions a session can occupy.
const MaxSessions = 64

// Indicator is the function-row button that mirrors the selected session.
var Indicator = launchpad.Pos{Col: 0, Row: 0}

// IndexToPos returns the pad a session slot is shown on. Slots fill the matrix
// left to right, starting at the top row of pads.
func IndexToPos(i int) launchpad.Pos {
	return launchpad.Pos{Col: uint8(i % 8), Row: uint8(i/8 + 1)}
}

// PosToIndex is the inverse of IndexToPos. It reports false for positions
// outside the 8x8 pad matrix.
func PosToIndex(p launchpad.Pos) (int, bool) {
	if p.Row < 1 || p.Row > 8 || p.Col > 7 {
		return 0, false
	}
	return int(p.Col) + int(p.Row-1)*8, true
}
