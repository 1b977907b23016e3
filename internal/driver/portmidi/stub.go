//go:build !portmidi

package portmidi

import "github.com/banshee-data/padmux/internal/midi"

// Open reports ErrUnavailable.
func Open() (midi.Driver, func() error, error) {
	return nil, nil, ErrUnavailable
}
