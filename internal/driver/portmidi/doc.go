// Package portmidi exposes PortMidi devices as a midi.Driver. PortMidi needs
// cgo and the native library, so the backend is only compiled with the
// portmidi build tag; without it Open reports ErrUnavailable.
package portmidi

import "errors"

// ErrUnavailable is returned by Open in builds without the portmidi tag.
var ErrUnavailable = errors.New("portmidi: not compiled in (build with -tags portmidi)")
