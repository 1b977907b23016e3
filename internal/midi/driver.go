// Package midi owns the hardware side of the multiplexer: a single actor
// goroutine that is the only caller into a callback-driven MIDI driver, and the
// lightweight In/Out handles that talk to it.
package midi

import "fmt"

// Kind is the driver notification code delivered with every callback.
type Kind uint32

// Notification kinds, numbered as the native multimedia driver numbers them.
const (
	KindOpen      Kind = 0x3C1
	KindClose     Kind = 0x3C2
	KindData      Kind = 0x3C3
	KindLongData  Kind = 0x3C4
	KindError     Kind = 0x3C5
	KindLongError Kind = 0x3C6
	KindMoreData  Kind = 0x3CC
)

func (k Kind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindData:
		return "data"
	case KindLongData:
		return "long-data"
	case KindError:
		return "error"
	case KindLongError:
		return "long-error"
	case KindMoreData:
		return "more-data"
	}
	return fmt.Sprintf("kind(%#x)", uint32(k))
}

// ShortMessage is a packed three byte MIDI message: status in the low byte,
// then data1 and data2.
type ShortMessage uint32

// Pack builds a ShortMessage from its three bytes.
func Pack(status, data1, data2 byte) ShortMessage {
	return ShortMessage(uint32(status) | uint32(data1)<<8 | uint32(data2)<<16)
}

func (m ShortMessage) Status() byte { return byte(m) }
func (m ShortMessage) Data1() byte  { return byte(m >> 8) }
func (m ShortMessage) Data2() byte  { return byte(m >> 16) }

// Bytes returns status, data1 and data2.
func (m ShortMessage) Bytes() [3]byte {
	return [3]byte{m.Status(), m.Data1(), m.Data2()}
}

func (m ShortMessage) String() string {
	return fmt.Sprintf("%02X %02X %02X", m.Status(), m.Data1(), m.Data2())
}

// Notification is one inbound driver event.
type Notification struct {
	Kind    Kind
	Message ShortMessage
	// Millis is the driver timestamp, relative to when the port was started.
	Millis uint32
}

// Callback receives notifications on a goroutine the driver owns. tag is the
// value passed to OpenIn. Callbacks must not block.
type Callback func(tag int, n Notification)

// Caps describes one port as reported by driver enumeration.
type Caps struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	VendorID      uint16 `json:"vendor_id"`
	ProductID     uint16 `json:"product_id"`
	DriverVersion uint32 `json:"driver_version"`
}

// Matches reports whether an input and an output capability record describe
// the same physical device.
func (c Caps) Matches(other Caps) bool {
	return c.DriverVersion == other.DriverVersion &&
		c.VendorID == other.VendorID &&
		c.Name == other.Name &&
		c.ProductID == other.ProductID
}

// NativeIn is a driver-level input port handle.
type NativeIn interface {
	Start() error
	Stop() error
	Reset() error
	Close() error
}

// NativeOut is a driver-level output port handle.
type NativeOut interface {
	Reset() error
	Send(msg ShortMessage) error
	Close() error
}

// Driver is the hardware driver subsystem. Every method is treated as a
// fallible primitive; the Actor guarantees they are only ever called from its
// own goroutine. Callbacks passed to OpenIn may fire on any goroutine, including
// during OpenIn itself.
type Driver interface {
	Ins() ([]Caps, error)
	Outs() ([]Caps, error)
	OpenIn(id int, cb Callback, tag int) (NativeIn, error)
	OpenOut(id int) (NativeOut, error)
}
