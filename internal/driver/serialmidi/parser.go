package serialmidi

import "github.com/banshee-data/padmux/internal/midi"

// parser assembles short messages from a raw MIDI byte stream. It honours
// running status, passes realtime bytes through wherever they appear and skips
// system exclusive payloads.
type parser struct {
	status byte
	data   [2]byte
	n      int
	sysex  bool
}

// dataLen returns how many data bytes follow status.
func dataLen(status byte) int {
	switch {
	case status >= 0xF8:
		return 0
	case status == 0xF1, status == 0xF3:
		return 1
	case status == 0xF2:
		return 2
	case status >= 0xF4:
		return 0
	case status&0xF0 == 0xC0, status&0xF0 == 0xD0:
		return 1
	}
	return 2
}

// feed consumes one byte and reports a completed message.
func (p *parser) feed(b byte) (midi.ShortMessage, bool) {
	switch {
	case b >= 0xF8:
		return midi.Pack(b, 0, 0), true

	case b == 0xF0:
		p.sysex, p.status, p.n = true, 0, 0
		return 0, false

	case b == 0xF7:
		p.sysex = false
		return 0, false

	case b >= 0x80:
		p.sysex = false
		p.status, p.n = b, 0
		if dataLen(b) == 0 {
			p.status = 0
			return midi.Pack(b, 0, 0), true
		}
		return 0, false
	}

	if p.sysex || p.status == 0 {
		return 0, false
	}
	p.data[p.n] = b
	p.n++
	if p.n < dataLen(p.status) {
		return 0, false
	}

	msg := midi.Pack(p.status, p.data[0], p.data[1])
	p.n, p.data = 0, [2]byte{}
	if p.status >= 0xF0 {
		// System common messages cancel running status.
		p.status = 0
	}
	return msg, true
}

// encode returns the wire bytes of msg, dropping unused data bytes.
func encode(msg midi.ShortMessage) []byte {
	b := msg.Bytes()
	return b[:1+dataLen(b[0])]
}
