package launchpad

import "fmt"

// Color is a Launchpad LED value: red intensity (0-3) in bits 0-1 and green
// intensity (0-3) in bits 4-5.
type Color uint8

const (
	Black  Color = 0x00
	Green  Color = 0x30
	Red    Color = 0x03
	Yellow Color = 0x33
	Orange Color = 0x13
)

const colorMask = 0x33

// RGB builds a Color from red and green intensities, clamped to 0-3.
func RGB(red, green uint8) Color {
	return Color(min(red, 3) | min(green, 3)<<4)
}

// Red returns the red intensity.
func (c Color) Red() uint8 { return uint8(c) & 0x03 }

// Green returns the green intensity.
func (c Color) Green() uint8 { return uint8(c) >> 4 & 0x03 }

// Byte returns the velocity byte sent to the device.
func (c Color) Byte() byte { return byte(c) & colorMask }

// Brighten multiplies both intensities by factor, saturating at full.
func (c Color) Brighten(factor uint8) Color {
	return RGB(c.Red()*factor, c.Green()*factor)
}

// Dim divides both intensities by factor. Hue is kept: a channel that was off
// stays off.
func (c Color) Dim(factor uint8) Color {
	if factor == 0 {
		return c
	}
	return RGB(c.Red()/factor, c.Green()/factor)
}

func (c Color) String() string {
	switch c {
	case Black:
		return "black"
	case Green:
		return "green"
	case Red:
		return "red"
	case Yellow:
		return "yellow"
	case Orange:
		return "orange"
	}
	return fmt.Sprintf("r%dg%d", c.Red(), c.Green())
}
