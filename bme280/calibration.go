package bme280

import (
	"github.com/pkg/errors"
)

// Calibration block sizes, see datasheet section 4.2.2.
const (
	calTPSize = 24 // 0x88 through 0x9F
	calH1Size = 1  // 0xA1
	calHSize  = 7  // 0xE1 through 0xE7
)

// ErrCalibrationLength is returned when a calibration block does not have the
// size read from the device.
var ErrCalibrationLength = errors.New("bme280: unexpected calibration block length")

// Calibration holds the factory trimming parameters of one sensor.
//
// It is read once per session and never modified afterwards.
type Calibration struct {
	T1     uint16
	T2, T3 int16

	P1                             uint16
	P2, P3, P4, P5, P6, P7, P8, P9 int16

	H1, H3 uint8
	H2     int16
	H4, H5 int16 // 12 bits, sign extended
	H6     int8
}

func unsigned16(b []byte, i int) uint16 {
	return uint16(b[i]) | uint16(b[i+1])<<8
}

func signed16(b []byte, i int) int16 {
	return int16(unsigned16(b, i))
}

func unsigned8(b []byte, i int) uint8 {
	return b[i] & 0xFF
}

func signed8(b []byte, i int) int8 {
	return int8(b[i])
}

// signed12 places hi in the top byte of a 32 bit word and shifts it back down
// by 20, leaving it as the sign extended upper 8 bits of a 12 bit value. lo is
// OR'ed into the low nibble.
func signed12(hi int8, lo int32) int16 {
	v := int32(hi) << 24 >> 20
	return int16(v | lo)
}

// DecodeCalibration parses the three calibration blocks.
//
// tp covers 0x88 through 0x9F, h1 is 0xA1 and h covers 0xE1 through 0xE7.
func DecodeCalibration(tp, h1, h []byte) (c Calibration, err error) {
	for i, blk := range []struct {
		b    []byte
		want int
	}{{tp, calTPSize}, {h1, calH1Size}, {h, calHSize}} {
		if len(blk.b) != blk.want {
			return c, errors.Wrapf(ErrCalibrationLength, "block %d is %d bytes, want %d", i+1, len(blk.b), blk.want)
		}
	}

	c.T1 = unsigned16(tp, 0)
	c.T2 = signed16(tp, 2)
	c.T3 = signed16(tp, 4)

	c.P1 = unsigned16(tp, 6)
	c.P2 = signed16(tp, 8)
	c.P3 = signed16(tp, 10)
	c.P4 = signed16(tp, 12)
	c.P5 = signed16(tp, 14)
	c.P6 = signed16(tp, 16)
	c.P7 = signed16(tp, 18)
	c.P8 = signed16(tp, 20)
	c.P9 = signed16(tp, 22)

	c.H1 = unsigned8(h1, 0)
	c.H2 = signed16(h, 0)
	c.H3 = unsigned8(h, 2)
	// 0xE5 is shared: low nibble belongs to H4, high nibble to H5.
	c.H4 = signed12(signed8(h, 3), int32(signed8(h, 4))&0x0F)
	c.H5 = signed12(signed8(h, 5), int32(unsigned8(h, 4)>>4)&0x0F)
	c.H6 = signed8(h, 6)

	return c, nil
}
