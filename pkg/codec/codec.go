// Package codec implements the pure, stateless half of the wire
// protocol: outbound command encoding, inbound frame sizing, the 4-bit
// CRC, and sample/state-frame unpacking. Nothing here touches a
// Transport or blocks; the Session owns sequencing and I/O.
package codec

import (
	"fmt"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// Rate is one of the four sampling frequencies the device accepts,
// encoded as its 2-bit wire code.
type Rate byte

const (
	Rate1Hz    Rate = 0
	Rate10Hz   Rate = 1
	Rate100Hz  Rate = 2
	Rate1000Hz Rate = 3
)

// RateCode maps a requested Hz value to its 2-bit wire code.
func RateCode(hz int) (Rate, error) {
	switch hz {
	case 1:
		return Rate1Hz, nil
	case 10:
		return Rate10Hz, nil
	case 100:
		return Rate100Hz, nil
	case 1000:
		return Rate1000Hz, nil
	default:
		return 0, fmt.Errorf("sampling rate %d: %w", hz, driver.ErrInvalidParameter)
	}
}

// Sample is one decoded frame: a sequence nibble, the four digital
// lines in (I1, I2, O1, O2) order, and the requested analog channels
// in canonical (ascending) order.
type Sample struct {
	Seq     uint8
	Digital [4]uint8
	Analog  []uint16
}

// --- Command encoding (§4.1.1) -------------------------------------------

// SetRateAndArm encodes "RR 0 0 0 0 1 1".
func SetRateAndArm(r Rate) byte {
	return byte(r)<<6 | 0x03
}

// StartAcquisition encodes "A6 A5 A4 A3 A2 A1 0 1" for the given
// canonical (sorted, deduplicated) channel mask: Ai is set iff channel
// i-1 is in mask.
func StartAcquisition(mask []int) byte {
	cmd := byte(1)
	for _, ch := range mask {
		cmd |= 1 << uint(2+ch)
	}
	return cmd
}

// StopV1 encodes "0000 0000".
func StopV1() byte { return 0x00 }

// IdleV2 encodes "1111 1111".
func IdleV2() byte { return 0xFF }

// QueryVersion encodes "0000 0111".
func QueryVersion() byte { return 0x07 }

// BatteryThreshold encodes "VVVVVV 0 0" for a threshold in [0,63].
func BatteryThreshold(v int) (byte, error) {
	if v < 0 || v > 63 {
		return 0, fmt.Errorf("battery threshold %d: %w", v, driver.ErrInvalidParameter)
	}
	return byte(v) << 2, nil
}

// DigitalV1 encodes "1 0 O4 O3 O2 O1 1 1" for the four v1 digital
// outputs, legal only while Acquiring.
func DigitalV1(outs [4]int) (byte, error) {
	cmd := byte(0x83)
	for i, v := range outs {
		b, err := bit(v)
		if err != nil {
			return 0, err
		}
		cmd |= b << uint(2+i)
	}
	return cmd, nil
}

// DigitalV2 encodes "1 0 1 1 O2 O1 1 1" for the two v2 digital outputs.
func DigitalV2(outs [2]int) (byte, error) {
	cmd := byte(179)
	for i, v := range outs {
		b, err := bit(v)
		if err != nil {
			return 0, err
		}
		cmd |= b << uint(2+i)
	}
	return cmd, nil
}

// QueryStateV2 encodes "0000 1011".
func QueryStateV2() byte { return 0x0B }

// PWM encodes the two-byte "1010 0011" + value command.
func PWM(value int) ([2]byte, error) {
	if value < 0 || value > 255 {
		return [2]byte{}, fmt.Errorf("pwm value %d: %w", value, driver.ErrInvalidParameter)
	}
	return [2]byte{0xA3, byte(value)}, nil
}

func bit(v int) (byte, error) {
	if v != 0 && v != 1 {
		return 0, fmt.Errorf("digital output value %d: %w", v, driver.ErrInvalidParameter)
	}
	return byte(v), nil
}

// CanonicalMask dedupes and sorts a requested channel selection,
// rejecting anything outside {0..5} or an empty/oversized result.
func CanonicalMask(channels []int) ([]int, error) {
	seen := make(map[int]bool, len(channels))
	for _, c := range channels {
		if c < 0 || c > 5 {
			return nil, fmt.Errorf("channel %d out of range [0,5]: %w", c, driver.ErrInvalidParameter)
		}
		seen[c] = true
	}
	if len(seen) == 0 || len(seen) > 6 {
		return nil, fmt.Errorf("channel mask of size %d: %w", len(seen), driver.ErrInvalidParameter)
	}
	out := make([]int, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sortInts(out)
	return out, nil
}

func sortInts(s []int) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// --- Frame sizing (§4.1.2) -----------------------------------------------

// FrameSize returns the number of bytes one sample frame occupies for
// n active analog channels.
func FrameSize(n int) int {
	if n <= 4 {
		return ceilDiv(12+10*n, 8)
	}
	return ceilDiv(52+6*(n-4), 8)
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }

// --- CRC (§4.1.3) ---------------------------------------------------------

// VerifyCRC checks the 4-bit CRC carried in the low nibble of the last
// byte of frame, per the bit-exact CRC-4/poly-0x3 algorithm.
func VerifyCRC(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	want := frame[len(frame)-1] & 0x0F
	return computeCRC(frame) == want
}

func computeCRC(frame []byte) byte {
	last := frame[len(frame)-1] & 0xF0
	var x byte
	for i, b := range frame {
		if i == len(frame)-1 {
			b = last
		}
		for bit := 7; bit >= 0; bit-- {
			x = x << 1
			if x&0x10 != 0 {
				x ^= 0x03
			}
			x ^= (b >> uint(bit)) & 0x01
		}
	}
	return x & 0x0F
}

// --- Sample unpacking (§4.1.4) --------------------------------------------

// Unpack decodes one frame into a Sample. n is the number of active
// analog channels (len of the canonical mask). The device packs analog
// values positionally, so Analog[i] belongs to the i-th channel of the
// canonical (ascending) mask; no reordering is needed afterwards.
func Unpack(frame []byte, n int) (Sample, error) {
	want := FrameSize(n)
	if len(frame) != want {
		return Sample{}, fmt.Errorf("frame length %d does not match expected %d for %d channels", len(frame), want, n)
	}

	at := func(fromEnd int) byte { return frame[len(frame)-fromEnd] }

	s := Sample{
		Seq: at(1) >> 4,
	}
	s.Digital[0] = (at(2) >> 7) & 1
	s.Digital[1] = (at(2) >> 6) & 1
	s.Digital[2] = (at(2) >> 5) & 1
	s.Digital[3] = (at(2) >> 4) & 1

	s.Analog = make([]uint16, n)
	if n >= 1 {
		s.Analog[0] = uint16(at(2)&0x0F)<<6 | uint16(at(3)>>2)
	}
	if n >= 2 {
		s.Analog[1] = uint16(at(3)&0x03)<<8 | uint16(at(4))
	}
	if n >= 3 {
		s.Analog[2] = uint16(at(5))<<2 | uint16(at(6)>>6)
	}
	if n >= 4 {
		s.Analog[3] = uint16(at(6)&0x3F)<<4 | uint16(at(7)>>4)
	}
	if n >= 5 {
		s.Analog[4] = uint16(at(7)&0x0F)<<2 | uint16(at(8)>>6)
	}
	if n >= 6 {
		s.Analog[5] = uint16(at(8) & 0x3F)
	}
	return s, nil
}

// --- v2 state frame (§4.1.5) ----------------------------------------------

// DeviceStateV2 is the v2-only full-channel snapshot returned by
// Session.State.
type DeviceStateV2 struct {
	Analog            [6]uint16
	Battery           uint16
	BatteryThreshold  uint8
	Digital           [4]uint8
}

const stateFrameSize = 16

// UnpackState decodes the 16-byte v2 state frame.
func UnpackState(frame []byte) (DeviceStateV2, error) {
	if len(frame) != stateFrameSize {
		return DeviceStateV2{}, fmt.Errorf("state frame length %d does not match expected %d", len(frame), stateFrameSize)
	}

	at := func(fromEnd int) byte { return frame[len(frame)-fromEnd] }

	var st DeviceStateV2
	st.Digital[0] = (at(1) >> 7) & 1
	st.Digital[1] = (at(1) >> 6) & 1
	st.Digital[2] = (at(1) >> 5) & 1
	st.Digital[3] = (at(1) >> 4) & 1

	st.BatteryThreshold = at(2) & 0x3F
	st.Battery = (uint16(at(3))<<8 | uint16(at(4))) & 0x3FF

	pairs := [6][2]int{
		{5, 6},   // A6
		{7, 8},   // A5
		{9, 10},  // A4
		{11, 12}, // A3
		{13, 14}, // A2
		{15, 16}, // A1
	}
	for i, p := range pairs {
		hi, lo := at(p[0]), at(p[1])
		val := (uint16(hi)<<8 | uint16(lo)) & 0x3FF
		st.Analog[5-i] = val
	}
	return st, nil
}
