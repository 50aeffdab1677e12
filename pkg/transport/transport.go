// Package transport implements the uniform byte pipe over RFCOMM
// Bluetooth or a serial port that the session layer drives. A Transport
// never interprets the bytes it moves; framing, CRC and sample decoding
// live entirely in pkg/codec.
package transport

import (
	"time"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// Transport is the contract both backends implement. read_exact returns
// exactly n bytes or an error; deadline of zero means block indefinitely.
type Transport interface {
	WriteByte(b byte) error
	ReadExact(n int, deadline time.Duration) ([]byte, error)
	Close() error
}

// Open dials the backend implied by addr.Kind().
func Open(addr driver.DeviceAddress, baud int) (Transport, error) {
	switch addr.Kind() {
	case driver.TransportSerial:
		return openSerial(addr.String(), baud)
	case driver.TransportBluetooth:
		return openBluetooth(addr.String())
	default:
		return nil, driver.ErrInvalidAddress
	}
}
