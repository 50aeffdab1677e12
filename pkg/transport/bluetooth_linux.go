//go:build linux

package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// rfcommChannel is the BITalino's well-known serial profile channel on
// its Bluetooth RFCOMM endpoint.
const rfcommChannel = 1

// bluetoothTransport is a raw AF_BLUETOOTH/BTPROTO_RFCOMM socket. Unlike
// the serial backend, nothing in the standard library or the driver's
// own serial dependency speaks RFCOMM, so the socket is opened directly
// through golang.org/x/sys/unix, the same package the rest of the
// example pack already pulls in for low-level OS access.
type bluetoothTransport struct {
	mu     sync.Mutex
	fd     int
	closed bool
}

func openBluetooth(mac string) (Transport, error) {
	addr, err := parseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", mac, driver.ErrInvalidAddress)
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, fmt.Errorf("open bluetooth socket: %w", driver.ErrImportFailed)
	}

	sa := &unix.SockaddrRFCOMM{Addr: addr, Channel: rfcommChannel}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rfcomm connect to %s: %w", mac, driver.ErrContactingDevice)
	}

	return &bluetoothTransport{fd: fd}, nil
}

// parseMAC turns "AA:BB:CC:DD:EE:FF" (or hyphen-separated) into the
// little-endian byte order unix.SockaddrRFCOMM.Addr expects.
func parseMAC(mac string) ([6]uint8, error) {
	var addr [6]uint8
	octets := strings.FieldsFunc(mac, func(r rune) bool { return r == ':' || r == '-' })
	if len(octets) != 6 {
		return addr, fmt.Errorf("malformed mac address %q", mac)
	}
	for i := 5; i >= 0; i-- {
		var b byte
		if _, err := fmt.Sscanf(octets[5-i], "%02x", &b); err != nil {
			return addr, fmt.Errorf("malformed mac octet %q: %w", octets[5-i], err)
		}
		addr[i] = b
	}
	return addr, nil
}

func (t *bluetoothTransport) WriteByte(b byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("write to closed bluetooth socket: %w", driver.ErrContactingDevice)
	}
	if _, err := unix.Write(t.fd, []byte{b}); err != nil {
		return fmt.Errorf("rfcomm write: %w", driver.ErrContactingDevice)
	}
	return nil
}

func (t *bluetoothTransport) ReadExact(n int, deadline time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("read from closed bluetooth socket: %w", driver.ErrContactingDevice)
	}

	if err := setReadTimeout(t.fd, deadline); err != nil {
		return nil, fmt.Errorf("set rfcomm read timeout: %w", err)
	}
	if deadline > 0 {
		defer setReadTimeout(t.fd, 0)
	}

	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := unix.Read(t.fd, buf[read:])
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil, fmt.Errorf("read timed out waiting for %d bytes: %w", n, driver.ErrContactingDevice)
			}
			return nil, fmt.Errorf("rfcomm read: %w", driver.ErrContactingDevice)
		}
		if m == 0 {
			return nil, fmt.Errorf("bluetooth peer closed connection: %w", driver.ErrContactingDevice)
		}
		read += m
	}
	return buf, nil
}

func setReadTimeout(fd int, d time.Duration) error {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func (t *bluetoothTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}
