package transport

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// serialTransport backs a virtual-COM-port connection at 115200 baud.
// Reads and writes are serialized with a mutex the same way the
// teacher's USOCK guards port access, since go.bug.st/serial.Port is not
// documented as safe for concurrent Read/Write/Close.
type serialTransport struct {
	mu     sync.Mutex
	port   serial.Port
	closed bool
}

func openSerial(path string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return &serialTransport{port: port}, nil
}

func (t *serialTransport) WriteByte(b byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("write to closed serial port: %w", driver.ErrContactingDevice)
	}
	if _, err := t.port.Write([]byte{b}); err != nil {
		return fmt.Errorf("serial write: %w", driver.ErrContactingDevice)
	}
	return nil
}

func (t *serialTransport) ReadExact(n int, deadline time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, fmt.Errorf("read from closed serial port: %w", driver.ErrContactingDevice)
	}
	if deadline > 0 {
		if err := t.port.SetReadTimeout(deadline); err != nil {
			return nil, fmt.Errorf("set serial read timeout: %w", err)
		}
		defer t.port.SetReadTimeout(serial.NoTimeout)
	}

	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := t.port.Read(buf[read:])
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("serial port closed: %w", driver.ErrContactingDevice)
			}
			return nil, fmt.Errorf("serial read: %w", driver.ErrContactingDevice)
		}
		if m == 0 {
			// go.bug.st/serial returns (0, nil) when a configured
			// read timeout elapses without data.
			return nil, fmt.Errorf("read timed out waiting for %d bytes: %w", n, driver.ErrContactingDevice)
		}
		read += m
	}
	return buf, nil
}

func (t *serialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.port.Close()
}
