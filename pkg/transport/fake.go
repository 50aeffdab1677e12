package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
)

// Fake is a scripted Transport for exercising the session and streamer
// layers without real hardware. WriteLog records every byte written;
// ReadQueue is drained by ReadExact in FIFO order, one frame per call.
type Fake struct {
	mu        sync.Mutex
	WriteLog  []byte
	ReadQueue [][]byte
	closed    bool

	// ReadErr, if set, is returned by the next ReadExact call instead
	// of consuming the queue; it is cleared after firing once.
	ReadErr error
}

// NewFake returns an empty scripted transport.
func NewFake() *Fake { return &Fake{} }

// QueueVersion arranges for the next "BITalino..." handshake read loop
// to receive s one byte at a time, as the real device would stream it.
func (f *Fake) QueueVersion(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < len(s); i++ {
		f.ReadQueue = append(f.ReadQueue, []byte{s[i]})
	}
}

// QueueFrame enqueues a complete frame to be returned by the next
// ReadExact(len(frame), ...) call.
func (f *Fake) QueueFrame(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ReadQueue = append(f.ReadQueue, frame)
}

func (f *Fake) WriteByte(b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("write to closed fake transport: %w", driver.ErrContactingDevice)
	}
	f.WriteLog = append(f.WriteLog, b)
	return nil
}

func (f *Fake) ReadExact(n int, deadline time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, fmt.Errorf("read from closed fake transport: %w", driver.ErrContactingDevice)
	}
	if f.ReadErr != nil {
		err := f.ReadErr
		f.ReadErr = nil
		return nil, err
	}
	if len(f.ReadQueue) == 0 {
		return nil, fmt.Errorf("fake transport exhausted waiting for %d bytes: %w", n, driver.ErrContactingDevice)
	}
	next := f.ReadQueue[0]
	f.ReadQueue = f.ReadQueue[1:]
	if len(next) != n {
		return nil, fmt.Errorf("fake transport: scripted frame length %d does not match requested %d", len(next), n)
	}
	out := make([]byte, len(next))
	copy(out, next)
	return out, nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
