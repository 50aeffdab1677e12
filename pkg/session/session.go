// Package session implements the BITalino command/response state
// machine of spec.md §4.3: connect, query version, arm and start
// acquisition, read sample batches, trigger digital outputs, query the
// v2 state snapshot, stop, and close. It owns the Transport and drives
// the pure functions in pkg/codec.
package session

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biosignal/bitalino-bridge/pkg/codec"
	"github.com/biosignal/bitalino-bridge/pkg/driver"
	"github.com/biosignal/bitalino-bridge/pkg/transport"
)

// State is the session's lifecycle position (spec.md §3).
type State int

const (
	Disconnected State = iota
	Idle
	Acquiring
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	default:
		return "unknown"
	}
}

// defaultCommandPacing is the mandatory gap between any two bytes
// written to the device (§4.1.1).
const defaultCommandPacing = 100 * time.Millisecond

// Batch is a fixed-count, ordered group of samples: row 0 of each
// sample is the sequence number, rows 1..4 are the digital channels,
// and the remainder are the analog channels in canonical mask order.
// Width is always 5+len(mask).
type Batch struct {
	Width   int
	Samples []codec.Sample
}

// Session is the single-threaded command surface of one device
// connection. Only one logical actor may hold a Session at a time; a
// caller exposing a Session to multiple goroutines must serialize
// access with a mutex whose critical section spans an entire
// command/response exchange (spec.md §5). Session itself does not
// lock internally, matching the teacher's single-owner USOCK design —
// callers needing shared access must wrap it in their own lock.
// pkg/streamer does not lock; it assumes it is the Session's only user.
type Session struct {
	transport transport.Transport
	address   driver.DeviceAddress
	baud      int
	deadline  time.Duration

	pacing time.Duration

	state   State
	version string
	isV2    bool
	mask    []int
	once    sync.Once
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithReadDeadline sets the per-call deadline passed to the
// transport's ReadExact. Zero (the default) blocks indefinitely.
func WithReadDeadline(d time.Duration) Option {
	return func(s *Session) { s.deadline = d }
}

// WithTransport injects an already-open transport instead of dialing
// addr, letting Open skip the dial step. Used by tests to drive a
// scripted transport.Fake; production callers leave this unset.
func WithTransport(tr transport.Transport) Option {
	return func(s *Session) { s.transport = tr }
}

// WithCommandPacing overrides the inter-command delay, which otherwise
// defaults to the device's mandatory 100ms. Tests set this to zero to
// run scripted scenarios without waiting on real time.
func WithCommandPacing(d time.Duration) Option {
	return func(s *Session) { s.pacing = d }
}

// New creates a Session in the Disconnected state for addr. It does
// not open the transport; call Open to do that.
func New(addr driver.DeviceAddress, baud int, opts ...Option) *Session {
	s := &Session{address: addr, baud: baud, state: Disconnected, pacing: defaultCommandPacing}
	for _, o := range opts {
		o(s)
	}
	return s
}

// State reports the session's current lifecycle position.
func (s *Session) State() State { return s.state }

// IsV2 reports whether the connected hardware is BITalino 2.0 or
// later. Valid only once Open has succeeded.
func (s *Session) IsV2() bool { return s.isV2 }

// HardwareVersion returns the raw version string from the last
// successful version query.
func (s *Session) HardwareVersion() string { return s.version }

// Open connects the transport and negotiates the hardware version,
// transitioning Disconnected -> Idle.
func (s *Session) Open() error {
	if s.state != Disconnected {
		return fmt.Errorf("open: %w", driver.ErrNotIdle)
	}
	if s.transport == nil {
		tr, err := transport.Open(s.address, s.baud)
		if err != nil {
			return err
		}
		s.transport = tr
	}
	s.state = Idle // version() requires Idle

	v, err := s.version()
	if err != nil {
		s.transport.Close()
		s.state = Disconnected
		return err
	}
	s.version = v
	s.isV2 = parseIsV2(v)
	return nil
}

// parseIsV2 extracts the numeric version from a string such as
// "BITalino_v5.2" or the legacy "BITalinoV3.1" and reports whether it
// is >= 4.2.
func parseIsV2(version string) bool {
	rest := version
	if idx := strings.Index(rest, "_v"); idx >= 0 {
		rest = rest[idx+2:]
	} else if idx := strings.IndexAny(rest, "V"); idx >= 0 {
		rest = rest[idx+1:]
	} else {
		return false
	}
	end := len(rest)
	if end > 3 {
		end = 3
	}
	n, err := strconv.ParseFloat(rest[:end], 64)
	if err != nil {
		return false
	}
	return n >= 4.2
}

// Version re-queries and returns the device's version string. Legal
// only while Idle.
func (s *Session) Version() (string, error) {
	if s.state != Idle {
		return "", fmt.Errorf("version: %w", driver.ErrNotIdle)
	}
	return s.version2()
}

// version performs the version handshake used by Open, before state
// has been fully established.
func (s *Session) version() (string, error) {
	return s.version2()
}

// version2 sends the query-version command and accumulates bytes
// until the response both contains "BITalino" and ends in '\n'.
func (s *Session) version2() (string, error) {
	if err := s.send(codec.QueryVersion()); err != nil {
		return "", err
	}

	var acc []byte
	for {
		b, err := s.transport.ReadExact(1, s.deadline)
		if err != nil {
			return "", err
		}
		acc = append(acc, b[0])
		if acc[len(acc)-1] == '\n' && strings.Contains(string(acc), "BITalino") {
			break
		}
	}
	str := string(acc)
	idx := strings.Index(str, "BITalino")
	return str[idx : len(str)-1], nil
}

// Battery sets the device's battery threshold, legal only while Idle.
func (s *Session) Battery(value int) error {
	if s.state != Idle {
		return fmt.Errorf("battery: %w", driver.ErrNotIdle)
	}
	cmd, err := codec.BatteryThreshold(value)
	if err != nil {
		return err
	}
	return s.send(cmd)
}

// Start arms the sampling rate and begins acquisition on the given
// channels, transitioning Idle -> Acquiring. rate is in Hz
// ({1,10,100,1000}); channels is any combination (order-independent,
// deduplicated) of 0..5.
//
// TODO: one observed hardware variant sends the "set sampling rate +
// arm" byte twice before "start acquisition"; spec.md §9 leaves this
// open pending a real-hardware retest, so this sends it once.
func (s *Session) Start(rateHz int, channels []int) error {
	if s.state != Idle {
		return fmt.Errorf("start: %w", driver.ErrNotIdle)
	}
	rate, err := codec.RateCode(rateHz)
	if err != nil {
		return err
	}
	mask, err := codec.CanonicalMask(channels)
	if err != nil {
		return err
	}
	if err := s.send(codec.SetRateAndArm(rate)); err != nil {
		return err
	}
	if err := s.send(codec.StartAcquisition(mask)); err != nil {
		return err
	}
	s.mask = mask
	s.state = Acquiring
	return nil
}

// Read pulls k samples from the device. Legal only while Acquiring. A
// CRC failure or a transport timeout aborts the whole batch with
// ErrContactingDevice; state stays Acquiring so the caller may retry
// or Stop.
func (s *Session) Read(k int) (Batch, error) {
	if s.state != Acquiring {
		return Batch{}, fmt.Errorf("read: %w", driver.ErrNotAcquiring)
	}
	n := len(s.mask)
	frameSize := codec.FrameSize(n)

	batch := Batch{Width: 5 + n, Samples: make([]codec.Sample, 0, k)}
	for i := 0; i < k; i++ {
		frame, err := s.transport.ReadExact(frameSize, s.deadline)
		if err != nil {
			return Batch{}, err
		}
		if !codec.VerifyCRC(frame) {
			return Batch{}, fmt.Errorf("crc mismatch on sample %d/%d: %w", i+1, k, driver.ErrContactingDevice)
		}
		sample, err := codec.Unpack(frame, n)
		if err != nil {
			return Batch{}, fmt.Errorf("unpack sample %d/%d: %w", i+1, k, err)
		}
		batch.Samples = append(batch.Samples, sample)
	}
	return batch, nil
}

// Trigger drives the digital outputs. v1 hardware requires four values
// and is legal only while Acquiring; v2 hardware requires two values
// and is legal from either Idle or Acquiring.
func (s *Session) Trigger(outs []int) error {
	if s.isV2 {
		if len(outs) != 2 {
			return fmt.Errorf("trigger: expected 2 outputs for v2, got %d: %w", len(outs), driver.ErrInvalidParameter)
		}
		cmd, err := codec.DigitalV2([2]int{outs[0], outs[1]})
		if err != nil {
			return err
		}
		return s.send(cmd)
	}
	if s.state != Acquiring {
		return fmt.Errorf("trigger: %w", driver.ErrNotAcquiring)
	}
	if len(outs) != 4 {
		return fmt.Errorf("trigger: expected 4 outputs for v1, got %d: %w", len(outs), driver.ErrInvalidParameter)
	}
	cmd, err := codec.DigitalV1([4]int{outs[0], outs[1], outs[2], outs[3]})
	if err != nil {
		return err
	}
	return s.send(cmd)
}

// StateSnapshot queries the v2 full-channel state snapshot. v2 only,
// legal only while Idle.
func (s *Session) StateSnapshot() (codec.DeviceStateV2, error) {
	if !s.isV2 {
		return codec.DeviceStateV2{}, fmt.Errorf("state: %w", driver.ErrInvalidVersion)
	}
	if s.state != Idle {
		return codec.DeviceStateV2{}, fmt.Errorf("state: %w", driver.ErrNotIdle)
	}
	if err := s.send(codec.QueryStateV2()); err != nil {
		return codec.DeviceStateV2{}, err
	}
	frame, err := s.transport.ReadExact(16, s.deadline)
	if err != nil {
		return codec.DeviceStateV2{}, err
	}
	if !codec.VerifyCRC(frame) {
		return codec.DeviceStateV2{}, fmt.Errorf("state snapshot: %w", driver.ErrContactingDevice)
	}
	return codec.UnpackState(frame)
}

// PWM sets the v2 PWM output, legal only while Idle (matching the
// other Idle-only v2 parameter operations).
func (s *Session) PWM(value int) error {
	if !s.isV2 {
		return fmt.Errorf("pwm: %w", driver.ErrInvalidVersion)
	}
	if s.state != Idle {
		return fmt.Errorf("pwm: %w", driver.ErrNotIdle)
	}
	bytes, err := codec.PWM(value)
	if err != nil {
		return err
	}
	for _, b := range bytes {
		if err := s.send(b); err != nil {
			return err
		}
	}
	return nil
}

// Stop ends acquisition (v1) or forces Idle from any state (v2),
// transitioning to Idle.
func (s *Session) Stop() error {
	if s.isV2 {
		if err := s.send(codec.IdleV2()); err != nil {
			return err
		}
		s.state = Idle
		s.mask = nil
		return nil
	}
	if s.state != Acquiring {
		return fmt.Errorf("stop: %w", driver.ErrNotAcquiring)
	}
	if err := s.send(codec.StopV1()); err != nil {
		return err
	}
	// The v1 stop sequence re-queries the version string, which
	// drains any frame bytes still in flight from the device before
	// the session is considered Idle again.
	v, err := s.version2()
	if err != nil {
		return err
	}
	s.version = v
	s.state = Idle
	s.mask = nil
	return nil
}

// Close releases the transport and transitions to Disconnected from
// any state. Idempotent.
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		if s.transport != nil {
			err = s.transport.Close()
		}
	})
	s.state = Disconnected
	return err
}

// send writes one command byte, enforcing the mandatory 100ms pacing
// delay beforehand.
func (s *Session) send(b byte) error {
	if s.pacing > 0 {
		time.Sleep(s.pacing)
	}
	return s.transport.WriteByte(b)
}
