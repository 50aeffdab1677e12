package session

import (
	"errors"
	"testing"

	"github.com/biosignal/bitalino-bridge/pkg/driver"
	"github.com/biosignal/bitalino-bridge/pkg/transport"
)

func fakeAddress(t *testing.T) driver.DeviceAddress {
	t.Helper()
	addr, err := driver.ParseDeviceAddress("/dev/ttyFAKE")
	if err != nil {
		t.Fatalf("ParseDeviceAddress: %v", err)
	}
	return addr
}

func openWithFake(t *testing.T, versionString string) (*Session, *transport.Fake) {
	t.Helper()
	fake := transport.NewFake()
	fake.QueueVersion(versionString)
	s := New(fakeAddress(t), 115200, WithTransport(fake), WithCommandPacing(0))
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, fake
}

// TestOpenV1Handshake reproduces scenario S1: a v1 handshake string
// negotiates is_v2=false, and Trigger in Idle, which v1 hardware
// accepts only while Acquiring, is rejected.
func TestOpenV1Handshake(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if s.IsV2() {
		t.Fatalf("expected v1 hardware, got v2")
	}
	if s.State() != Idle {
		t.Fatalf("state = %v, want Idle", s.State())
	}
	if err := s.Trigger([]int{0, 0, 0, 0}); !errors.Is(err, driver.ErrNotAcquiring) {
		t.Errorf("v1 Trigger in Idle: got %v, want ErrNotAcquiring", err)
	}
}

func TestOpenV2Handshake(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v5.2\n")
	if !s.IsV2() {
		t.Fatalf("expected v2 hardware, got v1")
	}
}

// TestStartEncoding reproduces scenario S2: starting at 100Hz on
// channels [3,1,0] writes the set-rate-and-arm byte followed by the
// identity-based start-acquisition byte for the canonicalized mask.
func TestStartEncoding(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{3, 1, 0}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Acquiring {
		t.Fatalf("state = %v, want Acquiring", s.State())
	}
	want := []byte{0x07, 0x83, 0x2D} // version query from Open, then the two Start bytes
	if len(fake.WriteLog) != len(want) {
		t.Fatalf("write log = % x, want % x", fake.WriteLog, want)
	}
	for i := range want {
		if fake.WriteLog[i] != want[i] {
			t.Errorf("write log[%d] = 0x%02x, want 0x%02x", i, fake.WriteLog[i], want[i])
		}
	}
}

// TestStartEncodingGappedMask confirms the arm byte encodes channel
// identity, not positional rank: channels 2,3 must arm bits 4,5
// (0x31), not the bits 2,3 a by-rank encoding would wrongly set.
func TestStartEncodingGappedMask(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{2, 3}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []byte{0x07, 0x83, 0x31}
	if len(fake.WriteLog) != len(want) {
		t.Fatalf("write log = % x, want % x", fake.WriteLog, want)
	}
	for i := range want {
		if fake.WriteLog[i] != want[i] {
			t.Errorf("write log[%d] = 0x%02x, want 0x%02x", i, fake.WriteLog[i], want[i])
		}
	}
}

// TestReadSingleChannelSample reproduces scenario S3: a single-channel
// acquisition decodes seq, digital lines, and the one analog value.
func TestReadSingleChannelSample(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{0}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake.QueueFrame([]byte{0xFA, 0x5C, 0xED}) // CRC nibble 0xD

	batch, err := s.Read(1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(batch.Samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(batch.Samples))
	}
	sample := batch.Samples[0]
	if sample.Seq != 0xE {
		t.Errorf("seq = 0x%x, want 0xE", sample.Seq)
	}
	wantDigital := [4]uint8{0, 1, 0, 1}
	if sample.Digital != wantDigital {
		t.Errorf("digital = %v, want %v", sample.Digital, wantDigital)
	}
	if len(sample.Analog) != 1 || sample.Analog[0] != 830 {
		t.Errorf("analog = %v, want [830]", sample.Analog)
	}
}

// TestReadCRCFailureAbortsBatch reproduces scenario S4: a frame with a
// bad CRC fails the whole batch and keeps the session Acquiring.
func TestReadCRCFailureAbortsBatch(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{0}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake.QueueFrame([]byte{0xFA, 0x5C, 0xE0})

	if _, err := s.Read(1); !errors.Is(err, driver.ErrContactingDevice) {
		t.Errorf("Read with bad CRC: got %v, want ErrContactingDevice", err)
	}
	if s.State() != Acquiring {
		t.Errorf("state after CRC failure = %v, want Acquiring", s.State())
	}
}

// TestTriggerV2InIdle reproduces scenario S5: v2 hardware accepts a
// two-output Trigger while still Idle.
func TestTriggerV2InIdle(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v5.2\n")
	if err := s.Trigger([]int{1, 0}); err != nil {
		t.Errorf("v2 Trigger in Idle: %v", err)
	}
	if got, want := fake.WriteLog[len(fake.WriteLog)-1], byte(179|1<<2); got != want {
		t.Errorf("trigger byte = 0x%02x, want 0x%02x", got, want)
	}
}

// TestTriggerV1InIdleRejected reproduces scenario S6: v1 hardware
// rejects Trigger while Idle, since v1 trigger is Acquiring-only.
func TestTriggerV1InIdleRejected(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Trigger([]int{0, 0, 0, 0}); !errors.Is(err, driver.ErrNotAcquiring) {
		t.Errorf("v1 Trigger in Idle: got %v, want ErrNotAcquiring", err)
	}
}

func TestStartRejectedWhileAcquiring(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{0}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start(100, []int{0}); !errors.Is(err, driver.ErrNotIdle) {
		t.Errorf("second Start: got %v, want ErrNotIdle", err)
	}
}

func TestReadRejectedBeforeStart(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if _, err := s.Read(1); !errors.Is(err, driver.ErrNotAcquiring) {
		t.Errorf("Read before Start: got %v, want ErrNotAcquiring", err)
	}
}

func TestStopV1ReturnsToIdle(t *testing.T) {
	s, fake := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Start(100, []int{0}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	fake.QueueVersion("BITalino_v3.1\n")
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.State() != Idle {
		t.Errorf("state after Stop = %v, want Idle", s.State())
	}
	if _, err := s.Read(1); !errors.Is(err, driver.ErrNotAcquiring) {
		t.Errorf("Read after Stop: got %v, want ErrNotAcquiring", err)
	}
}

func TestStopV2FromIdle(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v5.2\n")
	if err := s.Stop(); err != nil {
		t.Errorf("v2 Stop from Idle: %v", err)
	}
	if s.State() != Idle {
		t.Errorf("state after v2 Stop = %v, want Idle", s.State())
	}
}

func TestStateSnapshotRequiresV2(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if _, err := s.StateSnapshot(); !errors.Is(err, driver.ErrInvalidVersion) {
		t.Errorf("v1 StateSnapshot: got %v, want ErrInvalidVersion", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	s, _ := openWithFake(t, "BITalino_v3.1\n")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.State() != Disconnected {
		t.Errorf("state after Close = %v, want Disconnected", s.State())
	}
}
