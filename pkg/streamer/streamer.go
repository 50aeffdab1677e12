// Package streamer implements the producer loop that pulls sample
// batches from a session.Session and hands them, formatted as a
// labeled JSON object, to a Sink (§4.4). It owns cancellation and
// treats any Session error as fatal.
package streamer

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/biosignal/bitalino-bridge/pkg/session"
)

// DefaultBatchSize is K from spec.md §4.4.
const DefaultBatchSize = 250

// Sink is an external consumer of batches. Delivery policy (broadcast,
// drop-on-slow-consumer, etc.) is the Sink's responsibility; the
// Streamer only guarantees it calls Deliver in production order.
type Sink interface {
	Deliver(batch []byte) error
}

// Session is the subset of *session.Session the Streamer drives,
// narrowed so tests can substitute a stub producer.
type Session interface {
	Read(k int) (session.Batch, error)
	Close() error
}

// Streamer repeatedly reads batches from a Session, labels their
// columns, and forwards the encoded JSON object to a Sink.
type Streamer struct {
	sess   Session
	sink   Sink
	labels []string // active labels, in column order: seq, 4 digitals, n analogs
	k      int

	stop int32
	wg   sync.WaitGroup

	mu      sync.Mutex
	lastErr error
}

// Option configures a Streamer at construction time.
type Option func(*Streamer)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(k int) Option {
	return func(s *Streamer) { s.k = k }
}

// New builds a Streamer. labels must have exactly 5+n entries (seq,
// I1, I2, O1, O2, then the selected analog channels in canonical
// order), matching the width of batches the session produces.
func New(sess Session, sink Sink, labels []string, opts ...Option) *Streamer {
	s := &Streamer{sess: sess, sink: sink, labels: labels, k: DefaultBatchSize}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run blocks, pulling batches until Stop is called or the Session
// returns an error. A full in-flight Read is always allowed to
// complete before the cooperative stop flag is honored. Any Session
// error closes the Session and is returned to the caller.
func (s *Streamer) Run() error {
	s.wg.Add(1)
	defer s.wg.Done()

	for atomic.LoadInt32(&s.stop) == 0 {
		batch, err := s.sess.Read(s.k)
		if err != nil {
			s.sess.Close()
			s.setErr(err)
			return fmt.Errorf("streamer: %w", err)
		}
		encoded, err := s.encode(batch)
		if err != nil {
			s.sess.Close()
			s.setErr(err)
			return fmt.Errorf("streamer: encode batch: %w", err)
		}
		if s.sink != nil {
			if err := s.sink.Deliver(encoded); err != nil {
				// A slow or gone consumer is the Sink's problem, not
				// a fatal Session condition; the loop keeps reading.
				continue
			}
		}
	}
	return nil
}

// Stop requests the loop exit after the current Read completes. Safe
// to call from another goroutine; does not block.
func (s *Streamer) Stop() {
	atomic.StoreInt32(&s.stop, 1)
}

// Wait blocks until Run has returned.
func (s *Streamer) Wait() { s.wg.Wait() }

// LastError returns the error that ended Run, if any.
func (s *Streamer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Streamer) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// encode formats a Batch as a JSON object keyed by the active labels,
// each value a JSON array of length len(batch.Samples) (§6).
func (s *Streamer) encode(batch session.Batch) ([]byte, error) {
	if len(s.labels) != batch.Width {
		return nil, fmt.Errorf("streamer: %d labels configured for a batch of width %d", len(s.labels), batch.Width)
	}
	columns := make(map[string]interface{}, batch.Width)
	n := len(batch.Samples)

	// encoding/json special-cases []byte (uint8) as base64; widen to
	// int so the digital/seq columns serialize as plain number arrays.
	seqCol := make([]int, n)
	digitalCols := [4][]int{}
	for d := range digitalCols {
		digitalCols[d] = make([]int, n)
	}
	analogWidth := batch.Width - 5
	analogCols := make([][]uint16, analogWidth)
	for a := range analogCols {
		analogCols[a] = make([]uint16, n)
	}

	for i, sample := range batch.Samples {
		seqCol[i] = int(sample.Seq)
		for d := 0; d < 4; d++ {
			digitalCols[d][i] = int(sample.Digital[d])
		}
		for a := 0; a < analogWidth; a++ {
			analogCols[a][i] = sample.Analog[a]
		}
	}

	columns[s.labels[0]] = seqCol
	for d := 0; d < 4; d++ {
		columns[s.labels[1+d]] = digitalCols[d]
	}
	for a := 0; a < analogWidth; a++ {
		columns[s.labels[5+a]] = analogCols[a]
	}

	return json.Marshal(columns)
}
