package bridge

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/biosignal/bitalino-bridge/pkg/session"
	"github.com/biosignal/bitalino-bridge/pkg/streamer"
)

// Bridge is the facade spec.md §6 names as an external-collaborator
// boundary: it takes a Config, opens the Session, starts acquisition,
// runs the Streamer against a WebSocket Hub, and serves the WebSocket
// endpoint. Command-line parsing, signal handling and static-file
// serving remain the caller's concern (spec.md §1 Out of Scope); Bridge
// only owns the minimal HTTP listener needed to accept WebSocket
// upgrades on Config.Port.
type Bridge struct {
	cfg      Config
	resolved resolved

	sess     *session.Session
	stream   *streamer.Streamer
	hub      *Hub
	server   *http.Server
	runErrCh chan error
}

// New validates cfg and constructs a Bridge without touching the
// network or the device; call Start to bring it up.
func New(cfg Config) (*Bridge, error) {
	r, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	return &Bridge{cfg: cfg, resolved: r}, nil
}

// Start opens the Session, negotiates the hardware version, begins
// acquisition on the configured channels and rate, and launches the
// Streamer against a freshly listening WebSocket Hub. It returns once
// the device session is Acquiring and the listener is up; the Streamer
// runs in the background until Stop or a fatal error.
func (b *Bridge) Start() error {
	b.sess = session.New(b.resolved.addr, 115200)
	if err := b.sess.Open(); err != nil {
		return fmt.Errorf("bridge: open session: %w", err)
	}
	if err := b.sess.Start(b.resolved.rate, b.resolved.channels); err != nil {
		b.sess.Close()
		return fmt.Errorf("bridge: start acquisition: %w", err)
	}

	b.hub = NewHub(b.cfg.RedisAddr, b.cfg.RedisPass, b.cfg.RedisDB, b.cfg.RedisChannel)
	b.stream = streamer.New(b.sess, b.hub, b.resolved.labels)

	mux := http.NewServeMux()
	mux.Handle("/", b.hub)
	b.server = &http.Server{Addr: fmt.Sprintf(":%d", b.resolved.port), Handler: mux}

	b.runErrCh = make(chan error, 2)
	go func() {
		if err := b.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			b.runErrCh <- fmt.Errorf("bridge: websocket listener: %w", err)
		}
	}()
	go func() {
		if err := b.stream.Run(); err != nil {
			b.runErrCh <- err
		}
	}()
	return nil
}

// Wait blocks until the Streamer or HTTP listener reports a fatal
// error, or until Stop is called (in which case it returns nil).
func (b *Bridge) Wait() error {
	return <-b.runErrCh
}

// Stop halts the Streamer, closes the Session, shuts the Hub and its
// WebSocket clients down, and stops the HTTP listener. Safe to call
// once after Start.
func (b *Bridge) Stop() error {
	if b.stream != nil {
		b.stream.Stop()
		b.stream.Wait()
	}
	if b.sess != nil {
		b.sess.Close()
	}
	if b.hub != nil {
		b.hub.Close()
	}
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		b.server.Shutdown(ctx)
	}
	select {
	case b.runErrCh <- nil:
	default:
	}
	return nil
}
