package driver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// Session drives one token over an exclusively owned transport.
// Operations are serialized; a Session is safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	t      transport.Transport
	cfg    Config
	closed bool
}

// New creates a session on t. The session owns t from now on and closes it
// in Close.
func New(t transport.Transport, cfg Config) *Session {
	return &Session{
		t:   t,
		cfg: cfg.withDefaults(),
	}
}

// Protocol returns the opcode table in use.
func (s *Session) Protocol() protocol.Version {
	return s.cfg.Protocol
}

// call tracks one operation in flight.
type call struct {
	op   protocol.Op
	code protocol.Opcode
	in   int64
	out  int64
}

// run executes one operation: reset, body, reset. The body runs with the
// session lock held. A nil body only resets.
func (s *Session) run(ctx context.Context, op protocol.Op, body func(ctx context.Context, c *call) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &OpError{Op: op.String(), Err: pkg.ErrClosed}
	}
	code, err := s.cfg.Protocol.Opcode(op)
	if err != nil {
		return &OpError{Op: op.String(), Err: err}
	}

	c := &call{op: op, code: code}
	start := time.Now()
	s.cfg.Observer.OperationStarted(op)

	err = s.reset(ctx)
	if err == nil && body != nil {
		if err = body(ctx, c); err == nil {
			err = s.reset(ctx)
		}
	}
	if err != nil {
		s.recover(err)
	}

	s.cfg.Observer.OperationFinished(op, Stats{
		BytesOut: c.out,
		BytesIn:  c.in,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return &OpError{Op: op.String(), Err: err}
	}
	return nil
}

// reset stops whatever the token is doing and discards everything it has
// queued for the host.
func (s *Session) reset(ctx context.Context) error {
	stop, err := s.cfg.Protocol.Opcode(protocol.OpStop)
	if err != nil {
		return err
	}
	if err := s.dispatch(ctx, stop); err != nil {
		return err
	}
	for _, role := range []transport.Role{transport.DataOut, transport.ControlOut} {
		n, err := transport.Drain(ctx, s.t, role, s.cfg.DrainTimeout)
		if err != nil {
			return err
		}
		if n > 0 {
			pkg.LogDebug(pkg.ComponentSession, "discarded stale data", "endpoint", role.String(), "bytes", n)
		}
	}
	return nil
}

// recover makes a best-effort reset after a failed operation, with a
// fresh deadline so a cancelled caller context does not prevent it.
func (s *Session) recover(cause error) {
	if gone(cause) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()
	if err := s.reset(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentSession, "reset after failure did not complete",
			"cause", cause, "error", err)
	}
}

// gone reports errors after which the transport cannot be used.
func gone(err error) bool {
	return errors.Is(err, pkg.ErrNoDevice) ||
		errors.Is(err, pkg.ErrDisconnected) ||
		errors.Is(err, pkg.ErrClosed)
}

// Stop resets the token: any running operation is aborted and queued
// output is discarded.
func (s *Session) Stop(ctx context.Context) error {
	return s.run(ctx, protocol.OpStop, nil)
}

// Close resets the token and closes the transport. Further operations fail
// with pkg.ErrClosed.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.reset(ctx); err != nil && !gone(err) {
		errs = append(errs, err)
	}
	if err := s.t.Close(); err != nil {
		errs = append(errs, err)
	}
	pkg.LogDebug(pkg.ComponentSession, "session closed")
	return errors.Join(errs...)
}
