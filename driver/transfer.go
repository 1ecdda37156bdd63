package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// retry repeats fn while it fails transiently, under the session's retry
// policy. An exhausted policy yields pkg.ErrOperationTimeout.
func (s *Session) retry(ctx context.Context, what string, fn func() error) error {
	attempts := 0
	op := func() error {
		attempts++
		err := fn()
		if err == nil || pkg.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		pkg.LogDebug(pkg.ComponentSession, "token not ready",
			"transfer", what, "attempt", attempts, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, s.cfg.Retry.newBackOff(ctx), notify)
	if err == nil || !pkg.IsTransient(err) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	pkg.LogWarn(pkg.ComponentSession, "retry budget exhausted", "transfer", what, "attempts", attempts)
	return fmt.Errorf("%w: %s after %d attempts: %w", pkg.ErrOperationTimeout, what, attempts, err)
}

// write sends data to role as one transfer. A transfer that moved some bytes
// before failing is not repeated.
func (s *Session) write(ctx context.Context, role transport.Role, data []byte) error {
	return s.retry(ctx, "write "+role.String(), func() error {
		n, err := s.t.Write(ctx, role, data, s.cfg.Timeout)
		if err != nil {
			if n > 0 {
				return fmt.Errorf("%w: %s: %d of %d bytes written: %v", pkg.ErrIO, role, n, len(data), err)
			}
			return err
		}
		if n != len(data) {
			return fmt.Errorf("%w: %s accepted %d of %d bytes", pkg.ErrIO, role, n, len(data))
		}
		return nil
	})
}

// read performs one IN transfer on role.
func (s *Session) read(ctx context.Context, role transport.Role, buf []byte) (int, error) {
	var n int
	err := s.retry(ctx, "read "+role.String(), func() error {
		var err error
		n, err = s.t.Read(ctx, role, buf, s.cfg.Timeout)
		return err
	})
	if err != nil {
		return 0, err
	}
	if n > len(buf) {
		return 0, fmt.Errorf("%w: %s returned %d bytes into a %d byte buffer",
			pkg.ErrProtocol, role, n, len(buf))
	}
	return n, nil
}

// =============================================================================
// Command dispatch
// =============================================================================

// dispatch writes opcode || args to the control input. A command that ends
// on a packet boundary is followed by a zero-length packet so the token sees
// it end.
func (s *Session) dispatch(ctx context.Context, code protocol.Opcode, args ...[]byte) error {
	cmd := protocol.Command(code, args...)
	pkg.LogDebug(pkg.ComponentSession, "dispatch", "opcode", int(code), "len", len(cmd))
	if err := s.write(ctx, transport.ControlIn, cmd); err != nil {
		return fmt.Errorf("dispatch opcode %d: %w", code, err)
	}
	if protocol.CommandNeedsTerminator(len(cmd)) {
		if err := s.write(ctx, transport.ControlIn, nil); err != nil {
			return fmt.Errorf("dispatch opcode %d terminator: %w", code, err)
		}
	}
	return nil
}

// =============================================================================
// Chunked upload
// =============================================================================

// uploadPlan describes how a payload is cut and paced.
type uploadPlan struct {
	chunkSize int

	// check vets a chunk before it is written.
	check func(n int, final bool) error

	// after runs once the chunk (and, where needed, the terminator) has
	// been written, typically to collect the chunk's response.
	after func(n int) error
}

// upload streams src to the data input in chunks, reading one chunk ahead
// so the final chunk is known when it is written. It reports whether a
// terminating zero-length packet was sent.
func (s *Session) upload(ctx context.Context, c *call, src io.Reader, u uploadPlan) (bool, error) {
	cur := make([]byte, u.chunkSize)
	next := make([]byte, u.chunkSize)

	n, err := readChunk(src, cur)
	if err != nil {
		return false, err
	}
	if n == 0 {
		if u.check != nil {
			if err := u.check(0, true); err != nil {
				return false, err
			}
		}
		return true, s.terminate(ctx)
	}

	terminated := false
	for {
		m, err := readChunk(src, next)
		if err != nil {
			return false, err
		}
		final := m == 0
		if u.check != nil {
			if err := u.check(n, final); err != nil {
				return false, err
			}
		}

		if err := s.write(ctx, transport.DataIn, cur[:n]); err != nil {
			return false, fmt.Errorf("upload chunk: %w", err)
		}
		c.out += int64(n)
		pkg.LogDebug(pkg.ComponentSession, "chunk written", "op", c.op.String(), "len", n, "final", final)

		// A short final chunk is only processed once the terminator
		// arrives; a full one is processed as soon as it fills the
		// token's buffer.
		if final && protocol.TerminatorBeforeResponse(n, u.chunkSize) {
			if err := s.terminate(ctx); err != nil {
				return false, err
			}
			terminated = true
		}
		if u.after != nil {
			if err := u.after(n); err != nil {
				return false, err
			}
		}
		if final {
			break
		}
		cur, next, n = next, cur, m
	}

	if !terminated && protocol.NeedsTerminator(n, u.chunkSize) {
		if err := s.terminate(ctx); err != nil {
			return false, err
		}
		terminated = true
	}
	return terminated, nil
}

// terminate writes a zero-length packet to the data input.
func (s *Session) terminate(ctx context.Context) error {
	if err := s.write(ctx, transport.DataIn, nil); err != nil {
		return fmt.Errorf("upload terminator: %w", err)
	}
	return nil
}

// readChunk fills buf from r, returning fewer bytes only at end of input.
func readChunk(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return n, nil
	}
	if err != nil {
		return n, fmt.Errorf("read input: %w", err)
	}
	return n, nil
}

// =============================================================================
// Response collection
// =============================================================================

// collectFixed reads exactly n bytes from role.
func (s *Session) collectFixed(ctx context.Context, c *call, role transport.Role, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := s.collectInto(ctx, c, role, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// collectStream reads total bytes from role into sink, in reads of at most
// protocol.MaxRead bytes.
func (s *Session) collectStream(ctx context.Context, c *call, role transport.Role, total int, sink io.Writer) error {
	buf := make([]byte, min(total, protocol.MaxRead))
	for total > 0 {
		part := buf[:min(total, len(buf))]
		if err := s.collectInto(ctx, c, role, part); err != nil {
			return err
		}
		if _, err := sink.Write(part); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		total -= len(part)
	}
	return nil
}

// collectInto fills buf from role. A zero-length packet may trail an
// earlier response, but two in a row mean the token ended early.
func (s *Session) collectInto(ctx context.Context, c *call, role transport.Role, buf []byte) error {
	got, empty := 0, 0
	for got < len(buf) {
		n, err := s.read(ctx, role, buf[got:])
		if err != nil {
			return s.annotate(fmt.Errorf("collect %d of %d bytes: %w", got, len(buf), err))
		}
		if n == 0 {
			empty++
			if empty >= 2 {
				return s.annotate(fmt.Errorf("%w: %s ended after %d of %d bytes",
					pkg.ErrShortRead, role, got, len(buf)))
			}
			continue
		}
		empty = 0
		got += n
		c.in += int64(n)
	}
	return nil
}

// annotate peeks at the control output once and attaches a token error
// report to err when there is one.
func (s *Session) annotate(err error) error {
	if pkg.IsFatal(err) {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	buf := make([]byte, protocol.PacketSize)
	n, rerr := s.t.Read(ctx, transport.ControlOut, buf, s.cfg.DrainTimeout)
	if rerr != nil || n == 0 {
		return err
	}
	if msg, ok := protocol.ParseTokenError(buf[:n]); ok {
		pkg.LogDebug(pkg.ComponentSession, "token error report", "msg", msg)
		return &TokenError{Message: msg, Err: err}
	}
	return err
}
