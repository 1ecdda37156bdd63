package driver

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// Encrypt returns plaintext sealed by the token: one frame per 32 KiB chunk,
// each nonce || ciphertext || tag.
func (s *Session) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(protocol.EncryptedSize(len(plaintext)))
	if err := s.EncryptStream(ctx, bytes.NewReader(plaintext), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// EncryptStream encrypts r to w. Frames are written to w as they arrive and
// are not retracted if a later chunk fails.
func (s *Session) EncryptStream(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.run(ctx, protocol.OpEncrypt, func(ctx context.Context, c *call) error {
		if err := s.dispatch(ctx, c.code); err != nil {
			return err
		}
		_, err := s.upload(ctx, c, r, uploadPlan{
			chunkSize: protocol.ChunkSize,
			after: func(n int) error {
				return s.collectStream(ctx, c, transport.DataOut, n+protocol.FrameOverhead, w)
			},
		})
		return err
	})
}

// Decrypt opens ciphertext produced by Encrypt. Input that cannot be a
// sequence of frames is rejected before anything is sent.
func (s *Session) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	size, err := protocol.DecryptedSize(len(ciphertext))
	if err != nil {
		return nil, &OpError{Op: protocol.OpDecrypt.String(), Err: err}
	}
	var out bytes.Buffer
	out.Grow(size)
	if err := s.DecryptStream(ctx, bytes.NewReader(ciphertext), &out); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// DecryptStream decrypts r to w. A frame the token cannot authenticate fails
// the operation with a TokenError; plaintext of earlier frames has already
// been written to w.
func (s *Session) DecryptStream(ctx context.Context, r io.Reader, w io.Writer) error {
	return s.run(ctx, protocol.OpDecrypt, func(ctx context.Context, c *call) error {
		if err := s.dispatch(ctx, c.code); err != nil {
			return err
		}
		_, err := s.upload(ctx, c, r, uploadPlan{
			chunkSize: protocol.FrameSize,
			check: func(n int, final bool) error {
				if final && n > 0 && n <= protocol.FrameOverhead {
					return fmt.Errorf("%w: final frame is %d bytes, shorter than its %d byte overhead",
						pkg.ErrInvalidParameter, n, protocol.FrameOverhead)
				}
				return nil
			},
			after: func(n int) error {
				return s.collectStream(ctx, c, transport.DataOut, n-protocol.FrameOverhead, w)
			},
		})
		return err
	})
}

// Sign returns the token's signature over msg.
func (s *Session) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	return s.SignStream(ctx, bytes.NewReader(msg))
}

// SignStream signs everything read from r.
func (s *Session) SignStream(ctx context.Context, r io.Reader) ([]byte, error) {
	var sig []byte
	err := s.run(ctx, protocol.OpSign, func(ctx context.Context, c *call) error {
		if err := s.dispatch(ctx, c.code); err != nil {
			return err
		}
		if _, err := s.upload(ctx, c, r, uploadPlan{chunkSize: protocol.ChunkSize}); err != nil {
			return err
		}
		b, err := s.collectFixed(ctx, c, transport.DataOut, protocol.SignatureSize)
		if err != nil {
			return err
		}
		sig = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sig, nil
}

// Verify reports whether sig is the token's signature over msg. A mismatch
// is (false, nil).
func (s *Session) Verify(ctx context.Context, sig, msg []byte) (bool, error) {
	return s.VerifyStream(ctx, sig, bytes.NewReader(msg))
}

// VerifyStream verifies sig over everything read from r.
func (s *Session) VerifyStream(ctx context.Context, sig []byte, r io.Reader) (bool, error) {
	args, err := protocol.VerifyArgs(sig)
	if err != nil {
		return false, &OpError{Op: protocol.OpVerify.String(), Err: err}
	}

	var ok bool
	err = s.run(ctx, protocol.OpVerify, func(ctx context.Context, c *call) error {
		if err := s.dispatch(ctx, c.code, args); err != nil {
			return err
		}
		terminated, err := s.upload(ctx, c, r, uploadPlan{chunkSize: protocol.ChunkSize})
		if err != nil {
			return err
		}
		// the token only answers once the message is explicitly ended
		if !terminated {
			if err := s.terminate(ctx); err != nil {
				return err
			}
		}
		b, err := s.collectFixed(ctx, c, transport.DataOut, protocol.VerifyResultSize)
		if err != nil {
			return err
		}
		switch b[0] {
		case protocol.VerifyOK:
			ok = true
		case protocol.VerifyFailed:
			ok = false
		default:
			return fmt.Errorf("%w: verify result byte 0x%02x", pkg.ErrProtocol, b[0])
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RNG returns n bytes from the token's hardware generator.
func (s *Session) RNG(ctx context.Context, n int) ([]byte, error) {
	if n < 0 {
		return nil, &OpError{
			Op:  protocol.OpRNGStart.String(),
			Err: fmt.Errorf("%w: negative size %d", pkg.ErrInvalidParameter, n),
		}
	}
	var out bytes.Buffer
	out.Grow(n)
	if err := s.RNGTo(ctx, &out, int64(n)); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// RNGTo copies n random bytes to w. A negative n streams until ctx is done
// or w fails; the context error is then returned.
func (s *Session) RNGTo(ctx context.Context, w io.Writer, n int64) error {
	return s.run(ctx, protocol.OpRNGStart, func(ctx context.Context, c *call) error {
		if n == 0 {
			return nil
		}
		if err := s.dispatch(ctx, c.code); err != nil {
			return err
		}

		// The token streams whole packets; read in packet multiples and
		// keep only what was asked for.
		size := protocol.MaxRead
		if n > 0 {
			size = int(min(int64(protocol.MaxRead), roundUp(n, protocol.PacketSize)))
		}
		buf := make([]byte, size)
		remaining, empty := n, 0
		for remaining != 0 {
			want := len(buf)
			if remaining > 0 {
				want = int(min(int64(want), roundUp(remaining, protocol.PacketSize)))
			}
			got, err := s.read(ctx, transport.DataOut, buf[:want])
			if err != nil {
				return s.annotate(err)
			}
			if got == 0 {
				if empty++; empty >= 2 {
					return fmt.Errorf("%w: rng stream ended", pkg.ErrShortRead)
				}
				continue
			}
			empty = 0
			use := int64(got)
			if remaining > 0 {
				use = min(use, remaining)
				remaining -= use
			}
			if _, err := w.Write(buf[:use]); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			c.in += use
		}
		return nil
	})
}

func roundUp(n int64, to int) int64 {
	m := int64(to)
	return (n + m - 1) / m * m
}
