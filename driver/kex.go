package driver

import (
	"context"
	"fmt"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// The key exchange takes three messages. The initiator's token answers
// ECDHStart with a prekey id and public key; the peer's token answers
// ECDHRespond with the session key id and its own public key; ECDHEnd on
// the initiator's token completes the exchange and returns the same key id.

// ECDHStart begins an exchange with the named peer.
func (s *Session) ECDHStart(ctx context.Context, name string) (protocol.KeyMessage, error) {
	args, err := protocol.ECDHStartArgs(name)
	if err != nil {
		return protocol.KeyMessage{}, &OpError{Op: protocol.OpECDHStart.String(), Err: err}
	}
	b, err := s.exchange(ctx, protocol.OpECDHStart, args, protocol.KeyMessageSize)
	if err != nil {
		return protocol.KeyMessage{}, err
	}
	return protocol.ParseKeyMessage(b)
}

// ECDHRespond answers a peer's ECDHStart public key.
func (s *Session) ECDHRespond(ctx context.Context, peerPub []byte, name string) (protocol.KeyMessage, error) {
	args, err := protocol.ECDHRespondArgs(peerPub, name)
	if err != nil {
		return protocol.KeyMessage{}, &OpError{Op: protocol.OpECDHRespond.String(), Err: err}
	}
	b, err := s.exchange(ctx, protocol.OpECDHRespond, args, protocol.KeyMessageSize)
	if err != nil {
		return protocol.KeyMessage{}, err
	}
	return protocol.ParseKeyMessage(b)
}

// ECDHEnd completes an exchange started with ECDHStart, given the
// responder's public key and the prekey id from ECDHStart. It returns the
// key id of the shared secret.
func (s *Session) ECDHEnd(ctx context.Context, peerPub, prekeyID []byte) ([]byte, error) {
	args, err := protocol.ECDHEndArgs(peerPub, prekeyID)
	if err != nil {
		return nil, &OpError{Op: protocol.OpECDHEnd.String(), Err: err}
	}
	return s.exchange(ctx, protocol.OpECDHEnd, args, protocol.KeyIDSize)
}

// exchange dispatches a key exchange command and reads its fixed-size
// answer in a single transfer.
func (s *Session) exchange(ctx context.Context, op protocol.Op, args []byte, want int) ([]byte, error) {
	var out []byte
	err := s.run(ctx, op, func(ctx context.Context, c *call) error {
		if err := s.dispatch(ctx, c.code, args); err != nil {
			return err
		}
		buf := make([]byte, protocol.PacketSize)
		n, err := s.read(ctx, transport.DataOut, buf)
		if err != nil {
			return s.annotate(err)
		}
		c.in += int64(n)
		if n != want {
			return s.annotate(fmt.Errorf("%w: %w: %s answer is %d bytes, want %d",
				pkg.ErrProtocol, pkg.ErrUnexpectedLength, op, n, want))
		}
		out = buf[:n]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
