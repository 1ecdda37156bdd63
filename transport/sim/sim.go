package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// Options configures a simulated token.
type Options struct {
	// Protocol selects the opcode table the token decodes. Unset is
	// protocol.Default.
	Protocol protocol.Version

	// Passphrase derives the token's master key. Empty draws a random key.
	Passphrase string

	// Rand supplies nonces, ephemeral keys and RNG output. Nil uses
	// crypto/rand.
	Rand io.Reader
}

// Transfer records one write made by the host.
type Transfer struct {
	Role transport.Role
	Len  int
}

// Token is a simulated crypto token.
type Token struct {
	mu sync.Mutex

	version protocol.Version
	keys    *keyring
	rand    io.Reader

	closed    bool
	unplugged bool

	// queued packets per endpoint, a nil or empty packet is a ZLP
	queues [4][][]byte
	faults [4][]error
	writes []Transfer

	firmware
}

var _ transport.Transport = (*Token)(nil)

// New creates a token in its idle state.
func New(opts Options) (*Token, error) {
	rng := opts.Rand
	if rng == nil {
		rng = defaultRand
	}

	var master []byte
	if opts.Passphrase != "" {
		master = masterFromPassphrase(opts.Passphrase)
	} else {
		master = make([]byte, masterKeySize)
		if _, err := io.ReadFull(rng, master); err != nil {
			return nil, fmt.Errorf("generate master key: %w", err)
		}
	}
	keys, err := newKeyring(master)
	if err != nil {
		return nil, err
	}

	t := &Token{
		version: opts.Protocol.Resolve(),
		keys:    keys,
		rand:    rng,
	}
	t.boot()
	return t, nil
}

// Write implements transport.Transport. The data is split into packets; a
// transfer whose length is a multiple of the packet size does not end the
// message on its own.
func (t *Token) Write(ctx context.Context, role transport.Role, data []byte, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !role.Valid() || !role.IsWrite() {
		return 0, fmt.Errorf("%w: write to %s", pkg.ErrInvalidEndpoint, role)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(role); err != nil {
		return 0, err
	}
	t.writes = append(t.writes, Transfer{Role: role, Len: len(data)})

	if len(data) == 0 {
		t.receive(role, nil)
		return 0, nil
	}
	for off := 0; off < len(data); off += protocol.PacketSize {
		end := min(off+protocol.PacketSize, len(data))
		t.receive(role, data[off:end])
	}
	return len(data), nil
}

// Read implements transport.Transport. Queued packets are gathered into
// buf until it is full or a short packet ends the transfer. An idle
// endpoint reports pkg.ErrTimeout without waiting.
func (t *Token) Read(ctx context.Context, role transport.Role, buf []byte, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !role.Valid() || role.IsWrite() {
		return 0, fmt.Errorf("%w: read from %s", pkg.ErrInvalidEndpoint, role)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.check(role); err != nil {
		return 0, err
	}

	if len(t.queues[role]) == 0 {
		if role == transport.DataOut && t.streaming() {
			return t.stream(buf)
		}
		return 0, fmt.Errorf("%s: %w", role, pkg.ErrTimeout)
	}

	n := 0
	for len(t.queues[role]) > 0 {
		pkt := t.queues[role][0]
		if len(pkt) > len(buf)-n {
			// the packet does not fit: usbfs reports EOVERFLOW
			t.queues[role] = t.queues[role][1:]
			return n, fmt.Errorf("%w: babble on %s", pkg.ErrProtocol, role)
		}
		n += copy(buf[n:], pkt)
		t.queues[role] = t.queues[role][1:]
		if len(pkt) < protocol.PacketSize || n == len(buf) {
			break
		}
	}
	return n, nil
}

// stream fills buf with whole packets of random data.
func (t *Token) stream(buf []byte) (int, error) {
	n := len(buf) - len(buf)%protocol.PacketSize
	if n == 0 {
		return 0, fmt.Errorf("%w: babble on %s", pkg.ErrProtocol, transport.DataOut)
	}
	if _, err := io.ReadFull(t.rand, buf[:n]); err != nil {
		return 0, fmt.Errorf("%w: %w", pkg.ErrIO, err)
	}
	return n, nil
}

// check applies the lifecycle state and pending faults. Callers hold mu.
func (t *Token) check(role transport.Role) error {
	if t.closed {
		return pkg.ErrClosed
	}
	if t.unplugged {
		return pkg.ErrNoDevice
	}
	if q := t.faults[role]; len(q) > 0 {
		t.faults[role] = q[1:]
		return q[0]
	}
	return nil
}

// MaxPacketSize implements transport.Transport.
func (t *Token) MaxPacketSize(role transport.Role) int {
	if !role.Valid() {
		return 0
	}
	return protocol.PacketSize
}

// Close implements transport.Transport.
func (t *Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// emit queues data on role as the token sends it: full packets, a short
// tail, and a zero-length packet when data ends on a packet boundary.
func (t *Token) emit(role transport.Role, data []byte) {
	for off := 0; off < len(data); off += protocol.PacketSize {
		end := min(off+protocol.PacketSize, len(data))
		t.queues[role] = append(t.queues[role], bytes.Clone(data[off:end]))
	}
	if len(data)%protocol.PacketSize == 0 {
		t.queues[role] = append(t.queues[role], nil)
	}
}

// report queues an error message on the control output.
func (t *Token) report(msg string) {
	pkg.LogDebug(pkg.ComponentToken, "token error", "msg", msg)
	t.queues[transport.ControlOut] = append(t.queues[transport.ControlOut],
		[]byte(protocol.ErrorPrefix+msg))
}

// =============================================================================
// Test hooks
// =============================================================================

// InjectFault makes the next count transfers on role fail with err.
func (t *Token) InjectFault(role transport.Role, err error, count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < count; i++ {
		t.faults[role] = append(t.faults[role], err)
	}
}

// InjectStale queues data on role as if an earlier response had been
// abandoned.
func (t *Token) InjectStale(role transport.Role, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(role, data)
}

// Pending returns the number of bytes queued on role.
func (t *Token) Pending(role transport.Role) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	if role.Valid() {
		for _, pkt := range t.queues[role] {
			n += len(pkt)
		}
	}
	return n
}

// Writes returns the host writes recorded since the last ResetWrites.
func (t *Token) Writes() []Transfer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transfer(nil), t.writes...)
}

// ResetWrites clears the write log.
func (t *Token) ResetWrites() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
}

// Unplug makes every later transfer fail as if the token left the bus.
func (t *Token) Unplug() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unplugged = true
}

// Sessions returns the peer names of the key exchanges completed so far.
func (t *Token) Sessions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.sessions))
	for _, s := range t.sessions {
		names = append(names, s.peer)
	}
	return names
}
