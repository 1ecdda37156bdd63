package driver

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// =============================================================================
// Mock transport
// =============================================================================

type step struct {
	data []byte
	n    int // reported length when non-zero, regardless of data
	err  error
}

type writeRecord struct {
	role transport.Role
	data []byte
}

// mockTransport answers reads from a script. The script only plays while
// an operation is active: from a non-Stop command until the next Stop, so
// the session's resets see an idle token.
type mockTransport struct {
	mu sync.Mutex

	stop   protocol.Opcode
	armed  bool
	reads  map[transport.Role][]step
	writeQ []error
	writes []writeRecord
	nreads map[transport.Role]int
	closed bool
}

func newMock() *mockTransport {
	stop, _ := protocol.V1.Opcode(protocol.OpStop)
	return &mockTransport{
		stop:   stop,
		reads:  make(map[transport.Role][]step),
		nreads: make(map[transport.Role]int),
	}
}

func (m *mockTransport) script(role transport.Role, steps ...step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads[role] = append(m.reads[role], steps...)
}

func (m *mockTransport) Write(ctx context.Context, role transport.Role, data []byte, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, pkg.ErrClosed
	}
	if len(m.writeQ) > 0 {
		err := m.writeQ[0]
		m.writeQ = m.writeQ[1:]
		return 0, err
	}
	m.writes = append(m.writes, writeRecord{role: role, data: bytes.Clone(data)})
	if role == transport.ControlIn && len(data) > 0 {
		m.armed = protocol.Opcode(data[0]) != m.stop
	}
	return len(data), nil
}

func (m *mockTransport) Read(ctx context.Context, role transport.Role, buf []byte, _ time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, pkg.ErrClosed
	}
	if !m.armed {
		return 0, pkg.ErrTimeout
	}
	m.nreads[role]++
	q := m.reads[role]
	if len(q) == 0 {
		return 0, pkg.ErrTimeout
	}
	s := q[0]
	m.reads[role] = q[1:]
	if s.err != nil {
		return 0, s.err
	}
	n := copy(buf, s.data)
	if s.n != 0 {
		n = s.n
	}
	return n, nil
}

func (m *mockTransport) MaxPacketSize(transport.Role) int { return protocol.PacketSize }

func (m *mockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockTransport) readCount(role transport.Role) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nreads[role]
}

func (m *mockTransport) controlWrites() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out [][]byte
	for _, w := range m.writes {
		if w.role == transport.ControlIn {
			out = append(out, w.data)
		}
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.DrainTimeout = time.Millisecond
	cfg.Retry = RetryPolicy{
		MaxRetries:      5,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxElapsed:      time.Second,
	}
	return cfg
}

var testSig = bytes.Repeat([]byte{0x5a}, protocol.SignatureSize)

// =============================================================================
// Retry and error classification
// =============================================================================

func TestTransientErrorsRetried(t *testing.T) {
	m := newMock()
	m.script(transport.DataOut,
		step{err: pkg.ErrNAK},
		step{err: pkg.ErrTimeout},
		step{err: pkg.ErrStall},
		step{data: testSig},
	)
	s := New(m, testConfig())

	sig, err := s.Sign(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !bytes.Equal(sig, testSig) {
		t.Errorf("Sign() = %x", sig)
	}
	if got := m.readCount(transport.DataOut); got != 4 {
		t.Errorf("data-out reads = %d, want 4", got)
	}
}

func TestFatalErrorNotRetried(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		recovered bool
	}{
		{"device gone", pkg.ErrNoDevice, false},
		{"disconnected", pkg.ErrDisconnected, false},
		{"io error", pkg.ErrIO, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			m.script(transport.DataOut, step{err: tt.err}, step{data: testSig})
			s := New(m, testConfig())

			_, err := s.Sign(context.Background(), []byte("hello"))
			if !errors.Is(err, tt.err) {
				t.Fatalf("Sign() error = %v, want %v", err, tt.err)
			}
			var opErr *OpError
			if !errors.As(err, &opErr) || opErr.Op != "sign" {
				t.Errorf("error %v is not an OpError for sign", err)
			}
			if got := m.readCount(transport.DataOut); got != 1 {
				t.Errorf("data-out reads = %d, want 1", got)
			}

			cmds := m.controlWrites()
			last := cmds[len(cmds)-1]
			stopped := len(last) == 1 && protocol.Opcode(last[0]) == m.stop
			if stopped != tt.recovered {
				t.Errorf("reset after failure = %v, want %v", stopped, tt.recovered)
			}
		})
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	m := newMock()
	for i := 0; i < 50; i++ {
		m.script(transport.DataOut, step{err: pkg.ErrNAK})
	}
	cfg := testConfig()
	s := New(m, cfg)

	_, err := s.Sign(context.Background(), []byte("hello"))
	if !errors.Is(err, pkg.ErrOperationTimeout) {
		t.Fatalf("Sign() error = %v, want ErrOperationTimeout", err)
	}
	if !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("Sign() error = %v lost its cause", err)
	}
	if got, want := m.readCount(transport.DataOut), int(cfg.Retry.MaxRetries)+1; got != want {
		t.Errorf("data-out reads = %d, want %d", got, want)
	}
}

func TestWriteRetried(t *testing.T) {
	m := newMock()
	m.writeQ = []error{pkg.ErrNAK, pkg.ErrTimeout}
	m.script(transport.DataOut, step{data: testSig})
	s := New(m, testConfig())

	if _, err := s.Sign(context.Background(), []byte("x")); err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
}

// =============================================================================
// Response shape
// =============================================================================

func TestResponseShape(t *testing.T) {
	tests := []struct {
		name  string
		steps []step
		run   func(s *Session) error
		want  error
	}{
		{
			name:  "two empty reads",
			steps: []step{{}, {}},
			run:   func(s *Session) error { _, err := s.Sign(context.Background(), nil); return err },
			want:  pkg.ErrShortRead,
		},
		{
			name:  "overlong read",
			steps: []step{{data: testSig, n: 100}},
			run:   func(s *Session) error { _, err := s.Sign(context.Background(), nil); return err },
			want:  pkg.ErrProtocol,
		},
		{
			name:  "verify result out of range",
			steps: []step{{data: []byte{2}}},
			run:   func(s *Session) error { _, err := s.Verify(context.Background(), testSig, nil); return err },
			want:  pkg.ErrProtocol,
		},
		{
			name:  "key message too short",
			steps: []step{{data: make([]byte, protocol.KeyMessageSize-1)}},
			run:   func(s *Session) error { _, err := s.ECDHStart(context.Background(), "bob"); return err },
			want:  pkg.ErrUnexpectedLength,
		},
		{
			name:  "key id too long",
			steps: []step{{data: make([]byte, protocol.KeyMessageSize)}},
			run: func(s *Session) error {
				_, err := s.ECDHEnd(context.Background(), make([]byte, 32), make([]byte, 16))
				return err
			},
			want: pkg.ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			m.script(transport.DataOut, tt.steps...)
			err := tt.run(New(m, testConfig()))
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if !pkg.IsProtocol(err) {
				t.Errorf("IsProtocol(%v) = false", err)
			}
		})
	}
}

func TestSingleZLPTolerated(t *testing.T) {
	m := newMock()
	m.script(transport.DataOut, step{}, step{data: testSig})
	s := New(m, testConfig())
	if _, err := s.Sign(context.Background(), nil); err != nil {
		t.Errorf("Sign() error = %v", err)
	}
}

func TestTokenErrorAttached(t *testing.T) {
	m := newMock()
	m.script(transport.ControlOut, step{data: []byte("err: corrupt")})
	s := New(m, testConfig())

	_, err := s.Decrypt(context.Background(), make([]byte, 100))
	var tokErr *TokenError
	if !errors.As(err, &tokErr) {
		t.Fatalf("Decrypt() error = %v, want a TokenError", err)
	}
	if tokErr.Message != "corrupt" {
		t.Errorf("token message = %q", tokErr.Message)
	}
	if !errors.Is(err, pkg.ErrOperationTimeout) {
		t.Errorf("error %v lost the collect failure", err)
	}
}

// =============================================================================
// Dispatch
// =============================================================================

func TestCommandTerminator(t *testing.T) {
	m := newMock()
	m.script(transport.DataOut, step{data: make([]byte, protocol.KeyMessageSize)})
	s := New(m, testConfig())

	// 1 + 32 + 31 bytes ends on a packet boundary
	name := strings.Repeat("n", 31)
	if _, err := s.ECDHRespond(context.Background(), make([]byte, 32), name); err != nil {
		t.Fatalf("ECDHRespond() error = %v", err)
	}

	var sizes []int
	for _, w := range m.controlWrites() {
		sizes = append(sizes, len(w))
	}
	// stop, command, terminator, stop
	want := []int{1, 64, 0, 1}
	if len(sizes) != len(want) {
		t.Fatalf("control writes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("control writes = %v, want %v", sizes, want)
			break
		}
	}
}

func TestInvalidParameters(t *testing.T) {
	tests := []struct {
		name string
		run  func(s *Session) error
	}{
		{"short signature", func(s *Session) error {
			_, err := s.Verify(context.Background(), make([]byte, 31), nil)
			return err
		}},
		{"truncated ciphertext", func(s *Session) error {
			_, err := s.Decrypt(context.Background(), make([]byte, protocol.FrameOverhead))
			return err
		}},
		{"truncated final frame", func(s *Session) error {
			_, err := s.Decrypt(context.Background(), make([]byte, protocol.FrameSize+10))
			return err
		}},
		{"empty peer name", func(s *Session) error {
			_, err := s.ECDHStart(context.Background(), "")
			return err
		}},
		{"long peer name", func(s *Session) error {
			_, err := s.ECDHRespond(context.Background(), make([]byte, 32), strings.Repeat("x", 33))
			return err
		}},
		{"short public key", func(s *Session) error {
			_, err := s.ECDHEnd(context.Background(), make([]byte, 31), make([]byte, 16))
			return err
		}},
		{"negative rng size", func(s *Session) error {
			_, err := s.RNG(context.Background(), -1)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMock()
			err := tt.run(New(m, testConfig()))
			if !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
			if n := len(m.writes); n != 0 {
				t.Errorf("%d writes made for invalid input", n)
			}
		})
	}
}

func TestVersion0(t *testing.T) {
	m := newMock()
	cfg := testConfig()
	cfg.Protocol = protocol.V0
	s := New(m, cfg)

	_, err := s.ECDHStart(context.Background(), "alice")
	if !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("ECDHStart() error = %v, want ErrNotSupported", err)
	}
	if n := len(m.writes); n != 0 {
		t.Errorf("%d writes made for unsupported operation", n)
	}

	// Stop is byte 5 under V0
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	cmds := m.controlWrites()
	if len(cmds) == 0 || cmds[0][0] != 5 {
		t.Errorf("V0 stop command = %v", cmds)
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestClose(t *testing.T) {
	m := newMock()
	s := New(m, testConfig())

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !m.closed {
		t.Error("transport not closed")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := s.Sign(context.Background(), nil); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("Sign() after Close error = %v, want ErrClosed", err)
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	m := newMock()
	s := New(m, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sign(ctx, []byte("x"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Sign() error = %v, want context.Canceled", err)
	}
	if !pkg.IsFatal(err) {
		t.Errorf("IsFatal(%v) = false", err)
	}
	// the recovery reset still ran with its own context
	cmds := m.controlWrites()
	if len(cmds) != 1 || protocol.Opcode(cmds[0][0]) != m.stop {
		t.Errorf("control writes after cancellation = %v", cmds)
	}
}
