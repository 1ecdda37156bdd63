package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/usbcrypt/pkg"
)

// ============================================================================
// Opcode tables
// ============================================================================

func TestOpcodeTables(t *testing.T) {
	tests := []struct {
		version Version
		op      Op
		want    Opcode
	}{
		{V1, OpEncrypt, 0},
		{V1, OpDecrypt, 1},
		{V1, OpSign, 2},
		{V1, OpVerify, 3},
		{V1, OpECDHStart, 4},
		{V1, OpECDHRespond, 5},
		{V1, OpECDHEnd, 6},
		{V1, OpRNGStart, 7},
		{V1, OpStop, 8},
		{V1, OpStorage, 9},
		{V0, OpRNGStart, 4},
		{V0, OpStop, 5},
		{V0, OpStorage, 6},
	}

	for _, tt := range tests {
		t.Run(tt.version.String()+"/"+tt.op.String(), func(t *testing.T) {
			got, err := tt.version.Opcode(tt.op)
			if err != nil {
				t.Fatalf("Opcode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Opcode() = %d, want %d", got, tt.want)
			}
			back, ok := tt.version.Op(got)
			if !ok || back != tt.op {
				t.Errorf("Op(%d) = %v, %v; want %v", got, back, ok, tt.op)
			}
		})
	}
}

func TestV0HasNoKeyExchange(t *testing.T) {
	for _, op := range []Op{OpECDHStart, OpECDHRespond, OpECDHEnd} {
		if V0.Supports(op) {
			t.Errorf("V0 supports %v", op)
		}
		if _, err := V0.Opcode(op); !errors.Is(err, pkg.ErrNotSupported) {
			t.Errorf("V0.Opcode(%v) error = %v, want ErrNotSupported", op, err)
		}
	}
}

func TestTablesAreInjective(t *testing.T) {
	for _, v := range []Version{V0, V1} {
		seen := map[Opcode]Op{}
		for _, op := range Ops() {
			code, err := v.Opcode(op)
			if err != nil {
				continue
			}
			if prev, dup := seen[code]; dup {
				t.Errorf("%v: opcode %d used by %v and %v", v, code, prev, op)
			}
			seen[code] = op
		}
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"v1", V1, false},
		{"V0", V0, false},
		{"0", V0, false},
		{"", V1, false},
		{"v2", V1, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestUnsetVersion(t *testing.T) {
	var v Version
	if got := v.Resolve(); got != Default {
		t.Errorf("Resolve() = %v, want %v", got, Default)
	}
	if got := V0.Resolve(); got != V0 {
		t.Errorf("V0.Resolve() = %v, want v0", got)
	}
	if _, err := v.Opcode(OpRNGStart); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("unset Opcode() error = %v, want ErrInvalidParameter", err)
	}
	for _, tt := range []struct {
		v    Version
		want string
	}{{0, "unset"}, {V0, "v0"}, {V1, "v1"}} {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Version(%d).String() = %q, want %q", int(tt.v), got, tt.want)
		}
	}
}

// ============================================================================
// Termination
// ============================================================================

func TestNeedsTerminator(t *testing.T) {
	tests := []struct {
		name      string
		last      int
		chunk     int
		need      bool
		beforeRsp bool
	}{
		{"empty", 0, ChunkSize, true, true},
		{"one byte", 1, ChunkSize, false, false},
		{"one packet", 64, ChunkSize, true, true},
		{"packet plus one", 65, ChunkSize, false, false},
		{"512", 512, ChunkSize, true, true},
		{"full chunk", ChunkSize, ChunkSize, true, false},
		{"full frame", FrameSize, FrameSize, true, false},
		{"short frame", 41, FrameSize, false, false},
		{"frame multiple of 64", 128, FrameSize, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsTerminator(tt.last, tt.chunk); got != tt.need {
				t.Errorf("NeedsTerminator(%d, %d) = %v, want %v", tt.last, tt.chunk, got, tt.need)
			}
			if got := TerminatorBeforeResponse(tt.last, tt.chunk); got != tt.beforeRsp {
				t.Errorf("TerminatorBeforeResponse(%d, %d) = %v, want %v", tt.last, tt.chunk, got, tt.beforeRsp)
			}
		})
	}
}

func TestCommandNeedsTerminator(t *testing.T) {
	if CommandNeedsTerminator(1) || CommandNeedsTerminator(33) {
		t.Error("short commands must not need a terminator")
	}
	if !CommandNeedsTerminator(64) || !CommandNeedsTerminator(128) {
		t.Error("packet-aligned commands need a terminator")
	}
	if CommandNeedsTerminator(0) {
		t.Error("empty command needs no terminator")
	}
}

// ============================================================================
// Sizes
// ============================================================================

func TestEncryptedSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0},
		{1, 41},
		{ChunkSize, FrameSize},
		{ChunkSize + 1, FrameSize + 41},
		{1 << 20, (1 << 20) + 32*FrameOverhead},
	}
	for _, tt := range tests {
		if got := EncryptedSize(tt.in); got != tt.want {
			t.Errorf("EncryptedSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
		back, err := DecryptedSize(tt.want)
		if err != nil || back != tt.in {
			t.Errorf("DecryptedSize(%d) = %d, %v; want %d", tt.want, back, err, tt.in)
		}
	}
}

func TestDecryptedSizeRejectsTruncatedFrame(t *testing.T) {
	for _, n := range []int{1, 40, FrameSize + 40} {
		if _, err := DecryptedSize(n); !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("DecryptedSize(%d) error = %v, want ErrInvalidParameter", n, err)
		}
	}
}

// ============================================================================
// Arguments and messages
// ============================================================================

func TestCommand(t *testing.T) {
	got := Command(3, []byte{0xaa, 0xbb}, []byte{0xcc})
	if !bytes.Equal(got, []byte{3, 0xaa, 0xbb, 0xcc}) {
		t.Errorf("Command() = %x", got)
	}
	if got := Command(8); !bytes.Equal(got, []byte{8}) {
		t.Errorf("Command(stop) = %x", got)
	}
}

func TestECDHArgs(t *testing.T) {
	pub := bytes.Repeat([]byte{0x11}, PublicKeySize)
	keyID := bytes.Repeat([]byte{0x22}, KeyIDSize)

	start, err := ECDHStartArgs("alice")
	if err != nil || string(start) != "alice" {
		t.Errorf("ECDHStartArgs() = %q, %v", start, err)
	}

	resp, err := ECDHRespondArgs(pub, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(resp[:PublicKeySize], pub) || string(resp[PublicKeySize:]) != "bob" {
		t.Errorf("ECDHRespondArgs() = %x", resp)
	}

	end, err := ECDHEndArgs(pub, keyID)
	if err != nil {
		t.Fatal(err)
	}
	if len(end) != PublicKeySize+KeyIDSize || !bytes.Equal(end[PublicKeySize:], keyID) {
		t.Errorf("ECDHEndArgs() = %x", end)
	}
}

func TestECDHArgsValidation(t *testing.T) {
	pub := make([]byte, PublicKeySize)
	long := string(bytes.Repeat([]byte{'n'}, MaxNameSize+1))

	tests := []struct {
		name string
		fn   func() error
	}{
		{"empty name", func() error { _, err := ECDHStartArgs(""); return err }},
		{"long name", func() error { _, err := ECDHStartArgs(long); return err }},
		{"nul name", func() error { _, err := ECDHStartArgs("a\x00b"); return err }},
		{"short pub", func() error { _, err := ECDHRespondArgs(pub[:31], "x"); return err }},
		{"short keyid", func() error { _, err := ECDHEndArgs(pub, make([]byte, 15)); return err }},
		{"short sig", func() error { _, err := VerifyArgs(make([]byte, 31)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, pkg.ErrInvalidParameter) {
				t.Errorf("error = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestKeyMessage(t *testing.T) {
	raw := make([]byte, KeyMessageSize)
	for i := range raw {
		raw[i] = byte(i)
	}
	m, err := ParseKeyMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	if m.KeyID[0] != 0 || m.PublicKey[0] != KeyIDSize {
		t.Errorf("ParseKeyMessage() split at wrong offset: %+v", m)
	}
	if !bytes.Equal(m.Bytes(), raw) {
		t.Error("Bytes() does not reproduce the wire form")
	}
	if _, err := ParseKeyMessage(raw[:KeyIDSize]); !errors.Is(err, pkg.ErrUnexpectedLength) {
		t.Errorf("ParseKeyMessage(short) error = %v", err)
	}
}

func TestParseTokenError(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"err: corrupt\x00", "corrupt", true},
		{"err: no op", "no op", true},
		{"go", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTokenError([]byte(tt.in))
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseTokenError(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
