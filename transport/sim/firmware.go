package sim

import (
	"bytes"
	"crypto/subtle"
	"hash"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/protocol"
	"github.com/ardnew/usbcrypt/transport"
)

// Token error reports.
const (
	msgNoOp     = "no op"
	msgMode     = "mode"
	msgBadCmd   = "bad cmd"
	msgBadName  = "bad name"
	msgNoSig    = "no sig"
	msgCorrupt  = "corrupt"
	msgOverflow = "oflow"
	msgNoKey    = "no key"
	msgFail     = "fail"
)

type prekey struct {
	pair *keyPair
	peer string
}

type session struct {
	peer string
	key  [32]byte
}

// firmware is the token's command state. All methods run under Token.mu.
type firmware struct {
	cmd []byte

	mode   protocol.Op
	active bool
	buf    []byte
	signer hash.Hash
	sig    []byte

	prekeys  map[[protocol.KeyIDSize]byte]prekey
	sessions map[[protocol.KeyIDSize]byte]session
}

func (f *firmware) boot() {
	f.prekeys = make(map[[protocol.KeyIDSize]byte]prekey)
	f.sessions = make(map[[protocol.KeyIDSize]byte]session)
}

func (f *firmware) idle() {
	f.active = false
	f.buf = f.buf[:0]
	f.signer = nil
	f.sig = nil
}

func (f *firmware) buffered() bool {
	if !f.active {
		return false
	}
	switch f.mode {
	case protocol.OpEncrypt, protocol.OpDecrypt, protocol.OpSign, protocol.OpVerify:
		return true
	}
	return false
}

func (f *firmware) streaming() bool {
	return f.active && f.mode == protocol.OpRNGStart
}

// receive handles one packet written by the host.
func (t *Token) receive(role transport.Role, pkt []byte) {
	switch role {
	case transport.ControlIn:
		t.cmd = append(t.cmd, pkt...)
		if len(pkt) < protocol.PacketSize {
			cmd := t.cmd
			t.cmd = nil
			if len(cmd) > 0 {
				t.command(cmd)
			}
		}
	case transport.DataIn:
		t.data(pkt)
	}
}

// command decodes and starts one control command.
func (t *Token) command(cmd []byte) {
	op, ok := t.version.Op(protocol.Opcode(cmd[0]))
	args := cmd[1:]
	if !ok {
		t.report(msgBadCmd)
		return
	}
	pkg.LogDebug(pkg.ComponentToken, "command", "op", op, "args", len(args))

	if op == protocol.OpStop {
		if t.streaming() {
			t.emit(transport.DataOut, nil)
		}
		t.idle()
		return
	}
	if t.active {
		t.report(msgMode)
		return
	}

	switch op {
	case protocol.OpEncrypt, protocol.OpDecrypt:
		t.begin(op)
	case protocol.OpSign:
		if t.startHash() {
			t.begin(op)
		}
	case protocol.OpVerify:
		if len(args) != protocol.SignatureSize {
			t.report(msgNoSig)
			return
		}
		if t.startHash() {
			t.begin(op)
			t.sig = bytes.Clone(args)
		}
	case protocol.OpRNGStart:
		t.begin(op)
	case protocol.OpECDHStart:
		t.ecdhStart(args)
	case protocol.OpECDHRespond:
		t.ecdhRespond(args)
	case protocol.OpECDHEnd:
		t.ecdhEnd(args)
	default:
		t.report(msgBadCmd)
	}
}

func (t *Token) begin(op protocol.Op) {
	t.mode = op
	t.active = true
	t.buf = t.buf[:0]
}

func (t *Token) startHash() bool {
	h, err := t.keys.newSigner()
	if err != nil {
		t.report(msgFail)
		return false
	}
	t.signer = h
	return true
}

// data buffers one bulk packet. The buffer is processed when it reaches the
// chunk limit or when a short packet ends the message.
func (t *Token) data(pkt []byte) {
	if !t.buffered() {
		t.report(msgNoOp)
		return
	}
	limit := protocol.ChunkSize
	if t.mode == protocol.OpDecrypt {
		limit = protocol.FrameSize
	}
	if len(t.buf)+len(pkt) > limit {
		t.report(msgOverflow)
		t.idle()
		return
	}
	t.buf = append(t.buf, pkt...)

	switch {
	case len(t.buf) == limit:
		t.process(false)
	case len(pkt) < protocol.PacketSize:
		t.process(true)
	}
}

// process consumes the buffer. A final call ends the operation.
func (t *Token) process(final bool) {
	block := t.buf
	t.buf = t.buf[:0]

	switch t.mode {
	case protocol.OpEncrypt:
		if len(block) > 0 {
			frame, err := t.keys.seal(t.rand, block)
			if err != nil {
				t.report(msgFail)
				t.idle()
				return
			}
			t.emit(transport.DataOut, frame)
		}
	case protocol.OpDecrypt:
		if len(block) > 0 {
			plain, err := t.keys.open(block)
			if err != nil {
				t.report(msgCorrupt)
				t.idle()
				return
			}
			t.emit(transport.DataOut, plain)
		}
	case protocol.OpSign, protocol.OpVerify:
		t.signer.Write(block)
	}

	if !final {
		return
	}
	switch t.mode {
	case protocol.OpSign:
		t.emit(transport.DataOut, t.signer.Sum(nil))
	case protocol.OpVerify:
		result := protocol.VerifyFailed
		if subtle.ConstantTimeCompare(t.signer.Sum(nil), t.sig) == 1 {
			result = protocol.VerifyOK
		}
		t.emit(transport.DataOut, []byte{result})
	}
	t.idle()
}

// =============================================================================
// Key exchange
// =============================================================================

func (t *Token) ecdhStart(args []byte) {
	name := string(args)
	if protocol.ValidateName(name) != nil {
		t.report(msgBadName)
		return
	}
	pair, err := newKeyPair(t.rand)
	if err != nil {
		t.report(msgFail)
		return
	}
	id := prekeyID(pair.public[:])
	t.prekeys[id] = prekey{pair: pair, peer: name}
	t.emit(transport.DataOut, protocol.KeyMessage{KeyID: id, PublicKey: pair.public}.Bytes())
}

func (t *Token) ecdhRespond(args []byte) {
	if len(args) <= protocol.PublicKeySize {
		t.report(msgBadName)
		return
	}
	peerPub, name := args[:protocol.PublicKeySize], string(args[protocol.PublicKeySize:])
	if protocol.ValidateName(name) != nil {
		t.report(msgBadName)
		return
	}
	pair, err := newKeyPair(t.rand)
	if err != nil {
		t.report(msgFail)
		return
	}
	id, key, err := agree(pair.private[:], peerPub)
	if err != nil {
		t.report(msgFail)
		return
	}
	t.sessions[id] = session{peer: name, key: key}
	t.emit(transport.DataOut, protocol.KeyMessage{KeyID: id, PublicKey: pair.public}.Bytes())
}

func (t *Token) ecdhEnd(args []byte) {
	if len(args) != protocol.PublicKeySize+protocol.KeyIDSize {
		t.report(msgNoKey)
		return
	}
	var pid [protocol.KeyIDSize]byte
	copy(pid[:], args[protocol.PublicKeySize:])
	pre, ok := t.prekeys[pid]
	if !ok {
		t.report(msgNoKey)
		return
	}
	id, key, err := agree(pre.pair.private[:], args[:protocol.PublicKeySize])
	if err != nil {
		t.report(msgFail)
		return
	}
	delete(t.prekeys, pid)
	t.sessions[id] = session{peer: pre.peer, key: key}
	t.emit(transport.DataOut, id[:])
}
