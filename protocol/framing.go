package protocol

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ardnew/usbcrypt/pkg"
)

// The token treats a transfer that ends on a full packet as unfinished. A
// message whose last chunk is a multiple of PacketSize therefore needs an
// explicit zero-length packet before the token acts on it.

// NeedsTerminator reports whether an upload whose final chunk carried last
// bytes, out of a maximum of chunkSize, must be followed by a zero-length
// packet. An empty upload always needs one.
func NeedsTerminator(last, chunkSize int) bool {
	return last == 0 || last%PacketSize == 0 || last == chunkSize
}

// TerminatorBeforeResponse reports whether the terminator must be sent
// before the response to the final chunk can be read. A full chunk fills the
// token's buffer and is processed immediately; a shorter one waits for the
// short packet.
func TerminatorBeforeResponse(last, chunkSize int) bool {
	return last < chunkSize && NeedsTerminator(last, chunkSize)
}

// CommandNeedsTerminator reports whether a control command of n bytes
// needs a trailing zero-length packet to be recognized as complete.
func CommandNeedsTerminator(n int) bool {
	return n > 0 && n%PacketSize == 0
}

// EncryptedSize returns the ciphertext length for n plaintext bytes.
func EncryptedSize(n int) int {
	frames := (n + ChunkSize - 1) / ChunkSize
	return n + frames*FrameOverhead
}

// DecryptedSize returns the plaintext length for n ciphertext bytes, or an
// error if n cannot be a concatenation of frames.
func DecryptedSize(n int) (int, error) {
	if n == 0 {
		return 0, nil
	}
	full, last := n/FrameSize, n%FrameSize
	if last != 0 && last <= FrameOverhead {
		return 0, fmt.Errorf("%w: ciphertext of %d bytes ends in a %d byte frame",
			pkg.ErrInvalidParameter, n, last)
	}
	size := full * ChunkSize
	if last != 0 {
		size += last - FrameOverhead
	}
	return size, nil
}

// Command builds the control message opcode || args.
func Command(code Opcode, args ...[]byte) []byte {
	n := 1
	for _, a := range args {
		n += len(a)
	}
	cmd := make([]byte, 0, n)
	cmd = append(cmd, byte(code))
	for _, a := range args {
		cmd = append(cmd, a...)
	}
	return cmd
}

// VerifyArgs returns the argument block for a verify command.
func VerifyArgs(sig []byte) ([]byte, error) {
	if len(sig) != SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes, want %d",
			pkg.ErrInvalidParameter, len(sig), SignatureSize)
	}
	return bytes.Clone(sig), nil
}

// ValidateName checks a peer name used by the key exchange.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameSize {
		return fmt.Errorf("%w: peer name must be 1..%d bytes, got %d",
			pkg.ErrInvalidParameter, MaxNameSize, len(name))
	}
	if strings.IndexByte(name, 0) >= 0 {
		return fmt.Errorf("%w: peer name contains NUL", pkg.ErrInvalidParameter)
	}
	return nil
}

// ECDHStartArgs returns the argument block for ECDH-Start: name.
func ECDHStartArgs(name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return []byte(name), nil
}

// ECDHRespondArgs returns the argument block for ECDH-Respond:
// peer public key || name.
func ECDHRespondArgs(peerPub []byte, name string) ([]byte, error) {
	if len(peerPub) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d",
			pkg.ErrInvalidParameter, len(peerPub), PublicKeySize)
	}
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return append(bytes.Clone(peerPub), name...), nil
}

// ECDHEndArgs returns the argument block for ECDH-End:
// peer public key || key-id.
func ECDHEndArgs(peerPub, keyID []byte) ([]byte, error) {
	if len(peerPub) != PublicKeySize {
		return nil, fmt.Errorf("%w: public key is %d bytes, want %d",
			pkg.ErrInvalidParameter, len(peerPub), PublicKeySize)
	}
	if len(keyID) != KeyIDSize {
		return nil, fmt.Errorf("%w: key id is %d bytes, want %d",
			pkg.ErrInvalidParameter, len(keyID), KeyIDSize)
	}
	args := make([]byte, 0, PublicKeySize+KeyIDSize)
	args = append(args, peerPub...)
	return append(args, keyID...), nil
}

// KeyMessage is the token's answer to ECDH-Start and ECDH-Respond.
type KeyMessage struct {
	KeyID     [KeyIDSize]byte
	PublicKey [PublicKeySize]byte
}

// KeyMessageSize is the wire size of a KeyMessage.
const KeyMessageSize = KeyIDSize + PublicKeySize

// ParseKeyMessage splits keyid || pubkey.
func ParseKeyMessage(b []byte) (KeyMessage, error) {
	var m KeyMessage
	if len(b) != KeyMessageSize {
		return m, fmt.Errorf("%w: key message is %d bytes, want %d",
			pkg.ErrUnexpectedLength, len(b), KeyMessageSize)
	}
	copy(m.KeyID[:], b[:KeyIDSize])
	copy(m.PublicKey[:], b[KeyIDSize:])
	return m, nil
}

// Bytes returns keyid || pubkey.
func (m KeyMessage) Bytes() []byte {
	b := make([]byte, 0, KeyMessageSize)
	b = append(b, m.KeyID[:]...)
	return append(b, m.PublicKey[:]...)
}

// ParseTokenError extracts the message of an "err: ..." report, reporting
// false when b is not one.
func ParseTokenError(b []byte) (string, bool) {
	s := string(bytes.TrimRight(b, "\x00"))
	if !strings.HasPrefix(s, ErrorPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(s, ErrorPrefix)), true
}
