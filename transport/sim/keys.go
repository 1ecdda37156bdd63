package sim

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/ardnew/usbcrypt/protocol"
)

// Key derivation parameters for the token master secret.
const (
	pbkdf2Iterations = 4096
	masterKeySize    = 32
)

var pbkdf2Salt = []byte("usbcrypt token master key")

// HKDF info labels separating the keys derived from one secret.
var (
	infoEncrypt = []byte("usbcrypt encrypt")
	infoSign    = []byte("usbcrypt sign")
	infoKeyID   = []byte("usbcrypt key id")
	infoSession = []byte("usbcrypt session")
)

var errCorrupt = errors.New("corrupt")

// keyring holds the secrets a token derives from its master key.
type keyring struct {
	encrypt [chacha20poly1305.KeySize]byte
	sign    [blake2b.Size256]byte
}

// masterFromPassphrase stretches a passphrase into a master key.
func masterFromPassphrase(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), pbkdf2Salt, pbkdf2Iterations, masterKeySize, sha256.New)
}

func hkdfSHA256(secret, info []byte, out []byte) error {
	r := hkdf.New(sha256.New, secret, nil, info)
	_, err := io.ReadFull(r, out)
	return err
}

func newKeyring(master []byte) (*keyring, error) {
	k := &keyring{}
	if err := hkdfSHA256(master, infoEncrypt, k.encrypt[:]); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}
	if err := hkdfSHA256(master, infoSign, k.sign[:]); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return k, nil
}

// seal encrypts one chunk into nonce || ciphertext || tag.
func (k *keyring) seal(rng io.Reader, plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(k.encrypt[:])
	if err != nil {
		return nil, err
	}
	frame := make([]byte, protocol.NonceSize, protocol.NonceSize+len(plain)+protocol.TagSize)
	if _, err := io.ReadFull(rng, frame); err != nil {
		return nil, err
	}
	return aead.Seal(frame, frame[:protocol.NonceSize], plain, nil), nil
}

// open authenticates and decrypts one frame.
func (k *keyring) open(frame []byte) ([]byte, error) {
	if len(frame) <= protocol.FrameOverhead {
		return nil, errCorrupt
	}
	aead, err := chacha20poly1305.NewX(k.encrypt[:])
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, frame[:protocol.NonceSize], frame[protocol.NonceSize:], nil)
	if err != nil {
		return nil, errCorrupt
	}
	return plain, nil
}

// newSigner returns a keyed BLAKE2b hash producing protocol.SignatureSize
// byte tags.
func (k *keyring) newSigner() (hash.Hash, error) {
	return blake2b.New(protocol.SignatureSize, k.sign[:])
}

// keyPair is an X25519 key pair used for one exchange.
type keyPair struct {
	private [curve25519.ScalarSize]byte
	public  [curve25519.PointSize]byte
}

func newKeyPair(rng io.Reader) (*keyPair, error) {
	kp := &keyPair{}
	if _, err := io.ReadFull(rng, kp.private[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(kp.private[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.public[:], pub)
	return kp, nil
}

// prekeyID names a pending exchange by its public key.
func prekeyID(pub []byte) [protocol.KeyIDSize]byte {
	var id [protocol.KeyIDSize]byte
	sum := blake2b.Sum256(pub)
	copy(id[:], sum[:])
	return id
}

// agree computes the X25519 shared secret and derives the session key and
// its public identifier. Both sides of an exchange arrive at the same pair.
func agree(private, peerPublic []byte) (keyID [protocol.KeyIDSize]byte, session [32]byte, err error) {
	shared, err := curve25519.X25519(private, peerPublic)
	if err != nil {
		return keyID, session, err
	}
	if err = hkdfSHA256(shared, infoKeyID, keyID[:]); err != nil {
		return keyID, session, err
	}
	err = hkdfSHA256(shared, infoSession, session[:])
	return keyID, session, err
}

var defaultRand io.Reader = rand.Reader
