// Package sim provides an in-process token that implements
// [transport.Transport].
//
// The simulated token follows the packet-level behaviour of the hardware:
// commands are assembled from 64-byte packets on the control input until a
// short packet arrives, bulk data is buffered up to one chunk and processed
// when the buffer fills or a short packet ends the message, and every
// response that ends on a packet boundary is followed by a zero-length
// packet. Errors are reported as "err: ..." strings on the control output.
//
// # Cryptography
//
// Encryption uses XChaCha20-Poly1305 frames (24-byte nonce, 16-byte tag),
// signatures are 32-byte keyed BLAKE2b digests, and the key exchange is
// X25519 with HKDF-SHA256 derived key ids. All keys derive from one master
// key, stretched with PBKDF2 from [Options.Passphrase] or drawn at random.
//
// # Usage
//
//	tok, err := sim.New(sim.Options{Passphrase: "test"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sess := driver.New(tok, driver.DefaultConfig())
//	defer sess.Close(ctx)
//
// # Fault Injection
//
// [Token.InjectFault] makes the next transfers on an endpoint fail,
// [Token.InjectStale] queues leftover bytes as if a previous operation had
// been abandoned, and [Token.Unplug] makes every later transfer fail with
// [pkg.ErrNoDevice]. [Token.Writes] records the host's writes for
// inspecting upload framing.
package sim
