// Package protocol describes the token's wire vocabulary: one-byte opcodes
// written to the control endpoint, payload chunk geometry, the
// authenticated-encryption frame layout and the fixed-size messages of the
// key exchange.
//
// Opcode tables are selected by [Version]. [V1] is the current table:
//
//	0 encrypt   1 decrypt   2 sign   3 verify
//	4 ecdh-start   5 ecdh-respond   6 ecdh-end
//	7 rng   8 stop   9 storage
//
// [V0] describes early firmware that had no key exchange and used 4 for
// rng and 5 for stop.
//
// # Termination
//
// Every endpoint moves 64-byte packets. The token finishes reading a
// message when a transfer ends on a short packet or fills its buffer, so
// uploads whose final chunk is a multiple of 64 bytes are followed by a
// zero-length packet; see [NeedsTerminator].
package protocol
