// Package driver talks to a USB crypto token over a [transport.Transport].
//
// A [Session] turns the token's four bulk endpoints and one-byte opcodes
// into blocking operations: authenticated encryption and decryption,
// signing and verification, hardware random numbers and a three-message
// ECDH key exchange.
//
// # Protocol
//
// Every operation follows the same discipline:
//
//   - reset: send Stop, then drain the data and control outputs
//   - dispatch: write opcode || args to the control input
//   - upload: write the payload to the data input in 32 KiB chunks
//     (32 KiB + 40 for decryption), ending it with a zero-length packet
//     when the last chunk does not end in a short packet
//   - collect: read the response, retrying while the token is busy
//   - reset again
//
// The token signals "not ready" with NAKs and timeouts, which are retried
// under a bounded exponential backoff ([RetryPolicy]). Device loss, I/O
// errors and cancellation end the operation immediately.
//
// # Errors
//
// Failures are returned as [*OpError] naming the operation. When the token
// explains a failure on its control output the report is attached as a
// [*TokenError]. Test causes with errors.Is against the sentinels in
// package pkg:
//
//	sig, err := sess.Sign(ctx, msg)
//	if errors.Is(err, pkg.ErrOperationTimeout) {
//	    // token never answered
//	}
//
// # Observability
//
// [Config.Observer] receives a start and finish event for every operation.
// [Counters] keeps per-operation totals and [LogObserver] logs through
// package pkg.
package driver
