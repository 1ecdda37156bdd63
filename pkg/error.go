package pkg

import (
	"context"
	"errors"
)

// Transport errors. The first group describes a token that is not ready yet
// and is retried by the response collector; the second group is fatal.
var (
	// ErrNAK indicates the endpoint had no data to hand over.
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a single transfer timed out.
	ErrTimeout = errors.New("transfer timeout")

	// ErrStall indicates an endpoint halt that was cleared by the transport.
	ErrStall = errors.New("endpoint stalled")
)

var (
	// ErrDeviceNotFound indicates no token matched the requested identity.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrNoDevice indicates the token disappeared from the bus.
	ErrNoDevice = errors.New("device not present")

	// ErrDisconnected indicates the transport lost its connection to the token.
	ErrDisconnected = errors.New("device disconnected")

	// ErrClosed indicates the transport or session has been closed.
	ErrClosed = errors.New("closed")

	// ErrIO indicates an unclassified I/O failure.
	ErrIO = errors.New("I/O error")
)

// Protocol and usage errors.
var (
	// ErrProtocol indicates the token answered outside the protocol contract.
	ErrProtocol = errors.New("protocol error")

	// ErrShortRead indicates the token ended a response before the expected length.
	ErrShortRead = errors.New("short read")

	// ErrUnexpectedLength indicates a response had the wrong size.
	ErrUnexpectedLength = errors.New("unexpected response length")

	// ErrOperationTimeout indicates the retry budget for a response was exhausted.
	ErrOperationTimeout = errors.New("operation timed out")

	// ErrInvalidEndpoint indicates an endpoint address or role the transport does not own.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidParameter indicates an invalid argument was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotSupported indicates the selected protocol version lacks the operation.
	ErrNotSupported = errors.New("not supported")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
)

// IsTransient reports whether err means "not ready yet" and may be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNAK) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStall)
}

// IsFatal reports whether err ends the session's ability to talk to the token.
func IsFatal(err error) bool {
	if err == nil || IsTransient(err) {
		return false
	}
	return errors.Is(err, ErrNoDevice) ||
		errors.Is(err, ErrDisconnected) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, ErrIO) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsProtocol reports whether err is a protocol violation by the token.
func IsProtocol(err error) bool {
	return errors.Is(err, ErrProtocol) ||
		errors.Is(err, ErrShortRead) ||
		errors.Is(err, ErrUnexpectedLength)
}

// TransferStatus represents the completion status of a bulk transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess      TransferStatus = iota // Transfer completed successfully
	TransferStatusError                              // Transfer failed with error
	TransferStatusStall                              // Endpoint stalled
	TransferStatusNAK                                // NAK received
	TransferStatusTimeout                            // Transfer timed out
	TransferStatusNoDevice                           // Device gone
	TransferStatusDisconnected                       // Connection lost
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusNAK:
		return "nak"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusNoDevice:
		return "no-device"
	case TransferStatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the transfer status.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusNAK:
		return ErrNAK
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusNoDevice:
		return ErrNoDevice
	case TransferStatusDisconnected:
		return ErrDisconnected
	default:
		return ErrIO
	}
}
