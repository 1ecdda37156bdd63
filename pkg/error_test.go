package pkg

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTransferStatus_String(t *testing.T) {
	tests := []struct {
		status TransferStatus
		want   string
	}{
		{TransferStatusSuccess, "success"},
		{TransferStatusError, "error"},
		{TransferStatusStall, "stall"},
		{TransferStatusNAK, "nak"},
		{TransferStatusTimeout, "timeout"},
		{TransferStatusNoDevice, "no-device"},
		{TransferStatusDisconnected, "disconnected"},
		{TransferStatus(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.status.String(); got != tt.want {
				t.Errorf("TransferStatus.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransferStatus_Error(t *testing.T) {
	tests := []struct {
		status  TransferStatus
		wantErr error
	}{
		{TransferStatusSuccess, nil},
		{TransferStatusStall, ErrStall},
		{TransferStatusNAK, ErrNAK},
		{TransferStatusTimeout, ErrTimeout},
		{TransferStatusNoDevice, ErrNoDevice},
		{TransferStatusDisconnected, ErrDisconnected},
		{TransferStatusError, ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := tt.status.Error()
			if tt.wantErr == nil && err != nil {
				t.Errorf("TransferStatus.Error() = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("TransferStatus.Error() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrNAK,
		ErrTimeout,
		ErrStall,
		ErrDeviceNotFound,
		ErrNoDevice,
		ErrDisconnected,
		ErrClosed,
		ErrIO,
		ErrProtocol,
		ErrShortRead,
		ErrUnexpectedLength,
		ErrOperationTimeout,
		ErrInvalidEndpoint,
		ErrInvalidParameter,
		ErrNotSupported,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
		protocol  bool
	}{
		{"nil", nil, false, false, false},
		{"nak", ErrNAK, true, false, false},
		{"wrapped timeout", fmt.Errorf("read ep 0x82: %w", ErrTimeout), true, false, false},
		{"stall", ErrStall, true, false, false},
		{"no device", ErrNoDevice, false, true, false},
		{"disconnected", fmt.Errorf("write: %w", ErrDisconnected), false, true, false},
		{"io", ErrIO, false, true, false},
		{"cancelled", context.Canceled, false, true, false},
		{"short read", ErrShortRead, false, false, true},
		{"length", ErrUnexpectedLength, false, false, true},
		{"operation timeout", ErrOperationTimeout, false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.transient {
				t.Errorf("IsTransient() = %v, want %v", got, tt.transient)
			}
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
			if got := IsProtocol(tt.err); got != tt.protocol {
				t.Errorf("IsProtocol() = %v, want %v", got, tt.protocol)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrStall, "endpoint stalled"},
		{ErrNAK, "NAK received"},
		{ErrTimeout, "transfer timeout"},
		{ErrDeviceNotFound, "device not found"},
		{ErrShortRead, "short read"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
