package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ardnew/usbcrypt/pkg"
)

// Role names one of the token's four bulk endpoints. "In" and "Out" are
// from the token's point of view: the host writes to ControlIn and DataIn
// and reads from ControlOut and DataOut.
type Role uint8

// Endpoint roles.
const (
	ControlIn Role = iota
	DataIn
	ControlOut
	DataOut
	numRoles
)

// Fixed endpoint addresses of the token's crypto interface.
const (
	AddrControlIn  uint8 = 0x01
	AddrDataIn     uint8 = 0x02
	AddrControlOut uint8 = 0x81
	AddrDataOut    uint8 = 0x82
)

var roleAddrs = [numRoles]uint8{
	ControlIn:  AddrControlIn,
	DataIn:     AddrDataIn,
	ControlOut: AddrControlOut,
	DataOut:    AddrDataOut,
}

var roleNames = [numRoles]string{
	ControlIn:  "control-in",
	DataIn:     "data-in",
	ControlOut: "control-out",
	DataOut:    "data-out",
}

// Roles lists every endpoint role.
func Roles() []Role {
	return []Role{ControlIn, DataIn, ControlOut, DataOut}
}

// Address returns the USB endpoint address of the role.
func (r Role) Address() uint8 {
	if r < numRoles {
		return roleAddrs[r]
	}
	return 0
}

// IsWrite reports whether the host writes to the role.
func (r Role) IsWrite() bool {
	return r == ControlIn || r == DataIn
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r < numRoles
}

func (r Role) String() string {
	if r < numRoles {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// RoleForAddress maps an endpoint address back to its role.
func RoleForAddress(addr uint8) (Role, bool) {
	for r, a := range roleAddrs {
		if a == addr {
			return Role(r), true
		}
	}
	return 0, false
}

// Transport moves bytes over the token's four bulk endpoints.
//
// Write sends data as one bulk OUT transfer; a nil or empty slice sends a
// zero-length packet. Read performs one bulk IN transfer into buf and
// returns when buf is full or the token ends the transfer with a short
// packet; (0, nil) means the token sent a zero-length packet.
//
// Errors are classified with [pkg.IsTransient]: ErrNAK, ErrTimeout and
// ErrStall mean the token was not ready and the call may be repeated.
// Anything else is fatal for the session.
type Transport interface {
	Write(ctx context.Context, role Role, data []byte, timeout time.Duration) (int, error)
	Read(ctx context.Context, role Role, buf []byte, timeout time.Duration) (int, error)
	MaxPacketSize(role Role) int
	Close() error
}

// MaxDrainReads bounds how many reads Drain issues before concluding the
// token will never go quiet.
const MaxDrainReads = 4096

// Drain discards whatever the token has queued on role, reading with the
// given per-read timeout until the endpoint reports NAK or times out. A
// stalled endpoint has had its halt cleared and may still hold data, so it
// is read again. Drain returns the number of bytes discarded.
func Drain(ctx context.Context, t Transport, role Role, timeout time.Duration) (int, error) {
	if role.IsWrite() {
		return 0, fmt.Errorf("%w: cannot drain %s", pkg.ErrInvalidEndpoint, role)
	}
	buf := make([]byte, 4096)
	total := 0
	for i := 0; i < MaxDrainReads; i++ {
		n, err := t.Read(ctx, role, buf, timeout)
		total += n
		switch {
		case errors.Is(err, pkg.ErrStall):
			continue
		case err != nil && pkg.IsTransient(err):
			return total, nil
		case err != nil:
			return total, err
		case n == 0:
			// A zero-length packet may be the tail of an aborted
			// response; keep reading until the endpoint is idle.
			continue
		}
	}
	return total, fmt.Errorf("%w: %s still producing data after %d reads",
		pkg.ErrProtocol, role, MaxDrainReads)
}

// ErrEndpointMismatch reports an interface that lacks the token's
// endpoint layout.
var ErrEndpointMismatch = errors.New("interface does not expose the token endpoints")

// ResolveEndpoints checks that iface has bulk endpoints at the four token
// addresses and returns their max packet sizes indexed by role.
func ResolveEndpoints(iface *Interface) ([4]int, error) {
	var sizes [4]int
	var found [4]bool
	for _, ep := range iface.Endpoints {
		role, ok := RoleForAddress(ep.Address)
		if !ok {
			continue
		}
		if !ep.IsBulk() {
			return sizes, fmt.Errorf("%w: endpoint 0x%02x is not bulk", ErrEndpointMismatch, ep.Address)
		}
		sizes[role] = int(ep.MaxPacketSize)
		found[role] = true
	}
	for _, r := range Roles() {
		if !found[r] {
			return sizes, fmt.Errorf("%w: missing %s (0x%02x) on interface %d",
				ErrEndpointMismatch, r, r.Address(), iface.Number)
		}
	}
	return sizes, nil
}
