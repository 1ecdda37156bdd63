package protocol

import (
	"fmt"
	"strings"

	"github.com/ardnew/usbcrypt/pkg"
)

// Op is a logical token operation, independent of its wire encoding.
type Op int

// Token operations.
const (
	OpEncrypt Op = iota
	OpDecrypt
	OpSign
	OpVerify
	OpECDHStart
	OpECDHRespond
	OpECDHEnd
	OpRNGStart
	OpStop
	OpStorage
)

var opNames = [...]string{
	OpEncrypt:     "encrypt",
	OpDecrypt:     "decrypt",
	OpSign:        "sign",
	OpVerify:      "verify",
	OpECDHStart:   "ecdh-start",
	OpECDHRespond: "ecdh-respond",
	OpECDHEnd:     "ecdh-end",
	OpRNGStart:    "rng",
	OpStop:        "stop",
	OpStorage:     "storage",
}

// String returns the operation name used in logs and metrics.
func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Ops lists every operation in opcode order of the canonical table.
func Ops() []Op {
	return []Op{
		OpEncrypt, OpDecrypt, OpSign, OpVerify,
		OpECDHStart, OpECDHRespond, OpECDHEnd,
		OpRNGStart, OpStop, OpStorage,
	}
}

// Opcode is the single byte written to the control endpoint.
type Opcode byte

// Version selects an opcode table. Versions are configured, never
// negotiated with the token. The zero Version is unset; [Version.Resolve]
// maps it to [Default].
type Version int

// Known protocol versions.
const (
	// V0 is the table of early firmware without key exchange.
	V0 Version = iota + 1
	// V1 is the current table.
	V1
)

// Default is the version used when none is configured.
const Default = V1

// Resolve returns v, or Default when v is unset.
func (v Version) Resolve() Version {
	if v == 0 {
		return Default
	}
	return v
}

func (v Version) String() string {
	if v == 0 {
		return "unset"
	}
	return fmt.Sprintf("v%d", int(v-V0))
}

// ParseVersion accepts "v0", "v1", "0" or "1".
func ParseVersion(s string) (Version, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "v") {
	case "0":
		return V0, nil
	case "1", "":
		return V1, nil
	}
	return Default, fmt.Errorf("%w: protocol version %q", pkg.ErrInvalidParameter, s)
}

var tables = map[Version]map[Op]Opcode{
	V0: {
		OpEncrypt:  0,
		OpDecrypt:  1,
		OpSign:     2,
		OpVerify:   3,
		OpRNGStart: 4,
		OpStop:     5,
		OpStorage:  6,
	},
	V1: {
		OpEncrypt:     0,
		OpDecrypt:     1,
		OpSign:        2,
		OpVerify:      3,
		OpECDHStart:   4,
		OpECDHRespond: 5,
		OpECDHEnd:     6,
		OpRNGStart:    7,
		OpStop:        8,
		OpStorage:     9,
	},
}

// Opcode returns the wire byte for op under version v.
func (v Version) Opcode(op Op) (Opcode, error) {
	t, ok := tables[v]
	if !ok {
		return 0, fmt.Errorf("%w: protocol %s", pkg.ErrInvalidParameter, v)
	}
	code, ok := t[op]
	if !ok {
		return 0, fmt.Errorf("%w: %s under protocol %s", pkg.ErrNotSupported, op, v)
	}
	return code, nil
}

// Op decodes a wire byte under version v.
func (v Version) Op(code Opcode) (Op, bool) {
	for op, c := range tables[v] {
		if c == code {
			return op, true
		}
	}
	return 0, false
}

// Supports reports whether version v has an opcode for op.
func (v Version) Supports(op Op) bool {
	_, err := v.Opcode(op)
	return err == nil
}
