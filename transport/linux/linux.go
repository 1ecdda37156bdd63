//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/transport"
)

// Options selects the token to open.
type Options struct {
	VendorID  uint16
	ProductID uint16
	Serial    string // empty matches any
	Interface uint8

	// Filesystem roots; empty uses SysfsUSBPath and DevfsUSBPath.
	SysfsRoot string
	DevfsRoot string
}

func (o *Options) roots() (string, string) {
	sys, dev := o.SysfsRoot, o.DevfsRoot
	if sys == "" {
		sys = SysfsUSBPath
	}
	if dev == "" {
		dev = DevfsUSBPath
	}
	return sys, dev
}

// Transport is a transport.Transport over a usbfs device node.
type Transport struct {
	mu        sync.RWMutex
	fd        int
	closed    bool
	info      DeviceInfo
	iface     uint8
	maxPacket [4]int
}

var _ transport.Transport = (*Transport)(nil)

// Find returns the first device matching opts.
func Find(opts Options) (DeviceInfo, error) {
	sys, dev := opts.roots()
	devices, err := Scan(sys, dev)
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("scan %s: %w", sys, err)
	}
	for _, d := range devices {
		if d.Matches(opts.VendorID, opts.ProductID, opts.Serial) {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("%w: %04x:%04x", pkg.ErrDeviceNotFound, opts.VendorID, opts.ProductID)
}

// Open finds the token, validates its endpoint layout, detaches any kernel
// driver from the interface and claims it.
func Open(opts Options) (*Transport, error) {
	info, err := Find(opts)
	if err != nil {
		return nil, err
	}

	desc, err := ReadDescriptors(info.SysfsPath)
	if err != nil {
		return nil, fmt.Errorf("read descriptors of %s: %w", info.SysfsPath, err)
	}
	if len(desc.Configurations) == 0 {
		return nil, fmt.Errorf("%s: %w: no active configuration", info.DevfsPath, pkg.ErrDeviceNotFound)
	}
	iface, ok := desc.Configurations[0].Interface(opts.Interface)
	if !ok {
		return nil, fmt.Errorf("%s: %w: no interface %d", info.DevfsPath, pkg.ErrDeviceNotFound, opts.Interface)
	}
	sizes, err := transport.ResolveEndpoints(iface)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", info.DevfsPath, err)
	}

	fd, err := openDevice(info.DevfsPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", info.DevfsPath, err)
	}
	if err := disconnectDriver(fd, opts.Interface); err != nil {
		pkg.LogWarn(pkg.ComponentTransport, "kernel driver detach failed",
			"device", info.DevfsPath, "interface", opts.Interface, "error", err)
	}
	if err := claimInterface(fd, opts.Interface); err != nil {
		closeDevice(fd)
		if errors.Is(err, unix.EBUSY) {
			return nil, fmt.Errorf("claim interface %d of %s: in use by another process: %w",
				opts.Interface, info.DevfsPath, err)
		}
		return nil, fmt.Errorf("claim interface %d of %s: %w", opts.Interface, info.DevfsPath, err)
	}

	t := &Transport{
		fd:        fd,
		info:      info,
		iface:     opts.Interface,
		maxPacket: sizes,
	}
	pkg.LogInfo(pkg.ComponentTransport, "token opened",
		"device", info.DevfsPath,
		"id", fmt.Sprintf("%04x:%04x", info.VendorID, info.ProductID),
		"interface", opts.Interface)
	return t, nil
}

// Info returns the sysfs description of the opened device.
func (t *Transport) Info() DeviceInfo {
	return t.info
}

// Write implements transport.Transport.
func (t *Transport) Write(ctx context.Context, role transport.Role, data []byte, timeout time.Duration) (int, error) {
	if !role.Valid() || !role.IsWrite() {
		return 0, fmt.Errorf("%w: write to %s", pkg.ErrInvalidEndpoint, role)
	}
	return t.transfer(ctx, role, data, timeout)
}

// Read implements transport.Transport.
func (t *Transport) Read(ctx context.Context, role transport.Role, buf []byte, timeout time.Duration) (int, error) {
	if !role.Valid() || role.IsWrite() {
		return 0, fmt.Errorf("%w: read from %s", pkg.ErrInvalidEndpoint, role)
	}
	return t.transfer(ctx, role, buf, timeout)
}

func (t *Transport) transfer(ctx context.Context, role transport.Role, data []byte, timeout time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return 0, pkg.ErrClosed
	}

	ep := role.Address()
	n, err := doBulkTransfer(t.fd, ep, data, timeout)
	if err == nil {
		return n, nil
	}
	if errors.Is(err, unix.EPIPE) {
		if cerr := clearHalt(t.fd, ep); cerr != nil {
			pkg.LogWarn(pkg.ComponentTransport, "clear halt failed", "endpoint", fmt.Sprintf("0x%02x", ep), "error", cerr)
		}
	}
	return 0, mapErrno(role.String(), ep, err)
}

// MaxPacketSize implements transport.Transport.
func (t *Transport) MaxPacketSize(role transport.Role) int {
	if !role.Valid() {
		return 0
	}
	return t.maxPacket[role]
}

// Close releases the interface, hands it back to the kernel driver and
// closes the device node.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	if err := releaseInterface(t.fd, t.iface); err != nil {
		pkg.LogDebug(pkg.ComponentTransport, "release interface failed", "error", err)
	}
	if err := connectDriver(t.fd, t.iface); err != nil {
		pkg.LogDebug(pkg.ComponentTransport, "kernel driver reattach failed", "error", err)
	}
	pkg.LogInfo(pkg.ComponentTransport, "token closed", "device", t.info.DevfsPath)
	return closeDevice(t.fd)
}
