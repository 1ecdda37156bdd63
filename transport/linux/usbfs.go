//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbcrypt/pkg"
)

// bulkTransfer matches struct usbdevfs_bulktransfer.
type bulkTransfer struct {
	endpoint uint32
	length   uint32
	timeout  uint32 // milliseconds, 0 waits forever
	data     uintptr
}

// ifaceIoctl matches struct usbdevfs_ioctl, used to pass driver
// connect/disconnect requests to a single interface.
type ifaceIoctl struct {
	ifno      int32
	ioctlCode int32
	data      uintptr
}

func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return int(r), errno
	}
	return int(r), nil
}

func openDevice(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func closeDevice(fd int) error {
	return unix.Close(fd)
}

// doBulkTransfer performs one synchronous bulk transfer. The direction is
// encoded in the endpoint address.
func doBulkTransfer(fd int, endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	bulk := bulkTransfer{
		endpoint: uint32(endpoint),
		length:   uint32(len(data)),
		timeout:  timeoutMillis(timeout),
	}
	if len(data) > 0 {
		bulk.data = uintptr(unsafe.Pointer(&data[0]))
	}
	return ioctlPtr(fd, ioctlBulk, unsafe.Pointer(&bulk))
}

// timeoutMillis converts a deadline to usbfs milliseconds. usbfs treats 0
// as "no timeout", so sub-millisecond values round up to 1.
func timeoutMillis(d time.Duration) uint32 {
	ms := d.Milliseconds()
	switch {
	case ms < 1:
		return 1
	case ms > int64(^uint32(0)):
		return ^uint32(0)
	}
	return uint32(ms)
}

func claimInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlPtr(fd, ioctlClaimInterface, unsafe.Pointer(&n))
	return err
}

func releaseInterface(fd int, iface uint8) error {
	n := uint32(iface)
	_, err := ioctlPtr(fd, ioctlReleaseInterface, unsafe.Pointer(&n))
	return err
}

// disconnectDriver detaches the kernel driver bound to iface. ENODATA
// means nothing was bound.
func disconnectDriver(fd int, iface uint8) error {
	req := ifaceIoctl{ifno: int32(iface), ioctlCode: int32(ioctlDisconnect)}
	_, err := ioctlPtr(fd, ioctlIoctl, unsafe.Pointer(&req))
	if errors.Is(err, unix.ENODATA) {
		return nil
	}
	return err
}

// connectDriver lets the kernel rebind its driver to iface.
func connectDriver(fd int, iface uint8) error {
	req := ifaceIoctl{ifno: int32(iface), ioctlCode: int32(ioctlConnect)}
	_, err := ioctlPtr(fd, ioctlIoctl, unsafe.Pointer(&req))
	return err
}

func clearHalt(fd int, endpoint uint8) error {
	ep := uint32(endpoint)
	_, err := ioctlPtr(fd, ioctlClearHalt, unsafe.Pointer(&ep))
	return err
}

// transferStatus classifies a usbfs errno.
func transferStatus(err error) pkg.TransferStatus {
	var errno unix.Errno
	if err == nil {
		return pkg.TransferStatusSuccess
	}
	if !errors.As(err, &errno) {
		return pkg.TransferStatusError
	}
	switch errno {
	case unix.ETIMEDOUT, unix.EAGAIN:
		return pkg.TransferStatusTimeout
	case unix.EPIPE:
		return pkg.TransferStatusStall
	case unix.ENODEV, unix.ENOENT:
		return pkg.TransferStatusNoDevice
	case unix.ESHUTDOWN, unix.EPROTO, unix.EILSEQ:
		return pkg.TransferStatusDisconnected
	default:
		return pkg.TransferStatusError
	}
}

// mapErrno converts a usbfs errno into the package sentinel errors while
// keeping the errno in the chain.
func mapErrno(op string, endpoint uint8, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EOVERFLOW) {
		return fmt.Errorf("%s ep 0x%02x: %w: %w", op, endpoint, pkg.ErrProtocol, err)
	}
	return fmt.Errorf("%s ep 0x%02x: %w: %w", op, endpoint, transferStatus(err).Error(), err)
}
