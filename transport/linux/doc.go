//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

// Package linux implements the token transport on Linux using usbfs.
//
// Devices are discovered through sysfs (/sys/bus/usb/devices/), the
// endpoint layout is checked against the raw "descriptors" attribute, and
// transfers are synchronous USBDEVFS_BULK ioctls on the /dev/bus/usb/
// node. It is pure Go with no cgo dependencies.
//
// # Requirements
//
// The user needs read/write access to the device node, either as root or
// through a udev rule such as:
//
//	SUBSYSTEM=="usb", ATTR{idVendor}=="0483", ATTR{idProduct}=="5740", MODE="0660", GROUP="plugdev"
//
// # Errors
//
// ETIMEDOUT and EAGAIN map to [pkg.ErrTimeout], EPIPE to [pkg.ErrStall]
// after the halt is cleared, and ENODEV to [pkg.ErrNoDevice]. The original
// errno stays in the error chain.
package linux
