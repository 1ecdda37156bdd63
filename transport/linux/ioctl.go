//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import "unsafe"

// Generic ioctl number encoding shared by the architectures in the build
// constraint:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | typ<<iocTypeShift | nr<<iocNRShift | size<<iocSizeShift
}

func ior(typ, nr, size uintptr) uintptr  { return ioc(iocRead, typ, nr, size) }
func iowr(typ, nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }
func ion(typ, nr uintptr) uintptr        { return ioc(iocNone, typ, nr, 0) }

const usbdevfsType = 'U'

// usbdevfs command numbers from linux/usbdevice_fs.h.
const (
	nrBulk             = 2
	nrClaimInterface   = 15
	nrReleaseInterface = 16
	nrIoctl            = 18
	nrClearHalt        = 21
	nrDisconnect       = 22
	nrConnect          = 23
)

var sizeofUint32 = unsafe.Sizeof(uint32(0))

// Request numbers. Struct sizes follow the platform's pointer width.
var (
	ioctlBulk             = iowr(usbdevfsType, nrBulk, unsafe.Sizeof(bulkTransfer{}))
	ioctlClaimInterface   = ior(usbdevfsType, nrClaimInterface, sizeofUint32)
	ioctlReleaseInterface = ior(usbdevfsType, nrReleaseInterface, sizeofUint32)
	ioctlIoctl            = iowr(usbdevfsType, nrIoctl, unsafe.Sizeof(ifaceIoctl{}))
	ioctlClearHalt        = ior(usbdevfsType, nrClearHalt, sizeofUint32)
	ioctlDisconnect       = ion(usbdevfsType, nrDisconnect)
	ioctlConnect          = ion(usbdevfsType, nrConnect)
)
