//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbcrypt/pkg"
)

// EventKind says whether a device arrived or left.
type EventKind uint8

// Hotplug event kinds.
const (
	EventAttached EventKind = iota + 1
	EventDetached
)

func (k EventKind) String() string {
	switch k {
	case EventAttached:
		return "attached"
	case EventDetached:
		return "detached"
	}
	return "unknown"
}

// Event reports a USB device arriving or leaving. Detached devices are
// gone from sysfs, so their Info carries only what the kernel announced.
type Event struct {
	Kind EventKind
	Info DeviceInfo
}

// ueventBufferSize is the largest kernel uevent message.
const ueventBufferSize = 4096

// pollInterval bounds how long Watch waits before rechecking its context.
const pollInterval = 200 // milliseconds

// uevent is a parsed kernel uevent message.
type uevent struct {
	action    string
	devpath   string
	subsystem string
	devtype   string
	busnum    string
	devnum    string
	product   string // PRODUCT=vid/pid/bcd in hex
}

// Watch reports USB devices arriving and leaving until ctx is done. The
// channel is closed when watching stops.
func Watch(ctx context.Context, sysfsRoot, devfsRoot string) (<-chan Event, error) {
	if sysfsRoot == "" {
		sysfsRoot = SysfsUSBPath
	}
	if devfsRoot == "" {
		devfsRoot = DevfsUSBPath
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("uevent socket: %w", err)
	}
	// group 1 is the kernel broadcast group
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind uevent socket: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		defer unix.Close(fd)

		buf := make([]byte, ueventBufferSize)
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		for ctx.Err() == nil {
			n, err := unix.Poll(fds, pollInterval)
			if err != nil && !errors.Is(err, unix.EINTR) {
				pkg.LogWarn(pkg.ComponentTransport, "uevent poll failed", "error", err)
				return
			}
			if n == 0 {
				continue
			}
			m, err := unix.Read(fd, buf)
			if err != nil {
				if errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
					continue
				}
				pkg.LogWarn(pkg.ComponentTransport, "uevent read failed", "error", err)
				return
			}
			evt, ok := eventFromUEvent(buf[:m], sysfsRoot, devfsRoot)
			if !ok {
				continue
			}
			pkg.LogDebug(pkg.ComponentTransport, "hotplug",
				"event", evt.Kind.String(), "path", evt.Info.SysfsPath)
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// eventFromUEvent converts a kernel message about a whole USB device into
// an Event. Interface and non-USB messages are ignored.
func eventFromUEvent(data []byte, sysfsRoot, devfsRoot string) (Event, bool) {
	u := parseUEvent(data)
	if u.subsystem != "usb" || u.devtype != "usb_device" {
		return Event{}, false
	}
	sysfsPath := filepath.Join(sysfsRoot, filepath.Base(u.devpath))

	switch u.action {
	case "add":
		info, err := parseDevice(sysfsPath, devfsRoot)
		if err != nil {
			// attributes not populated yet; fall back to the message
			info = u.info(sysfsPath, devfsRoot)
		}
		return Event{Kind: EventAttached, Info: info}, true
	case "remove":
		return Event{Kind: EventDetached, Info: u.info(sysfsPath, devfsRoot)}, true
	}
	return Event{}, false
}

// info builds a DeviceInfo from the fields of the message itself.
func (u uevent) info(sysfsPath, devfsRoot string) DeviceInfo {
	info := DeviceInfo{SysfsPath: sysfsPath}
	bus, berr := strconv.ParseUint(u.busnum, 10, 8)
	dev, derr := strconv.ParseUint(u.devnum, 10, 8)
	if berr == nil && derr == nil {
		info.Bus, info.Device = uint8(bus), uint8(dev)
		info.DevfsPath = devfsPath(devfsRoot, info.Bus, info.Device)
	}
	if parts := strings.Split(u.product, "/"); len(parts) >= 2 {
		if vid, err := strconv.ParseUint(parts[0], 16, 16); err == nil {
			info.VendorID = uint16(vid)
		}
		if pid, err := strconv.ParseUint(parts[1], 16, 16); err == nil {
			info.ProductID = uint16(pid)
		}
	}
	return info
}

// parseUEvent splits a NUL-separated uevent: an "action@devpath" header
// followed by KEY=value pairs.
func parseUEvent(data []byte) uevent {
	var u uevent
	for _, field := range bytes.Split(data, []byte{0}) {
		if len(field) == 0 {
			continue
		}
		key, value, ok := strings.Cut(string(field), "=")
		if !ok {
			if action, devpath, ok := strings.Cut(key, "@"); ok {
				u.action, u.devpath = action, devpath
			}
			continue
		}
		switch key {
		case "ACTION":
			u.action = value
		case "DEVPATH":
			u.devpath = value
		case "SUBSYSTEM":
			u.subsystem = value
		case "DEVTYPE":
			u.devtype = value
		case "BUSNUM":
			u.busnum = value
		case "DEVNUM":
			u.devnum = value
		case "PRODUCT":
			u.product = value
		}
	}
	return u
}
