//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ardnew/usbcrypt/transport"
)

// Default filesystem roots.
const (
	SysfsUSBPath = "/sys/bus/usb/devices"
	DevfsUSBPath = "/dev/bus/usb"
)

// DeviceInfo describes a USB device discovered via sysfs.
type DeviceInfo struct {
	SysfsPath    string `json:"sysfs_path" yaml:"sysfs_path"`
	DevfsPath    string `json:"devfs_path" yaml:"devfs_path"`
	Bus          uint8  `json:"bus" yaml:"bus"`
	Device       uint8  `json:"device" yaml:"device"`
	VendorID     uint16 `json:"vendor_id" yaml:"vendor_id"`
	ProductID    uint16 `json:"product_id" yaml:"product_id"`
	Serial       string `json:"serial,omitempty" yaml:"serial,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
	Product      string `json:"product,omitempty" yaml:"product,omitempty"`
	Speed        string `json:"speed,omitempty" yaml:"speed,omitempty"`
}

// Matches reports whether the device has the given identity. An empty
// serial matches any device.
func (d DeviceInfo) Matches(vid, pid uint16, serial string) bool {
	return d.VendorID == vid && d.ProductID == pid && (serial == "" || d.Serial == serial)
}

// Scan lists USB devices under sysfsRoot, naming device nodes under
// devfsRoot. Devices whose attributes cannot be read are skipped.
func Scan(sysfsRoot, devfsRoot string) ([]DeviceInfo, error) {
	entries, err := os.ReadDir(sysfsRoot)
	if err != nil {
		return nil, err
	}

	var devices []DeviceInfo
	for _, entry := range entries {
		name := entry.Name()
		// Root hubs are "usbN"; interfaces are "1-1:1.0".
		if strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
			continue
		}
		info, err := parseDevice(filepath.Join(sysfsRoot, name), devfsRoot)
		if err != nil {
			continue
		}
		devices = append(devices, info)
	}
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Bus != devices[j].Bus {
			return devices[i].Bus < devices[j].Bus
		}
		return devices[i].Device < devices[j].Device
	})
	return devices, nil
}

func parseDevice(sysfsPath, devfsRoot string) (DeviceInfo, error) {
	info := DeviceInfo{SysfsPath: sysfsPath}

	bus, err := readDec8(filepath.Join(sysfsPath, "busnum"))
	if err != nil {
		return info, err
	}
	dev, err := readDec8(filepath.Join(sysfsPath, "devnum"))
	if err != nil {
		return info, err
	}
	info.Bus, info.Device = bus, dev
	info.DevfsPath = devfsPath(devfsRoot, bus, dev)

	if info.VendorID, err = readHex16(filepath.Join(sysfsPath, "idVendor")); err != nil {
		return info, err
	}
	if info.ProductID, err = readHex16(filepath.Join(sysfsPath, "idProduct")); err != nil {
		return info, err
	}

	info.Serial, _ = readString(filepath.Join(sysfsPath, "serial"))
	info.Manufacturer, _ = readString(filepath.Join(sysfsPath, "manufacturer"))
	info.Product, _ = readString(filepath.Join(sysfsPath, "product"))
	info.Speed, _ = readString(filepath.Join(sysfsPath, "speed"))
	return info, nil
}

// ReadDescriptors parses the raw "descriptors" attribute of a device: the
// device descriptor followed by the active configuration.
func ReadDescriptors(sysfsPath string) (*transport.Descriptors, error) {
	data, err := os.ReadFile(filepath.Join(sysfsPath, "descriptors"))
	if err != nil {
		return nil, err
	}
	return transport.ParseDescriptors(data)
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readDec8(path string) (uint8, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return uint8(v), nil
}

func readHex16(path string) (uint16, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return uint16(v), nil
}

// devfsPath builds <root>/BBB/DDD with zero-padded bus and device numbers.
func devfsPath(root string, bus, dev uint8) string {
	return fmt.Sprintf("%s/%03d/%03d", root, bus, dev)
}
