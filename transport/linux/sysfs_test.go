//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package linux

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/transport"
)

// =============================================================================
// Fake sysfs tree
// =============================================================================

func writeAttrs(t *testing.T, dir string, attrs map[string]string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, val := range attrs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(val+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

var tokenBlob = []byte{
	18, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
	0x83, 0x04, 0x40, 0x57, 0x00, 0x02, 1, 2, 3, 1,
	9, 0x02, 46, 0, 1, 1, 0, 0x80, 50,
	9, 0x04, 0, 0, 4, 0xff, 0, 0, 0,
	7, 0x05, 0x01, 0x02, 64, 0, 0,
	7, 0x05, 0x02, 0x02, 64, 0, 0,
	7, 0x05, 0x81, 0x02, 64, 0, 0,
	7, 0x05, 0x82, 0x02, 64, 0, 0,
}

func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeAttrs(t, filepath.Join(root, "usb1"), map[string]string{"busnum": "1", "devnum": "1"})
	writeAttrs(t, filepath.Join(root, "1-1"), map[string]string{
		"busnum": "1", "devnum": "7", "idVendor": "0483", "idProduct": "5740",
		"serial": "PF0001", "manufacturer": "Pitchfork", "product": "crypto token", "speed": "12",
	})
	if err := os.WriteFile(filepath.Join(root, "1-1", "descriptors"), tokenBlob, 0o644); err != nil {
		t.Fatal(err)
	}
	writeAttrs(t, filepath.Join(root, "1-1:1.0"), map[string]string{"bInterfaceNumber": "00"})
	writeAttrs(t, filepath.Join(root, "2-3"), map[string]string{
		"busnum": "2", "devnum": "12", "idVendor": "1d6b", "idProduct": "0002",
	})
	// missing devnum: skipped
	writeAttrs(t, filepath.Join(root, "2-4"), map[string]string{"busnum": "2", "idVendor": "ffff"})
	return root
}

// =============================================================================
// Scan / Find
// =============================================================================

func TestScan(t *testing.T) {
	root := fakeSysfs(t)
	devices, err := Scan(root, "/dev/bus/usb")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("Scan() found %d devices, want 2: %+v", len(devices), devices)
	}

	tok := devices[0]
	if tok.VendorID != 0x0483 || tok.ProductID != 0x5740 {
		t.Errorf("first device = %04x:%04x", tok.VendorID, tok.ProductID)
	}
	if tok.DevfsPath != "/dev/bus/usb/001/007" {
		t.Errorf("DevfsPath = %q", tok.DevfsPath)
	}
	if tok.Serial != "PF0001" || tok.Product != "crypto token" {
		t.Errorf("strings = %q %q", tok.Serial, tok.Product)
	}
	if devices[1].Bus != 2 || devices[1].Device != 12 {
		t.Errorf("second device = %d/%d", devices[1].Bus, devices[1].Device)
	}
}

func TestFind(t *testing.T) {
	root := fakeSysfs(t)

	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{"by id", Options{VendorID: 0x0483, ProductID: 0x5740}, nil},
		{"by serial", Options{VendorID: 0x0483, ProductID: 0x5740, Serial: "PF0001"}, nil},
		{"wrong serial", Options{VendorID: 0x0483, ProductID: 0x5740, Serial: "nope"}, pkg.ErrDeviceNotFound},
		{"absent", Options{VendorID: 0x1209, ProductID: 0xbeee}, pkg.ErrDeviceNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.SysfsRoot = root
			_, err := Find(tt.opts)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Find() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestReadDescriptors(t *testing.T) {
	root := fakeSysfs(t)
	desc, err := ReadDescriptors(filepath.Join(root, "1-1"))
	if err != nil {
		t.Fatalf("ReadDescriptors() error = %v", err)
	}
	iface, ok := desc.Configurations[0].Interface(0)
	if !ok {
		t.Fatal("interface 0 missing")
	}
	sizes, err := transport.ResolveEndpoints(iface)
	if err != nil {
		t.Fatalf("ResolveEndpoints() error = %v", err)
	}
	if sizes[transport.DataOut] != 64 {
		t.Errorf("data-out max packet = %d", sizes[transport.DataOut])
	}
}

func TestOpenMissingDevice(t *testing.T) {
	_, err := Open(Options{VendorID: 0x0483, ProductID: 0x5740, SysfsRoot: t.TempDir()})
	if !errors.Is(err, pkg.ErrDeviceNotFound) {
		t.Errorf("Open() error = %v, want ErrDeviceNotFound", err)
	}
}

// =============================================================================
// Errno mapping
// =============================================================================

func TestMapErrno(t *testing.T) {
	tests := []struct {
		errno     unix.Errno
		want      error
		transient bool
	}{
		{unix.ETIMEDOUT, pkg.ErrTimeout, true},
		{unix.EAGAIN, pkg.ErrTimeout, true},
		{unix.EPIPE, pkg.ErrStall, true},
		{unix.ENODEV, pkg.ErrNoDevice, false},
		{unix.ESHUTDOWN, pkg.ErrDisconnected, false},
		{unix.EOVERFLOW, pkg.ErrProtocol, false},
		{unix.EIO, pkg.ErrIO, false},
	}

	for _, tt := range tests {
		t.Run(tt.errno.Error(), func(t *testing.T) {
			err := mapErrno("data-out", 0x82, tt.errno)
			if !errors.Is(err, tt.want) {
				t.Errorf("mapErrno(%v) = %v, want %v", tt.errno, err, tt.want)
			}
			if !errors.Is(err, tt.errno) {
				t.Errorf("mapErrno(%v) lost the errno: %v", tt.errno, err)
			}
			if got := pkg.IsTransient(err); got != tt.transient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, got, tt.transient)
			}
		})
	}

	if mapErrno("x", 1, nil) != nil {
		t.Error("mapErrno(nil) != nil")
	}
}

func TestTimeoutMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want uint32
	}{
		{0, 1},
		{-time.Second, 1},
		{500 * time.Microsecond, 1},
		{10 * time.Millisecond, 10},
		{2 * time.Second, 2000},
	}
	for _, tt := range tests {
		if got := timeoutMillis(tt.in); got != tt.want {
			t.Errorf("timeoutMillis(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDevfsPath(t *testing.T) {
	tests := []struct {
		bus, dev uint8
		want     string
	}{
		{1, 1, "/dev/bus/usb/001/001"},
		{12, 34, "/dev/bus/usb/012/034"},
		{255, 255, "/dev/bus/usb/255/255"},
	}
	for _, tt := range tests {
		if got := devfsPath(DevfsUSBPath, tt.bus, tt.dev); got != tt.want {
			t.Errorf("devfsPath(%d, %d) = %q, want %q", tt.bus, tt.dev, got, tt.want)
		}
	}
}

func TestIoctlNumbers(t *testing.T) {
	// USBDEVFS_CLAIMINTERFACE is _IOR('U', 15, unsigned int) on every
	// supported architecture.
	if got := fmt.Sprintf("0x%08x", ioctlClaimInterface); got != "0x8004550f" {
		t.Errorf("ioctlClaimInterface = %s, want 0x8004550f", got)
	}
	if got := fmt.Sprintf("0x%08x", ioctlDisconnect); got != "0x00005516" {
		t.Errorf("ioctlDisconnect = %s, want 0x00005516", got)
	}
}
