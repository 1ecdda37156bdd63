//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardnew/usbcrypt/pkg"
)

func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	devices := map[string]map[string]string{
		"1-1": {"busnum": "1", "devnum": "7", "idVendor": "0483", "idProduct": "5740", "serial": "PF0001"},
		"2-3": {"busnum": "2", "devnum": "12", "idVendor": "1d6b", "idProduct": "0002"},
	}
	for name, attrs := range devices {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for attr, val := range attrs {
			if err := os.WriteFile(filepath.Join(dir, attr), []byte(val+"\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func TestDevicesCommand(t *testing.T) {
	path := writeConfig(t, "device:\n  sysfs_root: "+fakeSysfs(t)+"\n")
	out, err := executeCommand(t, nil, "--config", path, "devices")
	if err != nil {
		t.Fatalf("devices failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("devices printed %d lines:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[1], "0483:5740") || !strings.HasSuffix(strings.TrimSpace(lines[1]), "*") {
		t.Errorf("token row = %q", lines[1])
	}
	if strings.HasSuffix(strings.TrimSpace(lines[2]), "*") {
		t.Errorf("hub marked as token: %q", lines[2])
	}

	// --vid/--pid move the marker
	out, err = executeCommand(t, nil, "--config", path, "--vid", "1d6b", "--pid", "0002", "-o", "json", "devices")
	if err != nil {
		t.Fatalf("devices --vid failed: %v", err)
	}
	if !strings.Contains(out, `"id": "1d6b:0002"`) || strings.Count(out, `"token": "*"`) != 1 {
		t.Errorf("devices json = %s", out)
	}
}

func TestHardwareTokenMissing(t *testing.T) {
	path := writeConfig(t, "device:\n  sysfs_root: "+t.TempDir()+"\n")
	_, err := executeCommand(t, []byte("m"), "--config", path, "sign")
	if !errors.Is(err, pkg.ErrDeviceNotFound) {
		t.Errorf("sign without a token error = %v, want ErrDeviceNotFound", err)
	}
}
