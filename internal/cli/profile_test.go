//go:build !profile

package cli

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ardnew/usbcrypt/pkg/prof"
)

func TestProfileFlagsNeedProfileBuild(t *testing.T) {
	_, err := executeCommand(t, nil, "--cpuprofile", filepath.Join(t.TempDir(), "cpu.prof"), "version")
	if !errors.Is(err, prof.ErrNotEnabled) {
		t.Errorf("--cpuprofile error = %v, want %v", err, prof.ErrNotEnabled)
	}
}
