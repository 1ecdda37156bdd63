//go:build !linux || !(386 || amd64 || arm || arm64 || riscv64 || loong64)

package cli

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ardnew/usbcrypt/pkg"
	"github.com/ardnew/usbcrypt/pkg/config"
	"github.com/ardnew/usbcrypt/transport"
)

func openHardware(config.Device) (transport.Transport, error) {
	return nil, fmt.Errorf("%w: USB access on %s/%s (use --simulate)", pkg.ErrNotSupported, runtime.GOOS, runtime.GOARCH)
}

func listDevices(config.Device) ([]deviceRow, error) {
	return nil, fmt.Errorf("%w: device listing on %s/%s", pkg.ErrNotSupported, runtime.GOOS, runtime.GOARCH)
}

func watchDevices(context.Context, config.Device, func(eventRow)) error {
	return fmt.Errorf("%w: hotplug events on %s/%s", pkg.ErrNotSupported, runtime.GOOS, runtime.GOARCH)
}
