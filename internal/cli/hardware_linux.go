//go:build linux && (386 || amd64 || arm || arm64 || riscv64 || loong64)

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ardnew/usbcrypt/pkg/config"
	"github.com/ardnew/usbcrypt/pkg/linux/usbid"
	"github.com/ardnew/usbcrypt/transport"
	"github.com/ardnew/usbcrypt/transport/linux"
)

func linuxOptions(dev config.Device) linux.Options {
	return linux.Options{
		VendorID:  uint16(dev.VendorID),
		ProductID: uint16(dev.ProductID),
		Serial:    dev.Serial,
		Interface: uint8(dev.Interface),
		SysfsRoot: dev.SysfsRoot,
		DevfsRoot: dev.DevfsRoot,
	}
}

func openHardware(dev config.Device) (transport.Transport, error) {
	return linux.Open(linuxOptions(dev))
}

func roots(dev config.Device) (string, string) {
	sys, devfs := dev.SysfsRoot, dev.DevfsRoot
	if sys == "" {
		sys = linux.SysfsUSBPath
	}
	if devfs == "" {
		devfs = linux.DevfsUSBPath
	}
	return sys, devfs
}

func newDeviceRow(db *usbid.Database, d linux.DeviceInfo, dev config.Device) deviceRow {
	name := db.Describe(d.VendorID, d.ProductID)
	if db.LookupProduct(d.VendorID, d.ProductID) == "" && d.Product != "" {
		name = strings.TrimSpace(d.Manufacturer + " " + d.Product)
	}
	row := deviceRow{
		Bus:    fmt.Sprintf("%03d", d.Bus),
		Device: fmt.Sprintf("%03d", d.Device),
		ID:     fmt.Sprintf("%04x:%04x", d.VendorID, d.ProductID),
		Name:   name,
		Serial: d.Serial,
	}
	if d.Matches(uint16(dev.VendorID), uint16(dev.ProductID), dev.Serial) {
		row.Token = "*"
	}
	return row
}

func listDevices(dev config.Device) ([]deviceRow, error) {
	sys, devfs := roots(dev)
	devices, err := linux.Scan(sys, devfs)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", sys, err)
	}

	db := usbid.New()
	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, newDeviceRow(db, d, dev))
	}
	return rows, nil
}

func watchDevices(ctx context.Context, dev config.Device, report func(eventRow)) error {
	sys, devfs := roots(dev)
	events, err := linux.Watch(ctx, sys, devfs)
	if err != nil {
		return err
	}
	db := usbid.New()
	for evt := range events {
		report(eventRow{Event: evt.Kind.String(), deviceRow: newDeviceRow(db, evt.Info, dev)})
	}
	return nil
}
