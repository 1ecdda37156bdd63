package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbcrypt/pkg"
)

// Descriptor types walked by ParseDescriptors.
const (
	DescriptorTypeDevice        = 0x01
	DescriptorTypeConfiguration = 0x02
	DescriptorTypeInterface     = 0x04
	DescriptorTypeEndpoint      = 0x05
)

// Descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
)

// Endpoint attribute values.
const (
	EndpointTypeMask    = 0x03
	EndpointTypeBulk    = 0x02
	EndpointDirectionIn = 0x80
)

// DeviceDescriptor holds the fields of a device descriptor the driver uses.
type DeviceDescriptor struct {
	USBVersion        uint16
	DeviceClass       uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	NumConfigurations uint8
}

// ParseDeviceDescriptor parses a device descriptor from data.
func ParseDeviceDescriptor(data []byte) (DeviceDescriptor, error) {
	var d DeviceDescriptor
	if err := checkHeader(data, DeviceDescriptorSize, DescriptorTypeDevice); err != nil {
		return d, err
	}
	d.USBVersion = binary.LittleEndian.Uint16(data[2:])
	d.DeviceClass = data[4]
	d.MaxPacketSize0 = data[7]
	d.VendorID = binary.LittleEndian.Uint16(data[8:])
	d.ProductID = binary.LittleEndian.Uint16(data[10:])
	d.DeviceVersion = binary.LittleEndian.Uint16(data[12:])
	d.NumConfigurations = data[17]
	return d, nil
}

// EndpointDescriptor describes one endpoint of an interface.
type EndpointDescriptor struct {
	Address       uint8
	Attributes    uint8
	MaxPacketSize uint16
	Interval      uint8
}

// ParseEndpointDescriptor parses an endpoint descriptor from data.
func ParseEndpointDescriptor(data []byte) (EndpointDescriptor, error) {
	var e EndpointDescriptor
	if err := checkHeader(data, EndpointDescriptorSize, DescriptorTypeEndpoint); err != nil {
		return e, err
	}
	e.Address = data[2]
	e.Attributes = data[3]
	e.MaxPacketSize = binary.LittleEndian.Uint16(data[4:]) & 0x07FF
	e.Interval = data[6]
	return e, nil
}

// IsIn reports whether the endpoint moves data from the token to the host.
func (e EndpointDescriptor) IsIn() bool {
	return e.Address&EndpointDirectionIn != 0
}

// IsBulk reports whether the endpoint is a bulk endpoint.
func (e EndpointDescriptor) IsBulk() bool {
	return e.Attributes&EndpointTypeMask == EndpointTypeBulk
}

// Interface is one alternate setting of an interface with its endpoints.
type Interface struct {
	Number           uint8
	AlternateSetting uint8
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	Endpoints        []EndpointDescriptor
}

// Configuration is a parsed configuration descriptor tree.
type Configuration struct {
	Value      uint8
	Attributes uint8
	MaxPower   uint8
	Interfaces []Interface
}

// Interface returns the alternate setting 0 of interface num.
func (c *Configuration) Interface(num uint8) (*Interface, bool) {
	for i := range c.Interfaces {
		if c.Interfaces[i].Number == num && c.Interfaces[i].AlternateSetting == 0 {
			return &c.Interfaces[i], true
		}
	}
	return nil, false
}

// Descriptors is the device descriptor followed by its configurations, as
// found in sysfs "descriptors" files.
type Descriptors struct {
	Device         DeviceDescriptor
	Configurations []Configuration
}

// ParseDescriptors walks a raw descriptor blob. Class-specific descriptors
// are skipped.
func ParseDescriptors(data []byte) (*Descriptors, error) {
	dev, err := ParseDeviceDescriptor(data)
	if err != nil {
		return nil, err
	}
	out := &Descriptors{Device: dev}

	var cfg *Configuration
	var iface *Interface
	for off := int(data[0]); off < len(data); {
		if len(data)-off < 2 {
			return nil, fmt.Errorf("%w: trailing %d bytes at offset %d",
				pkg.ErrDescriptorTooShort, len(data)-off, off)
		}
		length := int(data[off])
		if length < 2 || off+length > len(data) {
			return nil, fmt.Errorf("%w: bLength %d at offset %d",
				pkg.ErrDescriptorTooShort, length, off)
		}
		d := data[off : off+length]

		switch d[1] {
		case DescriptorTypeConfiguration:
			if err := checkHeader(d, ConfigurationDescriptorSize, DescriptorTypeConfiguration); err != nil {
				return nil, err
			}
			out.Configurations = append(out.Configurations, Configuration{
				Value:      d[5],
				Attributes: d[7],
				MaxPower:   d[8],
			})
			cfg = &out.Configurations[len(out.Configurations)-1]
			iface = nil
		case DescriptorTypeInterface:
			if cfg == nil {
				return nil, fmt.Errorf("%w: interface before configuration", pkg.ErrDescriptorTypeMismatch)
			}
			if err := checkHeader(d, InterfaceDescriptorSize, DescriptorTypeInterface); err != nil {
				return nil, err
			}
			cfg.Interfaces = append(cfg.Interfaces, Interface{
				Number:           d[2],
				AlternateSetting: d[3],
				Class:            d[5],
				SubClass:         d[6],
				Protocol:         d[7],
			})
			iface = &cfg.Interfaces[len(cfg.Interfaces)-1]
		case DescriptorTypeEndpoint:
			if iface == nil {
				return nil, fmt.Errorf("%w: endpoint outside interface", pkg.ErrDescriptorTypeMismatch)
			}
			ep, err := ParseEndpointDescriptor(d)
			if err != nil {
				return nil, err
			}
			iface.Endpoints = append(iface.Endpoints, ep)
		}
		off += length
	}
	return out, nil
}

func checkHeader(data []byte, size int, typ uint8) error {
	if len(data) < size || int(data[0]) < size {
		return fmt.Errorf("%w: type 0x%02x needs %d bytes", pkg.ErrDescriptorTooShort, typ, size)
	}
	if data[1] != typ {
		return fmt.Errorf("%w: got 0x%02x, want 0x%02x", pkg.ErrDescriptorTypeMismatch, data[1], typ)
	}
	return nil
}
