package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/swlink/internal/device"
)

// BLEProperty represents a single BLE characteristic property with its bit flag value and human-readable name.
type BLEProperty struct {
	value ble.Property
	name  string
}

// Value returns the bit flag value of the property.
func (p *BLEProperty) Value() int {
	return int(p.value)
}

// KnownName returns the human-readable name of the property.
func (p *BLEProperty) KnownName() string {
	return p.name
}

var knownProperties = []BLEProperty{
	{value: ble.CharBroadcast, name: "Broadcast"},
	{value: ble.CharRead, name: "Read"},
	{value: ble.CharWriteNR, name: "WriteWithoutResponse"},
	{value: ble.CharWrite, name: "Write"},
	{value: ble.CharNotify, name: "Notify"},
	{value: ble.CharIndicate, name: "Indicate"},
	{value: ble.CharSignedWrite, name: "AuthenticatedSignedWrites"},
	{value: ble.CharExtended, name: "ExtendedProperties"},
}

// BLEProperties implements device.Properties over ble.Property bit flags.
type BLEProperties struct {
	flags ble.Property
}

// NewProperties creates a Properties instance from ble.Property bit flags.
func NewProperties(p ble.Property) device.Properties {
	return &BLEProperties{flags: p}
}

func (p *BLEProperties) lookup(flag ble.Property) device.Property {
	if p.flags&flag == 0 {
		return nil
	}
	for i := range knownProperties {
		if knownProperties[i].value == flag {
			return &knownProperties[i]
		}
	}
	return nil
}

func (p *BLEProperties) Broadcast() device.Property            { return p.lookup(ble.CharBroadcast) }
func (p *BLEProperties) Read() device.Property                 { return p.lookup(ble.CharRead) }
func (p *BLEProperties) Write() device.Property                { return p.lookup(ble.CharWrite) }
func (p *BLEProperties) WriteWithoutResponse() device.Property { return p.lookup(ble.CharWriteNR) }
func (p *BLEProperties) Notify() device.Property               { return p.lookup(ble.CharNotify) }
func (p *BLEProperties) Indicate() device.Property             { return p.lookup(ble.CharIndicate) }
func (p *BLEProperties) AuthenticatedSignedWrites() device.Property {
	return p.lookup(ble.CharSignedWrite)
}
func (p *BLEProperties) ExtendedProperties() device.Property { return p.lookup(ble.CharExtended) }

// Names lists the human-readable names of all set flags in bit order.
func (p *BLEProperties) Names() []string {
	var names []string
	for _, kp := range knownProperties {
		if p.flags&kp.value != 0 {
			names = append(names, kp.name)
		}
	}
	return names
}
