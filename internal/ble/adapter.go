// Package ble drives a BLE central session with a Spark-style amp: it scans
// for the amp's service, connects, subscribes to its notify characteristic
// and exchanges protocol blocks over the write characteristic.
package ble

import (
	"context"
	"fmt"
	"time"
)

// GATT surface of the amp.
const (
	ServiceUUID    uint16 = 0xFFC0
	WriteCharUUID  uint16 = 0xFFC1
	NotifyCharUUID uint16 = 0xFFC2
	CCCDUUID       uint16 = 0x2902
)

// EnableNotifications returns the client characteristic configuration value
// that turns notifications on.
func EnableNotifications() []byte {
	return []byte{0x01, 0x00}
}

// AddressKind distinguishes public from random device addresses.
type AddressKind uint8

const (
	AddressPublic AddressKind = iota
	AddressRandom
)

func (k AddressKind) String() string {
	if k == AddressRandom {
		return "random"
	}
	return "public"
}

// ParseAddressKind accepts "public" or "random".
func ParseAddressKind(s string) (AddressKind, error) {
	switch s {
	case "public":
		return AddressPublic, nil
	case "random":
		return AddressRandom, nil
	}
	return 0, fmt.Errorf("ble: unknown address kind %q", s)
}

// Report is one advertisement seen while scanning.
type Report struct {
	Address     string
	AddressKind AddressKind
	RSSI        int16
	LocalName   string
	Payload     []byte // raw AD structures
}

// ScanHandler receives advertisement reports. Adapters may call it from
// their own goroutine.
type ScanHandler interface {
	HandleAdvertisement(r Report)
}

// ScanParams configures an active or passive scan.
type ScanParams struct {
	Interval time.Duration
	Window   time.Duration
	Active   bool
}

// ConnectionParams are requested from the peer when connecting.
type ConnectionParams struct {
	MinInterval        time.Duration
	MaxInterval        time.Duration
	Latency            uint16
	SupervisionTimeout time.Duration
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic without waiting for a response.
	Write(data []byte) error
	// WriteDescriptor writes one of the characteristic's descriptors.
	WriteDescriptor(uuid uint16, value []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Service represents a discovered GATT service.
type Service interface {
	DiscoverCharacteristic(uuid uint16) (Characteristic, error)
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverService finds a primary service by its 16-bit UUID.
	DiscoverService(uuid uint16) (Service, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports advertisements to h until ctx is done. It returns nil
	// when stopped by ctx.
	Scan(ctx context.Context, params ScanParams, h ScanHandler) error
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, addr string, kind AddressKind, params ConnectionParams) (Connection, error)
}
