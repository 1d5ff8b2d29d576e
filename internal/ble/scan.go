package ble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaz8081/sparkctl/internal/ble/adv"
)

// ServiceMatcher reports the first advertiser of a service. The match is
// delivered once on Found; later reports are ignored.
type ServiceMatcher struct {
	target  adv.ServiceUUID
	matched atomic.Bool
	found   chan Report
}

// NewServiceMatcher returns a matcher for advertisers of target.
func NewServiceMatcher(target adv.ServiceUUID) *ServiceMatcher {
	return &ServiceMatcher{
		target: target,
		found:  make(chan Report, 1),
	}
}

// HandleAdvertisement implements ScanHandler.
func (m *ServiceMatcher) HandleAdvertisement(r Report) {
	if m.matched.Load() {
		return
	}
	data := adv.Parse(r.Payload)
	if !data.IsAdvertisingService(m.target) {
		return
	}
	if !m.matched.CompareAndSwap(false, true) {
		return
	}
	if r.LocalName == "" {
		r.LocalName = data.LocalName()
	}
	m.found <- r
}

// Found yields the first matching report.
func (m *ServiceMatcher) Found() <-chan Report {
	return m.found
}

// Device is a peer seen advertising the target service.
type Device struct {
	Name        string
	Address     string
	AddressKind AddressKind
	RSSI        int16
}

// DeviceCollector gathers every distinct advertiser of a service.
type DeviceCollector struct {
	target adv.ServiceUUID

	mu      sync.Mutex
	index   map[string]int
	devices []Device
}

// NewDeviceCollector returns a collector for advertisers of target.
func NewDeviceCollector(target adv.ServiceUUID) *DeviceCollector {
	return &DeviceCollector{
		target: target,
		index:  make(map[string]int),
	}
}

// HandleAdvertisement implements ScanHandler.
func (c *DeviceCollector) HandleAdvertisement(r Report) {
	data := adv.Parse(r.Payload)
	if !data.IsAdvertisingService(c.target) {
		return
	}
	name := r.LocalName
	if name == "" {
		name = data.LocalName()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if i, ok := c.index[r.Address]; ok {
		c.devices[i].RSSI = r.RSSI
		if c.devices[i].Name == "" {
			c.devices[i].Name = name
		}
		return
	}
	c.index[r.Address] = len(c.devices)
	c.devices = append(c.devices, Device{
		Name:        name,
		Address:     r.Address,
		AddressKind: r.AddressKind,
		RSSI:        r.RSSI,
	})
}

// Devices returns the collected devices, strongest signal first.
func (c *DeviceCollector) Devices() []Device {
	c.mu.Lock()
	out := make([]Device, len(c.devices))
	copy(out, c.devices)
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].RSSI > out[j].RSSI })
	return out
}

// Compile-time interface satisfaction checks.
var (
	_ ScanHandler = (*ServiceMatcher)(nil)
	_ ScanHandler = (*DeviceCollector)(nil)
)

// ScanForDevices scans for timeout and returns every amp advertising
// ServiceUUID.
func ScanForDevices(ctx context.Context, adapter Adapter, params ScanParams, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := NewDeviceCollector(adv.UUID16(ServiceUUID))
	if err := adapter.Scan(ctx, params, collector); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return collector.Devices(), nil
}
