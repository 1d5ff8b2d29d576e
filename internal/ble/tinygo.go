package ble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/sparkctl/internal/ble/adv"
)

// ErrUnsupported is returned for operations the platform stack does not expose.
var ErrUnsupported = errors.New("ble: operation not supported by platform")

// TinyGoAdapter implements Adapter on tinygo.org/x/bluetooth (BlueZ on
// Linux, CoreBluetooth on macOS, WinRT on Windows).
// On macOS, device addresses are CoreBluetooth UUIDs, not MAC addresses.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects seen and connections.
	mu          sync.Mutex
	seen        map[string]bluetooth.Address // scanned addresses, keyed by String()
	connections map[string]*tinyGoConnection // keyed by device address
}

// NewTinyGoAdapter creates an adapter on the platform's default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		seen:        make(map[string]bluetooth.Address),
		connections: make(map[string]*tinyGoConnection),
	}
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler is the only disconnect signal tinygo offers;
	// route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

// Scan ignores params.Interval and params.Window; tinygo picks its own.
func (a *TinyGoAdapter) Scan(ctx context.Context, params ScanParams, h ScanHandler) error {
	slog.Debug("[BLE] scan params", "interval", params.Interval, "window", params.Window, "active", params.Active)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				slog.Debug("[BLE] stop scan", "error", err)
			}
		case <-done:
		}
	}()

	service := bluetooth.New16BitUUID(ServiceUUID)
	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		a.mu.Lock()
		a.seen[addr] = result.Address
		a.mu.Unlock()

		kind := AddressPublic
		if result.Address.IsRandom() {
			kind = AddressRandom
		}
		h.HandleAdvertisement(Report{
			Address:     addr,
			AddressKind: kind,
			RSSI:        result.RSSI,
			LocalName:   result.LocalName(),
			Payload:     advertisementBytes(result, service),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

// advertisementBytes returns the raw advertisement. Stacks that only expose
// parsed fields (BlueZ, CoreBluetooth) get a payload rebuilt from the fields
// the session looks at.
func advertisementBytes(result bluetooth.ScanResult, service bluetooth.UUID) []byte {
	if raw := result.Bytes(); len(raw) > 0 {
		return raw
	}
	var p []byte
	if result.HasServiceUUID(service) {
		p = adv.AppendUUID16List(p, ServiceUUID)
	}
	if name := result.LocalName(); name != "" {
		p = adv.AppendField(p, adv.TypeCompleteName, []byte(name))
	}
	return p
}

func (a *TinyGoAdapter) Connect(ctx context.Context, addr string, kind AddressKind, params ConnectionParams) (Connection, error) {
	a.mu.Lock()
	address, ok := a.seen[addr]
	a.mu.Unlock()
	if !ok {
		address.Set(addr)
		address.SetRandom(kind == AddressRandom)
	}

	cp := bluetooth.ConnectionParams{
		MinInterval: bluetooth.NewDuration(params.MinInterval),
		MaxInterval: bluetooth.NewDuration(params.MaxInterval),
		Timeout:     bluetooth.NewDuration(params.SupervisionTimeout),
	}
	if deadline, ok := ctx.Deadline(); ok {
		cp.ConnectionTimeout = bluetooth.NewDuration(time.Until(deadline))
	}
	if params.Latency != 0 {
		slog.Debug("[BLE] peripheral latency is negotiated by the platform", "requested", params.Latency)
	}

	// tinygo's Connect blocks with its own timeout; wrap it to respect ctx.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(address, cp)
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// The underlying Connect cannot be cancelled; drop a late success.
		go func() {
			if r := <-ch; r.err == nil {
				r.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", addr, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", addr, result.err)
		}
		conn := &tinyGoConnection{device: result.device}
		a.mu.Lock()
		a.connections[result.device.Address.String()] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

// Compile-time check that TinyGoAdapter implements Adapter.
var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	dropped      bool // link lost, possibly before OnDisconnect was called
}

func (c *tinyGoConnection) DiscoverService(uuid uint16) (Service, error) {
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{bluetooth.New16BitUUID(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service 0x%04X not found", uuid)
	}
	return &tinyGoService{svc: svcs[0]}, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

// OnDisconnect registers cb. If the link already dropped, cb runs at once.
func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	c.disconnectCb = cb
	dropped := c.dropped
	c.mu.Unlock()
	if dropped && cb != nil {
		cb()
	}
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	c.dropped = true
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoService struct {
	svc bluetooth.DeviceService
}

func (s *tinyGoService) DiscoverCharacteristic(uuid uint16) (Characteristic, error) {
	chars, err := s.svc.DiscoverCharacteristics([]bluetooth.UUID{bluetooth.New16BitUUID(uuid)})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic 0x%04X not found", uuid)
	}
	return &tinyGoCharacteristic{char: &chars[0]}, nil
}

// gattCharacteristic is the part of *bluetooth.DeviceCharacteristic the
// adapter uses.
type gattCharacteristic interface {
	WriteWithoutResponse(p []byte) (int, error)
	EnableNotifications(callback func(buf []byte)) error
}

var _ gattCharacteristic = (*bluetooth.DeviceCharacteristic)(nil)

type tinyGoCharacteristic struct {
	char gattCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// WriteDescriptor accepts only the notification-enable CCCD write: tinygo
// writes that descriptor itself inside EnableNotifications.
func (c *tinyGoCharacteristic) WriteDescriptor(uuid uint16, value []byte) error {
	if uuid == CCCDUUID && bytes.Equal(value, EnableNotifications()) {
		slog.Debug("[BLE] CCCD enable handled by subscribe")
		return nil
	}
	return fmt.Errorf("%w: write descriptor 0x%04X", ErrUnsupported, uuid)
}

// Subscribe enables notifications. On failure the half-made subscription is
// torn down: BlueZ keeps it otherwise and rejects every later attempt.
func (c *tinyGoCharacteristic) Subscribe(cb func([]byte)) error {
	err := c.char.EnableNotifications(cb)
	if err == nil {
		return nil
	}
	if rerr := c.char.EnableNotifications(nil); rerr != nil {
		slog.Debug("[BLE] reset notifications", "error", rerr)
	}
	return err
}
