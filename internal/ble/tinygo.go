package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinyGoAdapter wraps tinygo-org/bluetooth. On Linux it drives BlueZ over
// D-Bus and addresses are MAC addresses; on macOS addresses are CoreBluetooth
// UUIDs. Either form is accepted wherever an address is expected.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinyGoConnection // keyed by normalized address
}

// NewTinyGoAdapter creates a BLE adapter on the host's default controller.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
}

func addressKey(a bluetooth.Address) string {
	return strings.ToLower(a.String())
}

func (a *TinyGoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops; route it to the matching connection.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		key := addressKey(device.Address)
		a.mu.Lock()
		conn, ok := a.connections[key]
		if ok {
			delete(a.connections, key)
		}
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	var (
		filter    bluetooth.UUID
		hasFilter bool
	)
	if serviceUUID != "" {
		uuid, err := bluetooth.ParseUUID(serviceUUID)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID: %w", err)
		}
		filter, hasFilter = uuid, true
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if hasFilter && !result.HasServiceUUID(filter) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		devices = append(devices, Device{
			Name:    result.LocalName(),
			Address: addr,
			RSSI:    int(result.RSSI),
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", NormalizeError(err))
	}
	return devices, nil
}

func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	// tinygo/bluetooth's Connect blocks with its own timeout; wrap it so ctx
	// cancellation returns immediately.
	ch := make(chan dialResult[bluetooth.Device], 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- dialResult[bluetooth.Device]{device, err}
	}()

	device, err := awaitDial(ctx, ch, func(d bluetooth.Device) { _ = d.Disconnect() })
	if err != nil {
		if ctx.Err() == nil {
			err = NormalizeError(err)
		}
		return nil, fmt.Errorf("ble: connect to %s: %w", address, err)
	}
	conn := &tinyGoConnection{device: device}

	a.mu.Lock()
	a.connections[addressKey(addr)] = conn
	a.mu.Unlock()

	return conn, nil
}

type dialResult[D any] struct {
	value D
	err   error
}

// awaitDial waits for a dial running in the background. If ctx ends first,
// a connection that completes later is handed to release.
func awaitDial[D any](ctx context.Context, ch <-chan dialResult[D], release func(D)) (D, error) {
	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				release(r.value)
			}
		}()
		var zero D
		return zero, ctx.Err()
	}
}

var _ Adapter = (*TinyGoAdapter)(nil)

type tinyGoConnection struct {
	device bluetooth.Device

	mu           sync.Mutex
	disconnectCb func()
	services     map[string]bluetooth.DeviceService
}

func (c *tinyGoConnection) service(serviceUUID string) (bluetooth.DeviceService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[serviceUUID]; ok {
		return svc, nil
	}

	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return bluetooth.DeviceService{}, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{uuid})
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	if c.services == nil {
		c.services = make(map[string]bluetooth.DeviceService)
	}
	c.services[serviceUUID] = svcs[0]
	return svcs[0], nil
}

func (c *tinyGoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svc, err := c.service(serviceUUID)
	if err != nil {
		return nil, err
	}
	uuid, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{uuid})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return newTinyGoCharacteristic(chars[0]), nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinyGoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// maxValueLen is the largest attribute value the ATT protocol allows.
const maxValueLen = 512

type tinyGoCharacteristic struct {
	char  bluetooth.DeviceCharacteristic
	write func([]byte) (int, error)
}

func newTinyGoCharacteristic(char bluetooth.DeviceCharacteristic) *tinyGoCharacteristic {
	return &tinyGoCharacteristic{char: char, write: writeFunc(char)}
}

// Write sends one frame. The write mode is fixed per platform; a failed
// write is reported, not retried in another mode.
func (c *tinyGoCharacteristic) Write(data []byte) error {
	if _, err := c.write(data); err != nil {
		return fmt.Errorf("ble: write: %w", err)
	}
	return nil
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, maxValueLen)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("ble: read: %w", err)
	}
	return buf[:n], nil
}
