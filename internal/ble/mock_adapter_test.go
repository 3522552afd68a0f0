package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// mockCharacteristic records writes, serves reads and tracks how many
// operations run at once.
type mockCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	value    []byte
	writeErr error
	readErr  error
	delay    time.Duration
	block    chan struct{} // when non-nil, operations wait for it to close

	active    atomic.Int32
	maxActive atomic.Int32
	reads     atomic.Int32
}

func (c *mockCharacteristic) enter() func() {
	n := c.active.Add(1)
	for {
		cur := c.maxActive.Load()
		if n <= cur || c.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { c.active.Add(-1) }
}

func (c *mockCharacteristic) wait() {
	c.mu.Lock()
	block, delay := c.block, c.delay
	c.mu.Unlock()
	if block != nil {
		<-block
	}
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (c *mockCharacteristic) Write(data []byte) error {
	defer c.enter()()
	c.wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) Read() ([]byte, error) {
	defer c.enter()()
	c.wait()
	c.reads.Add(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	cp := make([]byte, len(c.value))
	copy(cp, c.value)
	return cp, nil
}

func (c *mockCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

func (c *mockCharacteristic) setBlock(ch chan struct{}) {
	c.mu.Lock()
	c.block = ch
	c.mu.Unlock()
}

// mockConnection simulates a BLE connection to the shared set of
// characteristics owned by its adapter.
type mockConnection struct {
	adapter *mockAdapter

	mu           sync.Mutex
	disconnectCb func()
	disconnected bool
}

func (c *mockConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	c.adapter.mu.Lock()
	defer c.adapter.mu.Unlock()
	ch, ok := c.adapter.chars[charUUID]
	if !ok {
		return nil, fmt.Errorf("mock: characteristic %s not found", charUUID)
	}
	return ch, nil
}

func (c *mockConnection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	return nil
}

func (c *mockConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// SimulateDisconnect triggers the disconnect callback.
func (c *mockConnection) SimulateDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.disconnected = true
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (c *mockConnection) isDisconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnected
}

// mockAdapter simulates the BLE adapter and one clock.
type mockAdapter struct {
	mu         sync.Mutex
	devices    []Device
	chars      map[string]*mockCharacteristic
	connection *mockConnection // most recent connection for test assertions
	connectErr error           // returned by Connect while set
	failures   int             // Connect calls left to fail with connectErr
	connects   int
}

func newMockAdapter(devices []Device) *mockAdapter {
	return &mockAdapter{
		devices: devices,
		chars: map[string]*mockCharacteristic{
			protocol.MainCharUUID:         {},
			protocol.BatteryLevelCharUUID: {value: []byte{77}},
		},
	}
}

func (a *mockAdapter) Enable() error { return nil }

func (a *mockAdapter) Scan(_ context.Context, _ string) ([]Device, error) {
	return a.devices, nil
}

func (a *mockAdapter) Connect(ctx context.Context, _ string) (Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.connectErr != nil && a.failures != 0 {
		if a.failures > 0 {
			a.failures--
		}
		return nil, a.connectErr
	}
	a.connection = &mockConnection{adapter: a}
	return a.connection, nil
}

// failConnects makes the next n Connect calls fail with err; n < 0 fails
// until cleared.
func (a *mockAdapter) failConnects(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = n
	a.connectErr = err
}

func (a *mockAdapter) connectCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// latestConnection returns the most recently created connection (thread-safe).
func (a *mockAdapter) latestConnection() *mockConnection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

func (a *mockAdapter) char(uuid string) *mockCharacteristic {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chars[uuid]
}

// mockPairing is a PairingStore with a fixed answer.
type mockPairing struct {
	paired bool
	err    error
}

func (p mockPairing) IsPaired(context.Context, string) (bool, error) { return p.paired, p.err }

var errRadio = errors.New("mock: radio timeout")

func TestMockAdapterImplementsInterface(t *testing.T) {
	var _ Adapter = (*mockAdapter)(nil)
	var _ Connection = (*mockConnection)(nil)
	var _ Characteristic = (*mockCharacteristic)(nil)
	var _ PairingStore = mockPairing{}
}
