package ble

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

const testAddress = "AA:BB:CC:DD:EE:FF"

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastOptions() Options {
	return Options{
		ConnectTimeout:   time.Second,
		CommandTimeout:   2 * time.Second,
		ImmediateRetries: 2,
		AuthFailureLimit: 2,
		BackoffMin:       5 * time.Millisecond,
		BackoffMax:       40 * time.Millisecond,
	}
}

func newTestManager(t *testing.T, a *mockAdapter, opts Options) *Manager {
	t.Helper()
	m := NewManager(a, testAddress, opts, quietLogger())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func connectedManager(t *testing.T, opts Options) (*Manager, *mockAdapter) {
	t.Helper()
	a := newMockAdapter(nil)
	m := newTestManager(t, a, opts)
	require.NoError(t, m.Connect(context.Background()))
	require.Equal(t, StateConnected, m.State())
	return m, a
}

// recorder collects state changes delivered to an observer.
type recorder struct {
	mu      sync.Mutex
	changes []StateChange
}

func (r *recorder) add(c StateChange) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.To)
	}
	return out
}

func TestConnectReachesConnected(t *testing.T) {
	a := newMockAdapter(nil)
	m := newTestManager(t, a, fastOptions())
	rec := &recorder{}
	m.Observe(rec.add)

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 1, a.connectCount())
	assert.NoError(t, m.LastError())

	require.Eventually(t, func() bool { return len(rec.states()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.states())

	// Already connected: no second dial.
	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, 1, a.connectCount())
}

func TestConnectWithoutAddress(t *testing.T) {
	m := NewManager(newMockAdapter(nil), "", fastOptions(), quietLogger())
	defer m.Close()

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestConnectMissingMainCharacteristic(t *testing.T) {
	a := newMockAdapter(nil)
	delete(a.chars, protocol.MainCharUUID)
	opts := fastOptions()
	opts.MaxRetries = 1
	m := newTestManager(t, a, opts)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, ErrCharacteristicMissing)
}

func TestSubmitNotConnected(t *testing.T) {
	a := newMockAdapter(nil)
	m := newTestManager(t, a, fastOptions())

	_, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsTransient(err))
	assert.Empty(t, a.char(protocol.MainCharUUID).Writes())
}

func TestSubmitWritesFrame(t *testing.T) {
	m, a := connectedManager(t, fastOptions())

	resp, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.NoError(t, err)
	assert.Equal(t, protocol.TagAck, resp.Tag())
	assert.Equal(t, [][]byte{{protocol.OpUpdateData}}, a.char(protocol.MainCharUUID).Writes())
	assert.Equal(t, 0, m.InFlight())
}

func TestSubmitReadsBattery(t *testing.T) {
	m, _ := connectedManager(t, fastOptions())

	resp, err := m.Submit(context.Background(), protocol.NewBatteryRead())
	require.NoError(t, err)
	assert.Equal(t, protocol.TagBattery, resp.Tag())

	level, err := protocol.DecodeBattery(resp.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 77, level)
}

func TestSubmitMissingCharacteristicKeepsLink(t *testing.T) {
	m, _ := connectedManager(t, fastOptions())

	_, err := m.Submit(context.Background(), protocol.NewDeviceInfoReads()[0])
	require.ErrorIs(t, err, ErrCharacteristicMissing)
	assert.Equal(t, StateConnected, m.State())
}

func TestSubmitPreservesOrder(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	main := a.char(protocol.MainCharUUID)

	block := make(chan struct{})
	main.setBlock(block)

	next, _, err := protocol.EncodeSceneControl(protocol.SceneNext, nil)
	require.NoError(t, err)
	frames := []protocol.Frame{
		protocol.NewBrightnessScene(true),
		protocol.NewBrightnessScene(false),
		protocol.NewUpdateData(),
		next,
	}

	var wg sync.WaitGroup
	errs := make([]error, len(frames))
	submit := func(i int) {
		defer wg.Done()
		_, errs[i] = m.Submit(context.Background(), frames[i])
	}

	wg.Add(1)
	go submit(0)
	require.Eventually(t, func() bool { return m.InFlight() == 1 }, time.Second, time.Millisecond)
	for i := 1; i < len(frames); i++ {
		wg.Add(1)
		go submit(i)
		want := i
		require.Eventually(t, func() bool { return m.QueueLen() == want }, time.Second, time.Millisecond)
	}

	close(block)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	want := make([][]byte, len(frames))
	for i, f := range frames {
		want[i] = f.Bytes()
	}
	assert.Equal(t, want, main.Writes())
}

func TestSubmitNeverOverlaps(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	main := a.char(protocol.MainCharUUID)
	main.delay = time.Millisecond

	stop := make(chan struct{})
	var peak int
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if n := m.InFlight(); n > peak {
				peak = n
			}
		}
	}()

	const workers, perWorker = 8, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := m.Submit(context.Background(), protocol.NewUpdateData())
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-sampled

	assert.Len(t, main.Writes(), workers*perWorker)
	assert.Equal(t, int32(1), main.maxActive.Load())
	assert.LessOrEqual(t, peak, 1)
}

func TestCancelQueuedCommand(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	main := a.char(protocol.MainCharUUID)

	block := make(chan struct{})
	main.setBlock(block)

	firstDone := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), protocol.NewBrightnessScene(true))
		firstDone <- err
	}()
	require.Eventually(t, func() bool { return m.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	queuedDone := make(chan error, 1)
	go func() {
		_, err := m.Submit(ctx, protocol.NewUpdateData())
		queuedDone <- err
	}()
	require.Eventually(t, func() bool { return m.QueueLen() == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-queuedDone, context.Canceled)
	assert.Equal(t, 0, m.QueueLen())

	close(block)
	require.NoError(t, <-firstDone)
	assert.Equal(t, [][]byte{{protocol.OpBrightnessSceneStart}}, main.Writes())

	// The slot is free again.
	_, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.NoError(t, err)
}

func TestSlotGrantedAfterCancelIsPassedOn(t *testing.T) {
	m, _ := connectedManager(t, fastOptions())
	m.mu.Lock()
	m.busy = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.acquire(ctx) }()
	require.Eventually(t, func() bool { return m.QueueLen() == 1 }, time.Second, time.Millisecond)

	// Grant and cancel together so the waiter sees both.
	m.mu.Lock()
	cancel()
	m.releaseLocked()
	m.mu.Unlock()

	assert.ErrorIs(t, <-done, context.Canceled)
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.False(t, m.busy)
	assert.Empty(t, m.queue)
}

func TestCommandTimeoutResetsLink(t *testing.T) {
	opts := fastOptions()
	opts.CommandTimeout = 100 * time.Millisecond
	m, a := connectedManager(t, opts)
	main := a.char(protocol.MainCharUUID)
	first := a.latestConnection()

	block := make(chan struct{})
	main.setBlock(block)
	t.Cleanup(func() { close(block) })

	start := time.Now()
	_, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.ErrorIs(t, err, ErrCommandTimeout)
	assert.True(t, IsTransient(err))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.True(t, first.isDisconnected())

	main.setBlock(nil)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	assert.NotSame(t, first, a.latestConnection())
}

func TestWriteFailureMarksLinkLost(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	main := a.char(protocol.MainCharUUID)

	main.mu.Lock()
	main.writeErr = errors.New("mock: att write failed")
	main.mu.Unlock()

	_, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.ErrorIs(t, err, ErrLinkLost)

	main.mu.Lock()
	main.writeErr = nil
	main.mu.Unlock()

	require.Eventually(t, func() bool { return m.State() == StateConnected }, 2*time.Second, 5*time.Millisecond)
	_, err = m.Submit(context.Background(), protocol.NewUpdateData())
	require.NoError(t, err)
}

func TestLinkLossFailsQueuedCommands(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	main := a.char(protocol.MainCharUUID)

	block := make(chan struct{})
	main.setBlock(block)

	go func() { _, _ = m.Submit(context.Background(), protocol.NewUpdateData()) }()
	require.Eventually(t, func() bool { return m.InFlight() == 1 }, time.Second, time.Millisecond)

	queuedDone := make(chan error, 1)
	go func() {
		_, err := m.Submit(context.Background(), protocol.NewBrightnessScene(true))
		queuedDone <- err
	}()
	require.Eventually(t, func() bool { return m.QueueLen() == 1 }, time.Second, time.Millisecond)

	a.latestConnection().SimulateDisconnect()

	select {
	case err := <-queuedDone:
		require.ErrorIs(t, err, ErrLinkLost)
	case <-time.After(time.Second):
		t.Fatal("queued command was not failed on link loss")
	}
	close(block)
}

func TestWaitConnected(t *testing.T) {
	a := newMockAdapter(nil)
	m := newTestManager(t, a, fastOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.WaitConnected(ctx)
	require.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- m.WaitConnected(context.Background()) }()
	require.NoError(t, m.Connect(context.Background()))
	require.NoError(t, <-done)
}

func TestKeepAliveReadsSettings(t *testing.T) {
	opts := fastOptions()
	opts.KeepAlive = 10 * time.Millisecond
	_, a := connectedManager(t, opts)
	main := a.char(protocol.MainCharUUID)

	require.Eventually(t, func() bool { return main.reads.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, main.Writes())
}

func TestKeepAliveStopsOnDisconnect(t *testing.T) {
	opts := fastOptions()
	opts.KeepAlive = 10 * time.Millisecond
	m, a := connectedManager(t, opts)
	main := a.char(protocol.MainCharUUID)

	require.Eventually(t, func() bool { return main.reads.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())
	time.Sleep(15 * time.Millisecond)
	before := main.reads.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, main.reads.Load())
}

func TestHandleDiscoveryAutoConnects(t *testing.T) {
	a := newMockAdapter(nil)
	opts := fastOptions()
	opts.AutoConnect = true
	m := newTestManager(t, a, opts)

	assert.False(t, m.HandleDiscovery(Device{Name: "Glance Clock", Address: "11:22:33:44:55:66"}))
	assert.Equal(t, 0, a.connectCount())

	assert.True(t, m.HandleDiscovery(Device{Name: "Glance Clock", Address: "aa:bb:cc:dd:ee:ff"}))
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, a.connectCount())
}

func TestHandleDiscoveryRequiresPairing(t *testing.T) {
	a := newMockAdapter(nil)
	opts := fastOptions()
	opts.AutoConnect = true
	opts.Pairing = mockPairing{paired: false}
	m := newTestManager(t, a, opts)

	assert.True(t, m.HandleDiscovery(Device{Name: "Glance Clock", Address: testAddress}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, a.connectCount())
	assert.Equal(t, StateDisconnected, m.State())
}

func TestHandleDiscoveryAdoptsAddress(t *testing.T) {
	a := newMockAdapter(nil)
	m := NewManager(a, "", fastOptions(), quietLogger())
	defer m.Close()

	assert.False(t, m.HandleDiscovery(Device{Name: "Headphones", Address: "11:11:11:11:11:11"}))
	assert.Empty(t, m.Address())

	assert.True(t, m.HandleDiscovery(Device{Name: "Glance Clock 2", Address: "22:22:22:22:22:22"}))
	assert.Equal(t, "22:22:22:22:22:22", m.Address())
	// AutoConnect is off.
	assert.Equal(t, StateDisconnected, m.State())

	require.NoError(t, m.Connect(context.Background()))
	assert.Equal(t, StateConnected, m.State())
}

func TestObserverCancel(t *testing.T) {
	a := newMockAdapter(nil)
	m := newTestManager(t, a, fastOptions())
	rec := &recorder{}
	cancel := m.Observe(rec.add)
	cancel()

	require.NoError(t, m.Connect(context.Background()))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.states())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "state(9)", State(9).String())
}
