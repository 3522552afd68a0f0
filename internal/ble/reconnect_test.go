package ble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

func TestReconnectBackoff(t *testing.T) {
	delays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // capped
		30 * time.Second, // still capped
	}

	for i, want := range delays {
		got := backoffDelay(i, time.Second, 30*time.Second, 0, nil)
		assert.Equal(t, want, got, "attempt %d", i)
	}

	assert.Equal(t, 30*time.Second, backoffDelay(40, time.Second, 30*time.Second, 0, nil))
	assert.Equal(t, 30*time.Second, backoffDelay(1000, time.Second, 30*time.Second, 0, nil))
}

func TestReconnectBackoffJitter(t *testing.T) {
	lo, hi := time.Second, time.Minute
	fixed := func(v float64) func() float64 { return func() float64 { return v } }

	assert.Equal(t, 4*time.Second, backoffDelay(2, lo, hi, 0.2, fixed(0.5)))
	assert.Equal(t, 3200*time.Millisecond, backoffDelay(2, lo, hi, 0.2, fixed(0)))
	assert.Equal(t, 4800*time.Millisecond, backoffDelay(2, lo, hi, 0.2, fixed(1)))

	// Jitter never pushes past the ceiling.
	assert.Equal(t, hi, backoffDelay(10, lo, hi, 0.2, fixed(1)))
	assert.Equal(t, 48*time.Second, backoffDelay(10, lo, hi, 0.2, fixed(0)))
}

func TestLinkLossReconnectsWithoutDisconnected(t *testing.T) {
	opts := fastOptions()
	a := newMockAdapter(nil)
	m := newTestManager(t, a, opts)
	rec := &recorder{}
	m.Observe(rec.add)

	require.NoError(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(rec.states()) == 2 }, time.Second, time.Millisecond)
	first := a.latestConnection()

	lost := time.Now()
	first.SimulateDisconnect()

	require.Eventually(t, func() bool { return len(rec.states()) == 5 }, time.Second, time.Millisecond)
	elapsed := time.Since(lost)

	after := rec.states()[2:]
	assert.Equal(t, []State{StateReconnecting, StateConnecting, StateConnected}, after)
	assert.NotContains(t, after, StateDisconnected)
	assert.Less(t, elapsed, opts.BackoffMax+500*time.Millisecond)
	assert.Equal(t, 2, a.connectCount())
	assert.NotSame(t, first, a.latestConnection())

	_, err := m.Submit(context.Background(), protocol.NewUpdateData())
	require.NoError(t, err)
}

func TestStaleDisconnectIgnored(t *testing.T) {
	m, a := connectedManager(t, fastOptions())
	first := a.latestConnection()
	first.SimulateDisconnect()
	require.Eventually(t, func() bool { return a.connectCount() == 2 && m.State() == StateConnected }, time.Second, time.Millisecond)

	// A late callback from the dead link must not tear down the new one.
	first.SimulateDisconnect()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, 2, a.connectCount())
}

func TestConnectFailureFallsBackToReconnectLoop(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(3, errRadio)
	m := newTestManager(t, a, fastOptions())

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, err, errRadio)
	assert.False(t, IsFatal(err))

	// Two immediate attempts failed; the third fails in the loop and the
	// fourth succeeds.
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, time.Millisecond)
	assert.Equal(t, 4, a.connectCount())
}

func TestRetriesExhausted(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(-1, errRadio)
	opts := fastOptions()
	opts.MaxRetries = 3
	m := newTestManager(t, a, opts)

	require.Error(t, m.Connect(context.Background()))
	require.Eventually(t, func() bool { return m.State() == StateFailed }, 2*time.Second, time.Millisecond)

	err := m.LastError()
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.True(t, IsFatal(err))
	assert.Equal(t, opts.ImmediateRetries+opts.MaxRetries, a.connectCount())

	// Failed is sticky.
	assert.Equal(t, err, m.Connect(context.Background()))
	_, serr := m.Submit(context.Background(), protocol.NewUpdateData())
	assert.ErrorIs(t, serr, ErrNotConnected)
	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateFailed, m.State())

	require.NoError(t, m.Reset())
	assert.Equal(t, StateDisconnected, m.State())
	assert.NoError(t, m.LastError())

	a.failConnects(0, nil)
	require.NoError(t, m.Connect(context.Background()))
}

func TestAuthRejectionFails(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(-1, errors.New("org.bluez.Error.AuthenticationRejected"))
	opts := fastOptions()
	opts.ImmediateRetries = 5
	m := newTestManager(t, a, opts)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrAuthRejected)
	assert.True(t, IsFatal(err))
	assert.Equal(t, StateFailed, m.State())
	assert.Equal(t, opts.AuthFailureLimit, a.connectCount())
}

func TestUnpairedDeviceFails(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(-1, errRadio)
	opts := fastOptions()
	opts.Pairing = mockPairing{paired: false}
	m := newTestManager(t, a, opts)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrAuthRejected)
	assert.Equal(t, StateFailed, m.State())
}

func TestPairingLookupErrorIsTransient(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(2, errRadio)
	opts := fastOptions()
	opts.Pairing = mockPairing{err: errors.New("dbus unavailable")}
	m := newTestManager(t, a, opts)

	err := m.Connect(context.Background())
	require.ErrorIs(t, err, ErrNotConnected)
	require.Eventually(t, func() bool { return m.State() == StateConnected }, time.Second, time.Millisecond)
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	a := newMockAdapter(nil)
	a.failConnects(-1, errRadio)
	m := newTestManager(t, a, fastOptions())

	require.Error(t, m.Connect(context.Background()))
	require.NoError(t, m.Disconnect())
	assert.Equal(t, StateDisconnected, m.State())

	time.Sleep(20 * time.Millisecond)
	settled := a.connectCount()
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, settled, a.connectCount())
}

func TestResetRequiresFailed(t *testing.T) {
	m, _ := connectedManager(t, fastOptions())
	require.Error(t, m.Reset())
	assert.Equal(t, StateConnected, m.State())
}

func TestConnectCancelled(t *testing.T) {
	a := newMockAdapter(nil)
	m := newTestManager(t, a, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := m.Connect(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, a.connectCount())
}
