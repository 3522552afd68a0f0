package ble

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/glancectl/internal/ble/protocol"
)

// State is the lifecycle state of the link to one device.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StateChange is delivered to observers on every transition.
type StateChange struct {
	Device string
	From   State
	To     State
	Err    error
	At     time.Time
}

// Options configures the Manager.
type Options struct {
	ConnectTimeout   time.Duration // bound on one link establishment attempt
	CommandTimeout   time.Duration // bound on one write or read
	ImmediateRetries int           // connect attempts before falling back to the reconnect loop
	MaxRetries       int           // reconnect attempts before Failed; 0 retries forever
	AuthFailureLimit int           // consecutive auth rejections before Failed
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	BackoffJitter    float64       // fraction of the delay, e.g. 0.2 for ±20%
	KeepAlive        time.Duration // settings read interval while connected; 0 disables
	AutoConnect      bool          // connect when the discovery feed reports the device
	Pairing          PairingStore  // optional bond lookup for auth failure detection
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:   20 * time.Second,
		CommandTimeout:   10 * time.Second,
		ImmediateRetries: 3,
		MaxRetries:       10,
		AuthFailureLimit: 2,
		BackoffMin:       2 * time.Second,
		BackoffMax:       5 * time.Minute,
		BackoffJitter:    0.2,
		KeepAlive:        60 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	d := DefaultOptions()
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.ImmediateRetries <= 0 {
		o.ImmediateRetries = 1
	}
	if o.AuthFailureLimit <= 0 {
		o.AuthFailureLimit = 1
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = d.BackoffMin
	}
	if o.BackoffMax < o.BackoffMin {
		o.BackoffMax = o.BackoffMin
	}
	if o.BackoffJitter < 0 || o.BackoffJitter >= 1 {
		o.BackoffJitter = 0
	}
}

// ticket is one queued Submit waiting for the link.
type ticket struct {
	ready   chan struct{}
	granted bool
	err     error
}

// Manager owns the GATT link to one clock. State transitions and the command
// queue share one mutex, so a reconnect never races a send.
type Manager struct {
	adapter Adapter
	opts    Options
	log     *logrus.Logger

	mu        sync.Mutex
	address   string
	state     State
	lastErr   error
	conn      Connection
	gen       uint64 // incremented every time a link is established or torn down
	chars     map[string]Characteristic
	busy      bool
	queue     []*ticket
	attempts  int
	authFails int
	loopStop  chan struct{}
	keepStop  chan struct{}
	changed   chan struct{}
	closed    bool

	observers   map[int]func(StateChange)
	nextObsID   int
	events      []StateChange
	eventSignal chan struct{}
	done        chan struct{}

	inFlight atomic.Int32
	jitter   func() float64
}

// NewManager creates a Manager for the device at address. The address may be
// empty, in which case the first clock reported by HandleDiscovery is
// adopted. If logger is nil a default logger is used.
func NewManager(adapter Adapter, address string, opts Options, logger *logrus.Logger) *Manager {
	opts.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	m := &Manager{
		adapter:     adapter,
		opts:        opts,
		log:         logger,
		address:     address,
		changed:     make(chan struct{}),
		observers:   make(map[int]func(StateChange)),
		eventSignal: make(chan struct{}, 1),
		done:        make(chan struct{}),
		jitter:      rand.Float64,
	}
	go m.dispatchEvents()
	return m
}

func (m *Manager) entry() *logrus.Entry {
	return m.log.WithField("device", m.Address())
}

// Address returns the device address, empty until one is known.
func (m *Manager) Address() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastError returns the error that caused the most recent failure
// transition, or nil.
func (m *Manager) LastError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// InFlight returns the number of frames currently being transmitted. It is
// never greater than one.
func (m *Manager) InFlight() int {
	return int(m.inFlight.Load())
}

// Observe registers fn for state changes. Callbacks run on a single
// goroutine in transition order. The returned func unregisters fn.
func (m *Manager) Observe(fn func(StateChange)) (cancel func()) {
	m.mu.Lock()
	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// setStateLocked records a transition and wakes waiters (caller must hold mu).
func (m *Manager) setStateLocked(to State, err error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if err != nil {
		m.lastErr = err
	}
	close(m.changed)
	m.changed = make(chan struct{})

	fields := logrus.Fields{"device": m.address, "from": from.String(), "to": to.String()}
	switch to {
	case StateReconnecting, StateFailed:
		m.log.WithFields(fields).WithError(err).Warn("ble: link state changed")
	default:
		m.log.WithFields(fields).Info("ble: link state changed")
	}

	m.events = append(m.events, StateChange{Device: m.address, From: from, To: to, Err: err, At: time.Now()})
	select {
	case m.eventSignal <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatchEvents() {
	for {
		select {
		case <-m.eventSignal:
			m.flushEvents()
		case <-m.done:
			m.flushEvents()
			return
		}
	}
}

func (m *Manager) flushEvents() {
	m.mu.Lock()
	events := m.events
	m.events = nil
	observers := make([]func(StateChange), 0, len(m.observers))
	for i := 0; i < m.nextObsID; i++ {
		if fn, ok := m.observers[i]; ok {
			observers = append(observers, fn)
		}
	}
	m.mu.Unlock()

	for _, ev := range events {
		for _, fn := range observers {
			fn(ev)
		}
	}
}

// Connect establishes the link. It makes up to ImmediateRetries attempts;
// if all fail the Manager moves to Reconnecting and keeps trying in the
// background, and Connect returns ErrNotConnected wrapping the last cause.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.closed:
		m.mu.Unlock()
		return connErr(ErrNotConnected, nil, "manager closed")
	case m.address == "":
		m.mu.Unlock()
		return connErr(ErrNotConnected, nil, "no device address")
	}
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting, StateReconnecting:
		m.mu.Unlock()
		return m.WaitConnected(ctx)
	case StateFailed:
		err := m.lastErr
		m.mu.Unlock()
		return err
	}
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	if err := m.adapter.Enable(); err != nil {
		m.mu.Lock()
		if m.state == StateConnecting {
			m.setStateLocked(StateDisconnected, err)
		}
		m.mu.Unlock()
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.ImmediateRetries; attempt++ {
		err := m.dial(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		m.entry().WithError(err).WithField("attempt", attempt).Warn("ble: connect attempt failed")

		if st := m.State(); st != StateConnecting {
			if st == StateFailed {
				return m.LastError()
			}
			return connErr(ErrNotConnected, err, "connect interrupted (%s)", st)
		}
		if ctx.Err() != nil {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnecting {
		return connErr(ErrNotConnected, lastErr, "connect interrupted (%s)", m.state)
	}
	if ctx.Err() != nil {
		m.setStateLocked(StateDisconnected, ctx.Err())
		return ctx.Err()
	}
	m.setStateLocked(StateReconnecting, lastErr)
	m.startReconnectLocked()
	return connErr(ErrNotConnected, lastErr, "connect to %s failed, retrying in background", m.address)
}

// dial makes one connection attempt. On success the Manager is Connected.
func (m *Manager) dial(ctx context.Context) error {
	address := m.Address()

	cctx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	conn, err := m.adapter.Connect(cctx, address)
	cancel()
	if err != nil {
		return m.connectFailed(ctx, address, NormalizeError(err))
	}

	main, err := conn.DiscoverCharacteristic(protocol.ServiceUUID, protocol.MainCharUUID)
	if err != nil {
		_ = conn.Disconnect()
		return connErr(ErrCharacteristicMissing, err, "main characteristic")
	}

	m.mu.Lock()
	if m.state != StateConnecting || m.closed {
		st := m.state
		m.mu.Unlock()
		_ = conn.Disconnect()
		return connErr(ErrNotConnected, nil, "connect abandoned (%s)", st)
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.chars = map[string]Characteristic{protocol.MainCharUUID: main}
	m.attempts = 0
	m.authFails = 0
	m.lastErr = nil
	m.setStateLocked(StateConnected, nil)
	m.startKeepAliveLocked(gen)
	m.mu.Unlock()

	conn.OnDisconnect(func() {
		m.handleLinkLoss(gen, connErr(ErrLinkLost, nil, "peripheral disconnected"))
	})
	return nil
}

// connectFailed classifies a failed attempt and counts auth rejections.
func (m *Manager) connectFailed(ctx context.Context, address string, err error) error {
	auth := errors.Is(err, ErrAuthRejected)
	if !auth && m.opts.Pairing != nil {
		paired, perr := m.opts.Pairing.IsPaired(ctx, address)
		switch {
		case perr != nil:
			m.entry().WithError(perr).Debug("ble: pairing lookup failed")
		case !paired:
			auth = true
			err = connErr(ErrAuthRejected, err, "device %s is not paired", address)
		}
	}
	if !auth {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.authFails++
	if m.authFails >= m.opts.AuthFailureLimit {
		m.failLocked(err)
	}
	return err
}

// failLocked moves to Failed (caller must hold mu).
func (m *Manager) failLocked(err error) {
	m.stopLoopsLocked()
	m.failQueueLocked(err)
	m.setStateLocked(StateFailed, err)
}

func (m *Manager) stopLoopsLocked() {
	if m.loopStop != nil {
		close(m.loopStop)
		m.loopStop = nil
	}
	if m.keepStop != nil {
		close(m.keepStop)
		m.keepStop = nil
	}
}

// handleLinkLoss tears down link generation gen and starts reconnecting.
// Stale callbacks from earlier links are ignored.
func (m *Manager) handleLinkLoss(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked(connErr(ErrLinkLost, cause, "queued command dropped"))
	m.setStateLocked(StateReconnecting, cause)
	m.startReconnectLocked()
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Disconnect()
	}
}

// teardownLocked forgets the current link and fails every queued command
// (caller must hold mu). The returned connection must be closed after
// releasing mu.
func (m *Manager) teardownLocked(queued error) Connection {
	conn := m.conn
	m.conn = nil
	m.chars = nil
	m.gen++
	if m.keepStop != nil {
		close(m.keepStop)
		m.keepStop = nil
	}
	m.failQueueLocked(queued)
	return conn
}

func (m *Manager) failQueueLocked(err error) {
	for _, t := range m.queue {
		t.err = err
		close(t.ready)
	}
	m.queue = nil
}

func (m *Manager) startReconnectLocked() {
	if m.loopStop != nil {
		return
	}
	m.loopStop = make(chan struct{})
	go m.reconnectLoop(m.loopStop)
}

// reconnectLoop keeps dialing with backoff while the Manager is
// Reconnecting. It exits, under mu, as soon as the state is anything else.
func (m *Manager) reconnectLoop(stop chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		m.mu.Lock()
		select {
		case <-stop:
			m.mu.Unlock()
			return
		default:
		}
		if m.state != StateReconnecting {
			if m.loopStop == stop {
				m.loopStop = nil
			}
			m.mu.Unlock()
			return
		}
		if m.opts.MaxRetries > 0 && m.attempts >= m.opts.MaxRetries {
			err := connErr(ErrRetriesExhausted, m.lastErr, "gave up after %d attempts", m.attempts)
			m.loopStop = nil
			m.failLocked(err)
			m.mu.Unlock()
			return
		}
		attempt := m.attempts
		m.attempts++
		delay := backoffDelay(attempt, m.opts.BackoffMin, m.opts.BackoffMax, m.opts.BackoffJitter, m.jitter)
		m.mu.Unlock()

		m.entry().WithFields(logrus.Fields{"attempt": attempt + 1, "delay": delay}).Info("ble: reconnect backoff")
		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			continue
		}
		m.setStateLocked(StateConnecting, nil)
		m.mu.Unlock()

		if err := m.dial(ctx); err != nil {
			m.entry().WithError(err).WithField("attempt", attempt+1).Warn("ble: reconnect failed")
			m.mu.Lock()
			if m.state == StateConnecting {
				m.setStateLocked(StateReconnecting, err)
			}
			m.mu.Unlock()
			continue
		}
		m.entry().Info("ble: reconnected")
	}
}

// backoffDelay returns the reconnection delay for attempt n: min·2^n capped
// at max, then spread by ±jitter and capped again.
func backoffDelay(attempt int, lo, hi time.Duration, jitter float64, rnd func() float64) time.Duration {
	d := hi
	if attempt < 32 {
		if v := lo << uint(attempt); v > 0 && v < hi {
			d = v
		}
	}
	if jitter > 0 && rnd != nil {
		d = time.Duration(float64(d) * (1 + jitter*(2*rnd()-1)))
	}
	if d > hi {
		d = hi
	}
	if d < 0 {
		d = 0
	}
	return d
}

func (m *Manager) startKeepAliveLocked(gen uint64) {
	if m.opts.KeepAlive <= 0 {
		return
	}
	m.keepStop = make(chan struct{})
	go m.keepAlive(gen, m.keepStop)
}

// keepAlive reads the settings characteristic through the normal queue so
// the clock does not drop an idle link. Submit already tears the link down
// on timeouts and write failures.
func (m *Manager) keepAlive(gen uint64, stop chan struct{}) {
	ticker := time.NewTicker(m.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		m.mu.Lock()
		alive := m.gen == gen && m.state == StateConnected
		m.mu.Unlock()
		if !alive {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.opts.CommandTimeout)
		_, err := m.Submit(ctx, protocol.NewSettingsRead())
		cancel()
		if err != nil {
			m.entry().WithError(err).Warn("ble: keep-alive failed")
			continue
		}
		m.entry().Debug("ble: keep-alive ok")
	}
}

// Submit transmits one frame and waits for its completion. Frames are sent
// in submission order, one at a time. Submit fails fast with ErrNotConnected
// unless the Manager is Connected. Cancelling ctx while the frame is still
// queued removes it without side effects; once the frame is being
// transmitted it runs to completion or CommandTimeout.
func (m *Manager) Submit(ctx context.Context, f protocol.Frame) (protocol.ResponseFrame, error) {
	if err := m.acquire(ctx); err != nil {
		return protocol.ResponseFrame{}, err
	}
	defer m.release()

	m.mu.Lock()
	if m.state != StateConnected {
		st := m.state
		m.mu.Unlock()
		return protocol.ResponseFrame{}, connErr(ErrNotConnected, nil, "state %s", st)
	}
	gen, conn := m.gen, m.conn
	char, ok := m.chars[f.Characteristic()]
	m.mu.Unlock()

	if !ok {
		c, err := conn.DiscoverCharacteristic(f.Service(), f.Characteristic())
		if err != nil {
			return protocol.ResponseFrame{}, connErr(ErrCharacteristicMissing, err, "%s", f.Characteristic())
		}
		m.mu.Lock()
		if m.gen == gen {
			m.chars[f.Characteristic()] = c
		}
		m.mu.Unlock()
		char = c
	}

	return m.transmit(gen, char, f)
}

func (m *Manager) transmit(gen uint64, char Characteristic, f protocol.Frame) (protocol.ResponseFrame, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	m.inFlight.Add(1)
	log := m.entry().WithField("frame", f.Kind().String())
	if f.Access() == protocol.AccessWrite {
		log.WithField("bytes", hex.EncodeToString(f.Bytes())).Debug("ble: write")
	}

	go func() {
		var r result
		if f.Access() == protocol.AccessRead {
			r.data, r.err = char.Read()
		} else {
			r.err = char.Write(f.Bytes())
		}
		done <- r
	}()

	timer := time.NewTimer(m.opts.CommandTimeout)
	defer timer.Stop()

	select {
	case r := <-done:
		m.inFlight.Add(-1)
		if r.err != nil {
			err := NormalizeError(r.err)
			if errors.Is(err, ErrCharacteristicMissing) || errors.Is(err, ErrAuthRejected) {
				return protocol.ResponseFrame{}, err
			}
			lost := connErr(ErrLinkLost, r.err, "%s", f.Kind())
			m.handleLinkLoss(gen, lost)
			return protocol.ResponseFrame{}, lost
		}
		if f.Access() == protocol.AccessRead {
			log.WithField("bytes", hex.EncodeToString(r.data)).Debug("ble: read")
		}
		return protocol.NewResponseFrame(protocol.ResponseTagFor(f), f.Characteristic(), r.data), nil

	case <-timer.C:
		m.inFlight.Add(-1)
		err := connErr(ErrCommandTimeout, nil, "%s after %s", f.Kind(), m.opts.CommandTimeout)
		// The firmware may still be busy with the stale operation; start over
		// on a fresh link.
		m.handleLinkLoss(gen, err)
		return protocol.ResponseFrame{}, err
	}
}

// acquire waits for the single transmission slot.
func (m *Manager) acquire(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateConnected {
		st := m.state
		m.mu.Unlock()
		return connErr(ErrNotConnected, nil, "state %s", st)
	}
	if !m.busy {
		m.busy = true
		m.mu.Unlock()
		return nil
	}
	t := &ticket{ready: make(chan struct{})}
	m.queue = append(m.queue, t)
	m.mu.Unlock()

	select {
	case <-t.ready:
	case <-ctx.Done():
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	if t.granted {
		if err := ctx.Err(); err != nil {
			// Granted after the caller gave up: pass the slot on unused.
			m.releaseLocked()
			return err
		}
		return nil
	}
	for i, q := range m.queue {
		if q == t {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	return ctx.Err()
}

func (m *Manager) release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	if len(m.queue) == 0 {
		m.busy = false
		return
	}
	t := m.queue[0]
	m.queue = m.queue[1:]
	t.granted = true
	close(t.ready)
}

// QueueLen returns the number of frames waiting for the link.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// WaitConnected blocks until the Manager is Connected, it fails, or ctx is
// done.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		st, ch, lastErr := m.state, m.changed, m.lastErr
		m.mu.Unlock()

		switch st {
		case StateConnected:
			return nil
		case StateFailed:
			return lastErr
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return connErr(ErrNotConnected, ctx.Err(), "still %s", st)
		}
	}
}

// HandleDiscovery is the discovery feed. It reports whether dev is this
// Manager's device; when AutoConnect is set and the Manager is idle, a
// matching paired device triggers a background Connect. A Manager without
// an address adopts the first clock it is offered, or the first paired one
// when a PairingStore is set.
func (m *Manager) HandleDiscovery(dev Device) bool {
	m.mu.Lock()
	switch {
	case m.address == "" && IsClock(dev.Name) && (dev.Paired || m.opts.Pairing == nil):
		m.address = dev.Address
		m.log.WithFields(logrus.Fields{"device": dev.Address, "name": dev.Name}).Info("ble: adopted discovered clock")
	case !strings.EqualFold(m.address, dev.Address):
		m.mu.Unlock()
		return false
	}
	trigger := m.opts.AutoConnect && m.state == StateDisconnected && !m.closed &&
		(dev.Paired || m.opts.Pairing == nil)
	m.mu.Unlock()

	if trigger {
		go func() {
			if err := m.Connect(context.Background()); err != nil {
				m.entry().WithError(err).Warn("ble: auto-connect failed")
			}
		}()
	}
	return true
}

// Reset clears a Failed Manager after the device has been re-paired.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFailed {
		return fmt.Errorf("ble: reset: manager is %s, not failed", m.state)
	}
	m.attempts = 0
	m.authFails = 0
	m.setStateLocked(StateDisconnected, nil)
	m.lastErr = nil
	return nil
}

// Disconnect tears the link down and stops reconnecting. Queued commands
// fail with ErrNotConnected. A Failed Manager stays Failed.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	m.stopLoopsLocked()
	conn := m.teardownLocked(connErr(ErrNotConnected, nil, "disconnected"))
	if m.state != StateFailed {
		m.setStateLocked(StateDisconnected, nil)
	}
	m.mu.Unlock()

	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			return fmt.Errorf("ble: disconnect: %w", err)
		}
	}
	return nil
}

// Close disconnects and stops delivering state changes.
func (m *Manager) Close() error {
	err := m.Disconnect()
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.mu.Unlock()
	return err
}
