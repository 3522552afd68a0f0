// Package clock is the command surface of glancectl. Each method validates
// its input, encodes it with the protocol package and submits the frames
// through the connection manager.
package clock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chaz8081/glancectl/internal/ble"
	"github.com/chaz8081/glancectl/internal/ble/protocol"
	"github.com/chaz8081/glancectl/internal/telemetry"
)

// Submitter is the part of ble.Manager the dispatcher uses.
type Submitter interface {
	Submit(ctx context.Context, f protocol.Frame) (protocol.ResponseFrame, error)
	WaitConnected(ctx context.Context) error
	Address() string
}

var _ Submitter = (*ble.Manager)(nil)

// Publisher receives telemetry produced by the dispatcher.
type Publisher interface {
	Publish(ev telemetry.Event)
}

// Options configures the dispatcher.
type Options struct {
	// WaitForConnection makes a command that finds the link down wait up to
	// WaitTimeout for it to come back, then submit once more.
	WaitForConnection bool
	WaitTimeout       time.Duration
	// SettingsCacheTTL bounds how long CachedSettings trusts the last read.
	SettingsCacheTTL time.Duration
	// BrightnessPreview is how long the brightness scene stays up after a
	// brightness change.
	BrightnessPreview time.Duration
	// SplitLongText sends over-long notification text as several
	// notifications instead of failing.
	SplitLongText bool
	Telemetry     Publisher
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		WaitTimeout:       30 * time.Second,
		SettingsCacheTTL:  60 * time.Second,
		BrightnessPreview: 3 * time.Second,
	}
}

// Clock dispatches user operations to one device.
type Clock struct {
	sub  Submitter
	opts Options
	log  *logrus.Logger
	now  func() time.Time

	mu       sync.Mutex
	cached   *protocol.DisplaySettings
	cachedAt time.Time
}

// New creates a Clock. If logger is nil a default logger is used.
func New(sub Submitter, opts Options, logger *logrus.Logger) *Clock {
	if logger == nil {
		logger = logrus.New()
	}
	d := DefaultOptions()
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = d.WaitTimeout
	}
	if opts.SettingsCacheTTL <= 0 {
		opts.SettingsCacheTTL = d.SettingsCacheTTL
	}
	if opts.BrightnessPreview < 0 {
		opts.BrightnessPreview = 0
	}
	return &Clock{sub: sub, opts: opts, log: logger, now: time.Now}
}

func (c *Clock) entry() *logrus.Entry {
	return c.log.WithField("device", c.sub.Address())
}

// submit sends f, optionally waiting once for the link when it is down.
func (c *Clock) submit(ctx context.Context, f protocol.Frame) (protocol.ResponseFrame, error) {
	resp, err := c.sub.Submit(ctx, f)
	if err == nil || !c.opts.WaitForConnection || !errors.Is(err, ble.ErrNotConnected) {
		return resp, err
	}

	c.entry().WithField("frame", f.Kind().String()).Info("clock: waiting for connection")
	wctx, cancel := context.WithTimeout(ctx, c.opts.WaitTimeout)
	defer cancel()
	if werr := c.sub.WaitConnected(wctx); werr != nil {
		return protocol.ResponseFrame{}, werr
	}
	return c.sub.Submit(ctx, f)
}

func (c *Clock) logWarnings(op string, warnings []protocol.Warning) {
	for _, w := range warnings {
		c.entry().WithFields(logrus.Fields{"op": op, "field": w.Field}).Warn("clock: " + w.Msg)
	}
}

// SendNotification shows a one-shot notification. Encoding warnings, such
// as substituted icons, are returned alongside a nil error.
func (c *Clock) SendNotification(ctx context.Context, n protocol.Notification) ([]protocol.Warning, error) {
	f, warnings, err := protocol.EncodeNotification(n)
	if errors.Is(err, protocol.ErrTextTooLong) && c.opts.SplitLongText {
		return c.sendSplit(ctx, n)
	}
	if err != nil {
		return warnings, err
	}
	c.logWarnings("notification", warnings)
	if _, err := c.submit(ctx, f); err != nil {
		return warnings, fmt.Errorf("clock: send notification: %w", err)
	}
	return warnings, nil
}

func (c *Clock) sendSplit(ctx context.Context, n protocol.Notification) ([]protocol.Warning, error) {
	text := n.Text
	if n.Title != "" {
		text = n.Title + ": " + text
	}
	pieces := protocol.SplitText(text, protocol.MaxTextLen)

	var warnings []protocol.Warning
	for i, piece := range pieces {
		part := n
		part.Title = ""
		part.Text = piece
		f, w, err := protocol.EncodeNotification(part)
		warnings = append(warnings, w...)
		if err != nil {
			return warnings, err
		}
		if _, err := c.submit(ctx, f); err != nil {
			return warnings, fmt.Errorf("clock: send notification part %d/%d: %w", i+1, len(pieces), err)
		}
	}
	c.entry().WithField("parts", len(pieces)).Debug("clock: notification split")
	c.logWarnings("notification", warnings)
	return warnings, nil
}

// CreateScene stores a scene in its slot.
func (c *Clock) CreateScene(ctx context.Context, s protocol.Scene) error {
	f, warnings, err := protocol.EncodeSceneCreate(s)
	if err != nil {
		return err
	}
	c.logWarnings("scene_create", warnings)
	if _, err := c.submit(ctx, f); err != nil {
		return fmt.Errorf("clock: create scene %d: %w", s.Slot, err)
	}
	return nil
}

// ChangeScene cycles, clears or deletes scenes. The slot is only used by
// delete; other operations ignore it.
func (c *Clock) ChangeScene(ctx context.Context, op protocol.SceneOp, slot *int) error {
	f, warnings, err := protocol.EncodeSceneControl(op, slot)
	if err != nil {
		return err
	}
	c.logWarnings("scene_"+string(op), warnings)
	if _, err := c.submit(ctx, f); err != nil {
		return fmt.Errorf("clock: scene %s: %w", op, err)
	}
	return nil
}

// UpdateSettings writes the full settings record. A brightness change
// relative to the cached record shows the brightness scene for
// BrightnessPreview so the new level is visible.
func (c *Clock) UpdateSettings(ctx context.Context, s protocol.DisplaySettings) error {
	f, err := protocol.EncodeSettingsWrite(s)
	if err != nil {
		return err
	}

	prev, known := c.CachedSettings()
	preview := known && prev.Brightness != s.Brightness

	lead := protocol.NewUpdateData()
	if preview {
		lead = protocol.NewBrightnessScene(true)
	}
	if _, err := c.submit(ctx, lead); err != nil {
		return fmt.Errorf("clock: update settings: %w", err)
	}
	if _, err := c.submit(ctx, f); err != nil {
		return fmt.Errorf("clock: update settings: %w", err)
	}
	c.storeSettings(s)
	c.entry().WithField("brightness", s.Brightness).Info("clock: settings updated")

	if !preview {
		return nil
	}

	timer := time.NewTimer(c.opts.BrightnessPreview)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	// The scene must come down even if the caller gave up waiting.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.WaitTimeout)
	defer cancel()
	if _, err := c.submit(sctx, protocol.NewBrightnessScene(false)); err != nil {
		return fmt.Errorf("clock: end brightness preview: %w", err)
	}
	return ctx.Err()
}

// ReadSettings reads the settings record and refreshes the cache.
func (c *Clock) ReadSettings(ctx context.Context) (protocol.DisplaySettings, error) {
	resp, err := c.submit(ctx, protocol.NewSettingsRead())
	if err != nil {
		return protocol.DisplaySettings{}, fmt.Errorf("clock: read settings: %w", err)
	}
	s, err := protocol.DecodeSettings(resp.Bytes())
	if err != nil {
		return protocol.DisplaySettings{}, err
	}
	c.storeSettings(s)
	return s, nil
}

// CachedSettings returns the last settings read or written, if it is
// younger than SettingsCacheTTL. The value is advisory; the device may have
// been changed from elsewhere.
func (c *Clock) CachedSettings() (protocol.DisplaySettings, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cached == nil || c.now().Sub(c.cachedAt) > c.opts.SettingsCacheTTL {
		return protocol.DisplaySettings{}, false
	}
	return *c.cached, true
}

func (c *Clock) storeSettings(s protocol.DisplaySettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = &s
	c.cachedAt = c.now()
}

// SendForecast writes a 24-hour forecast to the clock face.
func (c *Clock) SendForecast(ctx context.Context, fc protocol.Forecast) error {
	f, err := protocol.EncodeForecast(fc)
	if err != nil {
		return err
	}
	if _, err := c.submit(ctx, protocol.NewUpdateData()); err != nil {
		return fmt.Errorf("clock: send forecast: %w", err)
	}
	if _, err := c.submit(ctx, f); err != nil {
		return fmt.Errorf("clock: send forecast: %w", err)
	}
	return nil
}

// SendTimer starts a countdown timer.
func (c *Clock) SendTimer(ctx context.Context, t protocol.Timer) error {
	f, warnings, err := protocol.EncodeTimer(t)
	if err != nil {
		return err
	}
	c.logWarnings("timer", warnings)
	if _, err := c.submit(ctx, f); err != nil {
		return fmt.Errorf("clock: send timer: %w", err)
	}
	return nil
}

// ReadBattery returns the battery percentage and publishes it. A clock
// without a battery service yields protocol.ErrUnsupported.
func (c *Clock) ReadBattery(ctx context.Context) (int, error) {
	resp, err := c.submit(ctx, protocol.NewBatteryRead())
	if errors.Is(err, ble.ErrCharacteristicMissing) {
		return 0, &protocol.Error{Kind: protocol.KindDecode, Code: protocol.ErrUnsupported.Code, Msg: "device has no battery service"}
	}
	if err != nil {
		return 0, fmt.Errorf("clock: read battery: %w", err)
	}
	level, err := protocol.DecodeBattery(resp.Bytes())
	if err != nil {
		return 0, err
	}
	if c.opts.Telemetry != nil {
		c.opts.Telemetry.Publish(telemetry.BatteryEvent(c.sub.Address(), level, c.now()))
	}
	return level, nil
}

// ReadDeviceInfo reads the Device Information strings the clock exposes.
func (c *Clock) ReadDeviceInfo(ctx context.Context) (protocol.DeviceInfo, error) {
	var responses []protocol.ResponseFrame
	for _, f := range protocol.NewDeviceInfoReads() {
		resp, err := c.submit(ctx, f)
		if errors.Is(err, ble.ErrCharacteristicMissing) {
			c.entry().WithField("characteristic", f.Characteristic()).Debug("clock: device info not exposed")
			continue
		}
		if err != nil {
			return protocol.DeviceInfo{}, fmt.Errorf("clock: read device info: %w", err)
		}
		responses = append(responses, resp)
	}
	return protocol.DecodeDeviceInfo(responses)
}
