// Package bluez answers bond questions from the Linux Bluetooth daemon over
// the system D-Bus. Pairing itself is left to bluetoothctl or the desktop.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/chaz8081/glancectl/internal/ble"
)

const (
	busName       = "org.bluez"
	deviceIface   = "org.bluez.Device1"
	propsIface    = "org.freedesktop.DBus.Properties"
	propsSignal   = "org.freedesktop.DBus.Properties.PropertiesChanged"
	objectManager = "org.freedesktop.DBus.ObjectManager"
	unknownObject = "org.freedesktop.DBus.Error.UnknownObject"

	// DefaultAdapter is the controller used when none is configured.
	DefaultAdapter = "hci0"
)

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// DevicePath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF".
func DevicePath(adapter, address string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(strings.ToUpper(address), ":", "_")
	return dbus.ObjectPath("/org/bluez/" + adapter + "/dev_" + escaped)
}

// AddressFromPath extracts the MAC address from a device object path on
// adapter. It returns "" for any other path.
func AddressFromPath(adapter string, path dbus.ObjectPath) string {
	s := string(path)
	prefix := "/org/bluez/" + adapter + "/dev_"
	if !strings.HasPrefix(s, prefix) {
		return ""
	}
	rest := s[len(prefix):]
	if strings.Contains(rest, "/") {
		return "" // a GATT object below the device
	}
	return strings.ReplaceAll(rest, "_", ":")
}

// Store reads bond state from BlueZ.
type Store struct {
	conn    *dbus.Conn
	adapter string
	log     *logrus.Logger
}

var _ ble.PairingStore = (*Store)(nil)

// Open connects to the system bus and checks that BlueZ is running. An
// empty adapter selects DefaultAdapter. If logger is nil a default logger is
// used.
func Open(adapter string, logger *logrus.Logger) (*Store, error) {
	if adapter == "" {
		adapter = DefaultAdapter
	}
	if logger == nil {
		logger = logrus.New()
	}

	// A private connection, so Close does not break other users of the
	// shared system bus.
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect to system bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bluez: list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, errors.New("bluez: org.bluez not found on system bus, is bluetooth.service running?")
	}
	return &Store{conn: conn, adapter: adapter, log: logger}, nil
}

// Close releases the bus connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// IsPaired reports whether BlueZ holds a bond for address. A device BlueZ
// has never seen is reported as not paired.
func (s *Store) IsPaired(ctx context.Context, address string) (bool, error) {
	obj := s.conn.Object(busName, DevicePath(s.adapter, address))
	var v dbus.Variant
	err := obj.CallWithContext(ctx, propsIface+".Get", 0, deviceIface, "Paired").Store(&v)
	if err != nil {
		if isUnknownObject(err) {
			return false, nil
		}
		return false, fmt.Errorf("bluez: read Paired for %s: %w", address, err)
	}
	paired, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("bluez: Paired for %s is %s, not bool", address, v.Signature())
	}
	return paired, nil
}

func isUnknownObject(err error) bool {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name == unknownObject
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name == unknownObject
	}
	return false
}

// Devices lists every device BlueZ knows on the adapter, sorted by address.
func (s *Store) Devices(ctx context.Context) ([]ble.Device, error) {
	var objects managedObjects
	call := s.conn.Object(busName, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("bluez: get managed objects: %w", call.Err)
	}
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("bluez: decode managed objects: %w", err)
	}
	return devicesFrom(objects, s.adapter), nil
}

// PairedClocks lists bonded devices that look like a Glance Clock.
func (s *Store) PairedClocks(ctx context.Context) ([]ble.Device, error) {
	devices, err := s.Devices(ctx)
	if err != nil {
		return nil, err
	}
	var clocks []ble.Device
	for _, d := range devices {
		if d.Paired && ble.IsClock(d.Name) {
			clocks = append(clocks, d)
		}
	}
	return clocks, nil
}

func devicesFrom(objects managedObjects, adapter string) []ble.Device {
	var devices []ble.Device
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		addr := AddressFromPath(adapter, path)
		if addr == "" {
			continue
		}
		d := ble.Device{Address: addr}
		if v, ok := props["Address"].Value().(string); ok {
			d.Address = v
		}
		if v, ok := props["Alias"].Value().(string); ok {
			d.Name = v
		}
		if v, ok := props["Name"].Value().(string); ok {
			d.Name = v
		}
		if v, ok := props["Paired"].Value().(bool); ok {
			d.Paired = v
		}
		if v, ok := props["RSSI"].Value().(int16); ok {
			d.RSSI = int(v)
		}
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Address < devices[j].Address })
	return devices
}

// PairingChange reports a bond being created or removed.
type PairingChange struct {
	Address string
	Paired  bool
}

// Watch calls fn for every bond change on the adapter until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(PairingChange)) error {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(propsIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(dbus.ObjectPath("/org/bluez/" + s.adapter)),
	}
	if err := s.conn.AddMatchSignalContext(ctx, match...); err != nil {
		return fmt.Errorf("bluez: subscribe: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	s.conn.Signal(ch)
	defer func() {
		s.conn.RemoveSignal(ch)
		_ = s.conn.RemoveMatchSignal(match...)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-ch:
			if !ok {
				return errors.New("bluez: signal channel closed")
			}
			if change, ok := pairingChangeFrom(sig, s.adapter); ok {
				s.log.WithFields(logrus.Fields{"device": change.Address, "paired": change.Paired}).Info("bluez: bond changed")
				fn(change)
			}
		}
	}
}

func pairingChangeFrom(sig *dbus.Signal, adapter string) (PairingChange, bool) {
	if sig == nil || sig.Name != propsSignal || len(sig.Body) < 2 {
		return PairingChange{}, false
	}
	// Body: [interface_name string, changed_props map[string]Variant, invalidated []string]
	iface, ok := sig.Body[0].(string)
	if !ok || iface != deviceIface {
		return PairingChange{}, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return PairingChange{}, false
	}
	v, ok := changed["Paired"]
	if !ok {
		return PairingChange{}, false
	}
	paired, ok := v.Value().(bool)
	if !ok {
		return PairingChange{}, false
	}
	addr := AddressFromPath(adapter, sig.Path)
	if addr == "" {
		return PairingChange{}, false
	}
	return PairingChange{Address: addr, Paired: paired}, true
}
