//go:build linux

package comm

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
	propsIface      = "org.freedesktop.DBus.Properties"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// BlueZAdapter is the local controller as seen through bluetoothd.
type BlueZAdapter struct {
	bus    *dbus.Conn
	path   dbus.ObjectPath
	logger *slog.Logger
}

// NewBlueZAdapter opens a private system bus connection and binds to the
// named controller ("hci0"), or the first one when name is empty.
func NewBlueZAdapter(name string, logger *slog.Logger) (*BlueZAdapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: connect system bus: %w", ErrAdapterUnavailable, err)
	}
	objs, err := getManagedObjects(bus)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("%w: %w", ErrAdapterUnavailable, err)
	}
	path, ok := findAdapter(objs, name)
	if !ok {
		bus.Close()
		return nil, fmt.Errorf("%w: no controller %q registered with bluez", ErrAdapterUnavailable, name)
	}
	logger.Debug("using bluetooth controller", "path", string(path))
	return &BlueZAdapter{bus: bus, path: path, logger: logger}, nil
}

func (a *BlueZAdapter) IsEnabled() bool {
	v, err := a.bus.Object(bluezService, a.path).GetProperty(adapterIface + ".Powered")
	if err != nil {
		a.logger.Warn("read adapter power state", "err", err)
		return false
	}
	on, _ := v.Value().(bool)
	return on
}

// Enable asks bluetoothd to power the controller on and does not wait.
func (a *BlueZAdapter) Enable() {
	obj := a.bus.Object(bluezService, a.path)
	go func() {
		call := obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true))
		if call.Err != nil {
			a.logger.Error("power on adapter", "err", call.Err)
		}
	}()
}

func (a *BlueZAdapter) BondedPeers() ([]Peer, error) {
	objs, err := getManagedObjects(a.bus)
	if err != nil {
		return nil, err
	}
	return bondedPeers(objs, a.path), nil
}

func (a *BlueZAdapter) Close() error {
	return a.bus.Close()
}

func getManagedObjects(bus *dbus.Conn) (managedObjects, error) {
	var objs managedObjects
	call := bus.Object(bluezService, dbus.ObjectPath("/")).Call(objManagerIface+".GetManagedObjects", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", call.Err)
	}
	if err := call.Store(&objs); err != nil {
		return nil, fmt.Errorf("decode GetManagedObjects: %w", err)
	}
	return objs, nil
}

// sortedPaths gives bluez objects a stable order. D-Bus hands them over as a
// map, so object path order (which follows the device address) is the
// closest thing to the platform's own listing.
func sortedPaths(objs managedObjects) []dbus.ObjectPath {
	paths := make([]dbus.ObjectPath, 0, len(objs))
	for p := range objs {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths
}

func findAdapter(objs managedObjects, name string) (dbus.ObjectPath, bool) {
	for _, p := range sortedPaths(objs) {
		if _, ok := objs[p][adapterIface]; !ok {
			continue
		}
		if name == "" || strings.HasSuffix(string(p), "/"+name) {
			return p, true
		}
	}
	return "", false
}

func bondedPeers(objs managedObjects, adapter dbus.ObjectPath) []Peer {
	var out []Peer
	for _, p := range sortedPaths(objs) {
		props, ok := objs[p][deviceIface]
		if !ok {
			continue
		}
		if owner, ok := props["Adapter"].Value().(dbus.ObjectPath); ok && owner != adapter {
			continue
		}
		if !boolProp(props, "Paired") && !boolProp(props, "Bonded") {
			continue
		}
		name, _ := props["Name"].Value().(string)
		addr, _ := props["Address"].Value().(string)
		if addr == "" {
			addr = macFromPath(p)
		}
		out = append(out, Peer{Name: name, Address: addr})
	}
	return out
}

func boolProp(props map[string]dbus.Variant, key string) bool {
	v, ok := props[key]
	if !ok {
		return false
	}
	b, _ := v.Value().(bool)
	return b
}

// macFromPath turns .../dev_XX_XX_XX_XX_XX_XX into XX:XX:XX:XX:XX:XX.
func macFromPath(p dbus.ObjectPath) string {
	s := string(p)
	idx := strings.LastIndex(s, "/dev_")
	if idx < 0 {
		return ""
	}
	return strings.ReplaceAll(s[idx+5:], "_", ":")
}
