//go:build linux

package radio

import (
	"context"
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/swlink/internal/device"
)

const (
	bluezService        = "org.bluez"
	bluezAdapter        = "org.bluez.Adapter1"
	objectManagerMethod = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// bluezChecker asks BlueZ over the system bus for a powered adapter.
type bluezChecker struct {
	logger *logrus.Logger
	fetch  func(ctx context.Context) (managedObjects, error)
}

func newPlatformChecker(logger *logrus.Logger) Checker {
	return &bluezChecker{logger: logger, fetch: fetchManagedObjects}
}

func (c *bluezChecker) Check(ctx context.Context) error {
	objects, err := c.fetch(ctx)
	if err != nil {
		return fmt.Errorf("%w: cannot query BlueZ: %w", device.ErrRadioUnavailable, err)
	}

	adapters := adapterStates(objects)
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no Bluetooth adapter found", device.ErrRadioUnavailable)
	}
	for _, a := range adapters {
		c.logger.WithFields(logrus.Fields{
			"adapter": a.path,
			"powered": a.powered,
		}).Debug("Bluetooth adapter")
		if a.powered {
			return nil
		}
	}
	return fmt.Errorf("%w: bluetooth is turned off", device.ErrRadioUnavailable)
}

type adapterState struct {
	path    string
	powered bool
}

// adapterStates lists BlueZ adapters sorted by object path.
func adapterStates(objects managedObjects) []adapterState {
	var out []adapterState
	for path, ifaces := range objects {
		props, ok := ifaces[bluezAdapter]
		if !ok {
			continue
		}
		powered := false
		if v, ok := props["Powered"]; ok {
			powered, _ = v.Value().(bool)
		}
		out = append(out, adapterState{path: string(path), powered: powered})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

func fetchManagedObjects(ctx context.Context) (managedObjects, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}

	call := conn.Object(bluezService, "/").Go(objectManagerMethod, 0, make(chan *dbus.Call, 1))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.Done:
	}

	var objects managedObjects
	if err := call.Store(&objects); err != nil {
		return nil, err
	}
	return objects, nil
}
