package watcher

import (
	"fmt"
	"time"

	"github.com/srg/swlink/internal/device"
)

// Protocol identifies the transport a watcher enumerates.
type Protocol string

// ProtocolBLE restricts enumeration to Bluetooth Low Energy peripherals.
const ProtocolBLE Protocol = "bluetooth-le"

// Property names a peripheral attribute carried in records and update deltas.
type Property string

const (
	PropertyAddress       Property = "address"
	PropertyIsConnected   Property = "is-connected"
	PropertyIsConnectable Property = "is-connectable"
	PropertyName          Property = "name"
	PropertyRSSI          Property = "rssi"
)

// RequestedProperties is the property set every watcher asks the platform for.
var RequestedProperties = []Property{PropertyAddress, PropertyIsConnected, PropertyIsConnectable}

// PeripheralRecord describes one discovered peripheral. Records are values;
// a later event for the same ID supersedes an earlier record.
type PeripheralRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Address     string    `json:"address"`
	Connectable bool      `json:"connectable"`
	Connected   bool      `json:"connected"`
	RSSI        int       `json:"rssi"`
	SeenAt      time.Time `json:"seen_at"`
}

// DisplayName returns the advertised name, or the ID for unnamed peripherals.
func (r PeripheralRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

func (r PeripheralRecord) String() string {
	return fmt.Sprintf("%s (%s)", r.DisplayName(), r.ID)
}

// PeripheralUpdate carries the properties that changed for an ID.
type PeripheralUpdate struct {
	ID    string
	Delta map[Property]any
	At    time.Time
}

// Apply returns r with the delta's known properties applied.
func (u PeripheralUpdate) Apply(r PeripheralRecord) PeripheralRecord {
	for k, v := range u.Delta {
		switch k {
		case PropertyName:
			if s, ok := v.(string); ok {
				r.Name = s
			}
		case PropertyAddress:
			if s, ok := v.(string); ok {
				r.Address = s
			}
		case PropertyIsConnectable:
			if b, ok := v.(bool); ok {
				r.Connectable = b
			}
		case PropertyIsConnected:
			if b, ok := v.(bool); ok {
				r.Connected = b
			}
		case PropertyRSSI:
			if n, ok := v.(int); ok {
				r.RSSI = n
			}
		}
	}
	if !u.At.IsZero() {
		r.SeenAt = u.At
	}
	return r
}

// recordFromAdvertisement builds a record keyed by the advertising address.
func recordFromAdvertisement(adv device.Advertisement, at time.Time) PeripheralRecord {
	addr := adv.Addr()
	return PeripheralRecord{
		ID:          addr,
		Name:        adv.LocalName(),
		Address:     addr,
		Connectable: adv.Connectable(),
		RSSI:        adv.RSSI(),
		SeenAt:      at,
	}
}

// diff lists the properties of next that differ from prev.
func diff(prev, next PeripheralRecord) map[Property]any {
	delta := make(map[Property]any)
	if prev.Name != next.Name && next.Name != "" {
		delta[PropertyName] = next.Name
	}
	if prev.Address != next.Address {
		delta[PropertyAddress] = next.Address
	}
	if prev.Connectable != next.Connectable {
		delta[PropertyIsConnectable] = next.Connectable
	}
	if prev.Connected != next.Connected {
		delta[PropertyIsConnected] = next.Connected
	}
	if prev.RSSI != next.RSSI {
		delta[PropertyRSSI] = next.RSSI
	}
	return delta
}

// EventType marks the kind of watcher event.
type EventType int

const (
	EventAdded EventType = iota
	EventUpdated
	EventRemoved
	EventCompleted
	EventStopped
)

func (t EventType) String() string {
	switch t {
	case EventAdded:
		return "added"
	case EventUpdated:
		return "updated"
	case EventRemoved:
		return "removed"
	case EventCompleted:
		return "completed"
	case EventStopped:
		return "stopped"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Event is one watcher notification. Record is set for added events, Update
// for updated and removed events.
type Event struct {
	Type   EventType
	Record *PeripheralRecord
	Update *PeripheralUpdate
}

// ID returns the peripheral identifier the event refers to, if any.
func (e Event) ID() string {
	switch {
	case e.Record != nil:
		return e.Record.ID
	case e.Update != nil:
		return e.Update.ID
	default:
		return ""
	}
}
