package hwmon

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// DeviceTypeMultiLevelSensor is the capability tag given to discovered
// hardware components.
const DeviceTypeMultiLevelSensor = "MultiLevelSensor"

// DeviceDescription is what the parser and the pairing flow produce: the
// inputs needed to construct a Device.
type DeviceDescription struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	Type        string                `json:"type,omitempty"`
	Description string                `json:"description,omitempty"`
	Properties  []PropertyDescription `json:"properties,omitempty"`
}

// DeviceInfo is a point-in-time snapshot of a device and its properties.
type DeviceInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Properties  []PropertyInfo `json:"properties"`
}

// ValueTransformer lets a device rewrite (or reject) a validated value
// before it is cached. It must return a value of the property's type.
type ValueTransformer func(ctx context.Context, p *Property, value any) (any, error)

// IdentityTransformer accepts every validated value unchanged.
func IdentityTransformer(_ context.Context, _ *Property, value any) (any, error) {
	return value, nil
}

// Device is a logical hardware component exposing a set of properties.
//
// Identity (id, name, type, description) is fixed at construction.
// Properties can only be added after that, never removed, and a
// hardware reading of another type replaces the property it targets.
type Device struct {
	id          string
	name        string
	deviceType  string
	description string

	properties map[string]*Property
	order      []string

	observer  Notifier
	transform ValueTransformer

	// mu guards the property set and property values.
	mu sync.RWMutex
}

// NewDevice builds a device from its description and emits one
// property-changed notification per property, in declaration order.
//
// A nil observer discards notifications; a nil transformer is the
// identity.
func NewDevice(desc DeviceDescription, observer Notifier, transform ValueTransformer) (*Device, error) {
	if desc.ID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrValidation)
	}
	if observer == nil {
		observer = nopNotifier{}
	}
	if transform == nil {
		transform = IdentityTransformer
	}

	d := &Device{
		id:          desc.ID,
		name:        desc.Name,
		deviceType:  desc.Type,
		description: desc.Description,
		properties:  make(map[string]*Property, len(desc.Properties)),
		order:       make([]string, 0, len(desc.Properties)),
		observer:    observer,
		transform:   transform,
	}
	if d.name == "" {
		d.name = desc.ID
	}
	if d.deviceType == "" {
		d.deviceType = DeviceTypeMultiLevelSensor
	}

	for _, pd := range desc.Properties {
		if _, exists := d.properties[pd.Name]; exists {
			return nil, fmt.Errorf("%w: device %q has duplicate property %q", ErrValidation, desc.ID, pd.Name)
		}
		p, err := newProperty(d, pd)
		if err != nil {
			return nil, fmt.Errorf("device %q: %w", desc.ID, err)
		}
		d.properties[pd.Name] = p
		d.order = append(d.order, pd.Name)
	}

	now := time.Now().UTC()
	for _, name := range d.order {
		d.observer.PropertyChanged(PropertyChange{
			DeviceID:  d.id,
			Property:  d.properties[name].Info(),
			Timestamp: now,
		})
	}
	return d, nil
}

// ID returns the device identifier, unique within the adapter.
func (d *Device) ID() string { return d.id }

// Name returns the display name.
func (d *Device) Name() string { return d.name }

// Type returns the capability tag.
func (d *Device) Type() string { return d.deviceType }

// Description returns the human-readable description.
func (d *Device) Description() string { return d.description }

// Property looks up a property by name.
func (d *Device) Property(name string) (*Property, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.properties[name]
	return p, ok
}

// Properties returns the properties in insertion order.
func (d *Device) Properties() []*Property {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Property, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.properties[name])
	}
	return out
}

// Info returns a snapshot of the device and its current values.
func (d *Device) Info() DeviceInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info := DeviceInfo{
		ID:          d.id,
		Name:        d.name,
		Type:        d.deviceType,
		Description: d.description,
		Properties:  make([]PropertyInfo, 0, len(d.order)),
	}
	for _, name := range d.order {
		info.Properties = append(info.Properties, d.properties[name].infoLocked())
	}
	return info
}

// AddProperty registers a property that appeared after construction,
// such as a sensor whose first reading was empty, and emits one
// property-changed notification for it. Fails with ErrValidation when the
// name is taken or the description is invalid.
func (d *Device) AddProperty(desc PropertyDescription) (*Property, error) {
	p, err := newProperty(d, desc)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", d.id, err)
	}

	d.mu.Lock()
	if _, exists := d.properties[desc.Name]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: device %q has duplicate property %q", ErrValidation, d.id, desc.Name)
	}
	d.properties[desc.Name] = p
	d.order = append(d.order, desc.Name)
	change := PropertyChange{
		DeviceID:  d.id,
		Property:  p.infoLocked(),
		Timestamp: time.Now().UTC(),
	}
	d.mu.Unlock()

	d.observer.PropertyChanged(change)
	return p, nil
}

// UpdateReading stores a hardware-reported value for an existing property.
// Reported values bypass range validation and the transformer since they
// come from the hardware itself. A notification is emitted only when the
// value changed. It returns whether a change was recorded.
//
// A reading whose type differs from the property's (a sensor that first
// reported "N/A" and now reports "62.0 °C") replaces the property with
// one built from desc, keeping its position.
func (d *Device) UpdateReading(desc PropertyDescription) (bool, error) {
	if desc.Value == nil {
		if _, ok := d.Property(desc.Name); !ok {
			return false, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, d.id, desc.Name)
		}
		return false, nil
	}

	d.mu.Lock()
	p, ok := d.properties[desc.Name]
	if !ok {
		d.mu.Unlock()
		return false, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, d.id, desc.Name)
	}
	if desc.Type.Valid() && desc.Type != p.valueType {
		return d.retypeLocked(p, desc)
	}
	v, err := coerceValue(p.valueType, desc.Value)
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("reading %s/%s: %w", d.id, desc.Name, err)
	}

	changed := !reflect.DeepEqual(p.value, v)
	if desc.Minimum != nil {
		p.minimum = copyFloat(desc.Minimum)
	}
	if desc.Maximum != nil {
		p.maximum = copyFloat(desc.Maximum)
	}
	if !changed {
		d.mu.Unlock()
		return false, nil
	}
	p.value = v
	change := PropertyChange{
		DeviceID:  d.id,
		Property:  p.infoLocked(),
		Timestamp: time.Now().UTC(),
	}
	d.mu.Unlock()

	d.observer.PropertyChanged(change)
	return true, nil
}

// retypeLocked swaps old for a property built from desc. It is entered
// with d.mu held and releases it.
func (d *Device) retypeLocked(old *Property, desc PropertyDescription) (bool, error) {
	if desc.Description == "" {
		desc.Description = old.description
	}
	desc.ReadOnly = old.readOnly
	p, err := newProperty(d, desc)
	if err != nil {
		d.mu.Unlock()
		return false, fmt.Errorf("reading %s/%s: %w", d.id, desc.Name, err)
	}
	d.properties[desc.Name] = p
	change := PropertyChange{
		DeviceID:  d.id,
		Property:  p.infoLocked(),
		Timestamp: time.Now().UTC(),
	}
	d.mu.Unlock()

	d.observer.PropertyChanged(change)
	return true, nil
}
