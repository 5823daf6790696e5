package hwmon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ValueType is the declared type of a property's value.
type ValueType string

// Property value types.
const (
	TypeBoolean ValueType = "boolean"
	TypeNumber  ValueType = "number"
	TypeString  ValueType = "string"
)

// Valid reports whether the value type is one of the known types.
func (t ValueType) Valid() bool {
	switch t {
	case TypeBoolean, TypeNumber, TypeString:
		return true
	}
	return false
}

// PropertyDescription describes a property before it is bound to a device.
//
// The parser fills Path and Label; GroupDevices assigns the final Name.
type PropertyDescription struct {
	Name         string    `json:"name"`
	Type         ValueType `json:"type"`
	Value        any       `json:"value,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Description  string    `json:"description,omitempty"`
	SemanticType string    `json:"@type,omitempty"`
	Minimum      *float64  `json:"minimum,omitempty"`
	Maximum      *float64  `json:"maximum,omitempty"`
	ReadOnly     bool      `json:"read_only,omitempty"`

	// Path is the chain of labels from the tree root to the sensor leaf.
	Path     []string `json:"path,omitempty"`
	Label    string   `json:"-"`
	NodeID   int      `json:"-"`
	SensorID string   `json:"sensor_id,omitempty"`
}

// PropertyInfo is a point-in-time snapshot of a property, safe to hand
// to other goroutines.
type PropertyInfo struct {
	Name         string    `json:"name"`
	Type         ValueType `json:"type"`
	Value        any       `json:"value"`
	Unit         string    `json:"unit,omitempty"`
	Description  string    `json:"description,omitempty"`
	SemanticType string    `json:"@type,omitempty"`
	Minimum      *float64  `json:"minimum,omitempty"`
	Maximum      *float64  `json:"maximum,omitempty"`
	ReadOnly     bool      `json:"read_only,omitempty"`
}

// PropertyChange is the payload of a "property changed" notification.
type PropertyChange struct {
	DeviceID  string       `json:"device_id"`
	Property  PropertyInfo `json:"property"`
	Timestamp time.Time    `json:"timestamp"`
}

// Property is a single named, typed value belonging to a device.
//
// The cached value is only ever replaced through SetValue (validated,
// transformed by the owning device) or UpdateReading on the device
// (hardware-reported). Both paths emit a property-changed notification.
type Property struct {
	device *Device

	name         string
	valueType    ValueType
	unit         string
	description  string
	semanticType string
	minimum      *float64
	maximum      *float64
	readOnly     bool

	value any // guarded by device.mu
}

func newProperty(d *Device, desc PropertyDescription) (*Property, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("%w: property name is required", ErrValidation)
	}
	if !desc.Type.Valid() {
		return nil, fmt.Errorf("%w: property %q has unknown type %q", ErrValidation, desc.Name, desc.Type)
	}

	p := &Property{
		device:       d,
		name:         desc.Name,
		valueType:    desc.Type,
		unit:         desc.Unit,
		description:  desc.Description,
		semanticType: desc.SemanticType,
		minimum:      copyFloat(desc.Minimum),
		maximum:      copyFloat(desc.Maximum),
		readOnly:     desc.ReadOnly,
	}

	if desc.Value == nil {
		p.value = zeroValue(desc.Type)
		return p, nil
	}
	v, err := coerceValue(desc.Type, desc.Value)
	if err != nil {
		return nil, fmt.Errorf("property %q initial value: %w", desc.Name, err)
	}
	p.value = v
	return p, nil
}

// Name returns the property name, unique within its device.
func (p *Property) Name() string { return p.name }

// Type returns the declared value type.
func (p *Property) Type() ValueType { return p.valueType }

// Unit returns the unit string, or "" when unitless.
func (p *Property) Unit() string { return p.unit }

// Description returns the human-readable description.
func (p *Property) Description() string { return p.description }

// Device returns the owning device.
func (p *Property) Device() *Device { return p.device }

// Value returns the cached value without performing I/O.
func (p *Property) Value() any {
	p.device.mu.RLock()
	defer p.device.mu.RUnlock()
	return p.value
}

// Info returns a snapshot of the property.
func (p *Property) Info() PropertyInfo {
	p.device.mu.RLock()
	defer p.device.mu.RUnlock()
	return p.infoLocked()
}

func (p *Property) infoLocked() PropertyInfo {
	return PropertyInfo{
		Name:         p.name,
		Type:         p.valueType,
		Value:        p.value,
		Unit:         p.unit,
		Description:  p.description,
		SemanticType: p.semanticType,
		Minimum:      copyFloat(p.minimum),
		Maximum:      copyFloat(p.maximum),
		ReadOnly:     p.readOnly,
	}
}

// SetValue validates the requested value against the property's type and
// range, lets the owning device transform it, caches the accepted value
// and emits exactly one property-changed notification.
//
// On any failure the cached value is unchanged and nothing is emitted.
// The accepted value is returned and may differ from the requested one.
func (p *Property) SetValue(ctx context.Context, requested any) (any, error) {
	if p.readOnly {
		return nil, fmt.Errorf("%w: property %q is read-only", ErrValidation, p.name)
	}

	v, err := p.validate(requested)
	if err != nil {
		return nil, err
	}

	accepted, err := p.device.transform(ctx, p, v)
	if err != nil {
		return nil, fmt.Errorf("transforming %q: %w", p.name, err)
	}
	// The transformer may rewrite the value but not change its type.
	accepted, err = coerceValue(p.valueType, accepted)
	if err != nil {
		return nil, fmt.Errorf("transformed value for %q: %w", p.name, err)
	}

	p.device.mu.Lock()
	p.value = accepted
	change := PropertyChange{
		DeviceID:  p.device.id,
		Property:  p.infoLocked(),
		Timestamp: time.Now().UTC(),
	}
	p.device.mu.Unlock()

	p.device.observer.PropertyChanged(change)
	return accepted, nil
}

// validate checks type and range. It does not touch the cache.
func (p *Property) validate(requested any) (any, error) {
	v, err := coerceValue(p.valueType, requested)
	if err != nil {
		return nil, fmt.Errorf("property %q: %w", p.name, err)
	}

	if p.valueType != TypeNumber {
		return v, nil
	}
	f, _ := v.(float64)
	if p.minimum != nil && f < *p.minimum {
		return nil, fmt.Errorf("%w: %q value %v below minimum %v", ErrValidation, p.name, f, *p.minimum)
	}
	if p.maximum != nil && f > *p.maximum {
		return nil, fmt.Errorf("%w: %q value %v above maximum %v", ErrValidation, p.name, f, *p.maximum)
	}
	return v, nil
}

// coerceValue normalises v to the Go representation of t: bool, float64
// or string. Numbers arrive as any Go numeric kind or json.Number.
func coerceValue(t ValueType, v any) (any, error) {
	switch t {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeNumber:
		f, ok := toFloat(v)
		if !ok {
			break
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: value %v is not a finite number", ErrValidation, f)
		}
		return f, nil
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrValidation, t)
	}
	return nil, fmt.Errorf("%w: value %v (%T) is not a %s", ErrValidation, v, v, t)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func zeroValue(t ValueType) any {
	switch t {
	case TypeBoolean:
		return false
	case TypeNumber:
		return float64(0)
	default:
		return ""
	}
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
