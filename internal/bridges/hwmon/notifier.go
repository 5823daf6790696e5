package hwmon

// Notifier receives the adapter's outbound notifications: the host
// framework side of the bridge.
//
// Calls are made synchronously from the adapter's execution context in
// the order the events happened. Implementations must not call back into
// the adapter and should hand slow work off to their own goroutines.
type Notifier interface {
	DeviceAdded(info DeviceInfo)
	DeviceRemoved(info DeviceInfo)
	PropertyChanged(change PropertyChange)
}

// Notifiers fans a notification out to every member in order.
type Notifiers []Notifier

// DeviceAdded implements Notifier.
func (ns Notifiers) DeviceAdded(info DeviceInfo) {
	for _, n := range ns {
		n.DeviceAdded(info)
	}
}

// DeviceRemoved implements Notifier.
func (ns Notifiers) DeviceRemoved(info DeviceInfo) {
	for _, n := range ns {
		n.DeviceRemoved(info)
	}
}

// PropertyChanged implements Notifier.
func (ns Notifiers) PropertyChanged(change PropertyChange) {
	for _, n := range ns {
		n.PropertyChanged(change)
	}
}

// NotifierFuncs adapts plain functions to Notifier. Nil fields are skipped.
type NotifierFuncs struct {
	OnDeviceAdded     func(DeviceInfo)
	OnDeviceRemoved   func(DeviceInfo)
	OnPropertyChanged func(PropertyChange)
}

// DeviceAdded implements Notifier.
func (f NotifierFuncs) DeviceAdded(info DeviceInfo) {
	if f.OnDeviceAdded != nil {
		f.OnDeviceAdded(info)
	}
}

// DeviceRemoved implements Notifier.
func (f NotifierFuncs) DeviceRemoved(info DeviceInfo) {
	if f.OnDeviceRemoved != nil {
		f.OnDeviceRemoved(info)
	}
}

// PropertyChanged implements Notifier.
func (f NotifierFuncs) PropertyChanged(change PropertyChange) {
	if f.OnPropertyChanged != nil {
		f.OnPropertyChanged(change)
	}
}

type nopNotifier struct{}

func (nopNotifier) DeviceAdded(DeviceInfo) {}

func (nopNotifier) DeviceRemoved(DeviceInfo) {}

func (nopNotifier) PropertyChanged(PropertyChange) {}
