package hwmon

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultPairingTimeout is used when StartPairing is given no timeout.
const DefaultPairingTimeout = 60 * time.Second

// PairingState is the adapter's pairing state machine position.
type PairingState int

// Pairing states.
const (
	StateIdle PairingState = iota
	StatePairingOffered
	StateUnpairingOffered
)

// String returns the state name.
func (s PairingState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePairingOffered:
		return "pairing_offered"
	case StateUnpairingOffered:
		return "unpairing_offered"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// PairingStatus reports the state machine and whichever offer is staged.
type PairingStatus struct {
	State       string `json:"state"`
	PairingID   string `json:"pairing_id,omitempty"`
	UnpairingID string `json:"unpairing_id,omitempty"`
	InProgress  bool   `json:"in_progress"`
}

// DiscoveryResult summarises one discovery pass.
type DiscoveryResult struct {
	// Added lists the IDs of devices registered by this pass.
	Added []string `json:"added"`

	// Updated counts readings of already-known devices that changed.
	Updated int `json:"updated"`

	// Failed lists the IDs of devices that could not be registered.
	Failed []string `json:"failed,omitempty"`

	// Diagnostics carries parser notes about skipped nodes and readings
	// that could not be applied to known devices.
	Diagnostics []string `json:"diagnostics,omitempty"`
}

// DiscoveryStats are the running counters exposed in health reports.
type DiscoveryStats struct {
	Polls       uint64    `json:"polls"`
	Failures    uint64    `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastPoll    time.Time `json:"last_poll,omitzero"`
	LastSuccess time.Time `json:"last_success,omitzero"`
}

// AdapterOptions configures an Adapter.
type AdapterOptions struct {
	// Name is the adapter's display name.
	Name string

	// Endpoint is the monitoring endpoint address. Without it discovery
	// fails with ErrConfiguration.
	Endpoint string

	// Fetcher overrides the HTTP fetcher built from Endpoint.
	Fetcher TreeFetcher

	// FetchTimeout bounds each HTTP request. Default: DefaultFetchTimeout.
	FetchTimeout time.Duration

	// DeviceDepth is the number of path labels forming a device boundary.
	// Default: DefaultDeviceDepth.
	DeviceDepth int

	// Notifier receives added/removed/property-changed notifications.
	Notifier Notifier

	// Transformer lets devices rewrite validated values. Default: identity.
	Transformer ValueTransformer

	// Logger is optional structured logger.
	Logger Logger
}

// pairingRun tracks an in-flight StartPairing so CancelPairing can abort it.
type pairingRun struct {
	cancel context.CancelFunc
}

// Adapter owns the device registry and the pairing state machine.
//
// Every registry mutation and state transition is serialised through mu,
// which is the adapter's single execution context: notifications are
// emitted while it is held, so they reach the Notifier in call order.
// Network I/O (fetching the tree) happens outside it.
type Adapter struct {
	name      string
	endpoint  string
	fetcher   TreeFetcher
	depth     int
	notifier  Notifier
	transform ValueTransformer
	logger    Logger

	mu        sync.Mutex
	devices   map[string]*Device
	order     []string
	state     PairingState
	pairOffer *DeviceDescription
	unpairID  string
	// epoch advances whenever the staged offers change hands, so a
	// cancelled run never restores an offer that was since replaced or
	// cleared.
	epoch uint64

	pairingMu sync.Mutex
	pairing   *pairingRun

	statsMu sync.Mutex
	stats   DiscoveryStats

	discovery singleflight.Group
}

// NewAdapter creates an adapter in the Idle state with an empty registry.
func NewAdapter(opts AdapterOptions) *Adapter {
	a := &Adapter{
		name:      opts.Name,
		endpoint:  opts.Endpoint,
		fetcher:   opts.Fetcher,
		depth:     opts.DeviceDepth,
		notifier:  opts.Notifier,
		transform: opts.Transformer,
		logger:    opts.Logger,
		devices:   make(map[string]*Device),
	}
	if a.name == "" {
		a.name = "hwmon"
	}
	if a.depth < 1 {
		a.depth = DefaultDeviceDepth
	}
	if a.notifier == nil {
		a.notifier = nopNotifier{}
	}
	if a.transform == nil {
		a.transform = IdentityTransformer
	}
	if a.logger == nil {
		a.logger = noopLogger{}
	}
	if a.fetcher == nil && a.endpoint != "" {
		a.fetcher = NewHTTPFetcher(a.endpoint, opts.FetchTimeout)
	}
	return a
}

// Name returns the adapter's display name.
func (a *Adapter) Name() string { return a.name }

// Endpoint returns the configured monitoring endpoint, or "".
func (a *Adapter) Endpoint() string { return a.endpoint }

// AddDevice constructs a device from desc and registers it.
// Fails with ErrDuplicateDevice, leaving the registry unchanged, when the
// ID is already present.
func (a *Adapter) AddDevice(desc DeviceDescription) (*Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addDeviceLocked(desc)
}

func (a *Adapter) addDeviceLocked(desc DeviceDescription) (*Device, error) {
	if _, exists := a.devices[desc.ID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateDevice, desc.ID)
	}

	d, err := NewDevice(desc, a.notifier, a.transform)
	if err != nil {
		return nil, err
	}

	a.devices[d.id] = d
	a.order = append(a.order, d.id)
	a.notifier.DeviceAdded(d.Info())
	a.logger.Info("device added", "device_id", d.id, "name", d.name, "properties", len(d.order))
	return d, nil
}

// RemoveDevice unregisters the device with the given ID.
// Fails with ErrDeviceNotFound, leaving the registry unchanged, when the
// ID is absent.
func (a *Adapter) RemoveDevice(id string) (*Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.removeDeviceLocked(id)
}

func (a *Adapter) removeDeviceLocked(id string) (*Device, error) {
	d, ok := a.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	delete(a.devices, id)
	if i := slices.Index(a.order, id); i >= 0 {
		a.order = slices.Delete(a.order, i, i+1)
	}
	a.notifier.DeviceRemoved(d.Info())
	a.logger.Info("device removed", "device_id", id)
	return d, nil
}

// Device returns the registered device with the given ID.
func (a *Adapter) Device(id string) (*Device, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	d, ok := a.devices[id]
	return d, ok
}

// Devices returns the registered devices in insertion order.
func (a *Adapter) Devices() []*Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Device, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.devices[id])
	}
	return out
}

// DeviceCount returns the number of registered devices.
func (a *Adapter) DeviceCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.devices)
}

// SetValue sets a property on a registered device. See Property.SetValue.
func (a *Adapter) SetValue(ctx context.Context, deviceID, property string, value any) (any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d, ok := a.devices[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	p, ok := d.Property(property)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPropertyNotFound, deviceID, property)
	}

	accepted, err := p.SetValue(ctx, value)
	if err != nil {
		a.logger.Debug("set value rejected", "device_id", deviceID, "property", property, "error", err)
		return nil, err
	}
	return accepted, nil
}

// PairDevice stages a pairing offer for id, replacing any prior offer.
// An empty description is resolved against the monitoring endpoint when
// StartPairing consumes it.
func (a *Adapter) PairDevice(id string, desc DeviceDescription) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}
	desc.ID = id

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = StatePairingOffered
	a.pairOffer = &desc
	a.unpairID = ""
	a.epoch++
	a.logger.Info("pairing offer staged", "device_id", id)
	return nil
}

// StartPairing consumes a staged pairing offer and registers the device.
//
// With nothing staged it returns (nil, nil). Offers without properties
// are resolved against the monitoring endpoint, bounded by timeout; an ID
// the endpoint does not report fails with ErrDeviceNotFound. On failure
// the adapter returns to Idle, except when the run was cancelled, in
// which case the offer is staged again for a later attempt.
func (a *Adapter) StartPairing(ctx context.Context, timeout time.Duration) (*Device, error) {
	a.mu.Lock()
	if a.state != StatePairingOffered || a.pairOffer == nil {
		a.mu.Unlock()
		a.logger.Debug("start pairing: no offer staged")
		return nil, nil
	}
	offer := *a.pairOffer
	a.pairOffer = nil
	a.state = StateIdle
	a.epoch++
	epoch := a.epoch
	a.mu.Unlock()

	if timeout <= 0 {
		timeout = DefaultPairingTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	run := &pairingRun{cancel: cancel}
	a.setPairingRun(run)
	defer func() {
		a.clearPairingRun(run)
		cancel()
	}()

	a.logger.Info("pairing started", "device_id", offer.ID, "timeout", timeout)

	if len(offer.Properties) == 0 && a.fetcher != nil {
		resolved, err := a.resolveOffer(pctx, offer)
		if err != nil {
			a.pairingFailed(offer, epoch, err)
			return nil, err
		}
		offer = resolved
	}

	// ClearState cancels the run before taking mu, so checking pctx under
	// mu keeps a cleared adapter from gaining the device.
	a.mu.Lock()
	if err := pctx.Err(); err != nil {
		a.mu.Unlock()
		a.pairingFailed(offer, epoch, err)
		return nil, fmt.Errorf("pairing %s: %w", offer.ID, err)
	}
	d, err := a.addDeviceLocked(offer)
	a.mu.Unlock()
	if err != nil {
		a.pairingFailed(offer, epoch, err)
		return nil, err
	}
	return d, nil
}

// resolveOffer fills an empty offer from the device the endpoint reports
// under the same ID.
func (a *Adapter) resolveOffer(ctx context.Context, offer DeviceDescription) (DeviceDescription, error) {
	tree, err := a.fetcher.FetchTree(ctx)
	if err != nil {
		return offer, fmt.Errorf("pairing %s: %w", offer.ID, err)
	}
	parsed := ParseTree(tree)
	a.logDiagnostics(parsed.Diagnostics)

	for _, desc := range GroupDevices(parsed.Properties, a.depth) {
		if desc.ID != offer.ID {
			continue
		}
		if offer.Name != "" {
			desc.Name = offer.Name
		}
		if offer.Description != "" {
			desc.Description = offer.Description
		}
		if offer.Type != "" {
			desc.Type = offer.Type
		}
		return desc, nil
	}
	return offer, fmt.Errorf("%w: endpoint does not report %s", ErrDeviceNotFound, offer.ID)
}

func (a *Adapter) pairingFailed(offer DeviceDescription, epoch uint64, err error) {
	if !errors.Is(err, context.Canceled) {
		a.logger.Error("pairing failed", "device_id", offer.ID, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.epoch != epoch || a.state != StateIdle {
		a.logger.Info("pairing cancelled, offer superseded", "device_id", offer.ID)
		return
	}
	a.state = StatePairingOffered
	a.pairOffer = &offer
	a.logger.Info("pairing cancelled, offer kept", "device_id", offer.ID)
}

func (a *Adapter) setPairingRun(run *pairingRun) {
	a.pairingMu.Lock()
	defer a.pairingMu.Unlock()
	a.pairing = run
}

func (a *Adapter) clearPairingRun(run *pairingRun) {
	a.pairingMu.Lock()
	defer a.pairingMu.Unlock()
	if a.pairing == run {
		a.pairing = nil
	}
}

// CancelPairing aborts any pairing in progress. Staged offers are left
// alone. It always succeeds.
func (a *Adapter) CancelPairing() {
	a.pairingMu.Lock()
	run := a.pairing
	a.pairing = nil
	a.pairingMu.Unlock()

	if run != nil {
		run.cancel()
	}
	a.logger.Info("pairing cancelled", "in_progress", run != nil)
}

// UnpairDevice stages removal of the device with the given ID, replacing
// any prior offer.
func (a *Adapter) UnpairDevice(id string) error {
	if id == "" {
		return fmt.Errorf("%w: device id is required", ErrValidation)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = StateUnpairingOffered
	a.unpairID = id
	a.pairOffer = nil
	a.epoch++
	a.logger.Info("unpairing offer staged", "device_id", id)
	return nil
}

// RemoveThing consumes the unpairing offer staged for id and removes the
// device. Fails with ErrNoOffer when no such offer is staged, and with
// ErrDeviceNotFound when the device is not registered.
func (a *Adapter) RemoveThing(id string) (*Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateUnpairingOffered || a.unpairID != id {
		return nil, fmt.Errorf("%w: no unpairing offer for %s", ErrNoOffer, id)
	}
	a.state = StateIdle
	a.unpairID = ""

	d, err := a.removeDeviceLocked(id)
	if err != nil {
		a.logger.Warn("remove thing failed", "device_id", id, "error", err)
		return nil, err
	}
	return d, nil
}

// CancelRemoveThing records that the host abandoned removal of id. Staged
// offers are left as they are, so a later RemoveThing still succeeds.
func (a *Adapter) CancelRemoveThing(id string) {
	a.mu.Lock()
	staged := a.state == StateUnpairingOffered && a.unpairID == id
	a.mu.Unlock()
	a.logger.Info("remove thing cancelled", "device_id", id, "offer_staged", staged)
}

// PairingStatus reports the state machine position.
func (a *Adapter) PairingStatus() PairingStatus {
	a.mu.Lock()
	status := PairingStatus{State: a.state.String(), UnpairingID: a.unpairID}
	if a.pairOffer != nil {
		status.PairingID = a.pairOffer.ID
	}
	a.mu.Unlock()

	a.pairingMu.Lock()
	status.InProgress = a.pairing != nil
	a.pairingMu.Unlock()
	return status
}

// DiscoverSensors fetches the sensor tree, groups its leaves into devices
// and registers each one. Devices already registered have their readings
// refreshed. Per-device failures are logged and reported in the result
// without failing the pass.
//
// Concurrent calls share a single fetch.
func (a *Adapter) DiscoverSensors(ctx context.Context) (DiscoveryResult, error) {
	if a.endpoint == "" || a.fetcher == nil {
		return DiscoveryResult{}, fmt.Errorf("discovering sensors for %s: %w", a.name, ErrConfiguration)
	}

	v, err, shared := a.discovery.Do("discover", func() (any, error) {
		return a.discover(ctx)
	})
	if err != nil {
		return DiscoveryResult{}, err
	}
	if shared {
		a.logger.Debug("discovery pass shared with concurrent caller")
	}
	return v.(DiscoveryResult), nil
}

func (a *Adapter) discover(ctx context.Context) (DiscoveryResult, error) {
	tree, err := a.fetcher.FetchTree(ctx)
	if err != nil {
		a.recordPoll(err)
		return DiscoveryResult{}, fmt.Errorf("discovering sensors: %w", err)
	}

	parsed := ParseTree(tree)
	a.logDiagnostics(parsed.Diagnostics)
	descs := GroupDevices(parsed.Properties, a.depth)

	result := DiscoveryResult{Diagnostics: parsed.Diagnostics}

	a.mu.Lock()
	for _, desc := range descs {
		_, err := a.addDeviceLocked(desc)
		switch {
		case err == nil:
			result.Added = append(result.Added, desc.ID)
		case errors.Is(err, ErrDuplicateDevice):
			a.logger.Debug("device already registered, refreshing readings", "device_id", desc.ID)
			changed, problems := a.refreshLocked(desc)
			result.Updated += changed
			result.Diagnostics = append(result.Diagnostics, problems...)
		default:
			a.logger.Warn("discovered device rejected", "device_id", desc.ID, "error", err)
			result.Failed = append(result.Failed, desc.ID)
		}
	}
	a.mu.Unlock()

	a.recordPoll(nil)
	a.logger.Debug("discovery pass complete",
		"devices", len(descs),
		"added", len(result.Added),
		"updated", result.Updated,
		"failed", len(result.Failed),
	)
	return result, nil
}

// refreshLocked pushes fresh readings into an existing device and returns
// how many changed. Sensors the device does not have yet are added to it.
// Readings that could not be applied are returned as diagnostics.
func (a *Adapter) refreshLocked(desc DeviceDescription) (int, []string) {
	d := a.devices[desc.ID]
	changed := 0
	var problems []string
	for _, pd := range desc.Properties {
		ok, err := d.UpdateReading(pd)
		if errors.Is(err, ErrPropertyNotFound) && pd.Value != nil {
			_, err = d.AddProperty(pd)
			if err == nil {
				a.logger.Info("property added", "device_id", desc.ID, "property", pd.Name)
				changed++
				continue
			}
		}
		if err != nil {
			a.logger.Warn("reading not applied", "device_id", desc.ID, "property", pd.Name, "error", err)
			problems = append(problems, fmt.Sprintf("reading %s/%s not applied: %v", desc.ID, pd.Name, err))
			continue
		}
		if ok {
			changed++
		}
	}
	return changed, problems
}

func (a *Adapter) logDiagnostics(diags []string) {
	for _, d := range diags {
		a.logger.Warn("sensor tree node skipped", "reason", d)
	}
}

func (a *Adapter) recordPoll(err error) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()

	now := time.Now().UTC()
	a.stats.Polls++
	a.stats.LastPoll = now
	if err != nil {
		a.stats.Failures++
		a.stats.LastError = err.Error()
		return
	}
	a.stats.LastError = ""
	a.stats.LastSuccess = now
}

// Stats returns the discovery counters.
func (a *Adapter) Stats() DiscoveryStats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}

// ClearState removes every device, emitting a removed notification for
// each, and discards staged offers. It restores a pristine adapter.
func (a *Adapter) ClearState() {
	a.CancelPairing()

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, id := range slices.Clone(a.order) {
		if _, err := a.removeDeviceLocked(id); err != nil {
			a.logger.Warn("clear state: removing device failed", "device_id", id, "error", err)
		}
	}
	a.state = StateIdle
	a.pairOffer = nil
	a.unpairID = ""
	a.epoch++
	a.logger.Info("adapter state cleared")
}
