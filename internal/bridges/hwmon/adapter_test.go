package hwmon

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const testEndpoint = "http://monitor.test/data.json"

func newTestAdapter(t *testing.T, fetcher TreeFetcher) (*Adapter, *recordingNotifier) {
	t.Helper()
	rec := &recordingNotifier{}
	opts := AdapterOptions{Name: "test", Notifier: rec}
	if fetcher != nil {
		opts.Endpoint = testEndpoint
		opts.Fetcher = fetcher
	}
	return NewAdapter(opts), rec
}

func TestAdapterAddRemoveRoundTrip(t *testing.T) {
	a, rec := newTestAdapter(t, nil)

	d, err := a.AddDevice(numberDevice("fan-1"))
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if got, ok := a.Device("fan-1"); !ok || got != d {
		t.Fatalf("Device(fan-1) = %v, %v", got, ok)
	}

	events := rec.all()
	if last := events[len(events)-1]; last.kind != "added" || last.deviceID != "fan-1" {
		t.Errorf("last notification = %+v, want added fan-1", last)
	}
	if rec.count("changed") != 3 {
		t.Errorf("changed notifications = %d, want 3 (one per property)", rec.count("changed"))
	}

	removed, err := a.RemoveDevice("fan-1")
	if err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if removed != d {
		t.Errorf("RemoveDevice() returned a different device")
	}
	if _, ok := a.Device("fan-1"); ok {
		t.Error("device still registered after removal")
	}
	if a.DeviceCount() != 0 {
		t.Errorf("DeviceCount() = %d, want 0", a.DeviceCount())
	}
	if rec.count("removed") != 1 {
		t.Errorf("removed notifications = %d, want 1", rec.count("removed"))
	}
}

func TestAdapterAddDuplicate(t *testing.T) {
	a, rec := newTestAdapter(t, nil)
	original, err := a.AddDevice(numberDevice("fan-1"))
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	rec.reset()

	_, err = a.AddDevice(numberDevice("fan-1"))
	if !errors.Is(err, ErrDuplicateDevice) {
		t.Fatalf("AddDevice(duplicate) error = %v, want ErrDuplicateDevice", err)
	}
	if got, _ := a.Device("fan-1"); got != original {
		t.Error("registry entry replaced by duplicate add")
	}
	if a.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", a.DeviceCount())
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestAdapterRemoveMissing(t *testing.T) {
	a, rec := newTestAdapter(t, nil)
	if _, err := a.AddDevice(numberDevice("fan-1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	rec.reset()

	if _, err := a.RemoveDevice("fan-2"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("RemoveDevice(missing) error = %v, want ErrDeviceNotFound", err)
	}
	if a.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", a.DeviceCount())
	}
	if n := len(rec.all()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestAdapterDevicesOrder(t *testing.T) {
	a, _ := newTestAdapter(t, nil)
	for _, id := range []string{"c", "a", "b"} {
		if _, err := a.AddDevice(DeviceDescription{ID: id}); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", id, err)
		}
	}
	if _, err := a.RemoveDevice("a"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	var ids []string
	for _, d := range a.Devices() {
		ids = append(ids, d.ID())
	}
	if len(ids) != 2 || ids[0] != "c" || ids[1] != "b" {
		t.Errorf("Devices() order = %v, want [c b]", ids)
	}
}

func TestAdapterSetValue(t *testing.T) {
	a, rec := newTestAdapter(t, nil)
	if _, err := a.AddDevice(numberDevice("fan-1")); err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	rec.reset()
	ctx := context.Background()

	if _, err := a.SetValue(ctx, "fan-1", "duty", 80); err != nil {
		t.Fatalf("SetValue() error = %v", err)
	}
	if rec.count("changed") != 1 {
		t.Errorf("changed notifications = %d, want 1", rec.count("changed"))
	}

	if _, err := a.SetValue(ctx, "fan-9", "duty", 80); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("SetValue(unknown device) error = %v, want ErrDeviceNotFound", err)
	}
	if _, err := a.SetValue(ctx, "fan-1", "rpm", 80); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("SetValue(unknown property) error = %v, want ErrPropertyNotFound", err)
	}
	if _, err := a.SetValue(ctx, "fan-1", "duty", 101); !errors.Is(err, ErrValidation) {
		t.Errorf("SetValue(out of range) error = %v, want ErrValidation", err)
	}
	if rec.count("changed") != 1 {
		t.Errorf("changed notifications after failures = %d, want 1", rec.count("changed"))
	}
}

func TestAdapterDiscoverWithoutEndpoint(t *testing.T) {
	a, rec := newTestAdapter(t, nil)

	_, err := a.DiscoverSensors(context.Background())
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("DiscoverSensors() error = %v, want ErrConfiguration", err)
	}
	if a.DeviceCount() != 0 || len(rec.all()) != 0 {
		t.Error("discovery without endpoint changed state")
	}
}

func TestAdapterDiscoverSensors(t *testing.T) {
	fetcher := &stubFetcher{tree: sampleTree(t)}
	a, rec := newTestAdapter(t, fetcher)

	result, err := a.DiscoverSensors(context.Background())
	if err != nil {
		t.Fatalf("DiscoverSensors() error = %v", err)
	}
	if len(result.Added) != 2 || result.Added[0] != cpuDeviceID || result.Added[1] != gpuDeviceID {
		t.Errorf("Added = %v", result.Added)
	}
	if rec.count("added") != 2 {
		t.Errorf("added notifications = %d, want 2", rec.count("added"))
	}

	cpu, ok := a.Device(cpuDeviceID)
	if !ok {
		t.Fatal("cpu device not registered")
	}
	p, ok := cpu.Property("Temperatures/CPU Package")
	if !ok || p.Value() != 45.0 || p.Unit() != "°C" {
		t.Errorf("CPU Package = %v %q", p.Value(), p.Unit())
	}

	stats := a.Stats()
	if stats.Polls != 1 || stats.Failures != 0 || stats.LastSuccess.IsZero() {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestAdapterDiscoverRefreshesKnownDevices(t *testing.T) {
	fetcher := &stubFetcher{tree: sampleTree(t)}
	a, rec := newTestAdapter(t, fetcher)
	ctx := context.Background()

	if _, err := a.DiscoverSensors(ctx); err != nil {
		t.Fatalf("first DiscoverSensors() error = %v", err)
	}
	rec.reset()

	// Same tree: duplicates tolerated, nothing changes.
	result, err := a.DiscoverSensors(ctx)
	if err != nil {
		t.Fatalf("second DiscoverSensors() error = %v", err)
	}
	if len(result.Added) != 0 || result.Updated != 0 || len(rec.all()) != 0 {
		t.Errorf("unchanged pass: result = %+v, notifications = %v", result, rec.all())
	}

	tree := sampleTree(t)
	cpuTemp := tree.Children[0].Children[0].Children[0].Children[0]
	cpuTemp.Value = "51.0 °C"
	fetcher.setTree(tree)

	result, err = a.DiscoverSensors(ctx)
	if err != nil {
		t.Fatalf("third DiscoverSensors() error = %v", err)
	}
	if result.Updated != 1 {
		t.Errorf("Updated = %d, want 1", result.Updated)
	}
	events := rec.all()
	if len(events) != 1 || events[0].property != "Temperatures/CPU Package" || events[0].value != 51.0 {
		t.Errorf("notifications = %+v", events)
	}
}

func TestAdapterDiscoverLateSensors(t *testing.T) {
	fetcher := &stubFetcher{tree: sampleTree(t)}
	logs := &recordingLogger{}
	rec := &recordingNotifier{}
	a := NewAdapter(AdapterOptions{Endpoint: testEndpoint, Fetcher: fetcher, Notifier: rec, Logger: logs})
	ctx := context.Background()

	if _, err := a.DiscoverSensors(ctx); err != nil {
		t.Fatalf("first DiscoverSensors() error = %v", err)
	}
	gpu, ok := a.Device(gpuDeviceID)
	if !ok {
		t.Fatalf("device %s not registered", gpuDeviceID)
	}
	if _, ok := gpu.Property("Temperatures/GPU Core"); ok {
		t.Fatal("empty GPU Core reading registered a property")
	}
	rec.reset()

	tree := sampleTree(t)
	gpuCore := tree.Children[0].Children[1].Children[1].Children[0]
	gpuCore.Value = "62.0 °C"
	fetcher.setTree(tree)

	result, err := a.DiscoverSensors(ctx)
	if err != nil {
		t.Fatalf("second DiscoverSensors() error = %v", err)
	}
	if result.Updated != 1 || len(result.Diagnostics) != 0 {
		t.Errorf("result = %+v, want one update and no diagnostics", result)
	}
	p, ok := gpu.Property("Temperatures/GPU Core")
	if !ok {
		t.Fatal("GPU Core missing after it reported a reading")
	}
	if p.Type() != TypeNumber || p.Value() != 62.0 || p.Unit() != "°C" {
		t.Errorf("GPU Core = %s %v %q, want number 62 °C", p.Type(), p.Value(), p.Unit())
	}
	events := rec.all()
	if len(events) != 1 || events[0].deviceID != gpuDeviceID || events[0].property != "Temperatures/GPU Core" {
		t.Errorf("notifications = %+v, want one for GPU Core", events)
	}

	if got := logs.find("device already registered, refreshing readings"); len(got) != 2 {
		t.Errorf("refresh log entries = %d, want one per known device", len(got))
	}
}

func TestAdapterDiscoverRetypesSensor(t *testing.T) {
	tree := sampleTree(t)
	gpuFan := tree.Children[0].Children[1].Children[0].Children[0]
	gpuFan.Value = "N/A"
	fetcher := &stubFetcher{tree: tree}
	a, rec := newTestAdapter(t, fetcher)
	ctx := context.Background()

	if _, err := a.DiscoverSensors(ctx); err != nil {
		t.Fatalf("first DiscoverSensors() error = %v", err)
	}
	gpu, _ := a.Device(gpuDeviceID)
	if p, ok := gpu.Property("Fans/GPU Fan"); !ok || p.Type() != TypeString {
		t.Fatalf("GPU Fan after N/A = %v, %v; want string property", p, ok)
	}
	rec.reset()

	fetcher.setTree(sampleTree(t))
	result, err := a.DiscoverSensors(ctx)
	if err != nil {
		t.Fatalf("second DiscoverSensors() error = %v", err)
	}
	if result.Updated != 1 || len(result.Diagnostics) != 0 {
		t.Errorf("result = %+v, want one update and no diagnostics", result)
	}
	p, _ := gpu.Property("Fans/GPU Fan")
	if p.Type() != TypeNumber || p.Value() != 1200.0 || p.Unit() != "RPM" {
		t.Errorf("GPU Fan = %s %v %q, want number 1200 RPM", p.Type(), p.Value(), p.Unit())
	}
	if rec.count("changed") != 1 {
		t.Errorf("changed notifications = %d, want 1", rec.count("changed"))
	}
}

func TestAdapterDiscoverFetchFailure(t *testing.T) {
	errDown := errors.New("connection refused")
	a, _ := newTestAdapter(t, &stubFetcher{err: errDown})

	_, err := a.DiscoverSensors(context.Background())
	if !errors.Is(err, errDown) {
		t.Fatalf("DiscoverSensors() error = %v, want %v", err, errDown)
	}
	stats := a.Stats()
	if stats.Failures != 1 || stats.LastError == "" {
		t.Errorf("Stats() = %+v, want one failure recorded", stats)
	}
}

func TestAdapterDiscoverSharesConcurrentCalls(t *testing.T) {
	fetcher := &stubFetcher{
		tree:    sampleTree(t),
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	a, _ := newTestAdapter(t, fetcher)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.DiscoverSensors(context.Background())
			errs <- err
		}()
	}

	<-fetcher.started
	// Give the second caller time to join the in-flight pass.
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("DiscoverSensors() error = %v", err)
		}
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("fetch calls = %d, want 1", n)
	}
	if a.DeviceCount() != 2 {
		t.Errorf("DeviceCount() = %d, want 2", a.DeviceCount())
	}
}

func TestAdapterPairing(t *testing.T) {
	t.Run("pair then start adds device", func(t *testing.T) {
		a, rec := newTestAdapter(t, nil)

		if err := a.PairDevice("p1", numberDevice("ignored")); err != nil {
			t.Fatalf("PairDevice() error = %v", err)
		}
		if s := a.PairingStatus(); s.State != "pairing_offered" || s.PairingID != "p1" {
			t.Errorf("PairingStatus() = %+v", s)
		}

		d, err := a.StartPairing(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("StartPairing() error = %v", err)
		}
		if d == nil || d.ID() != "p1" {
			t.Fatalf("StartPairing() device = %v, want p1", d)
		}
		if _, ok := a.Device("p1"); !ok {
			t.Error("p1 not registered")
		}
		if d.Name() != "Fan controller" {
			t.Errorf("Name() = %q, want Fan controller", d.Name())
		}
		offered := numberDevice("p1").Properties
		got := d.Info().Properties
		if len(got) != len(offered) {
			t.Fatalf("properties = %+v, want %d", got, len(offered))
		}
		for i, want := range offered {
			p := got[i]
			if p.Name != want.Name || p.Type != want.Type || p.Unit != want.Unit || p.Value != want.Value {
				t.Errorf("property %d = %+v, want %s %s %v %q", i, p, want.Name, want.Type, want.Value, want.Unit)
			}
		}
		if duty := got[0]; duty.Minimum == nil || *duty.Minimum != 0 || duty.Maximum == nil || *duty.Maximum != 100 {
			t.Errorf("duty bounds = %v, %v, want 0..100", duty.Minimum, duty.Maximum)
		}
		if rec.count("added") != 1 {
			t.Errorf("added notifications = %d, want exactly 1", rec.count("added"))
		}
		if s := a.PairingStatus(); s.State != "idle" {
			t.Errorf("state after pairing = %s, want idle", s.State)
		}
	})

	t.Run("nothing staged", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		d, err := a.StartPairing(context.Background(), time.Second)
		if d != nil || err != nil {
			t.Errorf("StartPairing() = %v, %v; want nil, nil", d, err)
		}
	})

	t.Run("later offer replaces earlier", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_ = a.PairDevice("p1", DeviceDescription{})
		_ = a.PairDevice("p2", DeviceDescription{})

		d, err := a.StartPairing(context.Background(), time.Second)
		if err != nil || d.ID() != "p2" {
			t.Fatalf("StartPairing() = %v, %v; want p2", d, err)
		}
		if _, ok := a.Device("p1"); ok {
			t.Error("overwritten offer p1 was paired")
		}
	})

	t.Run("duplicate fails and returns to idle", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_, _ = a.AddDevice(DeviceDescription{ID: "p1"})
		_ = a.PairDevice("p1", DeviceDescription{})

		if _, err := a.StartPairing(context.Background(), time.Second); !errors.Is(err, ErrDuplicateDevice) {
			t.Errorf("StartPairing() error = %v, want ErrDuplicateDevice", err)
		}
		if s := a.PairingStatus(); s.State != "idle" {
			t.Errorf("state = %s, want idle", s.State)
		}
	})

	t.Run("empty offer resolved from endpoint", func(t *testing.T) {
		a, _ := newTestAdapter(t, &stubFetcher{tree: sampleTree(t)})
		_ = a.PairDevice(gpuDeviceID, DeviceDescription{Name: "Graphics"})

		d, err := a.StartPairing(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("StartPairing() error = %v", err)
		}
		if d.Name() != "Graphics" {
			t.Errorf("Name() = %q, want offered name", d.Name())
		}
		if _, ok := d.Property("Fans/GPU Fan"); !ok {
			t.Error("resolved device missing Fans/GPU Fan")
		}
	})

	t.Run("unknown id on endpoint", func(t *testing.T) {
		a, _ := newTestAdapter(t, &stubFetcher{tree: sampleTree(t)})
		_ = a.PairDevice("nope", DeviceDescription{})

		if _, err := a.StartPairing(context.Background(), time.Second); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("StartPairing() error = %v, want ErrDeviceNotFound", err)
		}
		if s := a.PairingStatus(); s.State != "idle" {
			t.Errorf("state = %s, want idle", s.State)
		}
	})

	t.Run("timeout returns to idle", func(t *testing.T) {
		a, _ := newTestAdapter(t, &stubFetcher{tree: sampleTree(t), block: make(chan struct{})})
		_ = a.PairDevice(cpuDeviceID, DeviceDescription{})

		_, err := a.StartPairing(context.Background(), 20*time.Millisecond)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("StartPairing() error = %v, want deadline exceeded", err)
		}
		if s := a.PairingStatus(); s.State != "idle" || s.InProgress {
			t.Errorf("PairingStatus() = %+v, want idle", s)
		}
	})

	t.Run("cancel keeps offer staged", func(t *testing.T) {
		fetcher := &stubFetcher{
			tree:    sampleTree(t),
			block:   make(chan struct{}),
			started: make(chan struct{}, 1),
		}
		a, _ := newTestAdapter(t, fetcher)
		_ = a.PairDevice(cpuDeviceID, DeviceDescription{})

		errc := make(chan error, 1)
		go func() {
			_, err := a.StartPairing(context.Background(), 5*time.Second)
			errc <- err
		}()
		<-fetcher.started
		a.CancelPairing()

		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Fatalf("StartPairing() error = %v, want canceled", err)
		}
		if s := a.PairingStatus(); s.State != "pairing_offered" || s.PairingID != cpuDeviceID {
			t.Fatalf("PairingStatus() = %+v, want offer kept", s)
		}

		close(fetcher.block)
		d, err := a.StartPairing(context.Background(), time.Second)
		if err != nil || d.ID() != cpuDeviceID {
			t.Errorf("retry StartPairing() = %v, %v", d, err)
		}
	})

	t.Run("clear state during pairing discards offer", func(t *testing.T) {
		fetcher := &stubFetcher{
			tree:    sampleTree(t),
			block:   make(chan struct{}),
			started: make(chan struct{}, 1),
		}
		a, rec := newTestAdapter(t, fetcher)
		_ = a.PairDevice(cpuDeviceID, DeviceDescription{})

		errc := make(chan error, 1)
		go func() {
			_, err := a.StartPairing(context.Background(), 5*time.Second)
			errc <- err
		}()
		<-fetcher.started
		a.ClearState()

		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Fatalf("StartPairing() error = %v, want canceled", err)
		}
		if s := a.PairingStatus(); s.State != "idle" || s.PairingID != "" || s.InProgress {
			t.Errorf("PairingStatus() = %+v, want pristine idle", s)
		}
		if a.DeviceCount() != 0 || rec.count("added") != 0 {
			t.Errorf("DeviceCount() = %d, added = %d, want none", a.DeviceCount(), rec.count("added"))
		}
		if d, err := a.StartPairing(context.Background(), time.Second); d != nil || err != nil {
			t.Errorf("StartPairing() after clear = %v, %v, want nothing staged", d, err)
		}
	})

	t.Run("newer offer survives cancelled run", func(t *testing.T) {
		fetcher := &stubFetcher{
			tree:    sampleTree(t),
			block:   make(chan struct{}),
			started: make(chan struct{}, 1),
		}
		a, _ := newTestAdapter(t, fetcher)
		_ = a.PairDevice(cpuDeviceID, DeviceDescription{})

		errc := make(chan error, 1)
		go func() {
			_, err := a.StartPairing(context.Background(), 5*time.Second)
			errc <- err
		}()
		<-fetcher.started
		_ = a.UnpairDevice("d9")
		a.CancelRemoveThing("d9")
		_ = a.PairDevice(gpuDeviceID, DeviceDescription{})
		a.CancelPairing()

		if err := <-errc; !errors.Is(err, context.Canceled) {
			t.Fatalf("StartPairing() error = %v, want canceled", err)
		}
		if s := a.PairingStatus(); s.State != "pairing_offered" || s.PairingID != gpuDeviceID {
			t.Errorf("PairingStatus() = %+v, want %s staged", s, gpuDeviceID)
		}
	})

	t.Run("cancel with nothing in flight", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_ = a.PairDevice("p1", DeviceDescription{})
		a.CancelPairing()
		if s := a.PairingStatus(); s.State != "pairing_offered" {
			t.Errorf("state = %s, want offer untouched", s.State)
		}
	})

	t.Run("empty id rejected", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		if err := a.PairDevice("", DeviceDescription{}); !errors.Is(err, ErrValidation) {
			t.Errorf("PairDevice(\"\") error = %v, want ErrValidation", err)
		}
	})
}

func TestAdapterUnpairing(t *testing.T) {
	t.Run("unpair then remove", func(t *testing.T) {
		a, rec := newTestAdapter(t, nil)
		_, _ = a.AddDevice(DeviceDescription{ID: "d1"})
		rec.reset()

		if err := a.UnpairDevice("d1"); err != nil {
			t.Fatalf("UnpairDevice() error = %v", err)
		}
		if s := a.PairingStatus(); s.State != "unpairing_offered" || s.UnpairingID != "d1" {
			t.Errorf("PairingStatus() = %+v", s)
		}
		if _, err := a.RemoveThing("d1"); err != nil {
			t.Fatalf("RemoveThing() error = %v", err)
		}
		if rec.count("removed") != 1 {
			t.Errorf("removed notifications = %d, want exactly 1", rec.count("removed"))
		}
		if s := a.PairingStatus(); s.State != "idle" {
			t.Errorf("state = %s, want idle", s.State)
		}
	})

	t.Run("remove without offer", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_, _ = a.AddDevice(DeviceDescription{ID: "d1"})
		if _, err := a.RemoveThing("d1"); !errors.Is(err, ErrNoOffer) {
			t.Errorf("RemoveThing() error = %v, want ErrNoOffer", err)
		}
		if a.DeviceCount() != 1 {
			t.Error("device removed without an offer")
		}
	})

	t.Run("remove unknown device", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_ = a.UnpairDevice("ghost")
		if _, err := a.RemoveThing("ghost"); !errors.Is(err, ErrDeviceNotFound) {
			t.Errorf("RemoveThing() error = %v, want ErrDeviceNotFound", err)
		}
		if s := a.PairingStatus(); s.State != "idle" {
			t.Errorf("state = %s, want idle", s.State)
		}
	})

	t.Run("cancel remove keeps offer", func(t *testing.T) {
		a, rec := newTestAdapter(t, nil)
		_, _ = a.AddDevice(DeviceDescription{ID: "d1"})
		_ = a.UnpairDevice("d1")
		rec.reset()

		a.CancelRemoveThing("other")
		a.CancelRemoveThing("d1")
		if s := a.PairingStatus(); s.State != "unpairing_offered" || s.UnpairingID != "d1" {
			t.Errorf("PairingStatus() after cancel = %+v, want offer untouched", s)
		}
		if rec.count("removed") != 0 {
			t.Error("cancel emitted a removed notification")
		}
		if _, err := a.RemoveThing("d1"); err != nil {
			t.Errorf("RemoveThing() after cancel error = %v", err)
		}
		if a.DeviceCount() != 0 {
			t.Errorf("DeviceCount() = %d, want 0", a.DeviceCount())
		}
	})

	t.Run("pair offer replaces unpair offer", func(t *testing.T) {
		a, _ := newTestAdapter(t, nil)
		_ = a.UnpairDevice("d1")
		_ = a.PairDevice("p1", DeviceDescription{})
		if s := a.PairingStatus(); s.State != "pairing_offered" || s.UnpairingID != "" {
			t.Errorf("PairingStatus() = %+v", s)
		}
	})
}

func TestAdapterClearState(t *testing.T) {
	a, rec := newTestAdapter(t, nil)
	_, _ = a.AddDevice(DeviceDescription{ID: "d1"})
	_, _ = a.AddDevice(DeviceDescription{ID: "d2"})
	_ = a.PairDevice("p1", DeviceDescription{})
	rec.reset()

	a.ClearState()

	if a.DeviceCount() != 0 {
		t.Errorf("DeviceCount() = %d, want 0", a.DeviceCount())
	}
	if rec.count("removed") != 2 {
		t.Errorf("removed notifications = %d, want 2", rec.count("removed"))
	}
	if s := a.PairingStatus(); s.State != "idle" || s.PairingID != "" {
		t.Errorf("PairingStatus() = %+v, want idle", s)
	}
	if d, err := a.StartPairing(context.Background(), time.Second); d != nil || err != nil {
		t.Errorf("StartPairing() after clear = %v, %v", d, err)
	}
}

func TestPairingStateString(t *testing.T) {
	tests := map[PairingState]string{
		StateIdle:             "idle",
		StatePairingOffered:   "pairing_offered",
		StateUnpairingOffered: "unpairing_offered",
		PairingState(9):       "unknown(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(s), got, want)
		}
	}
}
