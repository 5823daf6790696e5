package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/auth"
	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/history"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hwmon/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// sensorTreeJSON is a small monitoring endpoint document with one CPU.
const sensorTreeJSON = `{
  "id": 0, "Text": "Sensor", "Children": [
    {"id": 1, "Text": "HOST", "Children": [
      {"id": 2, "Text": "CPU", "Children": [
        {"id": 3, "Text": "Temperatures", "Children": [
          {"id": 4, "Text": "Core", "Value": "41.0 °C", "SensorId": "/cpu/0/temperature/0", "Type": "Temperature", "Children": []}
        ]}
      ]}
    ]}
  ]
}`

type testEnv struct {
	srv     *Server
	http    *httptest.Server
	adapter *hwmon.Adapter
	history *history.SQLiteRepository
	hub     *Hub
}

type testOptions struct {
	secret   string
	endpoint string
	checks   map[string]HealthChecker
}

// newTestEnv wires a server to a fresh adapter, a migrated SQLite history
// and a running hub registered as the adapter's notifier.
func newTestEnv(t *testing.T, opts testOptions) *testEnv {
	t.Helper()

	log := logging.NewWithWriter(config.LoggingConfig{Level: "error", Format: "text"}, "test", io.Discard)
	wsCfg := config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}

	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "api.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS, "."); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := history.NewSQLiteRepository(db.DB)

	hub := NewHub(wsCfg, log)
	hubCtx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(hubCtx)

	recorder := history.NewRecorder(repo, nil)
	recorder.Start()
	t.Cleanup(recorder.Stop)

	adapter := hwmon.NewAdapter(hwmon.AdapterOptions{
		Name:         "test",
		Endpoint:     opts.endpoint,
		FetchTimeout: time.Second,
		Notifier:     hwmon.Notifiers{hub, recorder},
	})

	srv, err := New(Deps{
		WS:       wsCfg,
		Security: config.SecurityConfig{JWT: config.JWTConfig{Secret: opts.secret}},
		Logger:   log,
		Adapter:  adapter,
		History:  repo,
		Hub:      hub,
		Checks:   opts.checks,
		DB:       db,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{srv: srv, http: ts, adapter: adapter, history: repo, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		data, _ := json.Marshal(b)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.http.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func addFan(t *testing.T, a *hwmon.Adapter, id string) {
	t.Helper()
	lo, hi := 0.0, 100.0
	_, err := a.AddDevice(hwmon.DeviceDescription{
		ID:   id,
		Name: "Fan controller",
		Properties: []hwmon.PropertyDescription{
			{Name: "duty", Type: hwmon.TypeNumber, Value: 50.0, Unit: "%", Minimum: &lo, Maximum: &hi},
			{Name: "Fans/Rear", Type: hwmon.TypeNumber, Value: 900.0, ReadOnly: true},
		},
	})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	if _, err := New(Deps{Adapter: hwmon.NewAdapter(hwmon.AdapterOptions{})}); err == nil {
		t.Error("New() without logger succeeded")
	}
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without adapter succeeded")
	}
}

type fakeCheck struct{ err error }

func (f fakeCheck) HealthCheck(context.Context) error { return f.err }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantState  string
	}{
		{"healthy", map[string]HealthChecker{"mqtt": fakeCheck{}}, http.StatusOK, "ok"},
		{"failing check", map[string]HealthChecker{"mqtt": fakeCheck{errors.New("not connected")}}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, testOptions{secret: testSecret, checks: tt.checks})
			resp, body := env.do(t, http.MethodGet, "/api/v1/health", nil, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if body["status"] != tt.wantState || body["version"] != "test" {
				t.Errorf("body = %v", body)
			}
			if resp.Header.Get("X-Request-ID") == "" {
				t.Error("X-Request-ID not set")
			}
		})
	}
}

func TestListAndGetDevices(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	addFan(t, env.adapter, "fan/1")
	addFan(t, env.adapter, "fan-2")

	resp, body := env.do(t, http.MethodGet, "/api/v1/devices", nil, "")
	if resp.StatusCode != http.StatusOK || body["count"] != 2.0 {
		t.Fatalf("list = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices/"+url.PathEscape("fan/1"), nil, "")
	if resp.StatusCode != http.StatusOK || body["id"] != "fan/1" {
		t.Fatalf("get = %d %v", resp.StatusCode, body)
	}
	if props, _ := body["properties"].([]any); len(props) != 2 {
		t.Errorf("properties = %v", body["properties"])
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices/missing", nil, "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != ErrCodeNotFound {
		t.Errorf("missing = %d %v", resp.StatusCode, body)
	}
}

func TestSetProperty(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	addFan(t, env.adapter, "fan")

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"accepted", "/api/v1/devices/fan/properties/duty", map[string]any{"value": 30}, http.StatusOK, ""},
		{"above maximum", "/api/v1/devices/fan/properties/duty", map[string]any{"value": 130}, http.StatusBadRequest, ErrCodeValidation},
		{"wrong type", "/api/v1/devices/fan/properties/duty", map[string]any{"value": "fast"}, http.StatusBadRequest, ErrCodeValidation},
		{"read only", "/api/v1/devices/fan/properties/" + url.PathEscape("Fans/Rear"), map[string]any{"value": 1}, http.StatusBadRequest, ErrCodeValidation},
		{"unknown property", "/api/v1/devices/fan/properties/rpm", map[string]any{"value": 1}, http.StatusNotFound, ErrCodeNotFound},
		{"unknown device", "/api/v1/devices/pump/properties/duty", map[string]any{"value": 1}, http.StatusNotFound, ErrCodeNotFound},
		{"missing value", "/api/v1/devices/fan/properties/duty", map[string]any{}, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown field", "/api/v1/devices/fan/properties/duty", map[string]any{"value": 1, "force": true}, http.StatusBadRequest, ErrCodeBadRequest},
		{"invalid json", "/api/v1/devices/fan/properties/duty", "{", http.StatusBadRequest, ErrCodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPut, tt.path, tt.body, "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
			if tt.wantCode != "" && body["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", body["code"], tt.wantCode)
			}
		})
	}

	d, _ := env.adapter.Device("fan")
	if p, _ := d.Property("duty"); p.Value() != 30.0 {
		t.Errorf("duty = %v, want 30", p.Value())
	}
}

func TestDeviceHistory(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	addFan(t, env.adapter, "fan")
	for _, v := range []int{10, 20, 30} {
		if _, err := env.adapter.SetValue(context.Background(), "fan", "duty", v); err != nil {
			t.Fatalf("SetValue() error = %v", err)
		}
	}

	var body map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, body = env.do(t, http.MethodGet, "/api/v1/devices/fan/history?property=duty&limit=2", nil, "")
		if entries, _ := body["entries"].([]any); len(entries) == 2 {
			if newest, _ := entries[0].(map[string]any); newest["value"] == 30.0 {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("history = %v, want the two newest duty values", body)
}

func TestDeviceHistoryBadLimit(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	resp, _ := env.do(t, http.MethodGet, "/api/v1/devices/fan/history?limit=many", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestPairingFlow(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, _ := env.do(t, http.MethodPost, "/api/v1/pairing/offer", map[string]any{
		"device_id": "manual-1",
		"device": map[string]any{
			"name": "Manual",
			"properties": []any{
				map[string]any{"name": "setpoint", "type": "number", "value": 20, "minimum": 5, "maximum": 30},
			},
		},
	}, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("offer status = %d", resp.StatusCode)
	}

	_, body := env.do(t, http.MethodGet, "/api/v1/pairing", nil, "")
	if body["state"] != hwmon.StatePairingOffered.String() || body["pairing_id"] != "manual-1" {
		t.Errorf("pairing status = %v", body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/v1/pairing/start", map[string]any{"timeout_seconds": 2}, "")
	if resp.StatusCode != http.StatusCreated || body["paired"] != true {
		t.Fatalf("start = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodDelete, "/api/v1/devices/manual-1", nil, "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("remove without unpair = %d %v, want 409", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/devices/manual-1/unpair", nil, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("unpair status = %d", resp.StatusCode)
	}
	resp, body = env.do(t, http.MethodPost, "/api/v1/devices/manual-1/cancel-remove", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel-remove status = %d", resp.StatusCode)
	}
	pairing, _ := body["pairing"].(map[string]any)
	if pairing["state"] != hwmon.StateUnpairingOffered.String() || pairing["unpairing_id"] != "manual-1" {
		t.Errorf("pairing after cancel-remove = %v, want unpairing offer kept", body["pairing"])
	}

	resp, body = env.do(t, http.MethodDelete, "/api/v1/devices/manual-1", nil, "")
	if resp.StatusCode != http.StatusOK || body["removed"] != "manual-1" {
		t.Errorf("remove = %d %v", resp.StatusCode, body)
	}
	if env.adapter.DeviceCount() != 0 {
		t.Errorf("DeviceCount() = %d, want 0", env.adapter.DeviceCount())
	}
}

func TestStartPairingWithoutOffer(t *testing.T) {
	env := newTestEnv(t, testOptions{})

	resp, body := env.do(t, http.MethodPost, "/api/v1/pairing/start", nil, "")
	if resp.StatusCode != http.StatusOK || body["paired"] != false {
		t.Errorf("start = %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/pairing/start", map[string]any{"timeout_seconds": -1}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative timeout status = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/pairing/offer", map[string]any{}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("offer without id status = %d, want 400", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/pairing/cancel", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("cancel status = %d", resp.StatusCode)
	}
}

func TestDiscovery(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, testOptions{})
		resp, body := env.do(t, http.MethodPost, "/api/v1/discovery", nil, "")
		if resp.StatusCode != http.StatusPreconditionFailed || body["code"] != ErrCodeNotConfigured {
			t.Errorf("discovery = %d %v", resp.StatusCode, body)
		}
	})

	t.Run("endpoint", func(t *testing.T) {
		monitor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(sensorTreeJSON))
		}))
		defer monitor.Close()

		env := newTestEnv(t, testOptions{endpoint: monitor.URL})
		resp, body := env.do(t, http.MethodPost, "/api/v1/discovery", nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("discovery = %d %v", resp.StatusCode, body)
		}
		if added, _ := body["added"].([]any); len(added) != 1 || added[0] != "host-cpu" {
			t.Errorf("added = %v, want [host-cpu]", body["added"])
		}

		resp, body = env.do(t, http.MethodDelete, "/api/v1/devices", nil, "")
		if resp.StatusCode != http.StatusOK || body["cleared"] != 1.0 {
			t.Errorf("clear = %d %v", resp.StatusCode, body)
		}
	})

	t.Run("endpoint down", func(t *testing.T) {
		monitor := httptest.NewServer(http.NotFoundHandler())
		endpoint := monitor.URL
		monitor.Close()

		env := newTestEnv(t, testOptions{endpoint: endpoint})
		resp, body := env.do(t, http.MethodPost, "/api/v1/discovery", nil, "")
		if resp.StatusCode != http.StatusBadGateway {
			t.Errorf("discovery = %d %v, want 502", resp.StatusCode, body)
		}
	})
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, testOptions{secret: testSecret})
	addFan(t, env.adapter, "fan")

	resp, body := env.do(t, http.MethodGet, "/api/v1/metrics", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
	devices, _ := body["devices"].(map[string]any)
	if devices["total"] != 1.0 || devices["properties"] != 2.0 {
		t.Errorf("devices = %v", devices)
	}
	if _, ok := body["database"]; !ok {
		t.Error("database pool stats missing")
	}
}

func TestServerStartAndClose(t *testing.T) {
	log := logging.NewWithWriter(config.LoggingConfig{}, "test", io.Discard)
	srv, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		Logger:  log,
		Adapter: hwmon.NewAdapter(hwmon.AdapterOptions{}),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start succeeded")
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := srv.Start(context.Background()); err == nil {
		t.Error("second Start() succeeded")
	}

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}
	if err := srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	if err := srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestAuthorization(t *testing.T) {
	env := newTestEnv(t, testOptions{secret: testSecret})
	addFan(t, env.adapter, "fan")

	token := func(role auth.Role) string {
		s, err := auth.GenerateAccessToken("tester", role, testSecret, time.Minute)
		if err != nil {
			t.Fatalf("GenerateAccessToken() error = %v", err)
		}
		return s
	}

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		token      string
		wantStatus int
	}{
		{"no token", http.MethodGet, "/api/v1/devices", nil, "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/devices", nil, "garbage", http.StatusUnauthorized},
		{"other secret", http.MethodGet, "/api/v1/devices", nil, func() string {
			s, _ := auth.GenerateAccessToken("x", auth.RoleAdmin, "another-secret-of-at-least-32-chars", time.Minute)
			return s
		}(), http.StatusUnauthorized},
		{"viewer reads", http.MethodGet, "/api/v1/devices", nil, token(auth.RoleViewer), http.StatusOK},
		{"viewer cannot set", http.MethodPut, "/api/v1/devices/fan/properties/duty", map[string]any{"value": 10}, token(auth.RoleViewer), http.StatusForbidden},
		{"operator sets", http.MethodPut, "/api/v1/devices/fan/properties/duty", map[string]any{"value": 10}, token(auth.RoleOperator), http.StatusOK},
		{"operator cannot unpair", http.MethodPost, "/api/v1/devices/fan/unpair", nil, token(auth.RoleOperator), http.StatusForbidden},
		{"operator cannot clear", http.MethodDelete, "/api/v1/devices", nil, token(auth.RoleOperator), http.StatusForbidden},
		{"admin unpairs", http.MethodPost, "/api/v1/devices/fan/unpair", nil, token(auth.RoleAdmin), http.StatusAccepted},
		{"health is open", http.MethodGet, "/api/v1/health", nil, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, tt.method, tt.path, tt.body, tt.token)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.wantStatus, body)
			}
		})
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, testOptions{})
	env.srv.cfg.CORS.AllowedOrigins = []string{"http://panel.local"}
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	for origin, want := range map[string]string{
		"http://panel.local": "http://panel.local",
		"http://evil.local":  "",
	} {
		req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/v1/devices", nil)
		req.Header.Set("Origin", origin)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("OPTIONS: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("preflight status = %d", resp.StatusCode)
		}
		if got := resp.Header.Get("Access-Control-Allow-Origin"); got != want {
			t.Errorf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
}
