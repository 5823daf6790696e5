// Hardware Monitor Bridge for Gray Logic
//
// hwmonbridge polls a hardware-monitoring endpoint (LibreHardwareMonitor
// style sensor tree), exposes each hardware component as a device and
// bridges it to Gray Logic Core over MQTT. A local HTTP API and WebSocket
// feed serve panels and diagnostics.
//
// Usage:
//
//	hwmonbridge                              run the bridge
//	hwmonbridge token -role operator -subject panel
//	                                         print an API access token
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-hwmon/internal/api"
	"github.com/nerrad567/gray-logic-hwmon/internal/auth"
	"github.com/nerrad567/gray-logic-hwmon/internal/bridges/hwmon"
	"github.com/nerrad567/gray-logic-hwmon/internal/history"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/broker"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-hwmon/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// historyPruneInterval is how often expired reading history is deleted.
const historyPruneInterval = time.Hour

// startupCheckTimeout bounds the dependency checks run once everything
// is wired.
const startupCheckTimeout = 5 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := runToken(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component, blocks until ctx is cancelled and then
// shuts down in reverse order of startup.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting hardware monitor bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	// Database and reading history
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	if err := db.Migrate(ctx, migrations.FS, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", db.Path())

	historyRepo := history.NewSQLiteRepository(db.DB)
	recorder := history.NewRecorder(historyRepo, log.Component("history").Logger)
	recorder.Start()
	defer recorder.Stop()
	go history.PruneLoop(ctx, historyRepo, cfg.Database.HistoryRetention, historyPruneInterval,
		log.Component("history").Logger)

	// Embedded broker (optional)
	if cfg.MQTT.Embedded.Enabled {
		b, startErr := broker.Start(broker.Options{
			Address:  cfg.MQTT.Embedded.Address,
			Username: cfg.MQTT.Auth.Username,
			Password: cfg.MQTT.Auth.Password,
			Logger:   log.Logger,
		})
		if startErr != nil {
			return fmt.Errorf("starting embedded broker: %w", startErr)
		}
		defer func() {
			log.Info("stopping embedded broker")
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error stopping embedded broker", "error", closeErr)
			}
		}()
	}

	// MQTT, with the offline health message as Last Will
	lwt, err := json.Marshal(hwmon.NewLWTMessage(cfg.Adapter.BridgeID))
	if err != nil {
		return fmt.Errorf("building LWT payload: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.Options{
		Will:   &mqtt.Will{Topic: hwmon.HealthTopic(), Payload: lwt},
		Logger: log.Component("mqtt"),
	})
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetOnConnect(func() { log.Info("MQTT session established") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected", "broker", mqtt.BrokerURL(cfg.MQTT))

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Adapter and its notification fan-out
	bridgeClient := &mqttBridgeAdapter{client: mqttClient}
	publisher := hwmon.NewPublisher(cfg.Adapter.BridgeID, bridgeClient, byte(cfg.MQTT.QoS), log.Component("publisher"))
	publisher.Start()
	defer publisher.Stop()

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	go hub.Run(ctx)

	notifiers := hwmon.Notifiers{publisher, hub, recorder}
	if influxClient != nil {
		notifiers = append(notifiers, influxNotifier(influxClient))
	}

	adapter := hwmon.NewAdapter(hwmon.AdapterOptions{
		Name:         cfg.Adapter.Name,
		Endpoint:     cfg.Monitor.URL,
		FetchTimeout: cfg.Monitor.RequestTimeout,
		DeviceDepth:  cfg.Monitor.DeviceDepth,
		Notifier:     notifiers,
		Logger:       log.Component("adapter"),
	})

	bridge, err := hwmon.NewBridge(hwmon.BridgeOptions{
		BridgeID:       cfg.Adapter.BridgeID,
		Version:        version,
		Adapter:        adapter,
		MQTTClient:     bridgeClient,
		PollInterval:   cfg.Monitor.PollInterval,
		HealthInterval: cfg.Monitor.HealthInterval,
		PairingTimeout: cfg.Monitor.PairingTimeout,
		Logger:         log.Component("bridge"),
	})
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		return fmt.Errorf("starting bridge: %w", err)
	}
	defer bridge.Stop()

	checks := map[string]api.HealthChecker{
		"database": db,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		checks["influxdb"] = influxClient
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:         cfg.API,
			WS:             cfg.WebSocket,
			Security:       cfg.Security,
			Logger:         log.Component("api"),
			Adapter:        adapter,
			History:        historyRepo,
			Hub:            hub,
			Checks:         checks,
			DB:             db,
			MQTT:           mqttClient,
			PairingTimeout: cfg.Monitor.PairingTimeout,
			Version:        version,
		}
		if influxClient != nil {
			deps.Telemetry = influxClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if apiErr = server.Start(ctx); apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		if cfg.Security.JWT.Secret == "" {
			log.Warn("API authentication disabled: security.jwt.secret is empty")
		}
	}

	checkCtx, checkCancel := context.WithTimeout(ctx, startupCheckTimeout)
	err = healthCheck(checkCtx, checks)
	checkCancel()
	if err != nil {
		return fmt.Errorf("startup health check: %w", err)
	}

	log.Info("hardware monitor bridge started",
		"bridge_id", cfg.Adapter.BridgeID,
		"endpoint", cfg.Monitor.URL,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HWMON_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HWMON_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck returns the first failing dependency check.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	var errs []error
	for name, check := range checks {
		if err := check.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// influxNotifier writes numeric property changes as InfluxDB readings.
func influxNotifier(client *influxdb.Client) hwmon.NotifierFuncs {
	return hwmon.NotifierFuncs{
		OnPropertyChanged: func(change hwmon.PropertyChange) {
			v, ok := change.Property.Value.(float64)
			if !ok {
				return
			}
			client.WriteReading(influxdb.Reading{
				DeviceID:     change.DeviceID,
				Property:     change.Property.Name,
				Unit:         change.Property.Unit,
				SemanticType: change.Property.SemanticType,
				Value:        v,
				Timestamp:    change.Timestamp,
			})
		},
	}
}

// runToken mints an API access token signed with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	role := fs.String("role", string(auth.RoleViewer), "token role: viewer, operator or admin")
	subject := fs.String("subject", "", "token subject, e.g. the panel or user name")
	ttl := fs.Duration("ttl", 0, "token lifetime (default security.jwt.access_token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("-subject is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return auth.ErrNoSecret
	}

	lifetime := *ttl
	if lifetime <= 0 {
		lifetime = time.Duration(cfg.Security.JWT.AccessTokenTTL) * time.Minute
	}

	token, err := auth.GenerateAccessToken(*subject, auth.Role(*role), cfg.Security.JWT.Secret, lifetime)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The difference is the Subscribe handler signature:
// the infrastructure client's handlers return an error.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements hwmon.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements hwmon.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements hwmon.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Disconnect implements hwmon.MQTTClient. The client's lifetime belongs
// to run's defer chain, so this is a no-op.
func (a *mqttBridgeAdapter) Disconnect(_ uint) {}
