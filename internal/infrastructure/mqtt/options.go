package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-hwmon/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second

	// ackTimeout bounds PUBACK, SUBACK and UNSUBACK waits.
	ackTimeout = 5 * time.Second

	// quiesceMillis is handed to paho's Disconnect on Close.
	quiesceMillis = 1000

	keepAlive = 60 * time.Second
	maxQoS    = 2
)

// Options holds connection settings that do not come from the config file.
type Options struct {
	// Will is published by the broker if the client vanishes without a
	// clean disconnect. Optional.
	Will *Will

	// ConnectTimeout bounds Connect. Zero means 10s.
	ConnectTimeout time.Duration

	Logger Logger
}

// Will is a Last Will and Testament. The broker publishes it at QoS 1,
// retained, so the bridge shows offline to anyone subscribing later.
type Will struct {
	Topic   string
	Payload []byte
}

// BrokerURL formats the broker address from cfg, e.g. tcp://host:1883 or
// ssl://host:8883 when TLS is on.
func BrokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// retryBounds converts the reconnect section (whole seconds) into paho's
// initial and maximum retry intervals. The maximum never falls below the
// initial delay.
func retryBounds(r config.MQTTReconnectConfig) (initial, ceiling time.Duration) {
	initial = time.Duration(r.InitialDelay) * time.Second
	if initial <= 0 {
		initial = time.Second
	}
	ceiling = max(time.Duration(r.MaxDelay)*time.Second, initial)
	return initial, ceiling
}

// clientOptions maps the bridge config onto paho. Sessions are clean;
// Client replays its own subscription table after every reconnect.
func clientOptions(cfg config.MQTTConfig, opts Options, timeout time.Duration) *pahomqtt.ClientOptions {
	initial, ceiling := retryBounds(cfg.Reconnect)

	po := pahomqtt.NewClientOptions().
		AddBroker(BrokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(initial).
		SetMaxReconnectInterval(ceiling).
		SetConnectTimeout(timeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		po.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		po.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if w := opts.Will; w != nil && w.Topic != "" {
		po.SetBinaryWill(w.Topic, w.Payload, 1, true)
	}
	return po
}
