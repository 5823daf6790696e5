// Package mqtt provides MQTT client connectivity for the hardware-monitor
// bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - A caller-supplied Last Will and Testament for offline detection
//
// # Architecture
//
// The bridge talks to Gray Logic Core over MQTT. The broker is external
// (Mosquitto) or embedded (see package broker).
//
//	Monitor endpoint → hwmon bridge ↔ MQTT Broker ↔ Gray Logic Core
//
// The Will payload is supplied by the caller; this package only installs
// it (QoS 1, retained).
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Options{
//	    Will: &mqtt.Will{Topic: hwmon.HealthTopic(), Payload: lwt},
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("graylogic/command/hwmon/#", 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
