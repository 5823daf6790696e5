// Package broker runs an optional in-process MQTT broker.
//
// Small gateways that monitor a single workstation often have no MQTT
// broker of their own. With mqtt.embedded.enabled set, the bridge starts a
// mochi-mqtt server on mqtt.embedded.address before its own client
// connects, so the client, Gray Logic Core and any other subscriber share
// one broker without extra infrastructure.
//
// When the MQTT auth section carries a username, the broker only accepts
// that username and password. Otherwise every client is allowed.
//
// Usage:
//
//	b, err := broker.Start(broker.Options{Address: ":1883", Logger: log.Logger})
//	if err != nil {
//	    return err
//	}
//	defer b.Close()
package broker
