// Package hwmon implements the hardware-monitor bridge for Gray Logic.
//
// The bridge polls a hardware monitoring endpoint (a LibreHardwareMonitor
// style data.json tree), turns its sensor leaves into devices with typed
// properties, and exposes them to Gray Logic Core over MQTT.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐   HTTP
//	│   Gray Logic    │   MQTT   │  hwmon Bridge   │◄────────── Monitor
//	│      Core       │◄────────►│   (this pkg)    │            endpoint
//	└─────────────────┘          └─────────────────┘
//
// # Components
//
//   - Property and Device model the values. Property.SetValue validates,
//     lets the device transform, caches and notifies.
//   - ParseTree flattens the sensor tree into property descriptions and
//     GroupDevices partitions them into devices by path prefix.
//   - Adapter owns the device registry and the pairing state machine
//     (Idle, PairingOffered, UnpairingOffered).
//   - Publisher, Bridge and HealthReporter carry the MQTT side.
//
// # Readings
//
// A reading such as "45.0 °C" splits at the first whitespace into a
// numeric value (45.0) and a unit ("°C"). Readings that are not numbers
// become string properties.
//
// # Thread Safety
//
// All exported types are safe for concurrent use. Adapter operations are
// serialised, and notifications reach the Notifier in the order the
// operations ran.
package hwmon
