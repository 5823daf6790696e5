// Package influxdb writes hardware sensor readings to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every numeric
// property change reported by the adapter becomes one point in the
// hwmon_readings measurement, tagged by device and property.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading(influxdb.Reading{
//	    DeviceID: "desktop-1-intel-core-i7-8700k",
//	    Property: "Temperatures/CPU Package",
//	    Unit:     "°C",
//	    Value:    45,
//	})
//
// # Error Handling
//
// Writes are non-blocking and batched according to batch_size and
// flush_interval. Batch failures are delivered to the SetOnError callback.
// Connection and health check errors are returned directly.
package influxdb
