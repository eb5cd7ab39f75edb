// Package influxdb exports usbroles scan metrics to InfluxDB v2.
//
// Every poll-scan outcome becomes a "usb_scan" point (duration_ms, devices,
// tagged outcome=ok|error) and every hotplug event a "usb_hotplug" point.
// Writes are batched by the client library and never block the scanner.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Service.InstanceID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	scanner.SetRecorder(client)
package influxdb
