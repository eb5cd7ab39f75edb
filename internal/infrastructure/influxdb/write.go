package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementScan    = "usb_scan"
	measurementHotplug = "usb_hotplug"
)

// RecordScan writes one point per scan with its duration and device count,
// tagged with the outcome. It satisfies usb.ScanRecorder.
func (c *Client) RecordScan(duration time.Duration, devices int, err error) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(newScanPoint(duration, devices, err, time.Now()))
}

// RecordHotplug writes a hotplug event; kind is "attached" or "detached".
func (c *Client) RecordHotplug(kind, role string) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(newHotplugPoint(kind, role, time.Now()))
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, time.Now()))
}

func newScanPoint(duration time.Duration, devices int, err error, at time.Time) *write.Point {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	return write.NewPoint(
		measurementScan,
		map[string]string{"outcome": outcome},
		map[string]any{
			"duration_ms": float64(duration) / float64(time.Millisecond),
			"devices":     devices,
		},
		at,
	)
}

func newHotplugPoint(kind, role string, at time.Time) *write.Point {
	tags := map[string]string{"kind": kind}
	if role != "" {
		tags["role"] = role
	}
	return write.NewPoint(measurementHotplug, tags, map[string]any{"count": 1}, at)
}
