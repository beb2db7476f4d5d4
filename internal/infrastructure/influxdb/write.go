package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WritePowerSample records one power-draw observation for a device.
//
// This is the primary telemetry write path; every sample checked by the
// anomaly monitor also lands here for trend analysis. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Unique identifier for the device (e.g., "heater-garage")
//   - watts: Observed power draw in watts
func (c *Client) WritePowerSample(deviceID string, watts float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"power",
		map[string]string{
			"device_id": deviceID,
		},
		map[string]interface{}{
			"watts": watts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteEnergyMetric writes an energy consumption measurement.
//
// Used for tracking power usage and energy efficiency.
//
// Parameters:
//   - deviceID: Device identifier
//   - powerWatts: Current power draw in watts
//   - energyKWh: Cumulative energy consumption in kWh (optional, use 0 if unknown)
func (c *Client) WriteEnergyMetric(deviceID string, powerWatts float64, energyKWh float64) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"power_watts": powerWatts,
	}
	if energyKWh > 0 {
		fields["energy_kwh"] = energyKWh
	}

	point := write.NewPoint(
		"energy",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteAnomaly records a detected power anomaly.
//
// Tagged by severity so dashboards can separate warning-level drift
// from readings that forced a protective shutdown.
//
// Parameters:
//   - deviceID: Device identifier
//   - severity: Anomaly severity band (e.g., "medium", "high")
//   - actual: The observed power draw in watts
//   - rangeMin: Lower bound of the device's normal range
//   - rangeMax: Upper bound of the device's normal range
func (c *Client) WriteAnomaly(deviceID string, severity string, actual, rangeMin, rangeMax float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"anomaly",
		map[string]string{
			"device_id": deviceID,
			"severity":  severity,
		},
		map[string]interface{}{
			"actual":    actual,
			"range_min": rangeMin,
			"range_max": rangeMax,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "core-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
