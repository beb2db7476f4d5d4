package anomaly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/infrastructure/config"
)

// Severity bands an anomalous reading by how far past the threshold it
// landed.
type Severity string

const (
	// SeverityMedium covers readings within 25% past the threshold.
	SeverityMedium Severity = "medium"

	// SeverityHigh covers readings more than 25% past the threshold.
	SeverityHigh Severity = "high"
)

// ActionDeviceShutdown is recorded when a detection triggered a
// protective shutdown command.
const ActionDeviceShutdown = "device_shutdown"

// severityBandFactor splits medium from high severity relative to the
// overshoot threshold.
const severityBandFactor = 1.25

// Record is one detected anomaly.
type Record struct {
	ID          string    `json:"id"`
	DeviceID    string    `json:"device_id"`
	ObservedAt  time.Time `json:"observed_at"`
	RangeMin    float64   `json:"range_min"`
	RangeMax    float64   `json:"range_max"`
	ActualValue float64   `json:"actual_value"`
	Severity    Severity  `json:"severity"`
	Reason      string    `json:"reason"`
	ActionTaken string    `json:"action_taken"`
}

// CheckResult reports the outcome of one power sample check.
type CheckResult struct {
	DeviceID  string   `json:"device_id"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Anomalous bool     `json:"anomalous"`
	Severity  Severity `json:"severity,omitempty"`

	// Disabled is true when this check pushed the device over the
	// strike limit (or it was already flagged).
	Disabled bool `json:"disabled"`

	Record *Record `json:"record,omitempty"`
}

// CommandSender issues protective commands. Implemented by the gateway.
type CommandSender interface {
	SendCommand(ctx context.Context, deviceID string, cmd gateway.Command) (gateway.CommandResult, error)
}

// MetricsWriter forwards samples and detections to time-series storage.
// Implemented by the influxdb client; optional.
type MetricsWriter interface {
	WritePowerSample(deviceID string, watts float64)
	WriteAnomaly(deviceID string, severity string, actual, rangeMin, rangeMax float64)
}

// Repository persists the anomaly audit trail.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]Record, error)
}

// Logger is the minimal logging interface the monitor needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// NotificationFunc receives every detection for push delivery.
type NotificationFunc func(deviceID string, rec Record)

// deviceWatch is the monitor's per-device tracking state.
type deviceWatch struct {
	rng      gateway.PowerRange
	history  []Record // newest first
	strikes  int      // anomalies since last explicit enable
	disabled bool
}

// Monitor detects power anomalies and takes protective action.
type Monitor struct {
	mu      sync.RWMutex
	devices map[string]*deviceWatch

	overshoot       float64
	disableAfter    int
	commands        CommandSender
	repo            Repository
	metrics         MetricsWriter
	notify          NotificationFunc
	logger          Logger
	now             func() time.Time
}

// New constructs a Monitor. The command sender is required; repository
// and metrics writer are optional and attached with setters.
func New(commands CommandSender, cfg config.AnomalyConfig) *Monitor {
	overshoot := cfg.OvershootFactor
	if overshoot <= 1.0 {
		overshoot = 1.5
	}
	disableAfter := cfg.DisableThreshold
	if disableAfter <= 0 {
		disableAfter = 3
	}

	return &Monitor{
		devices:      make(map[string]*deviceWatch),
		overshoot:    overshoot,
		disableAfter: disableAfter,
		commands:     commands,
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger attaches structured logging.
func (m *Monitor) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// SetRepository attaches write-through persistence for detections.
func (m *Monitor) SetRepository(repo Repository) {
	m.repo = repo
}

// SetMetricsWriter attaches time-series output for samples and
// detections.
func (m *Monitor) SetMetricsWriter(w MetricsWriter) {
	m.metrics = w
}

// SetNotificationCallback registers a callback invoked on every
// detection.
func (m *Monitor) SetNotificationCallback(fn NotificationFunc) {
	m.notify = fn
}

// RegisterDevice starts watching a device. Re-registering updates the
// range but keeps history, strikes, and the disabled flag.
func (m *Monitor) RegisterDevice(deviceID string, rng gateway.PowerRange) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}
	if rng.Min < 0 || rng.Max < rng.Min {
		return fmt.Errorf("%w: min=%v max=%v", ErrInvalidRange, rng.Min, rng.Max)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	watch, exists := m.devices[deviceID]
	if !exists {
		watch = &deviceWatch{}
		m.devices[deviceID] = watch
	}
	watch.rng = rng
	return nil
}

// UnregisterDevice stops watching a device and drops its in-memory
// history. The persisted audit trail is untouched.
func (m *Monitor) UnregisterDevice(deviceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.devices, deviceID)
}

// Check evaluates one power sample.
//
// A reading is anomalous when it exceeds max * overshoot strictly; a
// reading exactly at the threshold is normal. Detections append to
// history, persist to the repository, emit a protective shutdown
// command, and count a strike. The strike that reaches the disable
// limit flags the device.
func (m *Monitor) Check(ctx context.Context, deviceID string, watts float64) (CheckResult, error) {
	if deviceID == "" {
		return CheckResult{}, ErrInvalidDeviceID
	}
	if watts < 0 {
		return CheckResult{}, fmt.Errorf("%w: %v", ErrNegativeReading, watts)
	}

	m.mu.Lock()
	watch, ok := m.devices[deviceID]
	if !ok {
		m.mu.Unlock()
		return CheckResult{}, fmt.Errorf("%w: %s", ErrDeviceNotRegistered, deviceID)
	}

	threshold := watch.rng.Max * m.overshoot
	result := CheckResult{
		DeviceID:  deviceID,
		Value:     watts,
		Threshold: threshold,
		Disabled:  watch.disabled,
	}

	if watts <= threshold {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.WritePowerSample(deviceID, watts)
		}
		return result, nil
	}

	severity := SeverityHigh
	if watts <= threshold*severityBandFactor {
		severity = SeverityMedium
	}

	rec := Record{
		ID:          "ano-" + uuid.NewString()[:8],
		DeviceID:    deviceID,
		ObservedAt:  m.now(),
		RangeMin:    watch.rng.Min,
		RangeMax:    watch.rng.Max,
		ActualValue: watts,
		Severity:    severity,
		Reason: fmt.Sprintf("power draw %.1fW exceeds threshold %.1fW (normal max %.1fW)",
			watts, threshold, watch.rng.Max),
		ActionTaken: ActionDeviceShutdown,
	}

	// Newest first.
	watch.history = append([]Record{rec}, watch.history...)
	watch.strikes++
	if watch.strikes >= m.disableAfter {
		watch.disabled = true
	}

	result.Anomalous = true
	result.Severity = severity
	result.Disabled = watch.disabled
	result.Record = &rec
	m.mu.Unlock()

	m.logger.Warn("power anomaly detected",
		"device_id", deviceID,
		"watts", watts,
		"threshold", threshold,
		"severity", string(severity),
		"device_disabled", result.Disabled,
	)

	if m.metrics != nil {
		m.metrics.WritePowerSample(deviceID, watts)
		m.metrics.WriteAnomaly(deviceID, string(severity), watts, rec.RangeMin, rec.RangeMax)
	}

	// Best-effort persistence; the in-memory record is authoritative.
	if m.repo != nil {
		if err := m.repo.Create(ctx, &rec); err != nil {
			m.logger.Error("failed to persist anomaly record", "device_id", deviceID, "error", err)
		}
	}

	// Protective shutdown. The gateway queues it if the remote API is
	// down, so an error here is a validation problem worth logging.
	if m.commands != nil {
		cmd := gateway.Command{
			Action: "power_off",
			Params: map[string]any{"reason": "anomalous_power_draw"},
		}
		if _, err := m.commands.SendCommand(ctx, deviceID, cmd); err != nil {
			m.logger.Error("protective shutdown command failed", "device_id", deviceID, "error", err)
		}
	}

	if m.notify != nil {
		m.notify(deviceID, rec)
	}

	return result, nil
}

// IsDeviceDisabled reports whether a device is flagged disabled.
func (m *Monitor) IsDeviceDisabled(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.devices[deviceID]
	return ok && watch.disabled
}

// Strikes returns the anomaly count since the device was last enabled.
func (m *Monitor) Strikes(deviceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.devices[deviceID]
	if !ok {
		return 0
	}
	return watch.strikes
}

// EnableDevice clears the disabled flag and resets the strike count.
// History is preserved.
func (m *Monitor) EnableDevice(deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	watch, ok := m.devices[deviceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotRegistered, deviceID)
	}
	watch.disabled = false
	watch.strikes = 0
	m.logger.Info("device re-enabled", "device_id", deviceID)
	return nil
}

// History returns a device's detections, newest first.
func (m *Monitor) History(deviceID string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.devices[deviceID]
	if !ok {
		return nil
	}
	out := make([]Record, len(watch.history))
	copy(out, watch.history)
	return out
}

// DeviceStatus summarises the monitor's view of one device.
type DeviceStatus struct {
	DeviceID   string             `json:"device_id"`
	Range      gateway.PowerRange `json:"normal_power_range"`
	Threshold  float64            `json:"threshold"`
	Strikes    int                `json:"strikes"`
	Disabled   bool               `json:"disabled"`
	Detections int                `json:"detections"`
}

// Status returns the monitoring state for one device.
func (m *Monitor) Status(deviceID string) (DeviceStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	watch, ok := m.devices[deviceID]
	if !ok {
		return DeviceStatus{}, fmt.Errorf("%w: %s", ErrDeviceNotRegistered, deviceID)
	}
	return DeviceStatus{
		DeviceID:   deviceID,
		Range:      watch.rng,
		Threshold:  watch.rng.Max * m.overshoot,
		Strikes:    watch.strikes,
		Disabled:   watch.disabled,
		Detections: len(watch.history),
	}, nil
}

// Statuses returns the monitoring state for every watched device.
func (m *Monitor) Statuses() []DeviceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(m.devices))
	for id, watch := range m.devices {
		out = append(out, DeviceStatus{
			DeviceID:   id,
			Range:      watch.rng,
			Threshold:  watch.rng.Max * m.overshoot,
			Strikes:    watch.strikes,
			Disabled:   watch.disabled,
			Detections: len(watch.history),
		})
	}
	return out
}
