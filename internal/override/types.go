package override

import "time"

// Type classifies what an override suppresses or forces.
type Type string

const (
	// TypeDeviceControl pins a device under manual control, suspending
	// automated commands for it.
	TypeDeviceControl Type = "device_control"

	// TypeScheduleBypass suspends scheduled behaviour.
	TypeScheduleBypass Type = "schedule_bypass"

	// TypeAnomalyIgnore suppresses anomaly-triggered protective action.
	TypeAnomalyIgnore Type = "anomaly_ignore"

	// TypeEmergencyShutdown records a forced power-off.
	TypeEmergencyShutdown Type = "emergency_shutdown"

	// TypeSystemMaintenance marks a maintenance window.
	TypeSystemMaintenance Type = "system_maintenance"
)

// validTypes is the closed set of recognised override types.
var validTypes = map[Type]bool{
	TypeDeviceControl:     true,
	TypeScheduleBypass:    true,
	TypeAnomalyIgnore:     true,
	TypeEmergencyShutdown: true,
	TypeSystemMaintenance: true,
}

// AllTypes returns the recognised override types.
func AllTypes() []Type {
	return []Type{
		TypeDeviceControl,
		TypeScheduleBypass,
		TypeAnomalyIgnore,
		TypeEmergencyShutdown,
		TypeSystemMaintenance,
	}
}

// Status is an override's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// AdminUserID identifies the administrative requester; it may revoke
// any override regardless of creator.
const AdminUserID = "admin"

// Record is one override.
type Record struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Status Status `json:"status"`

	// DeviceID scopes the override to one device. Empty means
	// system-wide.
	DeviceID string `json:"device_id,omitempty"`

	// UserID is the creator.
	UserID string `json:"user_id"`

	Reason   string         `json:"reason"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is nil for overrides that never expire.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// SystemWide reports whether the override applies to every device.
func (r *Record) SystemWide() bool {
	return r.DeviceID == ""
}

// expiredAt reports whether the override has lapsed at the given time.
func (r *Record) expiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// activeAt reports whether the override matches at the given time.
func (r *Record) activeAt(now time.Time) bool {
	return r.Status == StatusActive && !r.expiredAt(now)
}

// Request describes an override to create.
type Request struct {
	Type Type `json:"type"`

	// DeviceID scopes the override; empty means system-wide.
	DeviceID string `json:"device_id,omitempty"`

	UserID string `json:"user_id"`
	Reason string `json:"reason"`

	// Duration is how long the override lasts. Zero means it never
	// expires.
	Duration time.Duration `json:"-"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Statistics summarises the registry's contents.
type Statistics struct {
	Total   int          `json:"total"`
	Active  int          `json:"active"`
	Revoked int          `json:"revoked"`
	Expired int          `json:"expired"`
	ByType  map[Type]int `json:"by_type"`
}
