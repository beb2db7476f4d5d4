package override

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository persists override records. The in-memory registry remains
// authoritative; persistence is write-through for the audit trail.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	UpdateStatus(ctx context.Context, id string, status Status) error
	List(ctx context.Context) ([]Record, error)
}

// Logger is the minimal logging interface the registry needs.
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

// EventSink receives override lifecycle events for push delivery.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// Event channels for override lifecycle changes.
const (
	ChannelCreated = "override.created"
	ChannelRevoked = "override.revoked"
)

// Registry holds all override records and answers arbitration queries.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // creation order, oldest first

	repo   Repository
	events EventSink
	logger Logger
	now    func() time.Time
}

// New constructs a Registry. The repository is optional; without one
// the registry is memory-only.
func New(repo Repository) *Registry {
	return &Registry{
		records: make(map[string]*Record),
		repo:    repo,
		logger:  noopLogger{},
		now:     time.Now,
	}
}

// SetLogger attaches structured logging.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetEventSink attaches a push channel for lifecycle events.
func (r *Registry) SetEventSink(sink EventSink) {
	r.events = sink
}

// Load restores persisted records into memory, replacing whatever is
// held. Called at startup and after maintenance wipes.
func (r *Registry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}

	records, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading override records: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[string]*Record, len(records))
	r.order = r.order[:0]
	for i := range records {
		rec := records[i]
		r.records[rec.ID] = &rec
		r.order = append(r.order, rec.ID)
	}

	r.logger.Info("override records loaded", "count", len(records))
	return nil
}

// Create validates and registers a new override.
func (r *Registry) Create(ctx context.Context, req Request) (*Record, error) {
	if !validTypes[req.Type] {
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, req.Type)
	}
	if req.UserID == "" {
		return nil, ErrInvalidUser
	}
	if req.Reason == "" {
		return nil, ErrInvalidReason
	}
	if req.Duration < 0 {
		return nil, ErrInvalidDuration
	}

	now := r.now()
	rec := &Record{
		ID:        "ovr-" + uuid.NewString()[:8],
		Type:      req.Type,
		Status:    StatusActive,
		DeviceID:  req.DeviceID,
		UserID:    req.UserID,
		Reason:    req.Reason,
		Metadata:  req.Metadata,
		CreatedAt: now,
	}
	if req.Duration > 0 {
		expires := now.Add(req.Duration)
		rec.ExpiresAt = &expires
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.order = append(r.order, rec.ID)
	r.mu.Unlock()

	if r.repo != nil {
		if err := r.repo.Create(ctx, rec); err != nil {
			r.logger.Error("failed to persist override", "override_id", rec.ID, "error", err)
		}
	}

	scope := rec.DeviceID
	if scope == "" {
		scope = "system-wide"
	}
	r.logger.Info("override created",
		"override_id", rec.ID, "type", string(rec.Type), "scope", scope, "user_id", rec.UserID)

	out := *rec
	if r.events != nil {
		r.events.Broadcast(ChannelCreated, out)
	}
	return &out, nil
}

// CreateEmergencyShutdown records an emergency shutdown override.
//
// With no device IDs a single system-wide record is created, marked
// metadata["systemWide"] = true. Otherwise one device-scoped record is
// created per listed device. Every record carries
// metadata["emergency"] = true.
func (r *Registry) CreateEmergencyShutdown(ctx context.Context, userID, reason string, deviceIDs ...string) ([]Record, error) {
	if len(deviceIDs) == 0 {
		rec, err := r.Create(ctx, Request{
			Type:     TypeEmergencyShutdown,
			UserID:   userID,
			Reason:   reason,
			Metadata: map[string]any{"emergency": true, "systemWide": true},
		})
		if err != nil {
			return nil, err
		}
		return []Record{*rec}, nil
	}

	out := make([]Record, 0, len(deviceIDs))
	for _, deviceID := range deviceIDs {
		if deviceID == "" {
			return out, ErrInvalidDevice
		}
		rec, err := r.Create(ctx, Request{
			Type:     TypeEmergencyShutdown,
			DeviceID: deviceID,
			UserID:   userID,
			Reason:   reason,
			Metadata: map[string]any{"emergency": true},
		})
		if err != nil {
			return out, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// Revoke deactivates an override.
//
// Only the creator or the admin user may revoke. Returns ErrNotFound
// for unknown IDs; revoking an already revoked or expired override is
// a no-op that succeeds.
func (r *Registry) Revoke(ctx context.Context, id, requesterID string) error {
	if requesterID == "" {
		return ErrInvalidUser
	}

	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if requesterID != rec.UserID && requesterID != AdminUserID {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s cannot revoke override created by %s", ErrPermissionDenied, requesterID, rec.UserID)
	}

	alreadyInactive := rec.Status == StatusRevoked
	rec.Status = StatusRevoked
	out := *rec
	r.mu.Unlock()

	if alreadyInactive {
		return nil
	}

	if r.repo != nil {
		if err := r.repo.UpdateStatus(ctx, id, StatusRevoked); err != nil {
			r.logger.Error("failed to persist revocation", "override_id", id, "error", err)
		}
	}

	r.logger.Info("override revoked", "override_id", id, "revoked_by", requesterID)
	if r.events != nil {
		r.events.Broadcast(ChannelRevoked, out)
	}
	return nil
}

// ClearAll revokes every active override. Admin only.
func (r *Registry) ClearAll(ctx context.Context, requesterID string) (int, error) {
	if requesterID != AdminUserID {
		return 0, fmt.Errorf("%w: only %s may clear all overrides", ErrPermissionDenied, AdminUserID)
	}

	r.mu.Lock()
	var cleared []string
	for id, rec := range r.records {
		if rec.Status == StatusActive {
			rec.Status = StatusRevoked
			cleared = append(cleared, id)
		}
	}
	r.mu.Unlock()

	if r.repo != nil {
		for _, id := range cleared {
			if err := r.repo.UpdateStatus(ctx, id, StatusRevoked); err != nil {
				r.logger.Error("failed to persist revocation", "override_id", id, "error", err)
			}
		}
	}

	r.logger.Info("all overrides cleared", "count", len(cleared), "cleared_by", requesterID)
	return len(cleared), nil
}

// Get returns a copy of one override.
func (r *Registry) Get(id string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	out := *rec
	return &out, nil
}

// ActiveFor returns the most recent active override of the given type
// matching the device, or nil. A system-wide override matches every
// device; a device-scoped query does NOT match other devices.
func (r *Registry) ActiveFor(t Type, deviceID string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	// Walk newest first so the most recent match wins.
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if rec.Type != t || !rec.activeAt(now) {
			continue
		}
		if rec.SystemWide() || rec.DeviceID == deviceID {
			out := *rec
			return &out
		}
	}
	return nil
}

// IsActive reports whether an active override of the given type covers
// the device. Pass an empty deviceID for system-scope queries.
func (r *Registry) IsActive(t Type, deviceID string) bool {
	return r.ActiveFor(t, deviceID) != nil
}

// IsDeviceControlOverridden reports whether a device is pinned under
// manual control.
func (r *Registry) IsDeviceControlOverridden(deviceID string) bool {
	return r.IsActive(TypeDeviceControl, deviceID)
}

// IsScheduleBypassed reports whether scheduled behaviour is suspended
// for a device.
func (r *Registry) IsScheduleBypassed(deviceID string) bool {
	return r.IsActive(TypeScheduleBypass, deviceID)
}

// IsAnomalyDetectionIgnored reports whether anomaly-triggered action
// is suppressed for a device.
func (r *Registry) IsAnomalyDetectionIgnored(deviceID string) bool {
	return r.IsActive(TypeAnomalyIgnore, deviceID)
}

// IsEmergencyShutdown reports whether an emergency shutdown covers a
// device.
func (r *Registry) IsEmergencyShutdown(deviceID string) bool {
	return r.IsActive(TypeEmergencyShutdown, deviceID)
}

// InMaintenanceWindow reports whether a system-wide maintenance
// override is active.
func (r *Registry) InMaintenanceWindow() bool {
	return r.IsActive(TypeSystemMaintenance, "")
}

// Active returns all currently active overrides, newest first.
func (r *Registry) Active() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	var out []Record
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if rec.activeAt(now) {
			out = append(out, *rec)
		}
	}
	return out
}

// History returns overrides newest first, optionally filtered by
// device and/or user. Includes revoked and expired records.
func (r *Registry) History(deviceID, userID string) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if deviceID != "" && rec.DeviceID != deviceID {
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		out = append(out, *rec)
	}
	return out
}

// Stats summarises the registry's contents.
func (r *Registry) Stats() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	stats := Statistics{ByType: make(map[Type]int)}
	for _, rec := range r.records {
		stats.Total++
		stats.ByType[rec.Type]++
		switch {
		case rec.Status == StatusRevoked:
			stats.Revoked++
		case rec.expiredAt(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats
}
