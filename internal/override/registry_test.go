package override

import (
	"context"
	"errors"
	"testing"
	"time"
)

// testRegistry returns a memory-only registry with a controllable clock.
func testRegistry() (*Registry, *time.Time) {
	r := New(nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	return r, &now
}

func mustCreate(t *testing.T, r *Registry, req Request) *Record {
	t.Helper()
	rec, err := r.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create(%+v) error = %v", req, err)
	}
	return rec
}

func TestCreate_Validation(t *testing.T) {
	r, _ := testRegistry()

	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"unknown type", Request{Type: "turbo_mode", UserID: "u1", Reason: "r"}, ErrInvalidType},
		{"empty type", Request{UserID: "u1", Reason: "r"}, ErrInvalidType},
		{"missing user", Request{Type: TypeDeviceControl, Reason: "r"}, ErrInvalidUser},
		{"missing reason", Request{Type: TypeDeviceControl, UserID: "u1"}, ErrInvalidReason},
		{"negative duration", Request{Type: TypeDeviceControl, UserID: "u1", Reason: "r", Duration: -time.Minute}, ErrInvalidDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreate_SetsExpiry(t *testing.T) {
	r, now := testRegistry()

	timed := mustCreate(t, r, Request{
		Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "manual testing",
		Duration: 30 * time.Minute,
	})
	if timed.ExpiresAt == nil {
		t.Fatal("ExpiresAt = nil for timed override")
	}
	if want := now.Add(30 * time.Minute); !timed.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", timed.ExpiresAt, want)
	}

	forever := mustCreate(t, r, Request{
		Type: TypeDeviceControl, DeviceID: "d2", UserID: "u1", Reason: "pinned",
	})
	if forever.ExpiresAt != nil {
		t.Errorf("ExpiresAt = %v for zero duration, want nil", forever.ExpiresAt)
	}
}

func TestActiveFor_DeviceScoping(t *testing.T) {
	r, _ := testRegistry()
	mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})

	if !r.IsDeviceControlOverridden("d1") {
		t.Error("IsDeviceControlOverridden(d1) = false, want true")
	}
	if r.IsDeviceControlOverridden("d2") {
		t.Error("IsDeviceControlOverridden(d2) = true, want false (device-scoped)")
	}
}

func TestActiveFor_SystemWideMatchesAllDevices(t *testing.T) {
	r, _ := testRegistry()
	mustCreate(t, r, Request{Type: TypeScheduleBypass, UserID: "u1", Reason: "holiday mode"})

	if !r.IsScheduleBypassed("d1") || !r.IsScheduleBypassed("d2") {
		t.Error("system-wide override did not match all devices")
	}
	if !r.IsActive(TypeScheduleBypass, "") {
		t.Error("system-scope query did not match system-wide override")
	}
}

func TestActiveFor_LazyExpiry(t *testing.T) {
	r, now := testRegistry()
	mustCreate(t, r, Request{
		Type: TypeAnomalyIgnore, DeviceID: "d1", UserID: "u1", Reason: "sensor swap",
		Duration: 10 * time.Minute,
	})

	if !r.IsAnomalyDetectionIgnored("d1") {
		t.Fatal("override inactive before expiry")
	}

	*now = now.Add(10 * time.Minute)
	if r.IsAnomalyDetectionIgnored("d1") {
		t.Error("override still active at expiry instant, want lapsed")
	}

	// The record itself survives for history.
	if got := len(r.History("d1", "")); got != 1 {
		t.Errorf("history length = %d, want 1", got)
	}
}

func TestActiveFor_NewestMatchWins(t *testing.T) {
	r, _ := testRegistry()
	first := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "first"})
	second := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u2", Reason: "second"})

	got := r.ActiveFor(TypeDeviceControl, "d1")
	if got == nil || got.ID != second.ID {
		t.Errorf("ActiveFor() = %+v, want newest record %s", got, second.ID)
	}
	_ = first
}

func TestRevoke_Permissions(t *testing.T) {
	r, _ := testRegistry()
	rec := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})

	// A stranger may not revoke.
	if err := r.Revoke(context.Background(), rec.ID, "u2"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("stranger revoke error = %v, want ErrPermissionDenied", err)
	}
	if !r.IsDeviceControlOverridden("d1") {
		t.Error("override deactivated by denied revoke")
	}

	// The creator may.
	if err := r.Revoke(context.Background(), rec.ID, "u1"); err != nil {
		t.Fatalf("creator revoke error = %v", err)
	}
	if r.IsDeviceControlOverridden("d1") {
		t.Error("override still active after revoke")
	}
}

func TestRevoke_AdminMayRevokeAnything(t *testing.T) {
	r, _ := testRegistry()
	rec := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})

	if err := r.Revoke(context.Background(), rec.ID, AdminUserID); err != nil {
		t.Fatalf("admin revoke error = %v", err)
	}
	if r.IsDeviceControlOverridden("d1") {
		t.Error("override still active after admin revoke")
	}
}

func TestRevoke_NotFound(t *testing.T) {
	r, _ := testRegistry()
	if err := r.Revoke(context.Background(), "ovr-missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	r, _ := testRegistry()
	rec := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})

	if err := r.Revoke(context.Background(), rec.ID, "u1"); err != nil {
		t.Fatalf("first revoke error = %v", err)
	}
	if err := r.Revoke(context.Background(), rec.ID, "u1"); err != nil {
		t.Errorf("second revoke error = %v, want nil", err)
	}
}

func TestClearAll_AdminOnly(t *testing.T) {
	r, _ := testRegistry()
	mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})
	mustCreate(t, r, Request{Type: TypeScheduleBypass, UserID: "u2", Reason: "r"})

	if _, err := r.ClearAll(context.Background(), "u1"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("non-admin ClearAll error = %v, want ErrPermissionDenied", err)
	}

	cleared, err := r.ClearAll(context.Background(), AdminUserID)
	if err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	if len(r.Active()) != 0 {
		t.Errorf("active overrides = %d after ClearAll, want 0", len(r.Active()))
	}
}

func TestHistory_FiltersAndOrder(t *testing.T) {
	r, _ := testRegistry()
	mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "one"})
	mustCreate(t, r, Request{Type: TypeScheduleBypass, DeviceID: "d2", UserID: "u2", Reason: "two"})
	mustCreate(t, r, Request{Type: TypeAnomalyIgnore, DeviceID: "d1", UserID: "u2", Reason: "three"})

	all := r.History("", "")
	if len(all) != 3 {
		t.Fatalf("unfiltered history length = %d, want 3", len(all))
	}
	if all[0].Reason != "three" || all[2].Reason != "one" {
		t.Error("history not newest first")
	}

	d1 := r.History("d1", "")
	if len(d1) != 2 {
		t.Errorf("device-filtered history length = %d, want 2", len(d1))
	}

	u2d1 := r.History("d1", "u2")
	if len(u2d1) != 1 || u2d1[0].Reason != "three" {
		t.Errorf("combined filter = %+v, want only 'three'", u2d1)
	}
}

func TestStats(t *testing.T) {
	r, now := testRegistry()
	mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d1", UserID: "u1", Reason: "r"})
	timed := mustCreate(t, r, Request{Type: TypeDeviceControl, DeviceID: "d2", UserID: "u1", Reason: "r", Duration: time.Minute})
	revoked := mustCreate(t, r, Request{Type: TypeScheduleBypass, UserID: "u1", Reason: "r"})

	if err := r.Revoke(context.Background(), revoked.ID, "u1"); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	*now = now.Add(time.Hour) // timed override lapses
	_ = timed

	stats := r.Stats()
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Active != 1 {
		t.Errorf("Active = %d, want 1", stats.Active)
	}
	if stats.Revoked != 1 {
		t.Errorf("Revoked = %d, want 1", stats.Revoked)
	}
	if stats.Expired != 1 {
		t.Errorf("Expired = %d, want 1", stats.Expired)
	}
	if stats.ByType[TypeDeviceControl] != 2 {
		t.Errorf("ByType[device_control] = %d, want 2", stats.ByType[TypeDeviceControl])
	}
}

func TestEmergencyShutdownQuery(t *testing.T) {
	r, _ := testRegistry()

	mustCreate(t, r, Request{Type: TypeEmergencyShutdown, UserID: AdminUserID, Reason: "gas leak"})
	if !r.IsEmergencyShutdown("any-device") {
		t.Error("system-wide emergency shutdown did not match device")
	}
}

func TestCreateEmergencyShutdown_SystemWide(t *testing.T) {
	r, _ := testRegistry()

	records, err := r.CreateEmergencyShutdown(context.Background(), AdminUserID, "gas leak")
	if err != nil {
		t.Fatalf("CreateEmergencyShutdown() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1 system-wide record", len(records))
	}
	rec := records[0]
	if rec.DeviceID != "" || !rec.SystemWide() {
		t.Errorf("record scope = %q, want system-wide", rec.DeviceID)
	}
	if rec.Metadata["emergency"] != true || rec.Metadata["systemWide"] != true {
		t.Errorf("metadata = %v, want emergency=true systemWide=true", rec.Metadata)
	}
	if !r.IsEmergencyShutdown("any-device") {
		t.Error("system-wide emergency shutdown did not match device")
	}
}

func TestCreateEmergencyShutdown_DeviceScoped(t *testing.T) {
	r, _ := testRegistry()

	records, err := r.CreateEmergencyShutdown(context.Background(), "u1", "sparking outlet", "d1", "d2")
	if err != nil {
		t.Fatalf("CreateEmergencyShutdown() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want one per device", len(records))
	}
	for i, wantID := range []string{"d1", "d2"} {
		if records[i].DeviceID != wantID {
			t.Errorf("records[%d].DeviceID = %q, want %q", i, records[i].DeviceID, wantID)
		}
		if records[i].Metadata["emergency"] != true {
			t.Errorf("records[%d].Metadata = %v, want emergency=true", i, records[i].Metadata)
		}
		if records[i].Metadata["systemWide"] != nil {
			t.Errorf("records[%d] marked systemWide, want device-scoped", i)
		}
	}
	if !r.IsEmergencyShutdown("d1") || !r.IsEmergencyShutdown("d2") {
		t.Error("device-scoped shutdown not active for listed devices")
	}
	if r.IsEmergencyShutdown("d3") {
		t.Error("device-scoped shutdown leaked to unlisted device")
	}
}

func TestCreateEmergencyShutdown_EmptyDeviceID(t *testing.T) {
	r, _ := testRegistry()

	_, err := r.CreateEmergencyShutdown(context.Background(), "u1", "reason", "d1", "")
	if !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("error = %v, want ErrInvalidDevice", err)
	}
}

func TestMaintenanceWindow(t *testing.T) {
	r, _ := testRegistry()
	if r.InMaintenanceWindow() {
		t.Error("InMaintenanceWindow() = true with no overrides")
	}
	mustCreate(t, r, Request{Type: TypeSystemMaintenance, UserID: AdminUserID, Reason: "firmware rollout"})
	if !r.InMaintenanceWindow() {
		t.Error("InMaintenanceWindow() = false, want true")
	}
}
