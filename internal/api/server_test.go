package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/ward-core/internal/anomaly"
	"github.com/nerrad567/ward-core/internal/auth"
	"github.com/nerrad567/ward-core/internal/failure"
	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/infrastructure/config"
	"github.com/nerrad567/ward-core/internal/infrastructure/logging"
	"github.com/nerrad567/ward-core/internal/override"
)

// ─── Mock Dependencies ─────────────────────────────────────────────

// fakeRemoteAPI implements gateway.RemoteAPI with scripted behaviour.
// Uses a mutex because the gateway calls it from request goroutines.
type fakeRemoteAPI struct {
	mu       sync.Mutex
	down     bool
	executed []executedCommand
	states   map[string]gateway.State
}

type executedCommand struct {
	deviceID string
	action   string
}

func (f *fakeRemoteAPI) Execute(_ context.Context, deviceID string, cmd gateway.Command) (gateway.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	f.executed = append(f.executed, executedCommand{deviceID: deviceID, action: cmd.Action})
	return gateway.State{"power": "on", "last_action": cmd.Action}, nil
}

func (f *fakeRemoteAPI) ReadState(_ context.Context, deviceID string) (gateway.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, errors.New("connection refused")
	}
	if state, ok := f.states[deviceID]; ok {
		return state, nil
	}
	return gateway.State{"power": "on"}, nil
}

func (f *fakeRemoteAPI) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *fakeRemoteAPI) commandCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.executed)
}

// ─── Test Helpers ──────────────────────────────────────────────────

const testServerSecret = "test-secret-key-at-least-32-characters-long"

// testServer creates a Server wired to in-memory components and a fake
// remote API. Authentication is disabled unless secret is non-empty.
func testServer(t *testing.T, secret string) (*Server, *fakeRemoteAPI) {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	remote := &fakeRemoteAPI{states: make(map[string]gateway.State)}
	failures := failure.New(failure.Options{})
	gw := gateway.New(remote, failures, config.GatewayConfig{
		QueueCap: 8,
		Retry: config.RetryConfig{
			MaxRetries:        1,
			BackoffMultiplier: 2.0,
		},
	})
	monitor := anomaly.New(gw, config.AnomalyConfig{OvershootFactor: 1.5, DisableThreshold: 3})
	overrides := override.New(nil)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:         secret,
				AccessTokenTTL: 15,
			},
		},
		Logger:    log,
		Gateway:   gw,
		Monitor:   monitor,
		Overrides: overrides,
		Failures:  failures,
		Version:   "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	// Initialise hub for tests
	srv.hub = NewHub(srv.wsCfg, log)
	go srv.hub.Run(context.Background())

	return srv, remote
}

// registerDevice registers a heater through the API and fails the test
// on any error.
func registerDevice(t *testing.T, router http.Handler, id string, maxWatts float64) {
	t.Helper()

	body := fmt.Sprintf(`{"id": %q, "type": "heater", "normal_power_range": {"min": 10, "max": %v}}`, id, maxWatts)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v; body: %s", err, w.Body.String())
	}
	return resp
}

// ─── Health Endpoint Tests ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	resp := decodeBody(t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID_Generated(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("ACAO = %q, want %q", got, "http://localhost:3000")
	}
}

// ─── Auth Middleware Tests ─────────────────────────────────────────

func TestAuth_MissingToken(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_InvalidToken(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuth_ValidToken(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	token, err := auth.GenerateAccessToken("user-1", auth.RoleOperator, testServerSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestAuth_HealthUnprotected(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
}

// ─── Device Endpoint Tests ─────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 0 {
		t.Errorf("count = %v, want 0", resp["count"])
	}
}

func TestRegisterAndGetDevice(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/heater-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", w.Code, http.StatusOK)
	}

	var dev gateway.Device
	if err := json.Unmarshal(w.Body.Bytes(), &dev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if dev.ID != "heater-1" || dev.Type != "heater" {
		t.Errorf("device = %+v, want heater-1/heater", dev)
	}

	// Registration also puts the device under anomaly monitoring.
	if _, err := srv.monitor.Status("heater-1"); err != nil {
		t.Errorf("monitor.Status() error = %v, want registered", err)
	}
}

func TestRegisterDevice_InvalidRange(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	body := `{"id": "heater-1", "type": "heater", "normal_power_range": {"min": 100, "max": 10}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetDevice_NotFound(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestRemoveDevice(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/devices/heater-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want %d", w.Code, http.StatusNoContent)
	}

	if _, err := srv.monitor.Status("heater-1"); err == nil {
		t.Error("device still monitored after removal")
	}
}

// ─── Command Tests ─────────────────────────────────────────────────

func TestSendCommand_Delivered(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	body := `{"action": "power_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	if remote.commandCount() != 1 {
		t.Errorf("executed %d commands, want 1", remote.commandCount())
	}

	resp := decodeBody(t, w)
	if resp["queued"] != false {
		t.Errorf("queued = %v, want false", resp["queued"])
	}
}

func TestSendCommand_QueuedWhenDown(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)
	remote.setDown(true)

	body := `{"action": "power_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusAccepted, w.Body.String())
	}

	resp := decodeBody(t, w)
	if resp["queued"] != true {
		t.Errorf("queued = %v, want true", resp["queued"])
	}
}

func TestSendCommand_RefusedUnderManualOverride(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	if _, err := srv.overrides.Create(context.Background(), override.Request{
		Type:     override.TypeDeviceControl,
		DeviceID: "heater-1",
		UserID:   "user-1",
		Reason:   "manual servicing",
	}); err != nil {
		t.Fatalf("Create override: %v", err)
	}

	body := `{"action": "power_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestDeviceStatus_LiveAndStale(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)
	remote.mu.Lock()
	remote.states["heater-1"] = gateway.State{"watts": 42.0}
	remote.mu.Unlock()

	// Live read.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/heater-1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["stale"] == true {
		t.Error("live read reported stale")
	}

	// Remote down: served from cache, marked stale.
	remote.setDown(true)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/devices/heater-1/status", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("cached status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp = decodeBody(t, w)
	if resp["stale"] != true {
		t.Error("cached read not marked stale")
	}
}

// ─── Gateway Introspection Tests ───────────────────────────────────

func TestReachabilityRestored_ReplaysQueue(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)
	remote.setDown(true)

	body := `{"action": "power_on"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/commands", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("queue status = %d, want %d", w.Code, http.StatusAccepted)
	}

	remote.setDown(false)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/gateway/reachability-restored", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if int(resp["delivered"].(float64)) != 1 {
		t.Errorf("delivered = %v, want 1", resp["delivered"])
	}
	if int(resp["remaining"].(float64)) != 0 {
		t.Errorf("remaining = %v, want 0", resp["remaining"])
	}
}

func TestGatewayStatusEndpoints(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	for _, path := range []string{"/api/v1/gateway/queue", "/api/v1/gateway/cache", "/api/v1/gateway/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

// ─── Power Sample / Anomaly Tests ──────────────────────────────────

func TestPowerSample_Normal(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	body := `{"watts": 250}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/power-samples", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["anomalous"] != false {
		t.Errorf("anomalous = %v, want false", resp["anomalous"])
	}
}

func TestPowerSample_AnomalousTriggersShutdown(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	// Threshold is 200*1.5 = 300; 400 is anomalous.
	body := `{"watts": 400}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/power-samples", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["anomalous"] != true {
		t.Fatalf("anomalous = %v, want true", resp["anomalous"])
	}

	remote.mu.Lock()
	defer remote.mu.Unlock()
	if len(remote.executed) != 1 || remote.executed[0].action != "power_off" {
		t.Errorf("executed = %+v, want one power_off", remote.executed)
	}
}

func TestPowerSample_OverrideSuppressesCheck(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	if _, err := srv.overrides.Create(context.Background(), override.Request{
		Type:     override.TypeAnomalyIgnore,
		DeviceID: "heater-1",
		UserID:   "user-1",
		Reason:   "load testing",
	}); err != nil {
		t.Fatalf("Create override: %v", err)
	}

	body := `{"watts": 9000}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/power-samples", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["checked"] != false {
		t.Errorf("checked = %v, want false", resp["checked"])
	}
	if remote.commandCount() != 0 {
		t.Errorf("executed %d commands, want 0", remote.commandCount())
	}
	if srv.monitor.Strikes("heater-1") != 0 {
		t.Errorf("strikes = %d, want 0", srv.monitor.Strikes("heater-1"))
	}
}

func TestEnableDevice_AfterThreeStrikes(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	for range 3 {
		body := `{"watts": 400}`
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/power-samples", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("sample status = %d, want %d", w.Code, http.StatusOK)
		}
	}

	if !srv.monitor.IsDeviceDisabled("heater-1") {
		t.Fatal("device not disabled after three strikes")
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/enable", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["disabled"] != false {
		t.Errorf("disabled = %v, want false", resp["disabled"])
	}
	if int(resp["strikes"].(float64)) != 0 {
		t.Errorf("strikes = %v, want 0", resp["strikes"])
	}
	// History survives re-enabling.
	if int(resp["detections"].(float64)) != 3 {
		t.Errorf("detections = %v, want 3", resp["detections"])
	}
}

func TestDeviceAnomalies_NewestFirst(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)

	for _, watts := range []float64{310, 500} {
		body := fmt.Sprintf(`{"watts": %v}`, watts)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/devices/heater-1/power-samples", strings.NewReader(body))
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("sample status = %d, want %d", w.Code, http.StatusOK)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/devices/heater-1/anomalies", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Anomalies []anomaly.Record `json:"anomalies"`
		Count     int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Anomalies[0].ActualValue != 500 {
		t.Errorf("first record value = %v, want 500 (newest first)", resp.Anomalies[0].ActualValue)
	}
}

// ─── Override Endpoint Tests ───────────────────────────────────────

func TestCreateAndRevokeOverride(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	body := `{"type": "schedule_bypass", "device_id": "heater-1", "user_id": "user-1", "reason": "party mode", "duration_seconds": 3600}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}

	var rec override.Record
	if err := json.Unmarshal(w.Body.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if rec.ID == "" || rec.ExpiresAt == nil {
		t.Fatalf("record = %+v, want ID and expiry set", rec)
	}

	// Creator revokes.
	req = httptest.NewRequest(http.MethodDelete, "/api/v1/overrides/"+rec.ID+"?user_id=user-1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d, want %d; body: %s", w.Code, http.StatusNoContent, w.Body.String())
	}
}

func TestRevokeOverride_NotCreator(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	rec, err := srv.overrides.Create(context.Background(), override.Request{
		Type:   override.TypeSystemMaintenance,
		UserID: "user-1",
		Reason: "maintenance",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/overrides/"+rec.ID+"?user_id=user-2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestRevokeOverride_AdminViaToken(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	rec, err := srv.overrides.Create(context.Background(), override.Request{
		Type:   override.TypeSystemMaintenance,
		UserID: "user-1",
		Reason: "maintenance",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	token, err := auth.GenerateAccessToken("admin-7", auth.RoleAdmin, testServerSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/overrides/"+rec.ID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d; body: %s", w.Code, http.StatusNoContent, w.Body.String())
	}
}

func TestClearAllOverrides_RequiresAdmin(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	if _, err := srv.overrides.Create(context.Background(), override.Request{
		Type:   override.TypeScheduleBypass,
		UserID: "user-1",
		Reason: "testing",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides/clear-all?user_id=user-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want %d", w.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/overrides/clear-all?user_id=admin", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	resp := decodeBody(t, w)
	if int(resp["revoked"].(float64)) != 1 {
		t.Errorf("revoked = %v, want 1", resp["revoked"])
	}
}

func TestEmergencyShutdown(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)
	registerDevice(t, router, "heater-2", 300)

	body := `{"reason": "smoke detected"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides/emergency-shutdown?user_id=admin", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp EmergencyShutdownResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Devices != 2 {
		t.Errorf("devices = %d, want 2", resp.Devices)
	}
	if len(resp.Overrides) != 1 || resp.Overrides[0].Type != override.TypeEmergencyShutdown {
		t.Fatalf("overrides = %+v, want one emergency_shutdown record", resp.Overrides)
	}
	if resp.Overrides[0].Metadata["systemWide"] != true {
		t.Errorf("metadata = %v, want systemWide=true", resp.Overrides[0].Metadata)
	}
	if remote.commandCount() != 2 {
		t.Errorf("executed %d commands, want 2", remote.commandCount())
	}
	if !srv.overrides.IsEmergencyShutdown("heater-1") {
		t.Error("emergency shutdown not active system-wide")
	}
}

func TestEmergencyShutdown_DeviceScoped(t *testing.T) {
	srv, remote := testServer(t, "")
	router := srv.buildRouter()

	registerDevice(t, router, "heater-1", 200)
	registerDevice(t, router, "heater-2", 300)

	body := `{"reason": "scorched socket", "device_ids": ["heater-1"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides/emergency-shutdown?user_id=admin", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp EmergencyShutdownResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Devices != 1 {
		t.Errorf("devices = %d, want 1 (only the listed device commanded)", resp.Devices)
	}
	if len(resp.Overrides) != 1 || resp.Overrides[0].DeviceID != "heater-1" {
		t.Fatalf("overrides = %+v, want one record scoped to heater-1", resp.Overrides)
	}
	if resp.Overrides[0].Metadata["emergency"] != true {
		t.Errorf("metadata = %v, want emergency=true", resp.Overrides[0].Metadata)
	}
	if remote.commandCount() != 1 {
		t.Errorf("executed %d commands, want 1", remote.commandCount())
	}
	if !srv.overrides.IsEmergencyShutdown("heater-1") {
		t.Error("emergency shutdown not active for heater-1")
	}
	if srv.overrides.IsEmergencyShutdown("heater-2") {
		t.Error("emergency shutdown leaked to heater-2")
	}
}

func TestEmergencyShutdown_OperatorForbidden(t *testing.T) {
	srv, _ := testServer(t, testServerSecret)
	router := srv.buildRouter()

	token, err := auth.GenerateAccessToken("user-1", auth.RoleOperator, testServerSecret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken: %v", err)
	}

	body := `{"reason": "panic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/overrides/emergency-shutdown", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// ─── Failure / Feature Endpoint Tests ──────────────────────────────

func TestListFailures(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	srv.failures.HandleError(failure.CategoryCloudAPI, failure.SeverityHigh,
		failure.Source{Component: "test", Operation: "op"}, errors.New("boom"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/failures", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	resp := decodeBody(t, w)
	if int(resp["count"].(float64)) != 1 {
		t.Errorf("count = %v, want 1", resp["count"])
	}
}

func TestEnableFeature_Unknown(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/features/ghost/enable", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestEnableFeature_ReenablesDisabled(t *testing.T) {
	srv, _ := testServer(t, "")
	router := srv.buildRouter()

	// Disable a feature by failing its primary path.
	_, err := srv.failures.ExecuteWithFallback(context.Background(), "inference", failure.CategoryInference,
		failure.Source{Component: "test"},
		func(_ context.Context) (any, error) { return nil, errors.New("primary down") },
		func(_ context.Context) (any, error) { return "cached", nil },
	)
	if err != nil {
		t.Fatalf("ExecuteWithFallback: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/features/inference/enable", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusNoContent, w.Body.String())
	}

	for _, f := range srv.failures.FeatureStatuses() {
		if f.Key == "inference" && !f.Enabled {
			t.Error("feature still disabled after enable")
		}
	}
}
