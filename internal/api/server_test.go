package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/device"
	"github.com/nerrad567/gray-logic-access/internal/dispatch"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/isapi"
	"github.com/nerrad567/gray-logic-access/internal/retry"
	"github.com/nerrad567/gray-logic-access/internal/tenant"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// stubDriver answers every request with resp and records what it saw.
type stubDriver struct {
	mu       sync.Mutex
	resp     isapi.Response
	requests []isapi.Request
}

func (d *stubDriver) Invoke(_ context.Context, _ string, _ int, req isapi.Request) isapi.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.resp
}

func (d *stubDriver) last() isapi.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return isapi.Request{}
	}
	return d.requests[len(d.requests)-1]
}

type stubChecker struct{ err error }

func (c stubChecker) HealthCheck(context.Context) error { return c.err }

type stubDeadLetters struct{}

func (stubDeadLetters) Stats(context.Context) (retry.Stats, error) {
	return retry.Stats{Queued: 2, Abandoned: 1}, nil
}

type testEnv struct {
	srv      *Server
	ts       *httptest.Server
	registry *device.Registry
	tenants  *tenant.Manager
	driver   *stubDriver
}

type envOption func(*Deps)

func withJWT(d *Deps) { d.Security.JWT = config.JWTConfig{Enabled: true, Secret: testSecret} }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	registry := device.NewRegistry()
	tenants := tenant.NewManager(tenant.Config{DefaultLimit: 2})
	driver := &stubDriver{resp: isapi.Response{OK: true}}

	d := dispatch.New(config.DispatchConfig{QueueCapacity: 8, Workers: 2, CommandTimeout: 2 * time.Second}, registry, tenants, driver)
	d.Start()
	t.Cleanup(d.Close)

	deps := Deps{
		WS:          config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10},
		Logger:      log,
		Dispatcher:  d,
		Registry:    registry,
		Tenants:     tenants,
		DeadLetters: stubDeadLetters{},
		Health:      map[string]HealthChecker{"database": stubChecker{}},
		Version:     "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close() //nolint:errcheck // Test cleanup
	})

	return &testEnv{srv: srv, ts: ts, registry: registry, tenants: tenants, driver: driver}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) (*http.Response, []byte) {
	t.Helper()

	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatal(err)
	}
	return resp, buf.Bytes()
}

func decodeCommand(t *testing.T, body []byte) CommandResponse {
	t.Helper()
	var cr CommandResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decoding %s: %v", body, err)
	}
	return cr
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("New() with no deps succeeded")
	}
}

func TestOpenDoor_Success(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 4})

	resp, body := env.do(t, http.MethodPost, "/api/v1/devices/door-1/door/open", `{"door_no":2}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	cr := decodeCommand(t, body)
	if !cr.Success || cr.Code != "0" || cr.Status != dispatch.StatusSucceeded || cr.CommandID == "" {
		t.Errorf("response = %+v", cr)
	}
	if got := env.driver.last().URL; !strings.HasSuffix(got, "/door/2") {
		t.Errorf("driver URL = %q", got)
	}
}

func TestCommands_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		register   bool
		resp       isapi.Response
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "offline device",
			method:     http.MethodPost,
			path:       "/api/v1/devices/door-1/reboot",
			wantStatus: http.StatusConflict,
			wantCode:   "DEVICE_OFFLINE",
		},
		{
			name:       "driver error",
			register:   true,
			resp:       isapi.Response{ErrCode: 17},
			method:     http.MethodPost,
			path:       "/api/v1/devices/door-1/door/close",
			wantStatus: http.StatusBadGateway,
			wantCode:   "17",
		},
		{
			name:       "invalid payload",
			register:   true,
			method:     http.MethodPost,
			path:       "/api/v1/devices/door-1/whitelist",
			body:       `{"name":"no employee number"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_COMMAND",
		},
		{
			name:       "time sync",
			register:   true,
			resp:       isapi.Response{OK: true},
			method:     http.MethodPost,
			path:       "/api/v1/devices/door-1/time/sync",
			wantStatus: http.StatusOK,
			wantCode:   "0",
		},
		{
			name:       "whitelist delete",
			register:   true,
			resp:       isapi.Response{OK: true},
			method:     http.MethodDelete,
			path:       "/api/v1/devices/door-1/whitelist/E100",
			wantStatus: http.StatusOK,
			wantCode:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.driver.resp = tt.resp
			if tt.register {
				env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 1})
			}

			resp, body := env.do(t, tt.method, tt.path, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", resp.StatusCode, tt.wantStatus, body)
			}
			if cr := decodeCommand(t, body); cr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", cr.Code, tt.wantCode)
			}
		})
	}
}

func TestCommands_BadBody(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/v1/devices/door-1/door/open", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestWhitelistQuery_ReturnsDeviceData(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 1})
	env.driver.resp = isapi.Response{OK: true, Body: `{"UserInfoSearch":{"numOfMatches":1}}`}

	resp, body := env.do(t, http.MethodGet, "/api/v1/devices/door-1/whitelist?employee_no=E1&max_results=5", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	cr := decodeCommand(t, body)
	if !strings.Contains(string(cr.Data), "numOfMatches") {
		t.Errorf("data = %s", cr.Data)
	}
	if req := env.driver.last(); !strings.Contains(req.URL, "Search") || !strings.Contains(req.Body, "E1") {
		t.Errorf("driver request = %+v", req)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices/door-1/whitelist?position=-1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative position status = %d", resp.StatusCode)
	}
}

func TestWhitelistUpdate_PathWins(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 1})

	resp, body := env.do(t, http.MethodPut, "/api/v1/devices/door-1/whitelist/E7", `{"name":"Ada"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	if req := env.driver.last(); !strings.Contains(req.Body, "E7") || req.Method != http.MethodPut {
		t.Errorf("driver request = %+v", req)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/devices/door-1/whitelist/E7", `{"employee_no":"E8"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("mismatched employee_no status = %d", resp.StatusCode)
	}
}

func TestDevices(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(device.Registration{DeviceID: "door-2", NativeHandle: 2})
	env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 1, IP: "10.0.0.9"})
	if err := env.tenants.SetMapping(context.Background(), "door-1", "acme"); err != nil {
		t.Fatal(err)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/devices", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var list struct {
		Devices []deviceView `json:"devices"`
		Count   int          `json:"count"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 || list.Devices[0].DeviceID != "door-1" || list.Devices[0].TenantID != "acme" {
		t.Errorf("list = %+v", list)
	}
	if list.Devices[1].TenantID != tenant.SyntheticPrefix+"door-2" {
		t.Errorf("unmapped tenant = %q", list.Devices[1].TenantID)
	}

	resp, body = env.do(t, http.MethodGet, "/api/v1/devices/door-1", "")
	var one deviceView
	if err := json.Unmarshal(body, &one); err != nil || resp.StatusCode != http.StatusOK || one.IP != "10.0.0.9" {
		t.Errorf("get = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices/ghost", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown device status = %d", resp.StatusCode)
	}
}

func TestTenantMappings(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPut, "/api/v1/tenants/devices/door-1", `{"tenant_id":"acme"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status = %d", resp.StatusCode)
	}
	if got := env.tenants.Resolve("door-1"); got != "acme" {
		t.Errorf("Resolve() = %q", got)
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/tenants/devices/door-1", `{"tenant_id":""}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty tenant status = %d", resp.StatusCode)
	}

	resp, body := env.do(t, http.MethodGet, "/api/v1/tenants", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"door-1":"acme"`) {
		t.Errorf("list = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/tenants/devices/door-1", "")
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/tenants/devices/door-1", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE status = %d", resp.StatusCode)
	}
}

func TestStats(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(device.Registration{DeviceID: "door-1", NativeHandle: 1})
	env.do(t, http.MethodPost, "/api/v1/devices/door-1/reboot", "")

	resp, body := env.do(t, http.MethodGet, "/api/v1/stats", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var stats struct {
		Dispatcher  dispatch.Stats `json:"dispatcher"`
		Tenants     []tenant.Usage `json:"tenants"`
		Devices     int            `json:"devices"`
		DeadLetters retry.Stats    `json:"dead_letters"`
	}
	if err := json.Unmarshal(body, &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Dispatcher.Submitted != 1 || stats.Devices != 1 || stats.DeadLetters.Queued != 2 || len(stats.Tenants) != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Errorf("healthy = %d %s", resp.StatusCode, body)
	}

	sick := newTestEnv(t, func(d *Deps) {
		d.Health["mqtt"] = stubChecker{err: errors.New("not connected")}
	})
	resp, body = sick.do(t, http.MethodGet, "/api/v1/health", "")
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "not connected") {
		t.Errorf("degraded = %d %s", resp.StatusCode, body)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, withJWT)

	token, err := IssueToken(testSecret, "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	forged, err := IssueToken("another-secret-that-is-long-enough-too", "ops", time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		header []string
		want   int
	}{
		{"health is open", "/api/v1/health", nil, http.StatusOK},
		{"missing token", "/api/v1/devices", nil, http.StatusUnauthorized},
		{"wrong secret", "/api/v1/devices", []string{"Authorization", "Bearer " + forged}, http.StatusUnauthorized},
		{"valid header", "/api/v1/devices", []string{"Authorization", "Bearer " + token}, http.StatusOK},
		{"valid query", "/api/v1/devices?access_token=" + token, nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := env.do(t, http.MethodGet, tt.path, "", tt.header...)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestRecoveryAndRequestID(t *testing.T) {
	env := newTestEnv(t)
	h := env.srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	h = env.srv.requestIDMiddleware(h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("no request id header")
	}
}

func TestServer_StartClose(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg = config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}}

	if err := env.srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	resp, err := http.Get("http://" + env.srv.Addr() + "/api/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
