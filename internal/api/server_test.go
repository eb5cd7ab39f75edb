package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/usbroles/internal/infrastructure/config"
	"github.com/nerrad567/usbroles/internal/infrastructure/database"
	"github.com/nerrad567/usbroles/internal/infrastructure/logging"
	"github.com/nerrad567/usbroles/internal/usb"
	"github.com/nerrad567/usbroles/migrations"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// envelope mirrors Envelope with raw data for per-test decoding.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

// testServer creates a Server over an empty registry and a rule file in a temp dir.
func testServer(t *testing.T, mutate ...func(*Deps)) *Server {
	t.Helper()

	rules := usb.NewRuleStore(filepath.Join(t.TempDir(), "usb_rules.json"), nil)
	deps := Deps{
		Config: config.APIConfig{
			Host:     "127.0.0.1",
			Port:     0,
			Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5},
		},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:  testLogger(),
		State:   usb.NewState(usb.NewRegistry(), rules),
		Version: "test",
	}
	for _, m := range mutate {
		m(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv
}

func withSecret(d *Deps) {
	d.Security = config.SecurityConfig{JWT: config.JWTConfig{Secret: testSecret}}
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("unmarshal envelope: %v (body %s)", err, w.Body.String())
		}
	}
	return w, env
}

func webcam(port string) usb.RawDevice {
	return usb.RawDevice{VID: 0x046d, PID: 0x0825, Serial: usb.Serial("SN1"), PortPath: port, SystemPath: "/sys/bus/usb/devices/" + port}
}

func TestHealth(t *testing.T) {
	srv := testServer(t)

	w, env := do(t, srv.buildRouter(), http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if env.Code != 0 || env.Msg != "ok" {
		t.Errorf("envelope = %d %q, want 0 ok", env.Code, env.Msg)
	}

	var data map[string]string
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["version"] != "test" {
		t.Errorf("version = %q, want test", data["version"])
	}
}

// ─── Middleware Tests ──────────────────────────────────────────────

func TestRequestID(t *testing.T) {
	router := testServer(t).buildRouter()

	w, _ := do(t, router, http.MethodGet, "/api/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}

	w, _ = do(t, router, http.MethodGet, "/api/health", "", "X-Request-ID", "client-123")
	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS_Preflight(t *testing.T) {
	router := testServer(t).buildRouter()

	w, _ := do(t, router, http.MethodOptions, "/api/rules", "", "Origin", "http://robot.local:8080")

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://robot.local:8080" {
		t.Errorf("ACAO = %q, want %q", got, "http://robot.local:8080")
	}
}

func TestNotFound(t *testing.T) {
	w, env := do(t, testServer(t).buildRouter(), http.MethodGet, "/api/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	if env.Code != 404 || env.Msg != "Resource Not Found" {
		t.Errorf("envelope = %d %q", env.Code, env.Msg)
	}
}

func TestIndex(t *testing.T) {
	index := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html></html>")) //nolint:errcheck // test handler
	})
	srv := testServer(t, func(d *Deps) { d.Index = index })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.buildRouter().ServeHTTP(w, req)

	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<html>") {
		t.Errorf("index = %d %q", w.Code, w.Body.String())
	}
}

// ─── Device Tests ──────────────────────────────────────────────────

func TestListDevices_Empty(t *testing.T) {
	w, env := do(t, testServer(t).buildRouter(), http.MethodGet, "/api/devices", "")

	if w.Code != http.StatusOK || env.Code != 0 {
		t.Fatalf("status = %d code = %d", w.Code, env.Code)
	}
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestListDevices_AnnotatesRoles(t *testing.T) {
	srv := testServer(t)
	srv.state.Registry.Replace([]usb.RawDevice{webcam("1-1"), webcam("1-2")})
	if err := srv.state.Rules.Replace([]usb.Rule{{Role: "top_camera", VID: 0x046d, PID: 0x0825, PortPath: "1-2"}}); err != nil {
		t.Fatal(err)
	}

	_, env := do(t, srv.buildRouter(), http.MethodGet, "/api/devices", "")

	var views []usb.DeviceView
	if err := json.Unmarshal(env.Data, &views); err != nil {
		t.Fatalf("unmarshal views: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("got %d views, want 2", len(views))
	}
	if views[0].Role != nil {
		t.Errorf("views[0].Role = %q, want nil", *views[0].Role)
	}
	if views[1].Role == nil || *views[1].Role != "top_camera" {
		t.Errorf("views[1].Role = %v, want top_camera", views[1].Role)
	}
	if views[1].VID != "0x046d" || views[1].PID != "0x0825" {
		t.Errorf("ids = %s %s", views[1].VID, views[1].PID)
	}
}

func TestDeviceHistory(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		t.Fatal(err)
	}
	repo := usb.NewSQLiteSightingRepository(db.DB)
	if err := repo.ObserveScan(ctx, usb.ScanDiff{Added: []usb.RawDevice{webcam("1-1")}, At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	router := testServer(t, func(d *Deps) { d.History = repo }).buildRouter()

	w, env := do(t, router, http.MethodGet, "/api/devices/history?limit=10", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var sightings []usb.Sighting
	if err := json.Unmarshal(env.Data, &sightings); err != nil {
		t.Fatal(err)
	}
	if len(sightings) != 1 || !sightings[0].Present || sightings[0].PortPath != "1-1" {
		t.Errorf("sightings = %+v", sightings)
	}

	w, env = do(t, router, http.MethodGet, "/api/devices/history?limit=abc", "")
	if w.Code != http.StatusBadRequest || env.Code != int(CodeInvalidParam) {
		t.Errorf("bad limit = %d/%d, want 400/1002", w.Code, env.Code)
	}
}

func TestDeviceHistory_Disabled(t *testing.T) {
	w, env := do(t, testServer(t).buildRouter(), http.MethodGet, "/api/devices/history", "")
	if w.Code != http.StatusNotFound || env.Code != int(CodeNotFound) {
		t.Errorf("got %d/%d, want 404/404", w.Code, env.Code)
	}
}

// ─── Rule Tests ────────────────────────────────────────────────────

func TestSaveRules(t *testing.T) {
	changed := 0
	srv := testServer(t, func(d *Deps) { d.OnRulesChanged = func() { changed++ } })
	router := srv.buildRouter()

	body := `[{"role":"top_camera","vid":1133,"pid":2085,"serial":null,"port_path":"1-2"}]`
	w, env := do(t, router, http.MethodPost, "/api/rules", body)

	if w.Code != http.StatusOK || env.Code != 0 || env.Msg != "ok" {
		t.Fatalf("save = %d %d %q", w.Code, env.Code, env.Msg)
	}
	if string(env.Data) != "null" {
		t.Errorf("data = %s, want null", env.Data)
	}
	if changed != 1 {
		t.Errorf("OnRulesChanged called %d times, want 1", changed)
	}

	persisted, err := usb.LoadRules(srv.state.Rules.Path())
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if len(persisted) != 1 || persisted[0].Role != "top_camera" || persisted[0].VID != 0x046d {
		t.Errorf("persisted = %+v", persisted)
	}

	_, env = do(t, router, http.MethodGet, "/api/rules", "")
	var rules []usb.Rule
	if err := json.Unmarshal(env.Data, &rules); err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 || rules[0].PortPath != "1-2" {
		t.Errorf("GET /api/rules = %+v", rules)
	}
}

func TestSaveRules_Rejected(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantCode   ErrorCode
	}{
		{"empty array", `[]`, http.StatusBadRequest, CodeInvalidParam},
		{"not json", `not json`, http.StatusBadRequest, CodeInvalidParam},
		{"object", `{"role":"a"}`, http.StatusBadRequest, CodeInvalidParam},
		{"duplicate role", `[{"role":"a","vid":1,"pid":2,"port_path":"1-1"},{"role":"a","vid":1,"pid":2,"port_path":"1-2"}]`, http.StatusConflict, CodeConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t)
			original := []usb.Rule{{Role: "keep", VID: 1, PID: 1, PortPath: "9-9"}}
			if err := srv.state.Rules.Replace(original); err != nil {
				t.Fatal(err)
			}

			w, env := do(t, srv.buildRouter(), http.MethodPost, "/api/rules", tt.body)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if env.Code != int(tt.wantCode) || env.Msg != tt.wantCode.Message() {
				t.Errorf("envelope = %d %q, want %d %q", env.Code, env.Msg, tt.wantCode, tt.wantCode.Message())
			}
			if got := srv.state.Rules.Snapshot(); len(got) != 1 || got[0].Role != "keep" {
				t.Errorf("rules mutated: %+v", got)
			}
		})
	}
}

func TestSaveRules_PersistFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	changed := false
	srv := testServer(t, func(d *Deps) {
		d.State.Rules = usb.NewRuleStore(filepath.Join(blocker, "usb_rules.json"), nil)
		d.OnRulesChanged = func() { changed = true }
	})

	w, env := do(t, srv.buildRouter(), http.MethodPost, "/api/rules", `[{"role":"a","vid":1,"pid":2,"port_path":"1-1"}]`)

	if w.Code != http.StatusInternalServerError || env.Code != 500 {
		t.Errorf("got %d/%d, want 500/500", w.Code, env.Code)
	}
	if !strings.HasPrefix(env.Msg, "write failed: ") {
		t.Errorf("msg = %q, want write failed prefix", env.Msg)
	}
	if srv.state.Rules.Len() != 0 {
		t.Error("in-memory rules changed after persist failure")
	}
	if changed {
		t.Error("OnRulesChanged called after persist failure")
	}
}

// ─── Auth Tests ────────────────────────────────────────────────────

func TestAuth(t *testing.T) {
	router := testServer(t, withSecret).buildRouter()

	viewer := mustToken(t, "viewer")
	operator := mustToken(t, "operator")
	body := `[{"role":"a","vid":1,"pid":2,"port_path":"1-1"}]`

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		token      string
		wantStatus int
		wantCode   int
	}{
		{"health is open", http.MethodGet, "/api/health", "", "", http.StatusOK, 0},
		{"devices without token", http.MethodGet, "/api/devices", "", "", http.StatusUnauthorized, int(CodeUnauthorized)},
		{"devices with garbage", http.MethodGet, "/api/devices", "", "garbage", http.StatusUnauthorized, int(CodeUnauthorized)},
		{"devices as viewer", http.MethodGet, "/api/devices", "", viewer, http.StatusOK, 0},
		{"save as viewer", http.MethodPost, "/api/rules", body, viewer, http.StatusForbidden, int(CodePermissionDenied)},
		{"save as operator", http.MethodPost, "/api/rules", body, operator, http.StatusOK, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var header []string
			if tt.token != "" {
				header = []string{"Authorization", "Bearer " + tt.token}
			}
			w, env := do(t, router, tt.method, tt.path, tt.body, header...)
			if w.Code != tt.wantStatus || env.Code != tt.wantCode {
				t.Errorf("got %d/%d, want %d/%d", w.Code, env.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

// ─── Metrics Tests ─────────────────────────────────────────────────

type stubScanStats struct{ stats usb.ScanStats }

func (s stubScanStats) Stats() usb.ScanStats { return s.stats }

type stubMQTT struct {
	connected     bool
	subscriptions int
}

func (m stubMQTT) IsConnected() bool      { return m.connected }
func (m stubMQTT) SubscriptionCount() int { return m.subscriptions }

func TestMetrics(t *testing.T) {
	srv := testServer(t, func(d *Deps) {
		d.Scanner = stubScanStats{usb.ScanStats{Scans: 7, Failures: 1}}
		d.MQTT = stubMQTT{connected: true, subscriptions: 2}
	})
	srv.state.Registry.Replace([]usb.RawDevice{webcam("1-1"), webcam("1-2")})
	if err := srv.state.Rules.Replace([]usb.Rule{{Role: "cam", VID: 0x046d, PID: 0x0825, PortPath: "1-1"}}); err != nil {
		t.Fatal(err)
	}

	_, env := do(t, srv.buildRouter(), http.MethodGet, "/api/metrics", "")

	var m SystemMetrics
	if err := json.Unmarshal(env.Data, &m); err != nil {
		t.Fatal(err)
	}
	if m.Devices.Attached != 2 || m.Devices.Bound != 1 || m.Devices.Rules != 1 {
		t.Errorf("devices = %+v", m.Devices)
	}
	if m.Scanner == nil || m.Scanner.Scans != 7 {
		t.Errorf("scanner = %+v", m.Scanner)
	}
	if m.MQTT == nil || !m.MQTT.Connected || m.MQTT.Subscriptions != 2 {
		t.Errorf("mqtt = %+v", m.MQTT)
	}
	if m.Listener != nil || m.Database != nil {
		t.Error("unset components should be omitted")
	}
}

func TestErrorCatalog(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		value  int
		status int
		msg    string
	}{
		{CodeNotFound, 404, 404, "Resource Not Found"},
		{CodeInvalidParam, 1002, 400, "Invalid Parameters"},
		{CodeUnauthorized, 1003, 401, "Unauthorized Access"},
		{CodePermissionDenied, 1004, 403, "Permission Denied"},
		{CodeDBError, 2001, 500, "Database Error"},
		{CodeConflict, 2002, 409, "Resource Already Exists"},
		{CodeUnknown, 9999, 500, "Unknown Server Error"},
	}
	for _, tt := range tests {
		if int(tt.code) != tt.value || tt.code.HTTPStatus() != tt.status || tt.code.Message() != tt.msg {
			t.Errorf("%d: got %d %d %q", tt.value, int(tt.code), tt.code.HTTPStatus(), tt.code.Message())
		}
	}
}
