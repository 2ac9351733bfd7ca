package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goodtune/ktrack/internal/activity"
	"github.com/goodtune/ktrack/internal/api"
	"github.com/goodtune/ktrack/internal/checkpoint"
	"github.com/goodtune/ktrack/internal/clock"
	"github.com/goodtune/ktrack/internal/consent"
	"github.com/goodtune/ktrack/internal/model"
	"github.com/goodtune/ktrack/internal/session"
	"github.com/goodtune/ktrack/internal/timer"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type testEnv struct {
	clock  *clock.Fake
	memory *api.Memory
	server *Server
	http   *httptest.Server
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()

	logger := zerolog.Nop()
	fake := clock.NewFake(time.Date(2024, 2, 12, 9, 0, 0, 0, time.UTC))
	mem := api.NewMemory(fake, activity.DefaultThresholds)
	gate := consent.NewGate(fake, logger)

	parts := session.Components{
		Gate:       gate,
		Reconciler: timer.NewReconciler(timer.Config{}, fake, logger),
		Sampler:    activity.NewSampler(activity.Config{}, activity.NewManualSource(), gate, fake, logger),
		Scheduler:  checkpoint.NewScheduler(time.Minute, gate, fake, logger),
		Capture:    checkpoint.PlaceholderCapture{Clock: fake},
	}
	sess := session.New(mem, parts, nil, session.Config{}, fake, logger)

	srv := NewServer(Config{ListenAddr: "127.0.0.1:0"}, sess, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.hub.Close()
		ts.Close()
	})

	return &testEnv{clock: fake, memory: mem, server: srv, http: ts}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: status = %d, want %d", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want)
	}
}

func TestHealth(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "GET", "/health", "")
	expectStatus(t, resp, http.StatusOK)

	body := decode[map[string]any](t, resp)
	if body["status"] != "ok" || body["phase"] != "idle" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "POST", "/api/session/start", `{"project_id":"p1"}`)
	expectStatus(t, resp, http.StatusPreconditionFailed)
	if got := decode[ErrorResponse](t, resp); got.Code != http.StatusPreconditionFailed || got.Message == "" {
		t.Errorf("unexpected error body: %+v", got)
	}

	resp = env.do(t, "POST", "/api/consent", `{"granted":true,"source":"prompt"}`)
	expectStatus(t, resp, http.StatusOK)
	if rec := decode[model.ConsentRecord](t, resp); rec.State != model.ConsentGranted || rec.Source != "prompt" {
		t.Errorf("unexpected consent record: %+v", rec)
	}

	resp = env.do(t, "POST", "/api/session/start", `{"project_id":"p1"}`)
	expectStatus(t, resp, http.StatusOK)
	st := decode[session.Status](t, resp)
	if st.Phase != session.Running || st.SessionID == "" || !st.Monitoring {
		t.Fatalf("unexpected status after start: %+v", st)
	}

	env.clock.Advance(90 * time.Second)

	resp = env.do(t, "POST", "/api/session/pause", "")
	expectStatus(t, resp, http.StatusOK)
	st = decode[session.Status](t, resp)
	if st.Phase != session.Paused || st.Clock.ElapsedSeconds != 90 || st.Elapsed != "00:01:30" {
		t.Fatalf("unexpected status after pause: %+v", st)
	}

	resp = env.do(t, "POST", "/api/session/pause", "")
	expectStatus(t, resp, http.StatusConflict)

	resp = env.do(t, "POST", "/api/session/resume", "")
	expectStatus(t, resp, http.StatusOK)

	resp = env.do(t, "POST", "/api/session/reset", "")
	expectStatus(t, resp, http.StatusConflict)

	env.clock.Advance(30 * time.Second)

	resp = env.do(t, "POST", "/api/session/stop", "")
	expectStatus(t, resp, http.StatusOK)
	stop := decode[StopResponse](t, resp)
	if stop.Summary.ElapsedSeconds != 120 || stop.Summary.Server == nil || stop.ServerError != "" {
		t.Errorf("unexpected stop response: %+v", stop)
	}

	resp = env.do(t, "POST", "/api/session/reset", "")
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.Phase != session.Idle {
		t.Errorf("phase after reset = %s", st.Phase)
	}
}

func TestTransportFailureIsBadGateway(t *testing.T) {
	env := setupTestServer(t)

	expectStatus(t, env.do(t, "POST", "/api/consent", `{"granted":true}`), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/api/session/start", ""), http.StatusOK)

	env.memory.SetFailure(api.OpPauseTracking, errors.New("upstream down"))
	resp := env.do(t, "POST", "/api/session/pause", "")
	expectStatus(t, resp, http.StatusBadGateway)

	status := decode[session.Status](t, env.do(t, "GET", "/api/session", ""))
	if status.Phase != session.Running {
		t.Errorf("phase = %s, want running", status.Phase)
	}

	env.memory.SetFailure(api.OpStopTracking, errors.New("upstream down"))
	resp = env.do(t, "POST", "/api/session/stop", "")
	expectStatus(t, resp, http.StatusBadGateway)
	stop := decode[StopResponse](t, resp)
	if stop.ServerError == "" || stop.Summary.SessionID == "" {
		t.Errorf("unexpected stop response: %+v", stop)
	}
	if env.server.session.Phase() != session.Stopped {
		t.Errorf("phase = %s, want stopped", env.server.session.Phase())
	}
}

func TestBadRequests(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"start with malformed context", "POST", "/api/session/start", `{"project_id":`},
		{"consent without body", "POST", "/api/consent", ""},
		{"consent with wrong type", "POST", "/api/consent", `{"granted":"yes"}`},
		{"zero interval", "PUT", "/api/checkpoint/interval", `{"seconds":0}`},
		{"negative interval", "PUT", "/api/checkpoint/interval", `{"seconds":-5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t)

			resp := env.do(t, tt.method, tt.path, tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			if got := decode[ErrorResponse](t, resp); got.Code != http.StatusBadRequest {
				t.Errorf("unexpected error body: %+v", got)
			}
		})
	}
}

func TestCheckpointInterval(t *testing.T) {
	env := setupTestServer(t)

	resp := env.do(t, "PUT", "/api/checkpoint/interval", `{"seconds":30}`)
	expectStatus(t, resp, http.StatusOK)
	if st := decode[session.Status](t, resp); st.CheckpointInterval != "30s" {
		t.Errorf("checkpoint interval = %s, want 30s", st.CheckpointInterval)
	}
}

func TestRevokeOverHTTPStopsMonitoring(t *testing.T) {
	env := setupTestServer(t)

	expectStatus(t, env.do(t, "POST", "/api/consent", `{"granted":true}`), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/api/session/start", ""), http.StatusOK)

	resp := env.do(t, "POST", "/api/consent", `{"granted":false,"source":"settings"}`)
	expectStatus(t, resp, http.StatusOK)
	if rec := decode[model.ConsentRecord](t, resp); rec.State != model.ConsentDenied {
		t.Errorf("consent state = %s, want denied", rec.State)
	}

	st := decode[session.Status](t, env.do(t, "GET", "/api/session", ""))
	if st.Monitoring || st.Phase != session.Running || !st.Clock.Running {
		t.Errorf("unexpected status after revoke: %+v", st)
	}
}

type liveMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func dialLive(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial live stream: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType string) liveMessage {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg liveMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s event: %v", eventType, err)
		}
		if msg.Type == eventType {
			return msg
		}
	}
}

func TestLiveStream(t *testing.T) {
	env := setupTestServer(t)
	conn := dialLive(t, env)

	hello := readUntil(t, conn, EventStatus)
	var st session.Status
	if err := json.Unmarshal(hello.Data, &st); err != nil || st.Phase != session.Idle {
		t.Fatalf("unexpected hello: %s (%v)", hello.Data, err)
	}
	if env.server.Hub().Clients() != 1 {
		t.Fatalf("clients = %d, want 1", env.server.Hub().Clients())
	}

	expectStatus(t, env.do(t, "POST", "/api/consent", `{"granted":true}`), http.StatusOK)
	expectStatus(t, env.do(t, "POST", "/api/session/start", ""), http.StatusOK)

	phase := readUntil(t, conn, EventPhase)
	var change PhaseChange
	if err := json.Unmarshal(phase.Data, &change); err != nil || change.From != session.Idle || change.To != session.Running {
		t.Fatalf("unexpected phase event: %s (%v)", phase.Data, err)
	}

	env.clock.Advance(10 * time.Second)

	var tick timer.Tick
	for tick.ElapsedSeconds < 10 {
		msg := readUntil(t, conn, EventClock)
		if err := json.Unmarshal(msg.Data, &tick); err != nil {
			t.Fatalf("decode clock event: %v", err)
		}
	}

	activityMsg := readUntil(t, conn, EventActivity)
	var snap model.ActivitySnapshot
	if err := json.Unmarshal(activityMsg.Data, &snap); err != nil {
		t.Fatalf("decode activity event: %v", err)
	}

	expectStatus(t, env.do(t, "PUT", "/api/checkpoint/interval", `{"seconds":5}`), http.StatusOK)
	env.clock.Advance(5 * time.Second)

	cp := readUntil(t, conn, EventCheckpoint)
	var result model.CheckpointResult
	if err := json.Unmarshal(cp.Data, &result); err != nil || !result.Success || result.SessionID == "" {
		t.Fatalf("unexpected checkpoint event: %s (%v)", cp.Data, err)
	}
}
