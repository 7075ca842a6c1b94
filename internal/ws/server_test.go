package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/meshportal/backend/internal/config"
	"github.com/meshportal/backend/internal/discovery"
	"github.com/meshportal/backend/internal/session"
	_ "github.com/meshportal/backend/internal/sim"
)

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.AuthToken = token

	b := NewBroadcaster(8)
	mgr := session.NewManager("sim", b)
	correlator := session.NewCorrelator(mgr)
	srv := NewServer(cfg, mgr, correlator, b, discovery.NewBrowser("", ""), "", false, nil)

	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(func() {
		mgr.Disconnect(context.Background())
		ts.Close()
	})
	return ts
}

func doJSON(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode %s %s: %v", method, url, err)
	}
	return resp.StatusCode, decoded
}

func connectSim(t *testing.T, ts *httptest.Server) {
	t.Helper()
	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/connect",
		map[string]any{"type": "tcp", "host": "127.0.0.1"})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("connect: status %d body %v", code, body)
	}
}

func TestStatusLifecycle(t *testing.T) {
	ts := newTestServer(t, "")

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	if code != http.StatusOK || body["connected"] != false {
		t.Fatalf("status before connect: %d %v", code, body)
	}

	connectSim(t, ts)

	code, body = doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	if code != http.StatusOK || body["connected"] != true {
		t.Fatalf("status after connect: %d %v", code, body)
	}
	self, ok := body["self_info"].(map[string]any)
	if !ok || self["adv_name"] != "sim-127.0.0.1:5000" {
		t.Errorf("self_info = %v", body["self_info"])
	}

	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/disconnect", nil)
	if code != http.StatusOK {
		t.Fatalf("disconnect: status %d", code)
	}
	// Disconnect stays 200 with no session.
	code, _ = doJSON(t, http.MethodPost, ts.URL+"/api/disconnect", nil)
	if code != http.StatusOK {
		t.Fatalf("second disconnect: status %d", code)
	}
}

func TestConnectErrors(t *testing.T) {
	ts := newTestServer(t, "")

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/connect",
		map[string]any{"type": "serial"})
	if code != http.StatusBadRequest || body["error"] != "invalid_request" {
		t.Errorf("serial without port: %d %v", code, body)
	}

	connectSim(t, ts)
	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/connect",
		map[string]any{"type": "tcp", "host": "127.0.0.1"})
	if code != http.StatusConflict || body["error"] != "already_connected" {
		t.Errorf("second connect: %d %v", code, body)
	}
}

func TestEndpointsRequireSession(t *testing.T) {
	ts := newTestServer(t, "")

	for _, path := range []string{"/api/contacts", "/api/channels", "/api/device", "/api/stats"} {
		code, body := doJSON(t, http.MethodGet, ts.URL+path, nil)
		if code != http.StatusBadRequest || body["error"] != "not_connected" {
			t.Errorf("%s: %d %v, want 400 not_connected", path, code, body)
		}
	}
}

func TestSend(t *testing.T) {
	ts := newTestServer(t, "")
	connectSim(t, ts)

	code, body := doJSON(t, http.MethodPost, ts.URL+"/api/send",
		map[string]any{"recipient": strings.Repeat("ff", 32), "text": "hi"})
	if code != http.StatusNotFound || body["error"] != "not_found" {
		t.Errorf("unknown recipient: %d %v", code, body)
	}

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/send",
		map[string]any{"channel_idx": 0, "text": "hello mesh"})
	if code != http.StatusOK || body["success"] != true {
		t.Fatalf("channel send: %d %v", code, body)
	}
	ack, _ := body["expected_ack"].(string)
	if len(ack) != 8 {
		t.Errorf("expected_ack = %q, want 4 hex bytes", ack)
	}
	if body["attempts"] != float64(1) {
		t.Errorf("attempts = %v, want 1", body["attempts"])
	}

	// Resolve a real contact key from the device and send to it.
	code, contacts := doJSON(t, http.MethodGet, ts.URL+"/api/contacts", nil)
	if code != http.StatusOK {
		t.Fatalf("contacts: status %d", code)
	}
	list, _ := contacts["contacts"].([]any)
	if len(list) == 0 {
		t.Fatal("no contacts loaded")
	}
	first, _ := list[0].(map[string]any)
	key, _ := first["public_key"].(string)

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/send",
		map[string]any{"recipient": key, "text": "direct hello"})
	if code != http.StatusOK || body["success"] != true {
		t.Errorf("direct send: %d %v", code, body)
	}
}

func TestChannels(t *testing.T) {
	ts := newTestServer(t, "")
	connectSim(t, ts)

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/channels", nil)
	if code != http.StatusOK {
		t.Fatalf("channels: status %d", code)
	}
	list, _ := body["channels"].([]any)
	if len(list) != 1 {
		t.Fatalf("channels = %v, want the single seeded slot", body)
	}

	code, body = doJSON(t, http.MethodPost, ts.URL+"/api/channels",
		map[string]any{"channel_idx": 9, "name": "ops"})
	if code != http.StatusBadRequest || body["error"] != "invalid_request" {
		t.Errorf("out-of-range channel: %d %v", code, body)
	}
}

func TestAuthToken(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/status", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("no token: %d %v", code, body)
	}

	for _, url := range []string{
		ts.URL + "/api/status?token=s3cret",
	} {
		code, _ = doJSON(t, http.MethodGet, url, nil)
		if code != http.StatusOK {
			t.Errorf("query token: status %d", code)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("bearer token: status %d", resp.StatusCode)
	}
}

func TestSerialPortsAlwaysAnswers(t *testing.T) {
	ts := newTestServer(t, "")
	code, body := doJSON(t, http.MethodGet, ts.URL+"/api/serial/ports", nil)
	if code != http.StatusOK {
		t.Fatalf("serial ports: status %d", code)
	}
	if _, ok := body["ports"]; !ok {
		t.Errorf("response missing ports key: %v", body)
	}
}

func TestWebSocketHandshake(t *testing.T) {
	ts := newTestServer(t, "")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var frame Frame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read status frame: %v", err)
	}
	if frame.Type != session.FrameStatus {
		t.Errorf("first frame type = %q, want %s", frame.Type, session.FrameStatus)
	}

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read pong: %v", err)
	}
	if frame.Type != session.FramePong {
		t.Errorf("reply type = %q, want %s", frame.Type, session.FramePong)
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := newTestServer(t, "s3cret")

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("dial without token succeeded")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("dial status = %d, want 401", resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token=s3cret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	conn.Close()
}
