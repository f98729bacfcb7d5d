package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/operator-mobile/tagscan/internal/errcode"
	"github.com/operator-mobile/tagscan/internal/lifecycle"
	"github.com/operator-mobile/tagscan/internal/reader"
	"github.com/operator-mobile/tagscan/internal/scan"
	"github.com/operator-mobile/tagscan/internal/sink"
)

type fakeCommands struct {
	mu        sync.Mutex
	enables   int
	disables  int
	available bool
	stopped   bool
}

func (f *fakeCommands) EnableScan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enables++
	return !f.stopped
}

func (f *fakeCommands) DisableScan() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disables++
	return !f.stopped
}

func (f *fakeCommands) IsAvailable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeCommands) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enables, f.disables
}

func (f *fakeCommands) set(fn func(*fakeCommands)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeCommands) Status() scan.Status {
	return scan.Status{State: scan.Armed, SessionID: "s-1", Armed: true}
}

type fakeTapper struct {
	mu  sync.Mutex
	got [][]byte
}

func (f *fakeTapper) Tap(uid []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, uid)
	return true
}

func (f *fakeTapper) taps() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.got...)
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *fakeCommands, *lifecycle.Adapter, *sink.Sink) {
	t.Helper()
	cmds := &fakeCommands{available: true}
	adapter := lifecycle.NewAdapter(lifecycle.Foreground, 0)
	sk := sink.New()
	srv := httptest.NewServer(NewServer(cmds, adapter, sk, opts).Router())
	t.Cleanup(func() {
		sk.Close()
		srv.Close()
	})
	return srv, cmds, adapter, sk
}

func do(t *testing.T, method, url, body string, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func decodeReply(t *testing.T, data []byte) Reply {
	t.Helper()
	var r Reply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return r
}

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	securityHeaders(inner).ServeHTTP(rec, req)

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Cache-Control":           "no-store",
		"Content-Security-Policy": "default-src 'none'",
	}

	for header, expected := range want {
		if got := rec.Header().Get(header); got != expected {
			t.Errorf("header %s = %q, want %q", header, got, expected)
		}
	}
}

func TestEnableDisable(t *testing.T) {
	srv, cmds, _, _ := newTestServer(t, Options{})

	resp, data := do(t, http.MethodPost, srv.URL+"/api/scan/enable", "", nil)
	if resp.StatusCode != http.StatusOK || !decodeReply(t, data).OK {
		t.Fatalf("enable: %d %s", resp.StatusCode, data)
	}
	resp, data = do(t, http.MethodPost, srv.URL+"/api/scan/disable", "", nil)
	if resp.StatusCode != http.StatusOK || !decodeReply(t, data).OK {
		t.Fatalf("disable: %d %s", resp.StatusCode, data)
	}
	if en, dis := cmds.counts(); en != 1 || dis != 1 {
		t.Fatalf("enables=%d disables=%d", en, dis)
	}
	if got := resp.Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("security headers missing on api response")
	}
}

func TestEnableAfterStop(t *testing.T) {
	srv, cmds, _, _ := newTestServer(t, Options{})
	cmds.set(func(f *fakeCommands) { f.stopped = true })

	resp, data := do(t, http.MethodPost, srv.URL+"/api/scan/enable", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if r := decodeReply(t, data); r.OK || r.Error != errcode.NotReady {
		t.Fatalf("reply = %+v", r)
	}
}

func TestEnableRequiresPost(t *testing.T) {
	srv, cmds, _, _ := newTestServer(t, Options{})
	resp, _ := do(t, http.MethodGet, srv.URL+"/api/scan/enable", "", nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if en, _ := cmds.counts(); en != 0 {
		t.Fatal("GET must not enable")
	}
}

func TestAvailableAndStatus(t *testing.T) {
	srv, cmds, _, _ := newTestServer(t, Options{})

	_, data := do(t, http.MethodGet, srv.URL+"/api/scan/available", "", nil)
	var av AvailableReply
	if err := json.Unmarshal(data, &av); err != nil || !av.Available {
		t.Fatalf("available = %s (%v)", data, err)
	}
	cmds.set(func(f *fakeCommands) { f.available = false })
	_, data = do(t, http.MethodGet, srv.URL+"/api/scan/available", "", nil)
	if err := json.Unmarshal(data, &av); err != nil || av.Available {
		t.Fatalf("available = %s (%v)", data, err)
	}

	_, data = do(t, http.MethodGet, srv.URL+"/api/scan/status", "", nil)
	var st scan.Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if st.State != scan.Armed || st.SessionID != "s-1" {
		t.Fatalf("status = %+v", st)
	}
	if !strings.Contains(string(data), `"state":"armed"`) {
		t.Errorf("state should encode by name: %s", data)
	}
}

func TestLifecycleRoutes(t *testing.T) {
	srv, _, adapter, _ := newTestServer(t, Options{})

	tests := []struct {
		phase   string
		want    lifecycle.Phase
		changed bool
	}{
		{"paused", lifecycle.Background, true},
		{"background", lifecycle.Background, false},
		{"resumed", lifecycle.Foreground, true},
		{"foreground", lifecycle.Foreground, false},
	}
	for _, tt := range tests {
		resp, data := do(t, http.MethodPost, srv.URL+"/api/lifecycle/"+tt.phase, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", tt.phase, resp.StatusCode)
		}
		var pr PhaseReply
		if err := json.Unmarshal(data, &pr); err != nil {
			t.Fatalf("%s: %v", tt.phase, err)
		}
		if pr.Phase != tt.want || pr.Changed != tt.changed {
			t.Errorf("%s: reply %+v", tt.phase, pr)
		}
		if adapter.Phase() != tt.want {
			t.Errorf("%s: adapter phase %v", tt.phase, adapter.Phase())
		}
	}

	resp, data := do(t, http.MethodPost, srv.URL+"/api/lifecycle/sideways", "", nil)
	if resp.StatusCode != http.StatusBadRequest || decodeReply(t, data).Error != errcode.InvalidPhase {
		t.Fatalf("invalid phase: %d %s", resp.StatusCode, data)
	}

	_, data = do(t, http.MethodGet, srv.URL+"/api/lifecycle", "", nil)
	if !strings.Contains(string(data), `"phase":"foreground"`) {
		t.Errorf("current phase = %s", data)
	}
}

func TestTapUnsupportedWithoutSim(t *testing.T) {
	srv, _, _, _ := newTestServer(t, Options{})
	resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/taps", `{"uid":"DEADBEEF"}`, nil)
	if resp.StatusCode != http.StatusNotImplemented || decodeReply(t, data).Error != errcode.Unsupported {
		t.Fatalf("tap: %d %s", resp.StatusCode, data)
	}
}

func TestTap(t *testing.T) {
	tapper := &fakeTapper{}
	srv, _, _, _ := newTestServer(t, Options{Tapper: tapper})

	resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/taps", `{"uid":"de:ad:be:ef"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("tap: %d %s", resp.StatusCode, data)
	}
	var tr TapReply
	if err := json.Unmarshal(data, &tr); err != nil {
		t.Fatal(err)
	}
	if !tr.OK || tr.UID != "DEADBEEF" || !tr.Emitted {
		t.Fatalf("reply = %+v", tr)
	}
	if got := tapper.taps(); len(got) != 1 || len(got[0]) != 4 {
		t.Fatalf("tapper got %v", got)
	}

	for _, body := range []string{`{"uid":"xyz"}`, `{"uid":""}`, `not json`} {
		resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/taps", body, nil)
		if resp.StatusCode != http.StatusBadRequest || decodeReply(t, data).Error != errcode.InvalidPayload {
			t.Errorf("%s: %d %s", body, resp.StatusCode, data)
		}
	}
}

func TestAuthorization(t *testing.T) {
	srv, _, _, _ := newTestServer(t, Options{AuthToken: "secret"})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/scan/status", "", nil)
	if resp.StatusCode != http.StatusUnauthorized || decodeReply(t, data).Error != errcode.Unauthorized {
		t.Fatalf("no token: %d %s", resp.StatusCode, data)
	}

	cases := []struct {
		name   string
		url    string
		header http.Header
	}{
		{"bearer", "/api/scan/status", http.Header{"Authorization": {"Bearer secret"}}},
		{"header", "/api/scan/status", http.Header{"X-Tagscan-Token": {"secret"}}},
		{"query", "/api/scan/status?token=secret", nil},
	}
	for _, tc := range cases {
		resp, _ := do(t, http.MethodGet, srv.URL+tc.url, "", tc.header)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status %d", tc.name, resp.StatusCode)
		}
	}

	resp, _ = do(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health should not need a token: %d", resp.StatusCode)
	}
}

func TestCheckOrigin(t *testing.T) {
	s := NewServer(&fakeCommands{}, lifecycle.NewAdapter(lifecycle.Foreground, 0), sink.New(), Options{})
	restricted := NewServer(&fakeCommands{}, lifecycle.NewAdapter(lifecycle.Foreground, 0), sink.New(),
		Options{AllowedOrigins: []string{"https://console.example.com"}})

	tests := []struct {
		name   string
		srv    *Server
		origin string
		want   bool
	}{
		{"no origin", s, "", true},
		{"localhost", s, "http://localhost:3000", true},
		{"loopback v6", s, "http://[::1]:3000", true},
		{"same host", s, "http://tagscan.local:8765", true},
		{"foreign", s, "http://evil.example.com", false},
		{"allow listed", restricted, "https://console.example.com", true},
		{"allow listed host", restricted, "http://console.example.com", true},
		{"not listed", restricted, "http://localhost:3000", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://tagscan.local:8765/ws", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := tt.srv.checkOrigin(r); got != tt.want {
			t.Errorf("%s: checkOrigin(%q) = %v, want %v", tt.name, tt.origin, got, tt.want)
		}
	}
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitAttached(t *testing.T, sk *sink.Sink, want bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sk.Attached() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("sink attached never became %v", want)
}

func TestWSAttachesListener(t *testing.T) {
	srv, _, _, sk := newTestServer(t, Options{SendBuffer: 4})
	conn := dialWS(t, srv)
	waitAttached(t, sk, true)

	if !sk.Deliver(sink.Delivery{UID: "0102", SessionID: "s-1"}) {
		t.Fatal("deliver to attached listener failed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    sink.MessageType `json:"type"`
		Payload sink.Delivery    `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != sink.MsgTag || msg.Payload.UID != "0102" {
		t.Fatalf("message = %s", data)
	}

	conn.Close()
	waitAttached(t, sk, false)
}

func TestWSNewestListenerWins(t *testing.T) {
	srv, _, _, sk := newTestServer(t, Options{SendBuffer: 4})
	first := dialWS(t, srv)
	waitAttached(t, sk, true)
	second := dialWS(t, srv)

	// The superseded connection is closed by the server.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("first listener: %v, want normal close", err)
	}

	sk.Deliver(sink.Delivery{UID: "AB"})
	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, data, err := second.ReadMessage(); err != nil || !strings.Contains(string(data), `"AB"`) {
		t.Fatalf("second listener: %s %v", data, err)
	}
	if !sk.Attached() {
		t.Fatal("closing the superseded listener must not detach the new one")
	}
}

func TestWSRequiresToken(t *testing.T) {
	srv, _, _, sk := newTestServer(t, Options{AuthToken: "secret"})
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token should be refused, err=%v", err)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial with token: %v", err)
	}
	defer conn.Close()
	waitAttached(t, sk, true)
}

type failingSwitch struct{}

func (failingSwitch) SetEnabled(bool) error { return errors.New("rfkill: permission denied") }

func TestReaderEnabled(t *testing.T) {
	sim := reader.NewSim(true, 1, 4)
	srv, _, _, _ := newTestServer(t, Options{Switch: sim})

	resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/enabled", `{"enabled":false}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable radio: %d %s", resp.StatusCode, data)
	}
	var er EnabledReply
	if err := json.Unmarshal(data, &er); err != nil {
		t.Fatal(err)
	}
	if !er.OK || er.Enabled {
		t.Fatalf("reply = %+v", er)
	}
	if sim.PresentAndEnabled() {
		t.Fatal("reader should report unavailable after being switched off")
	}
	for _, body := range []string{`{}`, `{"enabled":"yes"}`} {
		resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/enabled", body, nil)
		if resp.StatusCode != http.StatusBadRequest || decodeReply(t, data).Error != errcode.InvalidPayload {
			t.Errorf("%s: %d %s", body, resp.StatusCode, data)
		}
	}

	sim.Close()
	resp, data = do(t, http.MethodPost, srv.URL+"/api/reader/enabled", `{"enabled":true}`, nil)
	if resp.StatusCode != http.StatusServiceUnavailable || decodeReply(t, data).Error != errcode.NotReady {
		t.Fatalf("closed reader: %d %s", resp.StatusCode, data)
	}
}

func TestReaderEnabledUnsupportedAndFailure(t *testing.T) {
	srv, _, _, _ := newTestServer(t, Options{})
	resp, data := do(t, http.MethodPost, srv.URL+"/api/reader/enabled", `{"enabled":true}`, nil)
	if resp.StatusCode != http.StatusNotImplemented || decodeReply(t, data).Error != errcode.Unsupported {
		t.Fatalf("no switch: %d %s", resp.StatusCode, data)
	}

	srv, _, _, _ = newTestServer(t, Options{Switch: failingSwitch{}})
	resp, data = do(t, http.MethodPost, srv.URL+"/api/reader/enabled", `{"enabled":true}`, nil)
	if resp.StatusCode != http.StatusInternalServerError || decodeReply(t, data).Error != errcode.Error {
		t.Fatalf("failing switch: %d %s", resp.StatusCode, data)
	}
}
