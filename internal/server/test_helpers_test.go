package server

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"meeting-live/internal/broadcast"
	"meeting-live/internal/config"
	"meeting-live/internal/db"
	"meeting-live/internal/directory"
	"meeting-live/internal/lottery"
	"meeting-live/internal/poll"
	"meeting-live/internal/store"
	"meeting-live/internal/testdb"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
)

type testApp struct {
	conn    *gorm.DB
	hub     *broadcast.Hub
	ts      *httptest.Server
	session uint
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.RateLimitPerSecond = 0
	cfg.PollLeadInSeconds = 0
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conn := testdb.Open(t)
	session := testdb.SeedMeeting(t, conn, "All hands")
	st := store.New(conn)
	dir := directory.NewDB(conn)
	hub := broadcast.NewHub()
	lot := lottery.NewCoordinator(st, hub, lottery.Options{
		Directory:      dir,
		Sessions:       dir,
		Rand:           rand.New(rand.NewPCG(7, 11)),
		PersistTimeout: time.Second,
	})
	polls := poll.NewCoordinator(st, hub, poll.Options{
		Directory:      dir,
		Sessions:       dir,
		PersistTimeout: time.Second,
		LeadIn:         cfg.PollLeadIn(),
	})
	srv := New(cfg, Services{
		Hub:      hub,
		Lottery:  lot,
		Polls:    polls,
		Sessions: dir,
		Ping: func(ctx context.Context) error {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})
	ts := newTestServer(t, srv.Handler())
	t.Cleanup(ts.Close)
	return &testApp{conn: conn, hub: hub, ts: ts, session: session}
}

func newTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	listener, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("skipping test; listen unavailable: %v", err)
	}
	ts := &httptest.Server{
		Listener: listener,
		Config:   &http.Server{Handler: handler},
	}
	ts.Start()
	return ts
}

func (a *testApp) sessionPath(suffix string) string {
	return "/api/sessions/" + strconv.FormatUint(uint64(a.session), 10) + suffix
}

func (a *testApp) wsURL() string {
	return "ws" + strings.TrimPrefix(a.ts.URL, "http") + "/ws/sessions/" + strconv.FormatUint(uint64(a.session), 10)
}

func (a *testApp) seedDirectory(t *testing.T, entry db.DirectoryEntry) {
	t.Helper()
	if err := a.conn.Create(&entry).Error; err != nil {
		t.Fatalf("seed directory: %v", err)
	}
}

func doRequest(t *testing.T, ts *httptest.Server, method, path string, payload any) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, ts.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

// expectStatus checks the status and returns the decoded body.
func expectStatus(t *testing.T, resp *http.Response, status int) map[string]any {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("expected status %d, got %d", status, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return decodeBody(t, resp)
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	body := expectStatus(t, resp, status)
	if body["code"] != code {
		t.Fatalf("expected code %s, got %#v", code, body["code"])
	}
	if msg, ok := body["error"].(string); !ok || msg == "" {
		t.Fatalf("expected error message, got %#v", body["error"])
	}
}

func dialSession(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Skipf("skipping test; websocket dial unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func readWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read websocket message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode websocket message %q: %v", payload, err)
	}
	return msg
}

// waitForWSType reads until a message of the given type arrives.
func waitForWSType(t *testing.T, conn *websocket.Conn, timeout time.Duration, messageType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var seen []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("timed out waiting for %s; seen=%v", messageType, seen)
		}
		msg := readWSMessage(t, conn, remaining)
		typ, _ := msg["type"].(string)
		if typ == messageType {
			return msg
		}
		seen = append(seen, typ)
	}
}

func expectNoWSMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no websocket message within %s", timeout)
	} else {
		netErr, ok := err.(net.Error)
		if !ok || !netErr.Timeout() {
			t.Fatalf("expected websocket timeout, got %v", err)
		}
	}
}

func sendWS(t *testing.T, conn *websocket.Conn, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal websocket payload: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write websocket message: %v", err)
	}
}
