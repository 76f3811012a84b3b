package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/config"
)

const readTimeout = 5 * time.Second

// frame is any server message.
type frame struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Success   bool            `json:"success"`
	Result    json.RawMessage `json:"result"`
	Error     *errorInfo      `json:"error"`
	Event     json.RawMessage `json:"event"`
	HAVersion string          `json:"ha_version"`
	Message   string          `json:"message"`
}

type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	nextID  int64
	pending []frame
}

func dialRaw(t *testing.T, ts *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/websocket"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

// dial connects and authenticates with token.
func dial(t *testing.T, ts *httptest.Server, token string) *wsClient {
	t.Helper()
	c := dialRaw(t, ts)
	if f := c.read(); f.Type != typeAuthRequired {
		t.Fatalf("first frame = %+v, want auth_required", f)
	}
	c.write(map[string]any{"type": "auth", "access_token": token})
	if f := c.read(); f.Type != typeAuthOK {
		t.Fatalf("auth reply = %+v, want auth_ok", f)
	}
	return c
}

func (c *wsClient) write(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *wsClient) readRaw() ([]byte, error) {
	//nolint:errcheck // test helper
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsClient) read() frame {
	c.t.Helper()
	data, err := c.readRaw()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

// send writes a command with the next id and returns that id.
func (c *wsClient) send(typ string, fields map[string]any) int64 {
	c.t.Helper()
	c.nextID++
	msg := map[string]any{"id": c.nextID, "type": typ}
	for k, v := range fields {
		msg[k] = v
	}
	c.write(msg)
	return c.nextID
}

// call sends a command and waits for its result, keeping events for later.
func (c *wsClient) call(typ string, fields map[string]any) frame {
	c.t.Helper()
	return c.waitResult(c.send(typ, fields))
}

func (c *wsClient) waitResult(id int64) frame {
	c.t.Helper()
	for {
		f := c.read()
		if f.Type == typeResult && f.ID == id {
			return f
		}
		c.pending = append(c.pending, f)
	}
}

// event returns the next event for subscription id.
func (c *wsClient) event(id int64) frame {
	c.t.Helper()
	for i, f := range c.pending {
		if f.Type == typeEvent && f.ID == id {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return f
		}
	}
	for {
		f := c.read()
		if f.Type == typeEvent && f.ID == id {
			return f
		}
		c.pending = append(c.pending, f)
	}
}

func mustSucceed(t *testing.T, f frame) {
	t.Helper()
	if !f.Success {
		t.Fatalf("command %d failed: %+v", f.ID, f.Error)
	}
}

func mustFail(t *testing.T, f frame, code string) {
	t.Helper()
	if f.Success {
		t.Fatalf("command %d succeeded, want %s", f.ID, code)
	}
	if f.Error == nil || f.Error.Code != code {
		t.Fatalf("command %d error = %+v, want code %s", f.ID, f.Error, code)
	}
}

func decodeResult[T any](t *testing.T, f frame) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(f.Result, &out); err != nil {
		t.Fatalf("decode result %s: %v", f.Result, err)
	}
	return out
}

func TestAuth(t *testing.T) {
	jwtToken, err := auth.IssueToken("user-1", "Tester", testSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	otherToken, err := auth.IssueToken("user-1", "Tester", "a-different-secret-of-enough-length!", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"long-lived token", testToken, true},
		{"jwt", jwtToken, true},
		{"wrong secret", otherToken, false},
		{"garbage", "not-a-token", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ts := testServer(t)
			c := dialRaw(t, ts)

			first := c.read()
			if first.Type != typeAuthRequired || first.HAVersion != "test" {
				t.Fatalf("first frame = %+v", first)
			}
			c.write(map[string]any{"type": "auth", "access_token": tt.token})
			reply := c.read()

			if tt.ok {
				if reply.Type != typeAuthOK || reply.HAVersion != "test" {
					t.Fatalf("reply = %+v, want auth_ok", reply)
				}
				return
			}
			if reply.Type != typeAuthInvalid || reply.Message != msgInvalidAuth {
				t.Fatalf("reply = %+v, want auth_invalid", reply)
			}
			if _, err := c.readRaw(); err == nil {
				t.Error("connection still open after auth_invalid")
			}
		})
	}
}

func TestAuthTimeout(t *testing.T) {
	_, _, ts := testServer(t, func(cfg *config.Config) {
		cfg.API.WebSocket.AuthTimeout = 1
	})
	c := dialRaw(t, ts)
	c.read() // auth_required

	// Send nothing; the server gives up after the auth timeout.
	start := time.Now()
	if _, err := c.readRaw(); err == nil {
		t.Fatal("expected the connection to close")
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("closed after %v, want about 1s", elapsed)
	}
}

func TestPingEchoesID(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	c.write(map[string]any{"id": 7, "type": "ping"})
	f := c.read()
	if f.ID != 7 || f.Type != typePong {
		t.Errorf("reply = %+v, want pong with id 7", f)
	}
}

func TestIDReuse(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	c.write(map[string]any{"id": 5, "type": "get_states"})
	mustSucceed(t, c.read())

	// Each rejected id is followed by a command with a fresh id, which must
	// still be served.
	tests := []struct {
		name   string
		id     int64
		typ    string
		code   string
		nextID int64
	}{
		{"duplicate", 5, "get_states", CodeIDReuse, 6},
		{"lower", 4, "get_states", CodeIDReuse, 7},
		{"zero", 0, "ping", CodeIDReuse, 8},
		{"negative", -3, "get_config", CodeIDReuse, 9},
		{"duplicate of ping", 9, "get_states", CodeIDReuse, 10},
		{"unknown command", 11, "no_such_command", CodeUnknownCommand, 12},
		{"reuse after unknown command", 11, "get_states", CodeIDReuse, 13},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.write(map[string]any{"id": tt.id, "type": tt.typ})
			f := c.read()
			mustFail(t, f, tt.code)
			if f.ID != tt.id {
				t.Errorf("error id = %d, want %d", f.ID, tt.id)
			}

			c.write(map[string]any{"id": tt.nextID, "type": "ping"})
			if f := c.read(); f.Type != typePong || f.ID != tt.nextID {
				t.Fatalf("ping %d after %s: %+v", tt.nextID, tt.name, f)
			}
		})
	}

	c.write(map[string]any{"id": 14, "type": "get_states"})
	if f := c.read(); !f.Success || f.ID != 14 {
		t.Errorf("command after rejected ids: %+v", f)
	}
}

func TestMalformedAndUnknown(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"not json", `{{{`, CodeInvalidFormat},
		{"missing id", `{"type":"get_states"}`, CodeInvalidFormat},
		{"string id", `{"id":"x","type":"get_states"}`, CodeInvalidFormat},
		{"missing type", `{"id":10}`, CodeInvalidFormat},
		{"unknown command", `{"id":11,"type":"no_such_command"}`, CodeUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(tt.raw)); err != nil {
				t.Fatal(err)
			}
			mustFail(t, c.read(), tt.code)
		})
	}

	c.write(map[string]any{"id": 12, "type": "ping"})
	if f := c.read(); f.Type != typePong || f.ID != 12 {
		t.Errorf("connection unusable after errors: %+v", f)
	}
}

func TestBatchedCommands(t *testing.T) {
	_, _, ts := testServer(t)
	c := dial(t, ts, testToken)

	c.write([]map[string]any{
		{"id": 1, "type": "ping"},
		{"id": 2, "type": "get_config"},
	})
	if f := c.read(); f.ID != 1 || f.Type != typePong {
		t.Errorf("first = %+v", f)
	}
	f := c.read()
	mustSucceed(t, f)
	if f.ID != 2 {
		t.Errorf("second id = %d", f.ID)
	}
}

func TestCloseRemovesListeners(t *testing.T) {
	srv, h, ts := testServer(t)
	before := h.Bus.ListenerCount()

	c := dial(t, ts, testToken)
	mustSucceed(t, c.call("subscribe_events", map[string]any{"event_type": "test_event"}))
	mustSucceed(t, c.call("subscribe_events", nil))
	if got := h.Bus.ListenerCount(); got != before+2 {
		t.Fatalf("listeners = %d, want %d", got, before+2)
	}

	c.conn.Close()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if h.Bus.ListenerCount() == before && srv.ConnectionCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("after close: listeners = %d (want %d), connections = %d",
		h.Bus.ListenerCount(), before, srv.ConnectionCount())
}
