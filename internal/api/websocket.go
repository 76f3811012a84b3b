package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-hub/internal/auth"
	"github.com/nerrad567/gray-logic-hub/internal/core"
	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/logging"
)

// Frame types.
const (
	typeAuthRequired = "auth_required"
	typeAuth         = "auth"
	typeAuthOK       = "auth_ok"
	typeAuthInvalid  = "auth_invalid"
	typeResult       = "result"
	typeEvent        = "event"
	typePing         = "ping"
	typePong         = "pong"
)

const msgInvalidAuth = "Invalid access token or password"

type authMessage struct {
	Type      string `json:"type"`
	HAVersion string `json:"ha_version,omitempty"`
	Message   string `json:"message,omitempty"`
}

type resultMessage struct {
	ID      int64  `json:"id"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Result  any    `json:"result"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMessage struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	Success bool      `json:"success"`
	Error   errorInfo `json:"error"`
}

type eventMessage struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Event any    `json:"event"`
}

type pongMessage struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// conn is one authenticated (or authenticating) WebSocket client. It owns a
// reader goroutine, a writer goroutine and the send channel between them.
type conn struct {
	srv    *Server
	ws     *websocket.Conn
	logger *logging.Logger

	// ctx is cancelled when the connection closes.
	ctx    context.Context
	cancel context.CancelFunc

	sendMu sync.Mutex
	send   chan []byte
	closed bool

	identity *auth.Identity
	lastID   int64

	subsMu sync.Mutex
	subs   map[int64]func()
}

// handleWebSocket upgrades the request and runs the connection until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	buffer := s.cfg.WebSocket.SendBuffer
	if buffer <= 0 {
		buffer = 256
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	c := &conn{
		srv:    s,
		ws:     ws,
		logger: s.logger.Component("websocket"),
		ctx:    ctx,
		cancel: cancel,
		send:   make(chan []byte, buffer),
		subs:   make(map[int64]func()),
	}
	s.register(c)

	go c.writePump()
	go c.serve()
}

func (c *conn) serve() {
	defer c.close()

	cfg := c.srv.cfg.WebSocket
	if cfg.MaxMessageSize > 0 {
		c.ws.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	if !c.authenticate() {
		return
	}
	c.readLoop()
}

// authenticate runs the auth handshake. It reports false when the
// connection must be closed.
func (c *conn) authenticate() bool {
	c.sendJSON(authMessage{Type: typeAuthRequired, HAVersion: c.srv.version})

	timeout := time.Duration(c.srv.cfg.WebSocket.AuthTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	//nolint:errcheck // Best-effort deadline; a read error follows if it fails
	c.ws.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		c.logger.Debug("websocket closed before auth", "error", err)
		return false
	}

	var msg struct {
		Type        string `json:"type"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != typeAuth {
		c.sendJSON(authMessage{Type: typeAuthInvalid, Message: "Auth message incorrectly formatted"})
		return false
	}

	identity, err := c.srv.auth.Validate(msg.AccessToken)
	if err != nil {
		c.logger.Info("websocket auth rejected", "remote", c.ws.RemoteAddr().String(), "error", err)
		c.sendJSON(authMessage{Type: typeAuthInvalid, Message: msgInvalidAuth})
		return false
	}
	c.identity = identity
	c.sendJSON(authMessage{Type: typeAuthOK, HAVersion: c.srv.version})
	c.logger.Debug("websocket authenticated", "user_id", identity.UserID)
	return true
}

func (c *conn) readLoop() {
	cfg := c.srv.cfg.WebSocket
	wait := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline
	c.ws.SetReadDeadline(time.Now().Add(wait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "error", err)
			} else {
				c.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		//nolint:errcheck // Best-effort deadline reset
		c.ws.SetReadDeadline(time.Now().Add(wait))

		// A frame may carry a single command or a batch of them.
		if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '[' {
			var batch []json.RawMessage
			if err := json.Unmarshal(trimmed, &batch); err != nil {
				c.sendError(0, CodeInvalidFormat, "Message incorrectly formatted.")
				continue
			}
			for _, msg := range batch {
				c.handleMessage(msg)
			}
			continue
		}
		c.handleMessage(data)
	}
}

// writePump drains the send channel and keeps the connection alive with pings.
// It closes the socket when the channel is closed or a write fails.
func (c *conn) writePump() {
	cfg := c.srv.cfg.WebSocket
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	if writeWait <= 0 {
		writeWait = 10 * time.Second
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close cancels the connection's listeners and context and lets the writer
// flush what is queued before closing the socket. Safe to call repeatedly.
func (c *conn) close() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()

	c.cancel()

	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[int64]func())
	c.subsMu.Unlock()
	for _, unsub := range subs {
		unsub()
	}

	c.srv.unregister(c)
}

// trySend queues data for the writer. A full buffer drops the message.
func (c *conn) trySend(data []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("websocket send buffer full, dropping message", "user_id", c.userID())
	}
}

func (c *conn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to marshal websocket message", "error", err)
		return
	}
	c.trySend(data)
}

// sendResult answers command id. A result that cannot be encoded, such as
// one holding a NaN attribute, turns into an unknown_error result.
func (c *conn) sendResult(id int64, result any) {
	data, err := json.Marshal(resultMessage{ID: id, Type: typeResult, Success: true, Result: result})
	if err != nil {
		c.logger.Error("failed to marshal websocket result", "id", id, "error", err)
		c.sendError(id, CodeUnknownError, "Unable to serialize result: "+err.Error())
		return
	}
	c.trySend(data)
}

func (c *conn) sendError(id int64, code, message string) {
	c.sendJSON(errorMessage{ID: id, Type: typeResult, Error: errorInfo{Code: code, Message: message}})
}

// sendEvent delivers a subscription event. An event that cannot be encoded
// is skipped.
func (c *conn) sendEvent(id int64, event any) {
	data, err := json.Marshal(eventMessage{ID: id, Type: typeEvent, Event: event})
	if err != nil {
		c.logger.Warn("skipping websocket event that cannot be encoded", "subscription", id, "error", err)
		return
	}
	c.trySend(data)
}

// subscribe records a listener cancel func under the command id that created it.
func (c *conn) subscribe(id int64, unsub func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.ctx.Err() != nil {
		unsub()
		return
	}
	c.subs[id] = unsub
}

func (c *conn) unsubscribe(id int64) bool {
	c.subsMu.Lock()
	unsub, ok := c.subs[id]
	delete(c.subs, id)
	c.subsMu.Unlock()
	if ok {
		unsub()
	}
	return ok
}

func (c *conn) userID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID
}

// newContext returns a fresh event context attributed to the connection's user.
func (c *conn) newContext() *core.Context {
	if id := c.userID(); id != "" {
		return core.NewUserContext(id)
	}
	return core.NewContext()
}
