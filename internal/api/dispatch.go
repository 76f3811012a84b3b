package api

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nerrad567/gray-logic-hub/internal/infrastructure/tracing"
)

// command is one decoded inbound frame.
type command struct {
	ID      int64
	Type    string
	payload []byte

	// after runs once the result has been queued, for subscriptions that
	// must send an initial event after their result.
	after []func()
}

// decode unmarshals the whole frame into v.
func (cmd *command) decode(v any) error {
	if err := json.Unmarshal(cmd.payload, v); err != nil {
		return newCommandError(CodeInvalidFormat, "Message incorrectly formatted: %v", err)
	}
	return nil
}

func (cmd *command) thenRun(fn func()) {
	cmd.after = append(cmd.after, fn)
}

type handlerFunc func(ctx context.Context, c *conn, cmd *command) (any, error)

type handler struct {
	fn handlerFunc
	// async handlers run on their own goroutine with a context that outlives
	// the connection.
	async bool
}

// commands maps a command type to its handler. It is filled by init
// functions in the files implementing each command group.
var commands = map[string]handler{}

func register(name string, fn handlerFunc) {
	commands[name] = handler{fn: fn}
}

func registerAsync(name string, fn handlerFunc) {
	commands[name] = handler{fn: fn, async: true}
}

// handleMessage validates the envelope of one command and dispatches it.
func (c *conn) handleMessage(data []byte) {
	var head struct {
		ID   *int64 `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.ID == nil || head.Type == "" {
		var id int64
		if head.ID != nil {
			id = *head.ID
		}
		c.sendError(id, CodeInvalidFormat, "Message incorrectly formatted.")
		return
	}

	id := *head.ID
	if id <= 0 || id <= c.lastID {
		c.sendError(id, CodeIDReuse, "Identifier values have to increase.")
		return
	}
	c.lastID = id

	if head.Type == typePing {
		c.sendJSON(pongMessage{ID: id, Type: typePong})
		return
	}

	h, ok := commands[head.Type]
	if !ok {
		c.logger.Debug("unknown websocket command", "type", head.Type)
		c.sendError(id, CodeUnknownCommand, "Unknown command.")
		return
	}

	cmd := &command{ID: id, Type: head.Type, payload: data}
	if h.async {
		go c.run(context.WithoutCancel(c.ctx), h, cmd)
		return
	}
	c.run(c.ctx, h, cmd)
}

func (c *conn) run(ctx context.Context, h handler, cmd *command) {
	ctx, span := tracer.Start(ctx, tracing.SpanPrefixCommand+cmd.Type, trace.WithAttributes(
		attribute.Int64(tracing.AttrCommandID, cmd.ID),
		attribute.String(tracing.AttrCommandType, cmd.Type),
	))
	defer span.End()

	result, err := c.call(ctx, h, cmd)
	if err != nil {
		code := codeFor(err)
		span.SetAttributes(attribute.String(tracing.AttrErrorCode, code))
		tracing.RecordError(span, err)
		if code == CodeUnknownError {
			c.logger.Error("websocket command failed", "type", cmd.Type, "id", cmd.ID, "error", err)
		}
		c.sendError(cmd.ID, code, err.Error())
		return
	}
	c.sendResult(cmd.ID, result)
	for _, fn := range cmd.after {
		fn()
	}
}

// call invokes the handler, turning a panic into an unknown_error result.
func (c *conn) call(ctx context.Context, h handler, cmd *command) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("websocket handler panicked", "type", cmd.Type, "panic", p)
			result, err = nil, newCommandError(CodeUnknownError, "Unknown error")
		}
	}()
	return h.fn(ctx, c, cmd)
}
