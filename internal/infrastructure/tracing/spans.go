package tracing

import (
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrCommandID   = "ws.command.id"
	AttrCommandType = "ws.command.type"
	AttrDomain      = "hub.domain"
	AttrService     = "hub.service"
	AttrEntryID     = "hub.config_entry.id"
	AttrErrorCode   = "ws.error.code"
)

// Span name prefixes.
const (
	SpanPrefixCommand = "ws.command."
	SpanPrefixService = "service.call."
)

// RecordError marks span as failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
