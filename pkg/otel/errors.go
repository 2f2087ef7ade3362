package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error type values for the error.type span attribute.
const (
	ErrorTypeNetwork    = "network"
	ErrorTypeHTTP       = "http"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
	ErrorTypeAuth       = "auth"
	ErrorTypeConflict   = "conflict"
)

// RecordError records err on span with error.type and error.transient
// attributes and marks the span as failed.
func RecordError(span trace.Span, err error, errorType string, transient bool) {
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.type", errorType),
		attribute.Bool("error.transient", transient),
	))
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOk marks span as successfully completed.
func SetSpanOk(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
