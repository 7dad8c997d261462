package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/gooddata/sso-url"

// Span attribute keys for the SSO URL domain.
var (
	AttrTokenMode     = attribute.Key("sso.token.mode")
	AttrTokenSource   = attribute.Key("sso.token.source")
	AttrCryptoBackend = attribute.Key("sso.crypto.backend")
	AttrKeyID         = attribute.Key("sso.crypto.key_id")
	AttrRecipient     = attribute.Key("sso.crypto.recipient")
	AttrRetried       = attribute.Key("sso.crypto.passphrase_retry")
	AttrServerURL     = attribute.Key("sso.server_url")
	AttrDestination   = attribute.Key("sso.destination")
	AttrDecision      = attribute.Key("sso.policy.decision")
)

// Tracer returns the project-wide OTel tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan creates a new span with the given name and optional attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := Tracer().Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// SetSpanError records an error on the span and sets its status to Error.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to OK.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
