/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package telemetry configures OpenTelemetry tracing for courier.
//
// Each orchestrated inter-resource call produces one courier.call span.
// Custom span attributes use the `courier.` prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName = "github.com/marcus-qen/courier"
)

// Tracer returns the package-level tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// InitTraceProvider initialises the OTel trace provider with an OTLP gRPC exporter.
// If endpoint is empty, tracing is disabled (noop provider is used).
// Returns a shutdown function that must be called on application exit.
func InitTraceProvider(ctx context.Context, endpoint, serviceName, version string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(), // TLS configurable via env (OTEL_EXPORTER_OTLP_INSECURE)
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	if serviceName == "" {
		serviceName = "courierd"
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// CallInfo identifies an inter-resource call on its span.
type CallInfo struct {
	Source        string
	SourceVersion int
	Target        string
	TargetVersion int
	Action        string
	InteractionID string
}

// StartCallSpan creates the span for one inter-resource call.
func StartCallSpan(ctx context.Context, info CallInfo) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "courier.call",
		trace.WithAttributes(
			attribute.String("courier.source", info.Source),
			attribute.Int("courier.source_version", info.SourceVersion),
			attribute.String("courier.target", info.Target),
			attribute.Int("courier.target_version", info.TargetVersion),
			attribute.String("courier.action", info.Action),
			attribute.String("courier.interaction_id", info.InteractionID),
		),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SetTransport records how the target was reached.
func SetTransport(span trace.Span, transport string) {
	span.SetAttributes(attribute.String("courier.transport", transport))
}

// EndCallSpan closes the span. A non-empty errorCode marks the span as
// failed with the first error code of the result.
func EndCallSpan(span trace.Span, errorCode string, errorCount int) {
	if errorCode != "" {
		span.SetAttributes(
			attribute.String("courier.error_code", errorCode),
			attribute.Int("courier.error_count", errorCount),
		)
		span.SetStatus(codes.Error, errorCode)
	}
	span.End()
}
