// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry bootstraps the OpenTelemetry SDK for the assistant
// binaries. Span creation itself lives next to the code being traced; this
// package only decides where spans go.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Options configures Init.
type Options struct {
	// ServiceName becomes the service.name resource attribute.
	ServiceName string

	// Endpoint is an OTLP gRPC collector address (host:port). Empty falls
	// back to the OTEL_EXPORTER_OTLP_ENDPOINT env var.
	Endpoint string

	// Stdout enables the human-readable stdout exporter when no collector
	// endpoint is configured. With both off, spans are created but dropped.
	Stdout bool

	// Logger for bootstrap diagnostics. Nil selects slog.Default().
	Logger *slog.Logger
}

// Init installs the global tracer provider and W3C propagators.
//
// Description:
//
//	Exporter selection: an OTLP gRPC collector when an endpoint is
//	configured, the stdout pretty-printer when Stdout is set, otherwise no
//	exporter — spans still propagate context but are never shipped.
//
// Outputs:
//   - func: Shutdown, to be deferred by main. Flushes batched spans.
//   - error: Non-nil if the collector connection could not be created.
func Init(ctx context.Context, opts Options) (func(context.Context) error, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", opts.ServiceName),
	)

	providerOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	switch {
	case endpoint != "":
		conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("telemetry: collector connection: %w", err)
		}
		exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("telemetry: otlp exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		logger.Info("telemetry: exporting to collector", slog.String("endpoint", endpoint))

	case opts.Stdout:
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("telemetry: stdout exporter: %w", err)
		}
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
		logger.Info("telemetry: exporting to stdout")

	default:
		logger.Debug("telemetry: no exporter configured, spans are dropped")
	}

	tp := sdktrace.NewTracerProvider(providerOpts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
