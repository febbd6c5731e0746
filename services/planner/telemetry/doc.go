// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry for the planner binaries.
//
// The planner packages only use the OTel APIs (otel.Tracer, otel.Meter).
// Init installs the SDK providers behind them, so swapping backends is a
// configuration change, not a code change.
//
// # Trace Backend (default: none)
//
// Traces go to an OTLP receiver such as Jaeger, or to stdout. Planning
// emits a span per SelectAction and per Update, which is noisy for long
// sweeps, so tracing is off unless requested.
//
// # Metrics Backend (default: Prometheus)
//
// Prometheus is the default metrics backend. MetricsHandler returns the
// scrape handler, mounted at /metrics by the pomcp command.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// # Environment Variables
//
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint (default: localhost:4317)
//   - OTEL_TRACES_EXPORTER: otlp, stdout, or none (default: none)
//   - OTEL_METRICS_EXPORTER: prometheus, stdout, or none (default: prometheus)
//   - POMCP_ENV: environment name (default: development)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init returns.
package telemetry
