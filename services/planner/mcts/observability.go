// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mcts

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/AleutianAI/AleutianPOMCP/services/planner/relevance"
)

const pomcpTracerName = "aleutian.pomcp"

// Tracer provides OpenTelemetry tracing for planning calls.
//
// Thread Safety: Safe for concurrent use.
type Tracer struct {
	tracer  trace.Tracer
	logger  *slog.Logger
	enabled bool
}

// NewTracer creates a new tracer.
//
// Inputs:
//   - logger: Logger for structured logging (can be nil for slog.Default).
//   - config: Observability configuration.
//
// Outputs:
//   - *Tracer: Tracer instance.
func NewTracer(logger *slog.Logger, config ObservabilityConfig) *Tracer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{
		tracer:  otel.Tracer(pomcpTracerName),
		logger:  logger,
		enabled: config.TracingEnabled,
	}
}

// StartSelectAction starts a span for one SelectAction call.
//
// Inputs:
//   - ctx: Parent context.
//   - cfg: Search configuration in effect.
//   - particles: Size of the root belief.
//
// Outputs:
//   - context.Context: Context with span.
//   - trace.Span: The created span (a no-op span if tracing is disabled).
func (t *Tracer) StartSelectAction(ctx context.Context, cfg Config, particles int) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "pomcp.select_action",
		trace.WithAttributes(
			attribute.Int("pomcp.num_simulations", cfg.Search.NumSimulations),
			attribute.Int("pomcp.max_depth", cfg.Search.MaxDepth),
			attribute.Int("pomcp.workers", cfg.Parallel.Workers),
			attribute.Bool("pomcp.use_relevance", cfg.Search.UseRelevance),
			attribute.Bool("pomcp.disable_tree", cfg.Search.DisableTree),
			attribute.Int("pomcp.root_particles", particles),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndSelectAction completes the SelectAction span.
//
// Inputs:
//   - span: The span to end.
//   - action: The chosen action, or -1.
//   - report: Budget usage for the call.
//   - err: Error if planning failed.
func (t *Tracer) EndSelectAction(span trace.Span, action int, report BudgetReport, err error) {
	if span == nil {
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	stoppedBy := ""
	if report.StoppedBy != nil {
		stoppedBy = report.StoppedBy.Error()
	}
	span.SetAttributes(
		attribute.Int("pomcp.result.action", action),
		attribute.Int64("pomcp.result.simulations", report.Simulations),
		attribute.String("pomcp.result.elapsed", report.Elapsed.String()),
		attribute.String("pomcp.result.stopped_by", stoppedBy),
	)
	span.End()
}

// StartUpdate starts a span for one Update call.
func (t *Tracer) StartUpdate(ctx context.Context, action, observation int, r float64) (context.Context, trace.Span) {
	if !t.enabled {
		return ctx, noop.Span{}
	}

	return t.tracer.Start(ctx, "pomcp.update",
		trace.WithAttributes(
			attribute.Int("pomcp.action", action),
			attribute.Int("pomcp.observation", observation),
			attribute.Float64("pomcp.reward", r),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndUpdate completes the Update span.
//
// Inputs:
//   - span: The span to end.
//   - matched: Particles carried over from the matched subtree.
//   - transforms: Particles added by reinvigoration.
//   - ok: Whether the belief survived.
func (t *Tracer) EndUpdate(span trace.Span, matched, transforms int, ok bool) {
	if span == nil {
		return
	}

	span.SetAttributes(
		attribute.Int("pomcp.update.matched", matched),
		attribute.Int("pomcp.update.transforms", transforms),
		attribute.Bool("pomcp.update.ok", ok),
	)
	if ok {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, ErrOutOfParticles.Error())
	}
	span.End()
}

// TraceStarvation records that the belief ran out of particles.
func (t *Tracer) TraceStarvation(ctx context.Context, historyLen int) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent("out_of_particles",
			trace.WithAttributes(
				attribute.Int("history_len", historyLen),
			),
		)
	}

	t.logger.Warn("POMCP out of particles",
		slog.Int("history_len", historyLen),
	)
}

// TraceRevision records the outcome of a relevance revision.
func (t *Tracer) TraceRevision(ctx context.Context, rev relevance.Revision) {
	deactivated := rev.Deactivated()

	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent("relevance_revision",
			trace.WithAttributes(
				attribute.Float64Slice("feature_values", rev.Values),
				attribute.IntSlice("deactivated", deactivated),
				attribute.Int("reactivated", rev.Reactivated),
			),
		)
	}

	t.logger.Info("Relevance revised",
		slog.Any("feature_values", rev.Values),
		slog.Any("deactivated", deactivated),
		slog.Int("reactivated", rev.Reactivated),
	)
}

// LoggerWithTrace returns a logger with trace context.
//
// Inputs:
//   - ctx: Context that may contain trace information.
//   - logger: Base logger.
//
// Outputs:
//   - *slog.Logger: Logger with trace_id and span_id if available.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
