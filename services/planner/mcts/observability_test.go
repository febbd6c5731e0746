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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestTracer_DisabledReturnsNoopSpan(t *testing.T) {
	tracer := NewTracer(nil, ObservabilityConfig{TracingEnabled: false})

	ctx := context.Background()
	gotCtx, span := tracer.StartSelectAction(ctx, DefaultConfig(), 10)
	assert.Equal(t, ctx, gotCtx)
	assert.IsType(t, noop.Span{}, span)

	_, span = tracer.StartUpdate(ctx, 0, 0, 0)
	assert.IsType(t, noop.Span{}, span)
}

func TestTracer_RecordsPlanningSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = provider.Shutdown(context.Background())
	})

	sim := newBanditSim()
	cfg := testConfig(37)
	cfg.Search.UseTransforms = false
	cfg.Observability.TracingEnabled = true
	cfg.Observability.MetricsEnabled = true
	e := newTestEngine(t, sim, cfg)
	defer e.Close()

	ctx := context.Background()
	action, err := e.SelectAction(ctx)
	require.NoError(t, err)
	require.False(t, e.Update(ctx, action, 1, 0))

	spans := recorder.Ended()
	require.Len(t, spans, 2)

	assert.Equal(t, "pomcp.select_action", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Equal(t, "pomcp.update", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	events := spans[1].Events()
	require.Len(t, events, 1)
	assert.Equal(t, "out_of_particles", events[0].Name)
}
