// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the experiment and HTTP metrics of the pomcp command.
//
// Planner internals (simulations, tree depth, particle counts) are
// reported by the mcts package itself. These cover whole episodes and
// the metrics server.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- Episode Metrics ---

	// EpisodesTotal counts finished episodes by domain and outcome.
	EpisodesTotal metric.Int64Counter

	// EpisodeSteps counts real steps by domain and by who chose the
	// action (planner or fallback).
	EpisodeSteps metric.Int64Counter

	// EpisodeReturn records the discounted return of each episode.
	EpisodeReturn metric.Float64Histogram

	// EpisodeDuration records episode wall clock in seconds.
	EpisodeDuration metric.Float64Histogram

	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram
}

// NewMetrics registers every metric with meter.
//
// Example:
//
//	metrics, err := telemetry.NewMetrics(otel.Meter("aleutian.pomcp.experiment"))
//	if err != nil {
//	    return fmt.Errorf("create metrics: %w", err)
//	}
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.EpisodesTotal, err = meter.Int64Counter(
		"pomcp_episodes_total",
		metric.WithDescription("Total finished episodes"),
		metric.WithUnit("{episode}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create episodes_total: %w", err)
	}

	m.EpisodeSteps, err = meter.Int64Counter(
		"pomcp_episode_steps_total",
		metric.WithDescription("Total real steps taken"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create episode_steps_total: %w", err)
	}

	m.EpisodeReturn, err = meter.Float64Histogram(
		"pomcp_episode_discounted_return",
		metric.WithDescription("Discounted return per episode"),
	)
	if err != nil {
		return nil, fmt.Errorf("create episode_discounted_return: %w", err)
	}

	m.EpisodeDuration, err = meter.Float64Histogram(
		"pomcp_episode_duration_seconds",
		metric.WithDescription("Episode duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		return nil, fmt.Errorf("create episode_duration: %w", err)
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"pomcp_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"pomcp_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	return m, nil
}

// EpisodeSample is the outcome of one episode as reported to metrics.
type EpisodeSample struct {
	Domain           string
	Steps            int
	FallbackSteps    int
	DiscountedReturn float64
	Elapsed          time.Duration
	Terminated       bool
	OutOfParticles   bool
}

// RecordEpisode records one finished episode. A nil receiver is a no-op.
func (m *Metrics) RecordEpisode(ctx context.Context, s EpisodeSample) {
	if m == nil {
		return
	}
	domain := attribute.String("domain", s.Domain)
	m.EpisodesTotal.Add(ctx, 1, metric.WithAttributes(
		domain,
		attribute.Bool("terminated", s.Terminated),
		attribute.Bool("out_of_particles", s.OutOfParticles),
	))
	m.EpisodeSteps.Add(ctx, int64(s.Steps-s.FallbackSteps),
		metric.WithAttributes(domain, attribute.String("policy", "planner")))
	if s.FallbackSteps > 0 {
		m.EpisodeSteps.Add(ctx, int64(s.FallbackSteps),
			metric.WithAttributes(domain, attribute.String("policy", "fallback")))
	}
	m.EpisodeReturn.Record(ctx, s.DiscountedReturn, metric.WithAttributes(domain))
	m.EpisodeDuration.Record(ctx, s.Elapsed.Seconds(), metric.WithAttributes(domain))
}
