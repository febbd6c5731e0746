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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("aleutian.pomcp")

// Metrics for planning calls.
var (
	simulationsTotal    metric.Int64Counter
	selectActionLatency metric.Float64Histogram
	treeDepthHist       metric.Float64Histogram
	rolloutDepthHist    metric.Float64Histogram
	matchedParticles    metric.Int64Histogram
	transformsTotal     metric.Int64Counter
	starvationTotal     metric.Int64Counter
	deactivatedFeatures metric.Int64Histogram
	liveNodesGauge      metric.Int64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		simulationsTotal, err = meter.Int64Counter(
			"pomcp_simulations_total",
			metric.WithDescription("Total number of simulated trajectories"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		selectActionLatency, err = meter.Float64Histogram(
			"pomcp_select_action_duration_seconds",
			metric.WithDescription("Duration of SelectAction calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		treeDepthHist, err = meter.Float64Histogram(
			"pomcp_tree_depth",
			metric.WithDescription("Mean tree depth reached per SelectAction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		rolloutDepthHist, err = meter.Float64Histogram(
			"pomcp_rollout_depth",
			metric.WithDescription("Mean rollout length per SelectAction"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		matchedParticles, err = meter.Int64Histogram(
			"pomcp_matched_particles",
			metric.WithDescription("Particles carried into the new root by Update"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		transformsTotal, err = meter.Int64Counter(
			"pomcp_transforms_total",
			metric.WithDescription("Total number of accepted transform particles"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		starvationTotal, err = meter.Int64Counter(
			"pomcp_out_of_particles_total",
			metric.WithDescription("Total number of Update calls that ran out of particles"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		deactivatedFeatures, err = meter.Int64Histogram(
			"pomcp_deactivated_features",
			metric.WithDescription("Features switched off by each relevance revision"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		liveNodesGauge, err = meter.Int64Gauge(
			"pomcp_live_nodes",
			metric.WithDescription("Decision nodes outstanding after SelectAction"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordSelectAction records the outcome of one SelectAction call.
func recordSelectAction(ctx context.Context, report BudgetReport, st Statistics, liveNodes int, relevanceMode bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("relevance", relevanceMode))
	simulationsTotal.Add(ctx, report.Simulations, attrs)
	selectActionLatency.Record(ctx, report.Elapsed.Seconds(), attrs)
	if st.TreeDepth.Count() > 0 {
		treeDepthHist.Record(ctx, st.TreeDepth.Mean(), attrs)
	}
	if st.RolloutDepth.Count() > 0 {
		rolloutDepthHist.Record(ctx, st.RolloutDepth.Mean(), attrs)
	}
	liveNodesGauge.Record(ctx, int64(liveNodes))
}

// recordUpdate records the outcome of one Update call.
func recordUpdate(ctx context.Context, matched, transforms int, ok bool) {
	if err := initMetrics(); err != nil {
		return
	}
	matchedParticles.Record(ctx, int64(matched))
	transformsTotal.Add(ctx, int64(transforms))
	if !ok {
		starvationTotal.Add(ctx, 1)
	}
}

// recordRevision records how many features a revision switched off.
func recordRevision(ctx context.Context, deactivated int) {
	if err := initMetrics(); err != nil {
		return
	}
	deactivatedFeatures.Record(ctx, int64(deactivated))
}
