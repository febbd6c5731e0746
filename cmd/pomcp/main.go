// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command pomcp runs POMCP planning experiments on RockSample.
//
// Usage:
//
//	pomcp run --size 7 --rocks 8 --simulations 1024 --runs 20
//	pomcp run --relevance --tree-level smart --display --runs 1
//	pomcp sweep --kind discounted --min-doubles 4 --max-doubles 12
//	pomcp config -c pomcp.yaml
//
// With metrics:
//
//	pomcp sweep --metrics-addr :9090 --results-db ~/.pomcp/results
//	curl http://localhost:9090/v1/status
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
