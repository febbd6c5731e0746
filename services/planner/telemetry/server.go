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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// StatusFunc reports the progress of the running experiment for /v1/status.
type StatusFunc func() any

// NewRouter builds the observability router.
//
// Endpoints:
//
//	GET /healthz    - liveness, always 200
//	GET /metrics    - Prometheus scrape, 404 unless the exporter is prometheus
//	GET /v1/status  - JSON from status, 404 when status is nil
func NewRouter(metrics *Metrics, status StatusFunc) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), Middleware("aleutian.pomcp.http", metrics))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if h := MetricsHandler(); h != nil {
		router.GET("/metrics", gin.WrapH(h))
	}
	if status != nil {
		router.GET("/v1/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, status())
		})
	}
	return router
}

// Server serves NewRouter on an address until Shutdown.
type Server struct {
	srv    *http.Server
	errc   chan error
	logger *slog.Logger
}

// Serve starts serving handler on addr in the background.
func Serve(addr string, handler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		errc:   make(chan error, 1),
		logger: logger,
	}
	go func() {
		logger.Info("Starting metrics server", slog.String("address", addr))
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
		s.errc <- err
	}()
	return s
}

// Shutdown stops the server and returns its serve error, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.errc
}
