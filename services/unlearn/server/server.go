// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes deletion runs over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/lock"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/pipeline"
)

// Runner executes one deletion request.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.DeletionReport, error)
}

// DeletionRequest is the body of POST /v1/deletions.
type DeletionRequest struct {
	Entity   string   `json:"entity"`
	Entities []string `json:"entities" binding:"omitempty,dive,required"`
	DryRun   bool     `json:"dry_run"`

	// Backup overrides the configured default when set.
	Backup *bool `json:"backup"`
}

// names returns the requested entities, Entity first.
func (r DeletionRequest) names() []string {
	var out []string
	if s := strings.TrimSpace(r.Entity); s != "" {
		out = append(out, s)
	}
	for _, s := range r.Entities {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Options configures the router.
type Options struct {
	// ServiceName names the otelgin spans. Default: unlearn
	ServiceName string

	// Metrics serves GET /metrics when set.
	Metrics http.Handler

	Logger *slog.Logger
}

// NewRouter builds the gin engine.
//
// Routes:
//
//	GET  /v1/health
//	POST /v1/deletions
//	GET  /metrics (when Options.Metrics is set)
func NewRouter(runner Runner, opts Options) *gin.Engine {
	if opts.ServiceName == "" {
		opts.ServiceName = "unlearn"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(opts.ServiceName))

	v1 := router.Group("/v1")
	{
		v1.GET("/health", HealthCheck)
		v1.POST("/deletions", HandleDeletion(runner, opts.Logger))
	}
	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleDeletion runs a deletion and returns the DeletionReport.
//
// # Description
//
// The report is returned for failed runs too. Status codes:
//
//   - 200: Completed, completed with errors, nothing to delete, dry run.
//   - 400: No entity in the body.
//   - 409: Another process holds the cache directory.
//   - 500: The run failed or was rolled back.
func HandleDeletion(runner Runner, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DeletionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		names := req.names()
		if len(names) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "entity or entities is required"})
			return
		}

		logger.Info("deletion requested", "entities", names, "dry_run", req.DryRun)
		report, err := runner.Run(c.Request.Context(), pipeline.Request{
			Entities: names,
			DryRun:   req.DryRun,
			Backup:   req.Backup,
		})
		switch {
		case err == nil:
			c.JSON(http.StatusOK, report)
		case errors.Is(err, lock.ErrFileLocked):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "report": report})
		default:
			logger.Error("deletion failed", "entities", names, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		}
	}
}

// Serve runs handler on addr until ctx is done, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting unlearn server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down unlearn server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
