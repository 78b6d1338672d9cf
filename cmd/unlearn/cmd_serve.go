// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/server"
	"github.com/AleutianAI/AleutianUnlearn/services/unlearn/telemetry"
)

func (a *app) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve deletion requests over HTTP",
		Long: `Start the HTTP API. Deletions are submitted with POST /v1/deletions and run
one at a time against the configured cache. GET /v1/health reports liveness
and /metrics serves Prometheus metrics when that exporter is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			orch, closeFn, err := a.build(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeFn(); cerr != nil {
					a.logger.Warn("closing collaborators failed", "error", cerr)
				}
			}()

			router := server.NewRouter(orch, server.Options{
				ServiceName: a.cfg.Telemetry.ServiceName,
				Metrics:     telemetry.MetricsHandler(),
				Logger:      a.logger.Slog(),
			})
			if err := server.Serve(cmd.Context(), a.cfg.Server.Addr, router, a.logger.Slog()); err != nil {
				return a.fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
