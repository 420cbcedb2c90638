// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/BecasLan/BecasScore-sub001/services/learning"
)

// runServe loads the configuration, assembles the pipeline, and blocks
// until shutdown.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := learning.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	if cfg.TraceExporter != "" {
		shutdown, err := setupTracing(context.Background(), cfg.TraceExporter, cfg.TraceEndpoint)
		if err != nil {
			return fmt.Errorf("initialize tracing: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(flushCtx)
		}()
	}

	svc, err := learning.New(cfg)
	if err != nil {
		return fmt.Errorf("assemble pipeline: %w", err)
	}

	return svc.Run()
}
