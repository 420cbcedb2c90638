// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// httpTimeout bounds one admin API call. Exports can take a while on
// large pools, so this is generous.
const httpTimeout = 2 * time.Minute

// callServer performs one JSON request against the running server and
// prints the response body.
func callServer(method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: httpTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("call server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

// runExport requests a dataset artifact from the running server.
func runExport(_ *cobra.Command, _ []string) error {
	body := map[string]any{
		"category":     exportCategory,
		"min_tier":     exportMinTier,
		"min_quality":  exportMinQuality,
		"max_examples": exportMaxExamples,
		"balance":      exportBalance,
	}
	return callServer(http.MethodPost, "/v1/learning/export", body)
}

// runPromote approves a candidate awaiting manual promotion.
func runPromote(_ *cobra.Command, args []string) error {
	return callServer(http.MethodPost,
		"/v1/learning/jobs/"+args[0]+"/promote", nil)
}

// runRollback restores the previous deployment for a category.
func runRollback(_ *cobra.Command, args []string) error {
	body := map[string]any{
		"category": args[0],
		"reason":   rollbackReason,
	}
	return callServer(http.MethodPost, "/v1/learning/rollback", body)
}

// runStats prints per-category pool statistics.
func runStats(_ *cobra.Command, _ []string) error {
	return callServer(http.MethodGet, "/v1/learning/stats", nil)
}
