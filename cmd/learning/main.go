// Copyright (C) 2025 BecasLan (becaslan@becaslan.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command learning runs the BecasScore continuous model-improvement
// pipeline.
//
// # Environment Variables
//
//   - LEARNING_PORT: HTTP server port (default: 12310)
//   - LEARNING_DATA_DIR: BadgerDB state directory (default: ./data/learning)
//   - LEARNING_MODEL_ENDPOINT: OpenAI-compatible inference URL
//   - LEARNING_TRAIN_COMMAND: fine-tuning CLI invoked per training run
//   - LEARNING_AUTO_PROMOTE: deploy winning candidates without approval
//
// # Usage
//
//	# Build
//	go build -o learning ./cmd/learning
//
//	# Run the server
//	./learning serve --config /etc/becas/learning.yaml
//
//	# One-off dataset export
//	./learning export --category scam-detection --min-tier silver
package main

import (
	"log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
