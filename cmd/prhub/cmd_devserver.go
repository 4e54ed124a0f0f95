// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/prwritinghub/prhub-cli/pkg/devserver"
	"github.com/prwritinghub/prhub-cli/pkg/logging"
)

func runDevserverCommand(cmd *cobra.Command, args []string) {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(firstNonEmpty(logLevel, os.Getenv("PRHUB_LOG_LEVEL"), "info")),
		Service: "prhub-devserver",
	})
	defer logger.Close()

	server := devserver.NewServer(devserver.Config{
		ChunkSize:       devChunkSize,
		ShuffleChunks:   devShuffleChunks,
		DuplicateChunks: devDuplicateChunks,
		Logger:          logger.Slog(),
	})

	logger.Info("starting devserver",
		"addr", devAddr,
		"shuffle", devShuffleChunks,
		"duplicate", devDuplicateChunks,
	)
	if err := server.Run(devAddr); err != nil {
		log.Fatalf("Devserver error: %v", err)
	}
}
