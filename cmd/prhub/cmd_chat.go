// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func runChatCommand(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	runner, err := NewStreamChatRunner(StreamChatRunnerConfig{
		Config:   cfg,
		Reader:   NewInteractiveInputReader(50),
		Logger:   logger,
		ResumeID: resumeConvID,
	})
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	defer runner.Close()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Chat error: %v", err)
	}
}
