// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/prwritinghub/prhub-cli/pkg/conversations"
	"github.com/prwritinghub/prhub-cli/pkg/localstore"
	"github.com/prwritinghub/prhub-cli/pkg/usage"
)

func runUsageCommand(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	var cacheStore localstore.Store
	if cache, cerr := openCache(cfg); cerr == nil {
		cacheStore = cache
		defer cache.Close()
	} else {
		logger.Warn("cache unavailable", "error", cerr)
	}

	client := usage.NewClient(usage.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokenProvider(),
		Cache:   cacheStore,
		Logger:  logger.Slog(),
	}, conversations.NewDefaultHTTPClient(0))

	ctx, cancel := context.WithTimeout(context.Background(), restCommandTimeout)
	defer cancel()

	result, err := client.Percentage(ctx, cfg.UserID, cfg.Engine)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if result.FromCache {
		fmt.Printf("Monthly usage for engine %s: %.1f%% (cached)\n", cfg.Engine, result.Percentage)
		return
	}
	fmt.Printf("Monthly usage for engine %s: %.1f%%\n", cfg.Engine, result.Percentage)
}
