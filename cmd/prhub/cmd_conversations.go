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
	"time"

	"github.com/spf13/cobra"

	"github.com/prwritinghub/prhub-cli/pkg/conversations"
	"github.com/prwritinghub/prhub-cli/pkg/datatypes"
	"github.com/prwritinghub/prhub-cli/pkg/logging"
)

const restCommandTimeout = 30 * time.Second

// newAdapter builds the REST adapter shared by the conversation
// subcommands.
func newAdapter(cfg Config, logger *logging.Logger) conversations.Adapter {
	return conversations.NewRESTAdapter(conversations.Config{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokenProvider(),
		Logger:  logger.Slog(),
	})
}

func runConversationsList(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	ctx, cancel := context.WithTimeout(context.Background(), restCommandTimeout)
	defer cancel()

	summaries, err := newAdapter(cfg, logger).List(ctx, cfg.UserID, cfg.Engine)
	if err != nil {
		// The server being down should not hide local history.
		logger.Warn("server list failed, using local cache", "error", err)
		summaries = cachedSummaries(cfg, logger)
		if summaries == nil {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(renderMeta("(offline: showing cached conversations)"))
	}

	if len(summaries) == 0 {
		fmt.Println("No conversations found.")
		return
	}
	for _, s := range summaries {
		fmt.Printf("%s  %s  (%d messages, updated %s)\n",
			s.ConversationID,
			s.Title,
			s.MessageCount,
			s.UpdatedAt.Local().Format("2006-01-02 15:04"),
		)
	}
}

func cachedSummaries(cfg Config, logger *logging.Logger) []datatypes.ConversationSummary {
	cache, err := openCache(cfg)
	if err != nil {
		logger.Warn("cache unavailable", "error", err)
		return nil
	}
	defer cache.Close()

	summaries, err := cache.Summaries(cfg.UserID, cfg.Engine)
	if err != nil {
		logger.Warn("cache list failed", "error", err)
		return nil
	}
	return summaries
}

func runConversationsShow(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	conversationID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), restCommandTimeout)
	defer cancel()

	conv, err := newAdapter(cfg, logger).Get(ctx, conversationID)
	if err != nil {
		logger.Warn("server load failed, trying cache", "error", err)
		cache, cerr := openCache(cfg)
		if cerr != nil {
			log.Fatalf("Error: %v", err)
		}
		defer cache.Close()
		msgs, ok, cerr := cache.Messages(conversationID)
		if cerr != nil || !ok {
			log.Fatalf("Error: %v", err)
		}
		fmt.Println(renderMeta("(offline: showing cached transcript)"))
		fmt.Print(renderTranscript(msgs))
		return
	}

	fmt.Println(renderMeta("%s  %s", conv.ConversationID, conv.Title))
	fmt.Print(renderTranscript(datatypes.DeduplicateAssistant(conv.Messages)))
}

func runConversationsDelete(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	conversationID := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), restCommandTimeout)
	defer cancel()

	if err := newAdapter(cfg, logger).Delete(ctx, conversationID, cfg.UserID); err != nil {
		log.Fatalf("Error: %v", err)
	}

	// Keep the cache consistent with the server.
	if cache, cerr := openCache(cfg); cerr == nil {
		if derr := cache.DeleteConversation(conversationID); derr != nil {
			logger.Warn("cache delete failed", "error", derr)
		}
		cache.Close()
	}
	fmt.Printf("Deleted %s\n", conversationID)
}

func runConversationsRename(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	logger := newLogger(cfg)
	defer logger.Close()

	conversationID, title := args[0], args[1]
	ctx, cancel := context.WithTimeout(context.Background(), restCommandTimeout)
	defer cancel()

	if err := newAdapter(cfg, logger).UpdateTitle(ctx, conversationID, title); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Printf("Renamed %s to %q\n", conversationID, title)
}
