// Copyright (C) 2025 PR Writing Hub (engineering@prwritinghub.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	apiBaseURL   string
	wsURL        string
	engineType   string
	userID       string
	userRole     string
	tokenValue   string
	tokenFile    string
	dataDir      string
	logLevel     string
	logDir       string
	quietLogs    bool
	resumeConvID string

	// devserver flags
	devAddr            string
	devChunkSize       int
	devShuffleChunks   bool
	devDuplicateChunks bool

	rootCmd = &cobra.Command{
		Use:   "prhub",
		Short: "A cli for the PR Writing Hub streaming chat service",
		Long: `prhub is a terminal client for the PR Writing Hub backend:
				streaming chat over WebSocket, conversation management, and
				usage reporting, with an offline cache for flaky networks.`,
	}

	// --- Chat ---
	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming chat session",
		Run:   runChatCommand, // Defined in cmd_chat.go
	}

	// --- Conversations ---
	conversationsCmd = &cobra.Command{
		Use:     "conversations",
		Short:   "Manage saved conversations",
		Aliases: []string{"conv"},
	}
	conversationsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List conversations for the current user",
		Run:   runConversationsList, // Defined in cmd_conversations.go
	}
	conversationsShowCmd = &cobra.Command{
		Use:   "show [conversation-id]",
		Short: "Print a conversation transcript",
		Args:  cobra.ExactArgs(1),
		Run:   runConversationsShow, // Defined in cmd_conversations.go
	}
	conversationsDeleteCmd = &cobra.Command{
		Use:   "delete [conversation-id]",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		Run:   runConversationsDelete, // Defined in cmd_conversations.go
	}
	conversationsRenameCmd = &cobra.Command{
		Use:   "rename [conversation-id] [new-title]",
		Short: "Rename a conversation",
		Args:  cobra.ExactArgs(2),
		Run:   runConversationsRename, // Defined in cmd_conversations.go
	}

	// --- Usage ---
	usageCmd = &cobra.Command{
		Use:   "usage",
		Short: "Show monthly usage for the selected engine",
		Run:   runUsageCommand, // Defined in cmd_usage.go
	}

	// --- Devserver ---
	devserverCmd = &cobra.Command{
		Use:   "devserver",
		Short: "Run a local protocol-faithful development backend",
		Run:   runDevserverCommand, // Defined in cmd_devserver.go
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&apiBaseURL, "api-url", "", "REST API base URL (env PRHUB_API_URL)")
	pf.StringVar(&wsURL, "ws-url", "", "WebSocket chat URL (env PRHUB_WS_URL)")
	pf.StringVar(&engineType, "engine", "", "engine type: 11 (Claude) or 22 (GPT) (env PRHUB_ENGINE)")
	pf.StringVar(&userID, "user", "", "user id (env PRHUB_USER_ID)")
	pf.StringVar(&userRole, "role", "", "user role forwarded to the backend (env PRHUB_USER_ROLE)")
	pf.StringVar(&tokenValue, "token", "", "bearer token (env PRHUB_TOKEN)")
	pf.StringVar(&tokenFile, "token-file", "", "file containing the bearer token (env PRHUB_TOKEN_FILE)")
	pf.StringVar(&dataDir, "data-dir", "", "local cache directory (env PRHUB_DATA_DIR, default ~/.prhub)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (env PRHUB_LOG_LEVEL)")
	pf.StringVar(&logDir, "log-dir", "", "directory for JSON log files (env PRHUB_LOG_DIR)")
	pf.BoolVar(&quietLogs, "quiet", false, "suppress stderr logging")

	chatCmd.Flags().StringVar(&resumeConvID, "resume", "", "conversation id to resume")

	devserverCmd.Flags().StringVar(&devAddr, "addr", ":8787", "listen address")
	devserverCmd.Flags().IntVar(&devChunkSize, "chunk-size", 24, "response chunk size in bytes")
	devserverCmd.Flags().BoolVar(&devShuffleChunks, "shuffle", false, "deliver chunks out of order")
	devserverCmd.Flags().BoolVar(&devDuplicateChunks, "duplicate", false, "redeliver the first chunk")

	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(conversationsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(devserverCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
